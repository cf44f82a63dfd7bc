package transport

import (
	"testing"

	"github.com/IBM/sarama"
)

func TestSetAuthDisabledByDefault(t *testing.T) {
	cfg := sarama.NewConfig()
	if err := setAuth(cfg, KafkaConfig{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Net.SASL.Enable {
		t.Fatal("expected SASL to stay disabled with no auth type configured")
	}
}

func TestSetAuthRequiresCredentials(t *testing.T) {
	cfg := sarama.NewConfig()
	if err := setAuth(cfg, KafkaConfig{AuthType: "plain"}); err == nil {
		t.Fatal("expected an error for a missing username/password")
	}
}

func TestSetAuthScramSHA256(t *testing.T) {
	cfg := sarama.NewConfig()
	err := setAuth(cfg, KafkaConfig{AuthType: "scramsha256", Username: "u", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Net.SASL.Enable || cfg.Net.SASL.Mechanism != sarama.SASLTypeSCRAMSHA256 {
		t.Fatalf("expected SCRAM-SHA-256 mechanism to be set, got %v", cfg.Net.SASL.Mechanism)
	}
	client := cfg.Net.SASL.SCRAMClientGeneratorFunc()
	if err := client.Begin("u", "p", ""); err != nil {
		t.Fatal(err)
	}
}

func TestSetAuthUnknownType(t *testing.T) {
	cfg := sarama.NewConfig()
	if err := setAuth(cfg, KafkaConfig{AuthType: "bogus", Username: "u", Password: "p"}); err == nil {
		t.Fatal("expected an error for an unknown auth type")
	}
}
