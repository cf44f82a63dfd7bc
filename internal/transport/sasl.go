package transport

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

const (
	authPlain       = "plain"
	authScramSHA256 = "scramsha256"
	authScramSHA512 = "scramsha512"
)

var (
	sha256Gen scram.HashGeneratorFcn = sha256.New
	sha512Gen scram.HashGeneratorFcn = sha512.New
)

// xdgSCRAMClient adapts xdg-go/scram's client/conversation pair to
// sarama's SCRAMClient interface.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool { return x.ClientConversation.Done() }

// setAuth configures SASL on cfg per kc.AuthType, mirroring
// KafkaAuthConfig.SetAuth: plain, SCRAM-SHA-256, or SCRAM-SHA-512.
func setAuth(cfg *sarama.Config, kc KafkaConfig) error {
	if kc.AuthType == "" {
		return nil
	}
	if kc.Username == "" {
		return fmt.Errorf("transport: kafka auth enabled but username is empty")
	}
	if kc.Password == "" {
		return fmt.Errorf("transport: kafka auth enabled but password is empty")
	}

	cfg.Net.SASL.Enable = true
	cfg.Net.SASL.Handshake = true
	cfg.Net.SASL.User = kc.Username
	cfg.Net.SASL.Password = kc.Password

	switch strings.ToLower(kc.AuthType) {
	case authPlain:
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case authScramSHA256:
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: sha256Gen}
		}
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
	case authScramSHA512:
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: sha512Gen}
		}
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
	default:
		return fmt.Errorf("transport: unknown kafka auth type %q", kc.AuthType)
	}
	return nil
}
