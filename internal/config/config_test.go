package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
[Global]
Node-Name=host-a
Log-File=/var/log/auditdplugin.log
Log-Level=INFO

[Kafka]
Leader=kafka1:9092
Leader=kafka2:9092
Topic=audit-events
Consumer-Group=ursprung

[Extractor]
Filter-Key=watch
Emit-Syscall-Events=false
Slowdown-Backlog=1000

[RuleEngine]
Rule-File=/etc/ursprung/rules.conf
Action-State-Backend=db

[DB]
DSN=postgres://localhost/ursprung
Batch-Size=256
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.conf")
	if err := os.WriteFile(p, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Global.Node_Name != "host-a" {
		t.Fatalf("bad node name: %q", cfg.Global.Node_Name)
	}
	if len(cfg.Kafka.Leader) != 2 || cfg.Kafka.Leader[0] != "kafka1:9092" {
		t.Fatalf("bad leader list: %v", cfg.Kafka.Leader)
	}
	if cfg.Extractor.Filter_Key != "watch" {
		t.Fatalf("bad filter key: %q", cfg.Extractor.Filter_Key)
	}
	if cfg.DB.Batch_Size != 256 {
		t.Fatalf("bad batch size: %d", cfg.DB.Batch_Size)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.conf"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
