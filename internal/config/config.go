// Package config loads the gcfg-style INI configuration shared by
// cmd/auditdplugin, cmd/provconsumer, and cmd/provd.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 4 * 1024 * 1024

var (
	ErrConfigTooLarge = errors.New("config: file too large")
	ErrShortRead      = errors.New("config: failed to read entire file")
)

// Global holds settings common to every binary in the module.
type Global struct {
	Node_Name string
	Log_File  string
	Log_Level string
}

// Kafka configures the sarama-backed transport used both to publish
// extracted events on the loader side and to consume them on the
// consumer side.
type Kafka struct {
	Leader         []string
	Topic          string
	Consumer_Group string
	Auth_Type      string
	Username       string
	Password       string
	Use_TLS        bool
}

// FileTransport configures the file-based transport fallback, grounded on
// the teacher's fileFollow/singleFile ingesters.
type FileTransport struct {
	Spool_Dir    string
	Poll_Interval_MS int
}

// Extractor controls the auditd record assembly stage.
type Extractor struct {
	Filter_Key          string
	Emit_Syscall_Events bool
	Slowdown_Backlog    int
}

// RuleEngine points at the rule definition file and its action state
// backend.
type RuleEngine struct {
	Rule_File          string
	Action_State_Backend string // "db" or "file"
	Action_State_Path  string
}

// DB configures the pgx-backed sink used by DBLOAD/DBTRANSFER and the DB
// action-state backend.
type DB struct {
	DSN        string
	Batch_Size int
}

// Provd configures the ptrace capture daemon and its client-facing wire
// protocol.
type Provd struct {
	Listen_Addr string
}

type Config struct {
	Global     Global
	Kafka      Kafka
	File       FileTransport
	Extractor  Extractor
	RuleEngine RuleEngine
	DB         DB
	Provd      Provd
}

// Load reads and parses a single config file.
func Load(path string) (*Config, error) {
	b, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := gcfg.ReadStringInto(&c, string(b)); err != nil {
		return nil, err
	}
	return &c, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigTooLarge
	}
	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, f)
	if err != nil {
		return nil, err
	}
	if n != fi.Size() {
		return nil, ErrShortRead
	}
	return bb.Bytes(), nil
}
