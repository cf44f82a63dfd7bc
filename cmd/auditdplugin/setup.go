package main

import (
	"fmt"
	"os"

	"github.com/ursprung-go/collection-system/internal/config"
	"github.com/ursprung-go/collection-system/internal/loader"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/transport"
)

const appName = "auditd-plugin"

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	var lg *logger.Logger
	if cfg.Global.Log_File != "" {
		var err error
		lg, err = logger.NewFile(cfg.Global.Log_File, appName)
		if err != nil {
			return nil, err
		}
	} else {
		lg = logger.New(os.Stderr, appName)
	}
	if cfg.Global.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Global.Log_Level, err)
		}
	}
	return lg, nil
}

// newTransport builds the Loader's output transport: Kafka when leaders
// are configured, falling back to the spool-file transport otherwise,
// matching the teacher's pattern of one outbound transport per ingester
// instance.
func newTransport(cfg *config.Config, lg *logger.Logger) (loaderTransport, error) {
	if len(cfg.Kafka.Leader) > 0 {
		return transport.NewKafkaProducer(transport.KafkaConfig{
			Brokers:       cfg.Kafka.Leader,
			Topic:         cfg.Kafka.Topic,
			ConsumerGroup: cfg.Kafka.Consumer_Group,
			AuthType:      cfg.Kafka.Auth_Type,
			Username:      cfg.Kafka.Username,
			Password:      cfg.Kafka.Password,
			UseTLS:        cfg.Kafka.Use_TLS,
		})
	}
	return transport.NewFileTransport(cfg.File.Spool_Dir), nil
}

// loaderTransport is internal/loader.Transport plus Close, so main can
// shut the chosen transport down uniformly regardless of which one was
// selected.
type loaderTransport interface {
	loader.Transport
	Close() error
}
