// Package transport implements the publish/subscribe backends the loader
// stage publishes to and the consumer's input stage reads from: Kafka for
// a real deployment, and a spool directory for the file-based
// configuration (spec.md §6, in-src=File/out-dst=File).
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/logger"
	"github.com/ursprung-go/collection-system/internal/pipeline"
)

const minTLSVersion = tls.VersionTLS12

// KafkaConfig configures both the producer and consumer sides of the
// transport.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	UseTLS        bool
	SkipVerify    bool
	AuthType      string
	Username      string
	Password      string
}

func saramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	c := sarama.NewConfig()
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	c.Producer.Return.Successes = true
	if cfg.UseTLS {
		c.Net.TLS.Enable = true
		c.Net.TLS.Config = &tls.Config{MinVersion: minTLSVersion, InsecureSkipVerify: cfg.SkipVerify}
	}
	if err := setAuth(c, cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// KafkaProducer implements loader.Transport over a sarama.SyncProducer,
// using the partition key as the Kafka message key so partition-level
// ordering matches the loader's pid/pgid || hostname guarantee.
type KafkaProducer struct {
	cfg KafkaConfig
	p   sarama.SyncProducer
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("transport: new kafka producer: %w", err)
	}
	return &KafkaProducer{cfg: cfg, p: p}, nil
}

func (k *KafkaProducer) Publish(ctx context.Context, key, tag string, b []byte) error {
	_, _, err := k.p.SendMessage(&sarama.ProducerMessage{
		Topic:   k.cfg.Topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{{Key: []byte("tag"), Value: []byte(tag)}},
	})
	return err
}

func (k *KafkaProducer) Close() error { return k.p.Close() }

// KafkaSource implements pipeline.Source over a sarama.ConsumerGroup. The
// session-retry loop in Run and the ConsumerGroupHandler split across
// Setup/Cleanup/ConsumeClaim mirror kafkaConsumer.routine/ConsumeClaim.
type KafkaSource struct {
	cfg    KafkaConfig
	client sarama.ConsumerGroup
	ch     chan string
	log    *logger.Logger

	mtx    sync.Mutex
	cancel context.CancelFunc
}

func NewKafkaSource(cfg KafkaConfig, lg *logger.Logger) (*KafkaSource, error) {
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("transport: new kafka consumer group: %w", err)
	}
	return &KafkaSource{cfg: cfg, client: client, ch: make(chan string, 1024), log: lg}, nil
}

// Run drives the consumer group session loop until ctx is canceled or the
// broker connection fails, matching kafkaConsumer.routine's retry-until-
// cancel behavior.
func (k *KafkaSource) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.mtx.Lock()
	k.cancel = cancel
	k.mtx.Unlock()
	for ctx.Err() == nil {
		if err := k.client.Consume(ctx, []string{k.cfg.Topic}, k); err != nil {
			if k.log != nil {
				k.log.Error("kafka consume error", logger.KVErr(err))
			}
			return
		}
	}
}

func (k *KafkaSource) Close() error {
	k.mtx.Lock()
	if k.cancel != nil {
		k.cancel()
	}
	k.mtx.Unlock()
	return k.client.Close()
}

func (k *KafkaSource) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (k *KafkaSource) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (k *KafkaSource) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		select {
		case k.ch <- string(msg.Value):
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
	return nil
}

// Recv implements pipeline.Source by deserializing the next queued message
// off the Kafka topic as a wire event.
func (k *KafkaSource) Recv(ctx context.Context) (event.Event, pipeline.Outcome) {
	select {
	case line, ok := <-k.ch:
		if !ok {
			return nil, pipeline.EOF
		}
		ev, err := event.Deserialize(line)
		if err != nil {
			if k.log != nil {
				k.log.Warn("dropping malformed event", logger.KVErr(err))
			}
			return nil, pipeline.Retry
		}
		return ev, pipeline.OK
	case <-ctx.Done():
		return nil, pipeline.EOF
	}
}
