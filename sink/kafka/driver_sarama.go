// Package kafka writes records to a streaming platform topic with a sarama
// SyncProducer.
package kafka

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eapache/go-resiliency/retrier"

	"routex/internal/logging"
	"routex/sink"
)

type Config struct {
	Brokers    []string      `yaml:"brokers" mapstructure:"brokers" validate:"required,min=1,dive,required"`
	Topic      string        `yaml:"topic" mapstructure:"topic"` // overrides the record topic
	Acks       int16         `yaml:"required_acks" mapstructure:"required_acks" validate:"oneof=-1 0 1"`
	ClientID   string        `yaml:"client_id" mapstructure:"client_id"`
	Version    string        `yaml:"version" mapstructure:"version"`
	Retries    int           `yaml:"retries" mapstructure:"retries" validate:"min=0"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" validate:"min=0"`
}

// NewProducer is swapped in tests.
var NewProducer = func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, sc)
}

type driver struct {
	cfg   Config
	p     sarama.SyncProducer
	retry *retrier.Retrier

	once sync.Once
}

func (d *driver) Configure(raw any) error {
	var cfg Config
	if err := sink.Decode(raw, &cfg); err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.cfg = cfg

	sc, err := saramaConfig(cfg)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	if d.p, err = NewProducer(cfg.Brokers, sc); err != nil {
		return fmt.Errorf("kafka-sink: producer: %w", err)
	}
	d.retry = retrier.New(retrier.ConstantBackoff(cfg.Retries, cfg.RetryDelay), nil)
	logging.L().With("component", "kafka-sink").Info("producer ready", "brokers", cfg.Brokers, "acks", cfg.Acks)
	return nil
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = newRecordPartitioner
	// retries happen in Push, around the whole send
	sc.Producer.Retry.Max = 0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = v
	}
	return sc, nil
}

func (d *driver) Push(r *sink.Record) error {
	msg := d.convertMessage(r)
	err := d.retry.Run(func() error {
		_, _, err := d.p.SendMessage(msg)
		return err
	})
	if err != nil {
		return fmt.Errorf("kafka-sink: send to %s: %w", msg.Topic, err)
	}
	return nil
}

func (d *driver) convertMessage(r *sink.Record) *sarama.ProducerMessage {
	topic := r.Topic
	if d.cfg.Topic != "" {
		topic = d.cfg.Topic
	}
	headers := make([]sarama.RecordHeader, 0, len(r.Headers))
	for _, h := range r.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(r.Value),
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
	if r.Key != nil {
		msg.Key = sarama.ByteEncoder(r.Key)
	}
	if r.Partition != nil {
		msg.Metadata = *r.Partition
	}
	return msg
}

func (d *driver) Close() error {
	var err error
	d.once.Do(func() {
		if d.p != nil {
			err = d.p.Close()
		}
	})
	return err
}

/*──────── partitioner ───────*/

var errPartitionOutOfRange = errors.New("record partition out of range")

// recordPartitioner honours a partition pinned on the record and hashes the
// key otherwise.
type recordPartitioner struct {
	hash sarama.Partitioner
}

func newRecordPartitioner(topic string) sarama.Partitioner {
	return recordPartitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p recordPartitioner) Partition(m *sarama.ProducerMessage, n int32) (int32, error) {
	if part, ok := m.Metadata.(int32); ok {
		if part < 0 || part >= n {
			return -1, fmt.Errorf("%w: %d of %d", errPartitionOutOfRange, part, n)
		}
		return part, nil
	}
	return p.hash.Partition(m, n)
}

func (p recordPartitioner) RequiresConsistency() bool { return true }

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
