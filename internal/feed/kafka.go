package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fxdesk/internal/logger"
	"fxdesk/internal/signal"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource 从 Kafka topic 读取 JSON 编码的信号提案。
type KafkaSource struct {
	topic  string
	reader messageReader
}

func NewKafkaSource(cfg KafkaConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "fxdesk"
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  time.Second,
	})
	return &KafkaSource{topic: cfg.Topic, reader: reader}, nil
}

func (s *KafkaSource) Name() string { return "kafka:" + s.topic }

func (s *KafkaSource) Run(ctx context.Context, out chan<- signal.Proposal) error {
	defer func() {
		if err := s.reader.Close(); err != nil {
			logger.Warnf("Feed: close kafka reader %s: %v", s.topic, err)
		}
	}()
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		var p signal.Proposal
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			logger.Warnf("Feed: skip undecodable message %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		} else {
			if p.ID == "" && len(msg.Key) > 0 {
				p.ID = string(msg.Key)
			}
			if p.At.IsZero() {
				p.At = msg.Time
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return nil
			}
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warnf("Feed: commit %s/%d@%d failed: %v", msg.Topic, msg.Partition, msg.Offset, err)
		}
	}
}
