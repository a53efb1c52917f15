// Package kafkasink publishes new job records to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config names the brokers and topic.
type Config struct {
	Brokers []string
	Topic   string
}

// Sink writes one message per record, keyed by item id so compacted topics
// keep a single copy per posting.
type Sink struct {
	writer messageWriter
	now    func() time.Time
}

// New builds a synchronous writer for cfg.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("sinks.kafka.brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("sinks.kafka.topic is required")
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}), nil
}

// NewWithWriter builds a sink using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Sink {
	return &Sink{writer: writer, now: time.Now}
}

// Persist publishes record.
func (s *Sink) Persist(ctx context.Context, record crawler.JobRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(record.ID),
		Value: payload,
		Time:  s.now().UTC(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write record %s: %w", record.ID, err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
