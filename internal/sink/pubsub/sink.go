// Package pubsubsink announces new job records on a Google Cloud Pub/Sub topic.
package pubsubsink

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Config names the project and topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Sink publishes each record as a JSON message keyed by item id. Consumers
// dedupe on the item_id attribute.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// New creates a client for cfg.ProjectID and binds the topic.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("sinks.pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	s, err := NewWithClient(client, cfg.Topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewWithClient binds topicID on an existing client. The caller keeps
// ownership of the client.
func NewWithClient(client *pubsub.Client, topicID string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Sink{client: client, topic: client.Topic(topicID)}, nil
}

// Persist publishes record and waits for the server to acknowledge it.
func (s *Sink) Persist(ctx context.Context, record crawler.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"item_id": record.ID},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the client when the sink created it.
func (s *Sink) Close() error {
	s.topic.Stop()
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
