// Package gcssink writes each job record as a JSON object in a GCS bucket.
package gcssink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Sink uploads <prefix>/<id>.json per record. Re-persisting an id
// overwrites the object with the same content.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// New creates a client with default credentials and wraps it.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s, err := NewWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object path for id.
func (s *Sink) ObjectName(id string) string {
	if s.prefix == "" {
		return id + ".json"
	}
	return path.Join(s.prefix, id+".json")
}

// Persist uploads record as JSON.
func (s *Sink) Persist(ctx context.Context, record crawler.JobRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	writer := s.client.Bucket(s.bucket).Object(s.ObjectName(record.ID)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(payload)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", s.bucket, s.ObjectName(record.ID), err)
	}
	return nil
}

// Close closes the client when the sink created it.
func (s *Sink) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
