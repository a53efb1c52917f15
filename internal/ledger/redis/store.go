// Package redisledger keeps the dedup ledger in a Redis set.
package redisledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

const (
	defaultKey = "jobcrawler:seen"
	// persistChunk bounds the number of members sent in one SADD.
	persistChunk = 500
)

type setClient interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	Close() error
}

// Store reads and appends ledger ids in a single Redis set.
type Store struct {
	client setClient
	key    string
}

// New connects to Redis at addr.
func New(addr, key string) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), key)
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client setClient, key string) *Store {
	if key == "" {
		key = defaultKey
	}
	return &Store{client: client, key: key}
}

// Load returns every member of the ledger set. A missing key is an empty
// ledger; a key of the wrong type is reported as crawler.ErrLedgerCorrupted.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		if isWrongType(err) {
			return nil, fmt.Errorf("%w: redis key %s: %v", crawler.ErrLedgerCorrupted, s.key, err)
		}
		return nil, fmt.Errorf("read ledger set: %w", err)
	}
	return ids, nil
}

// Persist adds ids to the ledger set.
func (s *Store) Persist(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += persistChunk {
		end := min(start+persistChunk, len(ids))
		members := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			members = append(members, id)
		}
		if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
			return fmt.Errorf("add ledger ids: %w", err)
		}
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func isWrongType(err error) bool {
	return strings.HasPrefix(err.Error(), "WRONGTYPE")
}
