// Package pgsink upserts job records into a Postgres table.
package pgsink

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

const defaultTable = "job_postings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the target table and its connection pool.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink inserts one row per record. A row whose id already exists is left untouched.
type Sink struct {
	pool  execCloser
	table string
}

// New connects to Postgres and makes sure the table exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sinks.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(p execCloser, table string) (*Sink, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: p, table: table}, nil
}

// EnsureSchema creates the postings table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	company_name TEXT,
	location TEXT,
	salary TEXT,
	salary_min DOUBLE PRECISION,
	salary_max DOUBLE PRECISION,
	salary_currency TEXT,
	salary_negotiable BOOLEAN NOT NULL DEFAULT FALSE,
	experience TEXT,
	description TEXT,
	requirements TEXT,
	benefits TEXT,
	work_location TEXT,
	posted_date TEXT,
	application_deadline TEXT,
	url TEXT NOT NULL,
	crawled_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create postings table: %w", err)
	}
	return nil
}

// Persist inserts record, ignoring ids that are already stored.
func (s *Sink) Persist(ctx context.Context, r crawler.JobRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (
	id, title, company_name, location, salary, salary_min, salary_max, salary_currency,
	salary_negotiable, experience, description, requirements, benefits, work_location,
	posted_date, application_deadline, url, crawled_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO NOTHING`, s.table)
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Title, r.Company, r.Location, r.Salary, r.SalaryMin, r.SalaryMax, r.SalaryCurrency,
		r.SalaryNegotiable, r.Experience, r.Description, r.Requirements, r.Benefits, r.WorkLocation,
		r.PostedDate, r.Deadline, r.URL, r.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("insert posting %s: %w", r.ID, err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
