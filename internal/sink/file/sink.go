// Package filesink appends job records to a JSON lines file and a CSV file.
package filesink

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Columns is the CSV header, in write order.
var Columns = []string{
	"id", "title", "company_name", "location", "salary",
	"salary_min", "salary_max", "salary_currency", "salary_negotiable",
	"experience", "description", "requirements", "benefits", "work_location",
	"posted_date", "application_deadline", "url", "crawled_at",
}

// Config names the output files. An empty path disables that format.
type Config struct {
	JSONPath string
	CSVPath  string
}

// Sink appends each new record once per format. Ids already present in a
// file, or written earlier by this process, are skipped for that file, so a
// retry after a partial failure only completes the missing format.
type Sink struct {
	mu   sync.Mutex
	cfg  Config
	json map[string]struct{}
	csv  map[string]struct{}
}

// New prepares the output directories and indexes existing outputs.
func New(cfg Config) (*Sink, error) {
	if cfg.JSONPath == "" && cfg.CSVPath == "" {
		return nil, fmt.Errorf("file sink needs a json or csv path")
	}
	for _, p := range []string{cfg.JSONPath, cfg.CSVPath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, fmt.Errorf("create sink dir for %s: %w", p, err)
		}
	}
	s := &Sink{cfg: cfg, json: make(map[string]struct{}), csv: make(map[string]struct{})}
	if err := indexJSON(cfg.JSONPath, s.json); err != nil {
		return nil, err
	}
	if err := indexCSV(cfg.CSVPath, s.csv); err != nil {
		return nil, err
	}
	return s, nil
}

func indexJSON(path string, ids map[string]struct{}) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var row struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil || row.ID == "" {
			continue
		}
		ids[row.ID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	return nil
}

// indexCSV reads the id column. Rows that do not parse are skipped.
func indexCSV(path string, ids map[string]struct{}) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return fmt.Errorf("index %s: %w", path, err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == Columns[0] {
				continue
			}
		}
		if len(row) > 0 && row[0] != "" {
			ids[row[0]] = struct{}{}
		}
	}
}

// Persist appends record to every configured file that does not hold its id yet.
func (s *Sink) Persist(ctx context.Context, record crawler.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.JSONPath != "" {
		if _, ok := s.json[record.ID]; !ok {
			if err := appendJSON(s.cfg.JSONPath, record); err != nil {
				return err
			}
			s.json[record.ID] = struct{}{}
		}
	}
	if s.cfg.CSVPath != "" {
		if _, ok := s.csv[record.ID]; !ok {
			if err := appendCSV(s.cfg.CSVPath, record); err != nil {
				return err
			}
			s.csv[record.ID] = struct{}{}
		}
	}
	return nil
}

// Close is a no-op; every Persist closes its files.
func (s *Sink) Close() error {
	return nil
}

// Len returns the number of ids present in every configured file.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cfg.JSONPath == "":
		return len(s.csv)
	case s.cfg.CSVPath == "":
		return len(s.json)
	}
	n := 0
	for id := range s.json {
		if _, ok := s.csv[id]; ok {
			n++
		}
	}
	return n
}

func appendJSON(path string, record crawler.JobRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func appendCSV(path string, record crawler.JobRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := writeCSV(f, info.Size() == 0, record); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeCSV(w io.Writer, header bool, record crawler.JobRecord) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Columns); err != nil {
			return err
		}
	}
	if err := cw.Write(csvRow(record)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r crawler.JobRecord) []string {
	crawledAt := ""
	if !r.CrawledAt.IsZero() {
		crawledAt = r.CrawledAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.ID, r.Title, r.Company, r.Location, r.Salary,
		formatAmount(r.SalaryMin), formatAmount(r.SalaryMax), r.SalaryCurrency,
		strconv.FormatBool(r.SalaryNegotiable),
		r.Experience, r.Description, r.Requirements, r.Benefits, r.WorkLocation,
		r.PostedDate, r.Deadline, r.URL, crawledAt,
	}
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
