// Package parser selects the site parser named in configuration.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/hash/sha256"
	"github.com/JakeFAU/job-crawler/internal/parser/topcv"
)

// Factory builds a parser for a site given its listing base URL.
type Factory func(baseURL string) (crawler.Parser, error)

var factories = map[string]Factory{
	"topcv": func(baseURL string) (crawler.Parser, error) {
		return topcv.New(baseURL, sha256.New())
	},
}

// New returns the parser registered for site.
func New(site, baseURL string) (crawler.Parser, error) {
	factory, ok := factories[strings.ToLower(strings.TrimSpace(site))]
	if !ok {
		return nil, fmt.Errorf("unsupported site %q (supported: %s)", site, strings.Join(Sites(), ", "))
	}
	p, err := factory(baseURL)
	if err != nil {
		return nil, fmt.Errorf("build %s parser: %w", site, err)
	}
	return p, nil
}

// Supported reports whether a parser is registered for site.
func Supported(site string) bool {
	_, ok := factories[strings.ToLower(strings.TrimSpace(site))]
	return ok
}

// Sites lists the registered site names.
func Sites() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
