// Package topcv parses listing and detail pages of the TopCV job board.
package topcv

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Hasher derives a fallback item id from a URL that carries no numeric id.
type Hasher interface {
	Hash(data []byte) (string, error)
}

var (
	htmlIDPattern   = regexp.MustCompile(`/(\d+)\.html`)
	prefixIDPattern = regexp.MustCompile(`j(\d+)`)
)

// Parser implements crawler.Parser for TopCV markup. It holds no mutable
// state and is safe for concurrent use.
type Parser struct {
	base   *url.URL
	hasher Hasher
}

// New builds a parser that resolves relative links against baseURL.
func New(baseURL string, hasher Hasher) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Parser{base: base, hasher: hasher}, nil
}

// ItemID returns the stable id for a detail URL: the numeric id in
// "/<digits>.html", else the digits after a "j", else a hash of the URL.
func (p *Parser) ItemID(detailURL string) (string, error) {
	if m := htmlIDPattern.FindStringSubmatch(detailURL); m != nil {
		return m[1], nil
	}
	if m := prefixIDPattern.FindStringSubmatch(detailURL); m != nil {
		return m[1], nil
	}
	sum, err := p.hasher.Hash([]byte(detailURL))
	if err != nil {
		return "", fmt.Errorf("hash item url: %w", err)
	}
	return sum, nil
}

func (p *Parser) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.base.ResolveReference(ref).String()
}

func newDocument(content []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: read html: %v", crawler.ErrParse, err)
	}
	return doc, nil
}

// text returns the selection's text with runs of whitespace collapsed.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
