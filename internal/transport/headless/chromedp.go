// Package headless implements crawler.Transport with a headless Chrome
// browser, for listing pages that only render their items client-side.
package headless

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless transport.
type Config struct {
	MaxParallel       int
	UserAgent         string
	Proxy             string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so late
	// scripts can finish rendering listing cards.
	SettleDelay time.Duration
}

// Transport renders pages in headless Chrome and returns the final DOM.
type Transport struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless transport backed by chromedp. The browser process
// starts lazily on the first request.
func New(cfg Config) (*Transport, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Transport{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (t *Transport) Close() error {
	t.allocCancel()
	return nil
}

// RoundTrip opens a tab, navigates to request.URL and returns the rendered
// document. The status and headers come from the main document response.
// Failed document responses skip the settle delay and DOM capture.
func (t *Transport) RoundTrip(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := t.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer t.release()

	tab, closeTab := chromedp.NewContext(t.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, t.navTimeout(request))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.listen)

	start := time.Now()
	var finalURL string
	err := chromedp.Run(tab,
		t.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return crawler.FetchResponse{}, runError(ctx, "navigate", err)
	}

	resp := doc.response(request.URL, finalURL)
	if _, failed := crawler.ClassifyStatus(resp.StatusCode); !failed {
		var html string
		var actions []chromedp.Action
		if t.cfg.SettleDelay > 0 {
			actions = append(actions, chromedp.Sleep(t.cfg.SettleDelay))
		}
		actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
		if err := chromedp.Run(tab, actions...); err != nil {
			return crawler.FetchResponse{}, runError(ctx, "capture", err)
		}
		resp.Body = []byte(html)
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

func runError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("headless fetch canceled: %w", ctx.Err())
	}
	return fmt.Errorf("headless %s: %w", step, err)
}

// prepare applies the user agent and per-request headers to the tab.
func (t *Transport) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := networkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	select {
	case t.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (t *Transport) release() {
	if t.limiter != nil {
		<-t.limiter
	}
}

// navTimeout is the shorter of the request timeout and the configured
// navigation timeout.
func (t *Transport) navTimeout(request crawler.FetchRequest) time.Duration {
	limit := cmp.Or(t.cfg.NavigationTimeout, defaultNavTimeout)
	if request.Timeout > 0 && request.Timeout < limit {
		return request.Timeout
	}
	return limit
}

// documentResponse keeps the first main-document response a tab reports.
// Later document responses belong to iframes.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) listen(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(e.Response.Status)
	d.url = e.Response.URL
	d.headers = httpHeaders(e.Response.Headers)
}

// response describes the document. A tab that reported no document
// response (a cached or synthetic page) counts as 200 at its final location.
func (d *documentResponse) response(requestURL, finalURL string) crawler.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := crawler.FetchResponse{
		URL:        cmp.Or(d.url, finalURL, requestURL),
		StatusCode: d.status,
		Headers:    d.headers.Clone(),
	}
	if !d.seen {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

func httpHeaders(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for key, value := range h {
		if values, ok := value.([]any); ok {
			for _, v := range values {
				out.Add(key, fmt.Sprint(v))
			}
			continue
		}
		out.Add(key, fmt.Sprint(value))
	}
	return out
}

// networkHeaders flattens h for the DevTools protocol, which takes one
// string per header name.
func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
