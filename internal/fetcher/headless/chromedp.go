// Package headless implements a crawl step that renders pages in headless
// Chrome through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/fetcher"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the behavior of the headless step.
type Config struct {
	// MaxParallel bounds concurrent tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long scripts may run after the body is ready.
	SettleDelay       time.Duration
	Headers           http.Header
}

// Step implements crawler.Step and interceptor.BodyFetcher using chromedp.
type Step struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless step. Chrome is launched lazily on the first render.
func New(cfg Config, logger *zap.Logger) (*Step, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Step{cfg: cfg, logger: logger}
	if cfg.MaxParallel > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	s.allocator, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return s, nil
}

// Close shuts the browser down.
func (s *Step) Close() {
	s.allocCancel()
}

// Process renders r (unless a body was preloaded) and returns one successor
// per same-host link found in the rendered DOM.
func (s *Step) Process(ctx context.Context, r *crawler.Resource) ([]*crawler.Resource, error) {
	page := fetcher.Page{URL: r.URL, Preloaded: r.Body != ""}
	if !page.Preloaded {
		var html string
		var err error
		page, html, err = s.render(ctx, r.URL)
		if err != nil {
			return nil, err
		}
		r.Body = html
		if page.StatusCode >= http.StatusBadRequest {
			s.logger.Debug("error status, not following links",
				zap.String("url", r.URL),
				zap.Int("status", page.StatusCode),
			)
			r.Payload = page
			return nil, nil
		}
	}

	doc, err := fetcher.Parse(page.URL, r.Body)
	if err != nil {
		return nil, fmt.Errorf("headless step: %w", err)
	}
	page.Title = doc.Title()
	r.Payload = page

	links := doc.SameHostLinks()
	successors := make([]*crawler.Resource, 0, len(links))
	for _, link := range links {
		successors = append(successors, r.Successor(link))
	}
	return successors, nil
}

// FetchBody returns the rendered DOM at url.
func (s *Step) FetchBody(ctx context.Context, url string) (string, error) {
	page, html, err := s.render(ctx, url)
	if err != nil {
		return "", err
	}
	if page.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("render %s: status %d", url, page.StatusCode)
	}
	return html, nil
}

func (s *Step) render(ctx context.Context, url string) (fetcher.Page, string, error) {
	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return fetcher.Page{}, "", fmt.Errorf("wait for headless slot: %w", err)
		}
		defer s.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(s.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tab, cancel := context.WithTimeout(tab, s.cfg.NavigationTimeout)
	defer cancel()

	var (
		doc      documentWatcher
		html     string
		location string
	)
	chromedp.ListenTarget(tab, doc.observe)
	err := chromedp.Run(tab,
		s.prepareTab(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fetcher.Page{}, "", fmt.Errorf("render %s: %w", url, err)
	}
	return doc.page(url, location), html, nil
}

// prepareTab enables network events and applies the identity overrides.
func (s *Step) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if headers := networkHeaders(s.cfg.Headers); len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentWatcher keeps the latest document response seen by a tab.
// Redirects overwrite earlier hops.
type documentWatcher struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (w *documentWatcher) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := headerFromNetwork(resp.Response.Headers)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = int(resp.Response.Status)
	w.headers = headers
	w.url = resp.Response.URL
}

// page describes the rendered document. The address falls back to the tab
// location and then to the requested address; a missing status means 200.
func (w *documentWatcher) page(requested, location string) fetcher.Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := fetcher.Page{URL: w.url, StatusCode: w.status, ContentType: w.headers.Get("Content-Type")}
	if p.URL == "" {
		p.URL = location
	}
	if p.URL == "" {
		p.URL = requested
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}
	return p
}

func headerFromNetwork(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
