// Package collyfetcher implements a crawl step that loads pages with gocolly
// and follows same-host links.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/fetcher"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	IgnoreRobots bool
	Timeout      time.Duration
	Headers      http.Header
}

// Step implements crawler.Step and interceptor.BodyFetcher using the Colly
// collector.
type Step struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// New builds a Step.
func New(cfg Config, logger *zap.Logger) *Step {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Revisits are allowed because clones share the visited store and the
	// circular filter already decides what gets processed twice.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Step{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Process loads r (unless a body was preloaded) and returns one successor per
// same-host link. Pages blocked by robots.txt or answered with an error
// status produce no successors.
func (s *Step) Process(ctx context.Context, r *crawler.Resource) ([]*crawler.Resource, error) {
	page := fetcher.Page{URL: r.URL}
	if r.Body != "" {
		page.Preloaded = true
	} else {
		res, robots, err := s.fetch(ctx, r.URL)
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			s.logger.Debug("robots.txt disallows resource", zap.String("url", r.URL))
			page.RobotsStatus = string(robotsStatusDisallowed)
			r.Payload = page
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if robots != nil && robots.status == robotsStatusIndeterminate {
			s.logger.Warn("robots.txt unreachable, allowing all",
				zap.String("url", r.URL),
				zap.String("reason", robots.reason),
			)
			page.RobotsStatus = string(robots.status)
		}
		page.URL = res.URL
		page.StatusCode = res.StatusCode
		page.ContentType = res.ContentType
		r.Body = string(res.Body)
		if res.StatusCode >= http.StatusBadRequest {
			s.logger.Debug("error status, not following links",
				zap.String("url", r.URL),
				zap.Int("status", res.StatusCode),
			)
			r.Payload = page
			return nil, nil
		}
	}
	if page.ContentType != "" && !strings.Contains(page.ContentType, "html") {
		r.Payload = page
		return nil, nil
	}

	doc, err := fetcher.Parse(page.URL, r.Body)
	if err != nil {
		return nil, fmt.Errorf("colly step: %w", err)
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

// FetchBody returns the raw body at url. Error statuses are failures.
func (s *Step) FetchBody(ctx context.Context, url string) (string, error) {
	res, _, err := s.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch %s: status %d", url, res.StatusCode)
	}
	return string(res.Body), nil
}

func (s *Step) fetch(ctx context.Context, url string) (fetchResult, *robotsGuard, error) {
	var (
		result   fetchResult
		fetchErr error
	)
	collector, robotsState := s.buildCollector(ctx, &result, &fetchErr)
	if err := s.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetchResult{}, robotsState, err
	}
	return result, robotsState, nil
}

func (s *Step) buildCollector(
	ctx context.Context,
	result *fetchResult,
	fetchErr *error,
) (*colly.Collector, *robotsGuard) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = s.cfg.IgnoreRobots
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(s.cfg.Timeout)

	baseTransport := s.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	var transport http.RoundTripper = &contextTransport{ctx: ctx, base: baseTransport}
	var robotsState *robotsGuard
	if !s.cfg.IgnoreRobots {
		robotsState = newRobotsGuard(transport)
		transport = robotsState
	}
	collector.WithTransport(transport)

	s.configureCollectorHooks(collector, result, fetchErr)
	return collector, robotsState
}

func (s *Step) configureCollectorHooks(hooks collectorHooks, result *fetchResult, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		s.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetchResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (s *Step) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w", url, *fetchErr)
		}
		return nil
	}
}

func (s *Step) copyHeaders(r *colly.Request) {
	for key, values := range s.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// contextTransport ties every request of one fetch to the caller's context.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("roundtrip %s: %w", req.URL, err)
	}
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
