package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// robotsStatus records how robots.txt affected a fetch.
type robotsStatus string

const (
	robotsStatusUnknown       robotsStatus = ""
	robotsStatusIndeterminate robotsStatus = "indeterminate"
	robotsStatusDisallowed    robotsStatus = "disallowed"
)

const (
	allowAllRobots     = "User-agent: *\nAllow: /"
	reasonFetchTimeout = "robots.txt fetch timed out"
)

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard retries robots.txt fetches that time out and, once the retries
// are spent, answers with an allow-all file so the page itself can still be
// fetched. Every other request goes straight to base.
type robotsGuard struct {
	base    http.RoundTripper
	backoff []time.Duration

	status robotsStatus
	reason string
}

func newRobotsGuard(base http.RoundTripper) *robotsGuard {
	return &robotsGuard{base: base, backoff: defaultRobotsBackoff}
}

// RoundTrip implements http.RoundTripper.
func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip %s: %w", req.URL, err)
		}
		return resp, nil
	}
	return g.fetchRobots(req)
}

func (g *robotsGuard) fetchRobots(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := g.base.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil:
			return resp, nil
		case !isTimeout(err):
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		case attempt >= len(g.backoff):
			g.status = robotsStatusIndeterminate
			g.reason = reasonFetchTimeout
			return allowAllResponse(req), nil
		}
		if err := wait(req.Context(), g.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
