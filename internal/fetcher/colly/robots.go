package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/sitechat/ingest/internal/metrics"
)

// ErrRobotsDisallowed is returned when robots.txt forbids fetching a URL.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGate fetches and caches robots.txt per host. A host whose robots.txt
// cannot be retrieved after retries is treated as allow-all; failing open
// matches how mainstream crawlers handle an unreachable robots endpoint.
type robotsGate struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

func newRobotsGate(client *http.Client, userAgent string) *robotsGate {
	return &robotsGate{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the gate's user agent may fetch rawURL.
func (g *robotsGate) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url for robots check: %w", err)
	}
	data, err := g.dataForHost(ctx, u)
	if err != nil {
		return false, err
	}
	group := data.FindGroup(g.userAgent)
	return group.Test(u.Path), nil
}

func (g *robotsGate) dataForHost(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	host := u.Scheme + "://" + u.Host
	g.mu.Lock()
	if data, ok := g.cache[host]; ok {
		g.mu.Unlock()
		return data, nil
	}
	g.mu.Unlock()

	data, err := g.probe(ctx, host+"/robots.txt")
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[host] = data
	g.mu.Unlock()
	return data, nil
}

func (g *robotsGate) probe(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build robots request: %w", err)
		}
		if g.userAgent != "" {
			req.Header.Set("User-Agent", g.userAgent)
		}

		resp, err := g.client.Do(req)
		if err == nil {
			defer func() { _ = resp.Body.Close() }()
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if readErr != nil {
				return nil, fmt.Errorf("read robots body: %w", readErr)
			}
			data, parseErr := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
			if parseErr != nil {
				return nil, fmt.Errorf("parse robots.txt: %w", parseErr)
			}
			return data, nil
		}

		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots probe: %w", err)
		}
		if attempt == maxAttempts-1 {
			metrics.ObserveProbeTLSHandshakeTimeout()
			return allowAllRobots(), nil
		}
		if err := sleepWithContext(ctx, robotsRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, errors.New("robots probe exhausted retries")
}

func allowAllRobots() *robotstxt.RobotsData {
	data, err := robotstxt.FromString("User-agent: *\nAllow: /")
	if err != nil {
		// The literal above always parses.
		panic(err)
	}
	return data
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
