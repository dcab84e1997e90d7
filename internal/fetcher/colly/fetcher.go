// Package collyfetcher implements the probe Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/sitechat/ingest/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements pipeline.Fetcher using a Colly collector. Robots
// enforcement is handled by an internal per-host gate so disallowed URLs are
// rejected before any page request goes out.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *robotsGate
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	transport := newHTTPTransport()

	c := colly.NewCollector(colly.Async(false))
	// The gate owns robots decisions; colly must not duplicate them.
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
	if cfg.RespectRobots {
		f.robots = newRobotsGate(&http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		}, cfg.UserAgent)
	}
	return f
}

// Fetch executes a single HTTP GET. It returns ErrRobotsDisallowed (wrapped,
// permanent) when robots.txt forbids the URL.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, request.URL)
		if err != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("robots check for %s: %w", request.URL, err)
		}
		if !allowed {
			return pipeline.FetchResponse{}, pipeline.Permanent(fmt.Errorf("%s: %w", request.URL, ErrRobotsDisallowed))
		}
	}

	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}

	collector.OnResponse(func(r *colly.Response) {
		result = pipeline.FetchResponse{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      r.Headers.Clone(),
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			UsedHeadless: false,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses through OnError; keep the status so
		// callers can distinguish a 404 from a transport failure.
		if r != nil && r.StatusCode != 0 {
			result = pipeline.FetchResponse{
				URL:        request.URL,
				StatusCode: r.StatusCode,
				Headers:    http.Header{},
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
			if r.Request != nil && r.Request.URL != nil {
				result.URL = r.Request.URL.String()
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return pipeline.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Colly returns an error for non-2xx statuses too; when OnError
		// captured a real HTTP response we report that instead of failing.
		if result.StatusCode != 0 {
			return result, nil
		}
		if err != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
		}
		if fetchErr != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
		}
		return result, nil
	}
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
