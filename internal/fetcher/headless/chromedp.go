// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/sitechat/ingest/internal/pipeline"
)

const defaultNavigationTimeout = 45 * time.Second

// hydrationDelay gives client-side routers a beat to render after the
// document is ready, before the DOM is snapshotted.
const hydrationDelay = 500 * time.Millisecond

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements pipeline.Fetcher by rendering pages in headless Chrome.
// Browser tabs are expensive, so concurrent renders are capped by a weighted
// semaphore when MaxParallel is set.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. MaxParallel of
// zero means uncapped.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close tears down the browser allocator and any tabs it spawned.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the page in a fresh tab and returns the hydrated DOM together
// with the status and headers of the document response.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err := f.reserve(ctx); err != nil {
		return pipeline.FetchResponse{}, err
	}
	defer f.free()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &docResponse{}
	doc.listen(tabCtx)

	var (
		html     string
		location string
	)
	start := time.Now()
	err := chromedp.Run(tabCtx,
		f.prepareNetwork(),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(hydrationDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return pipeline.FetchResponse{}, fmt.Errorf("headless render %s: %w", request.URL, err)
	}

	status, headers, finalURL := doc.resolve(request.URL, location)
	return pipeline.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepareNetwork enables CDP network events (needed to observe the document
// response) and applies the configured user agent.
func (f *Fetcher) prepareNetwork() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) reserve(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for browser slot: %w", err)
	}
	return nil
}

func (f *Fetcher) free() {
	if f.slots != nil {
		f.slots.Release(1)
	}
}

// docResponse records the status, headers, and URL of the main document
// response as CDP network events arrive. Subresource responses are ignored.
type docResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *docResponse) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, d.observe)
}

func (d *docResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = decodeHeaders(resp.Response.Headers)
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// resolve returns the captured document metadata, falling back to the
// browser's reported location and then the request URL when no document
// event fired (about: pages, cache-only loads).
func (d *docResponse) resolve(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	status, headers, url := d.status, d.headers, d.url
	d.mu.Unlock()

	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

// decodeHeaders converts loosely typed CDP header values to an http.Header.
func decodeHeaders(raw network.Headers) http.Header {
	headers := make(http.Header, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
