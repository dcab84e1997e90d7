package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/pipeline"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	assert.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	assert.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)
}

func TestNoopFetcher(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), pipeline.FetchRequest{URL: "https://example.com/"})
	assert.Error(t, err)
}

func TestReserveRespectsContext(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	t.Cleanup(f.Close)

	require.NoError(t, f.reserve(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, f.reserve(ctx), "second slot blocks until the first frees")

	f.free()
	require.NoError(t, f.reserve(context.Background()))
	f.free()
}

func TestDocResponseObservesDocumentOnly(t *testing.T) {
	t.Parallel()

	doc := &docResponse{}
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 200,
			URL:    "https://example.com/final",
			Headers: network.Headers{
				"Content-Type": "text/html; charset=utf-8",
			},
		},
	})
	// Subresource responses are ignored.
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://example.com/logo.png",
		},
	})

	status, headers, url := doc.resolve("https://example.com/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://example.com/final", url)
	assert.Equal(t, "text/html; charset=utf-8", headers.Get("Content-Type"))
}

func TestDocResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := &docResponse{}
	status, headers, url := doc.resolve("https://example.com/req", "https://example.com/loc")
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, headers)
	assert.Equal(t, "https://example.com/loc", url, "browser location beats the request URL")

	status, _, url = doc.resolve("https://example.com/req", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://example.com/req", url)
}

func TestDecodeHeaders(t *testing.T) {
	t.Parallel()

	headers := decodeHeaders(network.Headers{
		"Content-Type": "text/html",
		"Set-Cookie":   []any{"a=1", "b=2"},
		"X-Count":      42,
	})
	assert.Equal(t, "text/html", headers.Get("Content-Type"))
	assert.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	assert.Equal(t, "42", headers.Get("X-Count"))
}
