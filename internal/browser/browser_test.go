package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/tabmacro/internal/performer"
)

func TestPageLookup(t *testing.T) {
	b := &Browser{pages: make(map[performer.TabID]*rod.Page)}

	_, err := b.page("")
	assert.ErrorIs(t, err, performer.ErrNoActiveTab)

	_, err = b.Send(context.Background(), "missing", performer.Request{Action: performer.ActionClick})
	assert.ErrorIs(t, err, performer.ErrUnknownTab)
}

const fixturePage = `<!doctype html>
<html><body>
<h1 class="title">Widgets</h1>
<input id="q">
<button id="go" onclick="document.title='clicked:' + document.getElementById('q').value">Go</button>
</body></html>`

// Launching Chrome is slow and needs a local binary, so this only runs on request.
func TestBrowserEndToEnd(t *testing.T) {
	if os.Getenv("TABMACRO_BROWSER_TESTS") == "" {
		t.Skip("set TABMACRO_BROWSER_TESTS=1 to run against a local Chrome")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	b, err := Launch(Options{Headless: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	tab, err := b.OpenTab(ctx, srv.URL)
	require.NoError(t, err)

	_, err = b.Send(ctx, tab, performer.Request{Action: performer.ActionInput, QuerySelector: "#q", Text: "hello"})
	require.NoError(t, err)
	_, err = b.Send(ctx, tab, performer.Request{Action: performer.ActionClick, QuerySelector: "#go"})
	require.NoError(t, err)

	page, err := b.page(tab)
	require.NoError(t, err)
	assert.Equal(t, "clicked:hello", page.MustInfo().Title)

	resp, err := b.Send(ctx, tab, performer.Request{Action: performer.ActionInfer, QuerySelector: ".title"})
	require.NoError(t, err)
	assert.Contains(t, resp.Result, "Widgets")

	_, err = b.Send(ctx, tab, performer.Request{Action: performer.ActionClick, QuerySelector: "#nope"})
	var surfaceErr *performer.SurfaceError
	assert.True(t, errors.As(err, &surfaceErr))
}

func TestOpenTabDropsPageThatFailsToLoad(t *testing.T) {
	if os.Getenv("TABMACRO_BROWSER_TESTS") == "" {
		t.Skip("set TABMACRO_BROWSER_TESTS=1 to run against a local Chrome")
	}

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b, err := Launch(Options{Headless: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer b.Close()

	before := len(b.browser.MustPages())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	tab, err := b.OpenTab(ctx, srv.URL)
	require.Error(t, err)
	assert.Empty(t, tab)

	b.mu.Lock()
	assert.Empty(t, b.pages)
	b.mu.Unlock()
	assert.Eventually(t, func() bool { return len(b.browser.MustPages()) == before }, 5*time.Second, 50*time.Millisecond)
}
