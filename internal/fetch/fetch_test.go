package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><style>body{}</style></head><body>
<h1>  Daily   prices </h1>
<ul>
<li class="item">Apples 3</li>
<li class="item">Pears   4</li>
</ul>
<script>var x = 1;</script>
</body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "tabmacro-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSelector(t *testing.T) {
	srv := newServer(t)
	c := NewClient(time.Second, "tabmacro-test")

	got, err := c.Fetch(context.Background(), srv.URL, "li.item")
	require.NoError(t, err)
	assert.Equal(t, "Apples 3\nPears 4", got)

	got, err = c.Fetch(context.Background(), srv.URL, "h1")
	require.NoError(t, err)
	assert.Equal(t, "Daily prices", got)
}

func TestFetchWholeBody(t *testing.T) {
	srv := newServer(t)
	c := NewClient(time.Second, "tabmacro-test")

	got, err := c.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "Daily prices Apples 3 Pears 4", got)
}

func TestFetchErrors(t *testing.T) {
	srv := newServer(t)
	c := NewClient(time.Second, "tabmacro-test")

	_, err := c.Fetch(context.Background(), srv.URL+"/missing", "")
	assert.ErrorContains(t, err, "unexpected status")

	_, err = c.Fetch(context.Background(), srv.URL, ".nothing")
	assert.ErrorContains(t, err, "no element matches")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Fetch(ctx, srv.URL, "")
	assert.ErrorIs(t, err, context.Canceled)
}
