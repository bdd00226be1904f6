package plain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefeed/pagefeed/internal/feed"
)

type allowAll struct{}

func (allowAll) Allowed(context.Context, string, string) bool { return true }

type denyAll struct{}

func (denyAll) Allowed(context.Context, string, string) bool { return false }

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pagefeed-test", r.UserAgent())
		_, _ = w.Write([]byte("<html><body><h1>hi</h1></body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "pagefeed-test"}, allowAll{})
	res, err := f.Fetch(context.Background(), feed.PageRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.HTML, "<h1>hi</h1>")
	assert.Equal(t, srv.URL, strings.TrimSuffix(res.FinalURL, "/"))
}

func TestFetchFollowsRedirectToFinalURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landed", http.StatusFound)
	})
	mux.HandleFunc("/landed", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>done</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{}, allowAll{})
	res, err := f.Fetch(context.Background(), feed.PageRequest{URL: srv.URL + "/start"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/landed", res.FinalURL)
}

func TestFetchDeniedByRobots(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	f := New(Config{}, denyAll{})
	_, err := f.Fetch(context.Background(), feed.PageRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, feed.ErrFetchDenied))
	assert.False(t, called, "denied fetch must not hit the origin")
}

func TestFetchHTTPErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second}, allowAll{})
	_, err := f.Fetch(context.Background(), feed.PageRequest{URL: srv.URL})
	require.Error(t, err)
}
