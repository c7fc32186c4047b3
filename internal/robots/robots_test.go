package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAgent = "hybridfetch-test"

func newTestGate(t *testing.T) (*Gate, *atomic.Int64, *httptest.Server) {
	t.Helper()
	var robotsFetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsFetches.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return NewGate(srv.Client(), testAgent, zap.NewNop()), &robotsFetches, srv
}

func TestCanFetchHonorsDisallow(t *testing.T) {
	gate, _, srv := newTestGate(t)
	ctx := context.Background()

	require.True(t, gate.CanFetch(ctx, srv.URL+"/public/page"))
	require.False(t, gate.CanFetch(ctx, srv.URL+"/private/page"))
}

func TestCanFetchCachesPerHost(t *testing.T) {
	gate, fetches, srv := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		gate.CanFetch(ctx, srv.URL+"/page")
	}
	require.Equal(t, int64(1), fetches.Load(), "robots.txt must be fetched once per host")
}

func TestCanFetchSerializesCachePopulation(t *testing.T) {
	gate, fetches, srv := newTestGate(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.CanFetch(ctx, srv.URL+"/page")
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), fetches.Load(), "concurrent misses must collapse into one fetch")
}

func TestCanFetchAllowsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := NewGate(srv.Client(), testAgent, zap.NewNop())
	require.True(t, gate.CanFetch(context.Background(), srv.URL+"/anything"))
}

func TestCanFetchAllowsOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	gate := NewGate(nil, testAgent, zap.NewNop())
	require.True(t, gate.CanFetch(context.Background(), srv.URL+"/anything"))
}

func TestCanFetchAllowsUnparseableURL(t *testing.T) {
	gate := NewGate(nil, testAgent, zap.NewNop())
	require.True(t, gate.CanFetch(context.Background(), "not a url"))
}
