package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/chatpress/internal/cache"
	"github.com/xxxsen/chatpress/internal/pipeline"
)

func TestHealthz(t *testing.T) {
	s := New(0, nil)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReportsLastRunAndCacheStats(t *testing.T) {
	stats := func() map[string]cache.Stats {
		return map[string]cache.Stats{"posts": {Hits: 2, Misses: 1}}
	}
	s := New(0, stats)
	s.SetSummary(&pipeline.Summary{Generated: 3, Cached: 1})

	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		LastRun *pipeline.Summary      `json:"last_run"`
		Cache   map[string]cache.Stats `json:"cache_stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.LastRun)
	require.Equal(t, 3, body.LastRun.Generated)
	require.Equal(t, int64(2), body.Cache["posts"].Hits)
}
