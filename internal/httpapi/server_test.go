package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardlthompson/linear-trend-spotter/internal/metrics"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/scan"
)

type stubActive struct {
	rows []model.ActiveQualifier
	err  error
}

func (s *stubActive) ActiveList(ctx context.Context) ([]model.ActiveQualifier, error) {
	return s.rows, s.err
}

func TestHandleActive(t *testing.T) {
	src := &stubActive{rows: []model.ActiveQualifier{
		{Symbol: "SOL", Name: "Solana", UniformityScore: 100},
		{Symbol: "LINK", Name: "Chainlink", UniformityScore: 61.5},
	}}
	srv := NewServer(src, metrics.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/active", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count      int                     `json:"count"`
		Qualifiers []model.ActiveQualifier `json:"qualifiers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "SOL", body.Qualifiers[0].Symbol)
}

func TestHandleActive_StorageError(t *testing.T) {
	srv := NewServer(&stubActive{err: assert.AnError}, metrics.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/active", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleLastRun(t *testing.T) {
	srv := NewServer(&stubActive{}, metrics.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lastrun", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no run published yet")

	srv.SetLastRun(&scan.Result{
		RunID:     "run-1",
		StartedAt: time.Now().UTC(),
		Stages:    map[string]int{scan.StageFetch: 100},
		Entered:   2,
	})

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lastrun", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res scan.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 2, res.Entered)
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := NewServer(&stubActive{}, metrics.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
