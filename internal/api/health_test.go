package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinger(err error) Pinger {
	return PingFunc(func(context.Context) error { return err })
}

func readiness(t *testing.T, pg, rdb Pinger) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHealthHandler(pg, rdb, "test", "v1").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestReadiness(t *testing.T) {
	down := errors.New("down")

	code, resp := readiness(t, pinger(nil), pinger(nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)

	code, resp = readiness(t, pinger(nil), pinger(down))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["redis"])

	code, resp = readiness(t, pinger(down), pinger(nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", resp.Status)
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil, nil, "test", "v1").Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"v1","env":"test"}`, rec.Body.String())
}
