package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayunis-core/execution-worker/internal/config"
	"github.com/ayunis-core/execution-worker/internal/engine"
	"github.com/ayunis-core/execution-worker/internal/execsvc"
	"github.com/ayunis-core/execution-worker/internal/model"
	"github.com/ayunis-core/execution-worker/internal/provisioner"
	"github.com/ayunis-core/execution-worker/internal/sandbox"
)

func newTestServer(t *testing.T, ready bool) *Server {
	t.Helper()
	fe := engine.NewFakeEngine()
	if !ready {
		fe.ImageBuildErr = errors.New("build failed")
	}
	prov := provisioner.New(fe, "python-sandbox:latest")
	runner := sandbox.New(fe, config.ExecutorConfig{
		ExecutionTimeout: 2 * time.Second,
		MaxMemory:        "512m",
		MaxCPU:           1.0,
		SandboxImageTag:  "python-sandbox:latest",
		HarvestExtension: ".csv",
	})
	svc := execsvc.New(runner, prov)
	return NewServer(svc, prov)
}

func TestHandleExecute_Success(t *testing.T) {
	s := newTestServer(t, true)

	body, err := json.Marshal(model.ExecutionRequest{Code: "print('hi')"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp model.ExecutionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestHandleExecute_InvalidJSON(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute_ImageUnavailableIs503(t *testing.T) {
	s := newTestServer(t, false)

	body, err := json.Marshal(model.ExecutionRequest{Code: "print('hi')"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth_Healthy(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestHandleHealth_Unhealthy(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestHandleRoot(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Execution Worker", body["service"])
}

func TestServeHTTP_CORSHeadersAndPreflight(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodOptions, "/execute", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
