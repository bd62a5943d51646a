package server_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/keybridge/internal/config"
	"github.com/sakif/keybridge/internal/model"
	sqliteRepo "github.com/sakif/keybridge/internal/repository/sqlite"
	"github.com/sakif/keybridge/internal/server"
)

func newTestServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	dir := t.TempDir()

	// An empty file is a valid, empty SQLite database.
	hostPath := filepath.Join(dir, "host.db")
	require.NoError(t, os.WriteFile(hostPath, nil, 0o644))

	cfg := &config.Config{
		MachineID: "test-machine",
		HTTP:      config.HTTP{Port: 0, AllowedOrigins: []string{"http://localhost:5173"}},
		Store:     config.Store{Path: filepath.Join(dir, "social.db")},
		HostDB:    config.HostDB{Path: hostPath},
		API: config.API{
			BaseURL:          "http://127.0.0.1:1",
			Version:          "v1",
			AnalysisEndpoint: "/analysis/share",
			BreakerFailures:  5,
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv, err := server.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, cfg.Store.Path
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestNew_MissingHostDatabase(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Store:  config.Store{Path: filepath.Join(dir, "social.db")},
		HostDB: config.HostDB{Path: filepath.Join(dir, "missing.db")},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := server.New(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "opening host database")
}

func TestRoutes_PingAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv.Handler(), http.MethodGet, "/api/ping")
	require.Equal(t, http.StatusOK, rr.Code)

	var env struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.Equal(t, server.PluginName, env.Data["plugin"])
	assert.NotEmpty(t, env.Data["timestamp"])
	assert.Equal(t, "test-machine", env.Data["machineId"])

	rr = do(t, srv.Handler(), http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	do(t, srv.Handler(), http.MethodGet, "/api/ping")
	rr := do(t, srv.Handler(), http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `keybridge_http_requests_total{method="GET",route="/api/ping",status="200"}`)
}

func TestRoutes_NumericKeySegmentIsUserID(t *testing.T) {
	srv, path := newTestServer(t)

	// Seed the store through a second connection.
	db, err := sqliteRepo.New(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.CreateAnalysisKey(context.Background(), &model.AnalysisKey{
		Key: "abc", SessionID: 3, UserID: 42, Status: model.KeyActive,
	}))
	require.NoError(t, db.Close())

	rr := do(t, srv.Handler(), http.MethodGet, "/api/key/42")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list struct {
		Local []map[string]any `json:"local"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list.Local, 1)
	assert.Equal(t, "abc", list.Local[0]["key"])

	rr = do(t, srv.Handler(), http.MethodGet, "/api/key/abc")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var one struct {
		Local       map[string]any `json:"local"`
		ServerError map[string]any `json:"serverError"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&one))
	assert.Equal(t, "abc", one.Local["key"])
	assert.NotNil(t, one.ServerError, "nobody is logged in")

	rr = do(t, srv.Handler(), http.MethodGet, "/api/key/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/key/request", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost))
}

func TestRoutes_RequestKeyWithoutLogin(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/key/request", strings.NewReader(`{"session_id":3}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
