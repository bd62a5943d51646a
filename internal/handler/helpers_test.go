package handler_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/sakif/keybridge/internal/auth"
	"github.com/sakif/keybridge/internal/handler"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/remote"
	"github.com/sakif/keybridge/internal/repository/sqlite"
	"github.com/sakif/keybridge/internal/service"
	"github.com/sakif/keybridge/internal/snapshot"
)

// =========================================================================
// FAKE REMOTE SERVER
// =========================================================================

// remoteServer is an in-process stand-in for the sharing server. It answers
// the endpoints remote.Client uses and records what it received.
type remoteServer struct {
	mu       sync.Mutex
	issued   int
	marked   []string
	shared   []map[string]any
	markFail bool // PATCH /keys/use answers 500
	down     bool // every endpoint answers 503
}

func (s *remoteServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			down := s.down
			s.mu.Unlock()
			if down {
				respond(w, http.StatusServiceUnavailable, map[string]string{"message": "maintenance"})
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/v1/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(req.Body).Decode(&body)
		if body["password"] != "secret" {
			respond(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}
		respond(w, http.StatusOK, map[string]any{
			"access_token": "tok-alice",
			"user":         map[string]any{"id": 42, "username": "alice", "email": body["email"]},
		})
	})

	r.Post("/v1/keys", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]int64
		_ = json.NewDecoder(req.Body).Decode(&body)
		s.mu.Lock()
		s.issued++
		n := s.issued
		s.mu.Unlock()
		respond(w, http.StatusCreated, map[string]any{
			"key":            fmt.Sprintf("remote-key-%d", n),
			"keyId":          100 + n,
			"userId":         body["userId"],
			"localSessionId": body["localSessionId"],
		})
	})

	r.Get("/v1/keys/{key}", func(w http.ResponseWriter, req *http.Request) {
		respond(w, http.StatusOK, map[string]any{"key": chi.URLParam(req, "key"), "remote": true})
	})

	r.Patch("/v1/keys/use/{key}", func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.markFail {
			respond(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}
		s.marked = append(s.marked, chi.URLParam(req, "key"))
		respond(w, http.StatusOK, map[string]any{"key": chi.URLParam(req, "key"), "status": "used"})
	})

	r.Post("/v1/analysis/share", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		s.mu.Lock()
		s.shared = append(s.shared, body)
		s.mu.Unlock()
		respond(w, http.StatusCreated, map[string]any{"id": 99})
	})

	r.Get("/v1/analysis/key/{key}", func(w http.ResponseWriter, req *http.Request) {
		respond(w, http.StatusOK, map[string]any{"key": chi.URLParam(req, "key"), "private": true})
	})

	r.Get("/v1/analysis/public/key/{key}", func(w http.ResponseWriter, req *http.Request) {
		respond(w, http.StatusOK, map[string]any{"key": chi.URLParam(req, "key"), "private": false})
	})

	return r
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =========================================================================
// FAKE HOST DATA
// =========================================================================

// hostData serves one complete session (id 3) with one analysis.
type hostData struct{}

func strp(s string) *string { return &s }
func i64p(n int64) *int64   { return &n }

func (hostData) GetSession(_ context.Context, id int64) (*model.Session, error) {
	if id != 3 {
		return nil, nil
	}
	return &model.Session{ID: 3, CaseID: 1, Intention: strp("balance")}, nil
}

func (hostData) ListAllSessions(context.Context) ([]model.Session, error) {
	return []model.Session{{ID: 3, CaseID: 1, Intention: strp("balance")}}, nil
}

func (hostData) ListAnalysesForSession(_ context.Context, sessionID int64) ([]model.Analysis, error) {
	if sessionID != 3 {
		return nil, nil
	}
	return []model.Analysis{{ID: 5, SessionID: 3, CatalogID: 8, TargetGV: i64p(1200)}}, nil
}

func (hostData) GetCase(_ context.Context, id int64) (*model.Case, error) {
	return &model.Case{ID: id, Name: strp("case one")}, nil
}

func (hostData) GetCatalog(_ context.Context, id int64) (*model.Catalog, error) {
	return &model.Catalog{ID: id, Name: strp("remedies")}, nil
}

func (hostData) ListRatesForCatalog(_ context.Context, catalogID int64) ([]model.Rate, error) {
	return []model.Rate{{ID: 1, CatalogID: catalogID, Signature: strp("rate-a")}}, nil
}

func (hostData) ListRateAnalysisResults(_ context.Context, analysisID int64) ([]model.RateAnalysis, error) {
	return []model.RateAnalysis{{ID: 2, AnalysisID: analysisID, Signature: strp("rate-a"), EnergeticValue: i64p(700)}}, nil
}

// =========================================================================
// FIXTURE
// =========================================================================

type fixture struct {
	db      *sqlite.DB
	remote  *remoteServer
	keys    *handler.KeyHandler
	auth    *handler.AuthHandler
	share   *handler.ShareHandler
	servers *handler.ServerHandler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()

	db, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rs := &remoteServer{}
	srv := httptest.NewServer(rs.router())
	t.Cleanup(srv.Close)

	client := remote.New(remote.Config{
		BaseURL:          srv.URL,
		Version:          "v1",
		AnalysisEndpoint: "/analysis/share",
		Timeout:          2 * time.Second,
		BreakerFailures:  100,
		BreakerTimeout:   time.Minute,
	}, logger)

	tokens := auth.NewTokenInspector(0)
	builder := snapshot.NewBuilder(hostData{}, "machine-1", logger)

	keySvc := service.NewKeyService(db, db, client, tokens, logger)
	authSvc := service.NewAuthService(db, client, logger)
	shareSvc := service.NewShareService(db, db, hostData{}, builder, client, tokens, keySvc, logger)
	regSvc := service.NewRegistryService(db, logger)

	return &fixture{
		db:      db,
		remote:  rs,
		keys:    handler.NewKeyHandler(keySvc, logger),
		auth:    handler.NewAuthHandler(authSvc, logger),
		share:   handler.NewShareHandler(shareSvc, logger),
		servers: handler.NewServerHandler(regSvc, logger),
	}
}

// login stores alice (server user 42) with an opaque token.
func (f *fixture) login(t *testing.T) {
	t.Helper()
	token := "tok-alice"
	serverID := int64(42)
	_, err := f.db.UpsertUser(context.Background(), model.UserUpsert{
		Username: "alice", Email: "alice@example.com", Token: &token, ServerUserID: &serverID,
	})
	require.NoError(t, err)
}

// =========================================================================
// REQUEST HELPERS
// =========================================================================

// newRequest builds a request with chi URL params already set, so handler
// methods can be called directly without a router.
func newRequest(method, target, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// envelope is the decoded response body.
type envelope struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Data        any            `json:"data"`
	Local       map[string]any `json:"local"`
	Server      any            `json:"server"`
	ServerError map[string]any `json:"serverError"`
	Error       string         `json:"error"`
	Field       string         `json:"field"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env), rr.Body.String())
	return env
}
