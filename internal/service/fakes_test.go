package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/remote"
	"github.com/sakif/keybridge/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeRemote stands in for remote.Client. Each method counts its calls and
// returns the configured error when one is set.
type fakeRemote struct {
	mu    sync.Mutex
	calls map[string]int

	issueErr  error
	markErr   error
	getErr    error
	listErr   error
	shareErr  error
	loginErr  error
	lookupErr error

	nextKey   string
	nextKeyID int64
	expiresAt *time.Time
	auth      *remote.AuthResult

	// onIssue runs inside IssueKey, before it returns, to simulate a
	// concurrent request.
	onIssue func()

	lastShare map[string]any
	lastToken string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		calls:     make(map[string]int),
		nextKey:   "key-abc",
		nextKeyID: 7,
		auth: &remote.AuthResult{
			Username:    "alice",
			Email:       "alice@example.com",
			AccessToken: "tok-alice",
			UserID:      42,
		},
	}
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) hit(op, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.lastToken = token
}

func (f *fakeRemote) IssueKey(_ context.Context, token string, userID, sessionID int64) (*remote.IssuedKey, error) {
	f.hit("issue_key", token)
	if f.onIssue != nil {
		f.onIssue()
	}
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &remote.IssuedKey{
		Key:            f.nextKey,
		KeyID:          f.nextKeyID,
		LocalSessionID: sessionID,
		UserID:         userID,
		ExpiresAt:      f.expiresAt,
		Raw:            map[string]any{"key": f.nextKey},
	}, nil
}

func (f *fakeRemote) ListKeys(_ context.Context, token string, _ int64) (any, error) {
	f.hit("list_keys", token)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []any{map[string]any{"key": f.nextKey}}, nil
}

func (f *fakeRemote) GetKey(_ context.Context, token, key string) (any, error) {
	f.hit("get_key", token)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return map[string]any{"key": key}, nil
}

func (f *fakeRemote) MarkKeyUsed(_ context.Context, token, key string, _ time.Time) (any, error) {
	f.hit("mark_key_used", token)
	if f.markErr != nil {
		return nil, f.markErr
	}
	return map[string]any{"key": key, "status": "used"}, nil
}

func (f *fakeRemote) Login(_ context.Context, _, _ string) (*remote.AuthResult, error) {
	f.hit("login", "")
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	out := *f.auth
	return &out, nil
}

func (f *fakeRemote) Register(_ context.Context, email, _, username string) (*remote.AuthResult, error) {
	f.hit("register", "")
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &remote.AuthResult{Username: username, Email: email, AccessToken: "tok-new", UserID: 43}, nil
}

func (f *fakeRemote) ShareAnalysis(_ context.Context, token string, payload map[string]any) (*remote.ShareReceipt, error) {
	f.hit("share_analysis", token)
	if f.shareErr != nil {
		return nil, f.shareErr
	}
	f.lastShare = payload
	return &remote.ShareReceipt{ReferenceID: "ref-1"}, nil
}

func (f *fakeRemote) GetAnalysisByKey(_ context.Context, token, key string) (any, error) {
	f.hit("get_analysis", token)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return map[string]any{"key": key, "private": true}, nil
}

func (f *fakeRemote) GetPublicAnalysisByKey(_ context.Context, key string) (any, error) {
	f.hit("get_public_analysis", "")
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return map[string]any{"key": key, "private": false}, nil
}

// fakeTokens accepts every non-empty token except those listed as expired.
type fakeTokens struct {
	expired map[string]bool
}

func (f fakeTokens) Check(token string) error {
	if token == "" {
		return apperror.Unauthenticated("no access token, login first")
	}
	if f.expired[token] {
		return apperror.Unauthenticated("access token expired, login again")
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// loginUser stores alice (server user 42) with the given token.
func loginUser(t *testing.T, db *sqlite.DB, token string) *model.User {
	t.Helper()
	serverID := int64(42)
	in := model.UserUpsert{Username: "alice", Email: "alice@example.com", ServerUserID: &serverID}
	if token != "" {
		in.Token = &token
	}
	u, err := db.UpsertUser(context.Background(), in)
	require.NoError(t, err)
	return u
}

func newTestKeyService(t *testing.T) (*KeyService, *sqlite.DB, *fakeRemote) {
	t.Helper()
	db := newTestStore(t)
	rem := newFakeRemote()
	svc := NewKeyService(db, db, rem, fakeTokens{}, testLogger())
	return svc, db, rem
}

var errNetwork = apperror.Transport("remote mark_key_used failed: connection refused", errors.New("connection refused"))
