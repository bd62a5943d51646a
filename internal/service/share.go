package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/metrics"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/remote"
	"github.com/sakif/keybridge/internal/repository"
	"github.com/sakif/keybridge/internal/snapshot"
)

// ShareRemote is the part of the remote API that receives snapshots.
type ShareRemote interface {
	ShareAnalysis(ctx context.Context, token string, payload map[string]any) (*remote.ShareReceipt, error)
	GetAnalysisByKey(ctx context.Context, token, key string) (any, error)
	GetPublicAnalysisByKey(ctx context.Context, key string) (any, error)
}

// SnapshotBuilder assembles a session snapshot. *snapshot.Builder implements it.
type SnapshotBuilder interface {
	Build(ctx context.Context, sessionID int64, key string) (*snapshot.Snapshot, error)
}

// ShareResult is the outcome of a successful Share.
type ShareResult struct {
	Receipt  *remote.ShareReceipt
	Snapshot *snapshot.Snapshot
	Key      *KeyView // the key after it was marked used
}

// ShareService publishes session snapshots to the remote server.
type ShareService struct {
	users   repository.UserRepository
	keys    repository.KeyRepository
	host    repository.SessionDataProvider
	builder SnapshotBuilder
	remote  ShareRemote
	tokens  TokenChecker
	keySvc  *KeyService
	logger  *slog.Logger
}

func NewShareService(
	users repository.UserRepository,
	keys repository.KeyRepository,
	host repository.SessionDataProvider,
	builder SnapshotBuilder,
	remote ShareRemote,
	tokens TokenChecker,
	keySvc *KeyService,
	logger *slog.Logger,
) *ShareService {
	return &ShareService{
		users:   users,
		keys:    keys,
		host:    host,
		builder: builder,
		remote:  remote,
		tokens:  tokens,
		keySvc:  keySvc,
		logger:  logger,
	}
}

// Share uploads the snapshot of sessionID under key and then consumes the
// key.
//
// The key must exist, belong to sessionID, be active and not be past its
// expiry. Nothing is
// uploaded when the snapshot cannot be built completely. Once the remote
// accepted the upload, the key is marked used (locally first, remote best
// effort, see KeyService.MarkUsed).
func (s *ShareService) Share(ctx context.Context, sessionID int64, key string) (*ShareResult, error) {
	key = strings.TrimSpace(key)
	if sessionID <= 0 {
		return nil, apperror.ValidationFailed("session_id", "session_id must be a positive integer")
	}
	if key == "" {
		return nil, apperror.ValidationFailed("key", "key is required")
	}

	sess, err := currentSession(ctx, s.users, s.tokens)
	if err != nil {
		return nil, err
	}

	k, err := s.keys.GetAnalysisKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("service/share: loading key %s: %w", key, err)
	}
	if err := checkShareKey(k, key, sessionID, s.keySvc.now()); err != nil {
		return nil, err
	}

	snap, err := s.builder.Build(ctx, sessionID, key)
	if err != nil {
		return nil, err
	}

	receipt, err := s.remote.ShareAnalysis(ctx, sess.token, snap.Document)
	if err != nil {
		return nil, fmt.Errorf("service/share: uploading session %d: %w", sessionID, err)
	}
	metrics.SnapshotsShared.Inc()

	s.logger.Info("session shared",
		slog.Int64("sessionID", sessionID),
		slog.String("key", key),
		slog.Int("analyses", snap.AnalysisCount),
		slog.String("reference", receipt.ReferenceID),
	)

	used, err := s.keySvc.MarkUsed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("service/share: consuming key %s: %w", key, err)
	}

	return &ShareResult{Receipt: receipt, Snapshot: snap, Key: used}, nil
}

func checkShareKey(k *model.AnalysisKey, key string, sessionID int64, now time.Time) error {
	if k == nil {
		return apperror.NotFound("analysis key", key)
	}
	if k.SessionID != sessionID {
		return apperror.ValidationFailed("key",
			fmt.Sprintf("analysis key %s belongs to session %d, not %d", key, k.SessionID, sessionID))
	}
	if k.Status != model.KeyActive {
		return apperror.ValidationFailed("key",
			fmt.Sprintf("analysis key %s is %s, not active", key, k.Status))
	}
	if k.Expired(now) {
		return apperror.ValidationFailed("key",
			fmt.Sprintf("analysis key %s expired at %s", key, k.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return nil
}

// Preview builds the snapshot Share would send, without sending it.
func (s *ShareService) Preview(ctx context.Context, sessionID int64, key string) (*snapshot.Snapshot, error) {
	if sessionID <= 0 {
		return nil, apperror.ValidationFailed("session_id", "session_id must be a positive integer")
	}
	return s.builder.Build(ctx, sessionID, strings.TrimSpace(key))
}

// ListSessions returns every session recorded by the host application.
func (s *ShareService) ListSessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.host.ListAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/share: listing sessions: %w", err)
	}
	return sessions, nil
}

// LookupAnalysis fetches a shared analysis by key, with the user's token
// when one is usable and through the public endpoint otherwise.
func (s *ShareService) LookupAnalysis(ctx context.Context, key string) (any, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperror.ValidationFailed("key", "key is required")
	}

	sess, err := currentSession(ctx, s.users, s.tokens)
	if err != nil {
		if !errors.Is(err, apperror.ErrUnauthenticated) {
			return nil, err
		}
		out, err := s.remote.GetPublicAnalysisByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("service/share: public lookup of %s: %w", key, err)
		}
		return out, nil
	}

	out, err := s.remote.GetAnalysisByKey(ctx, sess.token, key)
	if err != nil {
		return nil, fmt.Errorf("service/share: lookup of %s: %w", key, err)
	}
	return out, nil
}
