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
)

// Outcome of RequestKey.
const (
	RequestStatusExists  = "exists"
	RequestStatusSuccess = "success"
)

// KeyRemote is the part of the remote API the key lifecycle needs.
type KeyRemote interface {
	IssueKey(ctx context.Context, token string, userID, localSessionID int64) (*remote.IssuedKey, error)
	ListKeys(ctx context.Context, token string, userID int64) (any, error)
	GetKey(ctx context.Context, token, key string) (any, error)
	MarkKeyUsed(ctx context.Context, token, key string, usedAt time.Time) (any, error)
}

// KeyRequestResult is the answer to RequestKey.
type KeyRequestResult struct {
	Status string             // RequestStatusExists or RequestStatusSuccess
	Local  *model.AnalysisKey // the stored key
	Server any                // remote issue response; nil when the key already existed
}

// KeyView is a local key plus the remote view of it, when available.
type KeyView struct {
	Local       *model.AnalysisKey
	Server      any
	ServerError *RemoteFailure
}

// KeyListView is a user's local keys plus the remote list, when available.
type KeyListView struct {
	Local       []model.AnalysisKey
	Server      any
	ServerError *RemoteFailure
}

// CreateKeyInput is a caller-supplied key stored without asking the remote.
type CreateKeyInput struct {
	Key         string
	SessionID   int64
	UserID      int64
	RemoteKeyID *int64
	AnalysisID  *int64
	ExpiresAt   *time.Time
	Metadata    model.Metadata
}

// UpdateKeyInput changes a key's status, metadata or both.
type UpdateKeyInput struct {
	Status   *model.KeyStatus
	Metadata model.Metadata
}

// KeyService runs the analysis key lifecycle.
type KeyService struct {
	users  repository.UserRepository
	keys   repository.KeyRepository
	remote KeyRemote
	tokens TokenChecker
	now    func() time.Time
	logger *slog.Logger
}

func NewKeyService(
	users repository.UserRepository,
	keys repository.KeyRepository,
	remote KeyRemote,
	tokens TokenChecker,
	logger *slog.Logger,
) *KeyService {
	return &KeyService{
		users:  users,
		keys:   keys,
		remote: remote,
		tokens: tokens,
		now:    time.Now,
		logger: logger,
	}
}

// RequestKey returns the active key for sessionID, asking the remote server
// for a new one only when none exists locally.
//
// FLOW:
//  1. load the user; no user or no usable token → ErrUnauthenticated, no HTTP call
//  2. an active, unexpired local key for (user, session) → returned as "exists"
//  3. otherwise IssueKey on the remote, then store the key locally
//  4. if a concurrent request stored one first (ErrDuplicateKey), that key
//     is returned as "exists"
func (s *KeyService) RequestKey(ctx context.Context, sessionID int64) (*KeyRequestResult, error) {
	if sessionID <= 0 {
		return nil, apperror.ValidationFailed("session_id", "session_id must be a positive integer")
	}

	sess, err := currentSession(ctx, s.users, s.tokens)
	if err != nil {
		return nil, err
	}
	userID := sess.user.ServerUserID

	existing, err := s.keys.FindActiveKey(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/key: looking up active key: %w", err)
	}
	if existing != nil {
		if !existing.Expired(s.now()) {
			metrics.KeysReused.Inc()
			return &KeyRequestResult{Status: RequestStatusExists, Local: existing}, nil
		}
		// An expired key still holds the (user, session) slot until cleanup runs.
		if _, err := s.keys.UpdateAnalysisKeyStatus(ctx, existing.Key, model.KeyInactive); err != nil {
			return nil, fmt.Errorf("service/key: retiring expired key: %w", err)
		}
		s.logger.Info("expired key retired",
			slog.String("key", existing.Key),
			slog.Int64("sessionID", sessionID),
		)
	}

	issued, err := s.remote.IssueKey(ctx, sess.token, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/key: issuing key for session %d: %w", sessionID, err)
	}

	k := &model.AnalysisKey{
		Key:       issued.Key,
		SessionID: sessionID,
		UserID:    userID,
		Status:    model.KeyActive,
		ExpiresAt: issued.ExpiresAt,
		Metadata: model.Metadata{
			"createdFrom": "request_key",
			"timestamp":   s.now().UTC().Format(time.RFC3339),
		},
	}
	if issued.KeyID != 0 {
		k.RemoteKeyID = &issued.KeyID
	}

	if err := s.keys.CreateAnalysisKey(ctx, k); err != nil {
		if !errors.Is(err, apperror.ErrDuplicateKey) {
			return nil, fmt.Errorf("service/key: storing issued key: %w", err)
		}

		winner, lookupErr := s.raceWinner(ctx, userID, sessionID, issued.Key)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner == nil {
			return nil, err
		}
		s.logger.Info("concurrent key request resolved",
			slog.Int64("sessionID", sessionID),
			slog.String("key", winner.Key),
		)
		metrics.KeysReused.Inc()
		return &KeyRequestResult{Status: RequestStatusExists, Local: winner}, nil
	}

	metrics.KeysIssued.Inc()
	s.logger.Info("analysis key issued",
		slog.Int64("sessionID", sessionID),
		slog.Int64("userID", userID),
		slog.String("key", k.Key),
	)

	return &KeyRequestResult{Status: RequestStatusSuccess, Local: k, Server: issued.Raw}, nil
}

// raceWinner finds the key that beat ours into the store. Only an active
// key counts; nil means there is no winner to hand back.
func (s *KeyService) raceWinner(ctx context.Context, userID, sessionID int64, key string) (*model.AnalysisKey, error) {
	winner, err := s.keys.FindActiveKey(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/key: re-reading active key: %w", err)
	}
	if winner != nil {
		return winner, nil
	}

	winner, err = s.keys.GetAnalysisKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("service/key: re-reading key %s: %w", key, err)
	}
	if winner == nil || winner.Status != model.KeyActive {
		return nil, nil
	}
	return winner, nil
}

// MarkUsed moves key to used. The local write always happens first and is
// never undone; the remote server is told afterwards, best effort.
func (s *KeyService) MarkUsed(ctx context.Context, key string) (*KeyView, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperror.ValidationFailed("key", "key is required")
	}

	now := s.now().UTC()
	ok, err := s.keys.TransitionAnalysisKey(ctx, key, model.KeyUsed, model.Metadata{
		"updatedFrom": "mark_used",
		"timestamp":   now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("service/key: marking %s used: %w", key, err)
	}
	if !ok {
		return nil, apperror.NotFound("analysis key", key)
	}
	metrics.KeysMarkedUsed.Inc()

	local, err := s.keys.GetAnalysisKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("service/key: reloading %s: %w", key, err)
	}
	view := &KeyView{Local: local}

	sess, err := currentSession(ctx, s.users, s.tokens)
	if err == nil {
		view.Server, err = s.remote.MarkKeyUsed(ctx, sess.token, key, now)
	}
	if err != nil {
		view.ServerError = s.mirrorFailed("mark_key_used", key, err)
	}

	return view, nil
}

func (s *KeyService) mirrorFailed(op, key string, err error) *RemoteFailure {
	metrics.RemoteMirrorFailures.WithLabelValues(op).Inc()
	s.logger.Warn("remote mirror failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	return newRemoteFailure(op, err)
}

// FetchKey returns the stored key and, best effort, the remote view of it.
func (s *KeyService) FetchKey(ctx context.Context, key string) (*KeyView, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperror.ValidationFailed("key", "key is required")
	}

	local, err := s.keys.GetAnalysisKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("service/key: fetching %s: %w", key, err)
	}
	if local == nil {
		return nil, apperror.NotFound("analysis key", key)
	}

	view := &KeyView{Local: local}
	sess, err := currentSession(ctx, s.users, s.tokens)
	if err == nil {
		view.Server, err = s.remote.GetKey(ctx, sess.token, key)
	}
	if err != nil {
		view.ServerError = newRemoteFailure("get_key", err)
	}

	return view, nil
}

// FetchKeysForUser returns the user's stored keys, newest first, and best
// effort the remote list.
func (s *KeyService) FetchKeysForUser(ctx context.Context, userID int64) (*KeyListView, error) {
	if userID <= 0 {
		return nil, apperror.ValidationFailed("user_id", "user_id must be a positive integer")
	}

	local, err := s.keys.ListAnalysisKeysByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/key: listing keys of user %d: %w", userID, err)
	}

	view := &KeyListView{Local: local}
	sess, err := currentSession(ctx, s.users, s.tokens)
	if err == nil {
		view.Server, err = s.remote.ListKeys(ctx, sess.token, userID)
	}
	if err != nil {
		view.ServerError = newRemoteFailure("list_keys", err)
	}

	return view, nil
}

// ListKeysForAnalysis returns the stored keys created for analysisID.
func (s *KeyService) ListKeysForAnalysis(ctx context.Context, analysisID int64) ([]model.AnalysisKey, error) {
	if analysisID <= 0 {
		return nil, apperror.ValidationFailed("analysis_id", "analysis_id must be a positive integer")
	}

	keys, err := s.keys.ListAnalysisKeysByAnalysis(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("service/key: listing keys of analysis %d: %w", analysisID, err)
	}
	return keys, nil
}

// DeleteKey removes key from the local store only.
func (s *KeyService) DeleteKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperror.ValidationFailed("key", "key is required")
	}

	ok, err := s.keys.DeleteAnalysisKey(ctx, key)
	if err != nil {
		return fmt.Errorf("service/key: deleting %s: %w", key, err)
	}
	if !ok {
		return apperror.NotFound("analysis key", key)
	}

	s.logger.Info("analysis key deleted", slog.String("key", key))
	return nil
}

// CreateKey stores a key the caller already holds, as active.
func (s *KeyService) CreateKey(ctx context.Context, in CreateKeyInput) (*model.AnalysisKey, error) {
	in.Key = strings.TrimSpace(in.Key)
	if in.Key == "" {
		return nil, apperror.ValidationFailed("key", "key is required")
	}
	if in.SessionID <= 0 {
		return nil, apperror.ValidationFailed("session_id", "session_id must be a positive integer")
	}
	if in.UserID <= 0 {
		return nil, apperror.ValidationFailed("user_id", "user_id must be a positive integer")
	}

	md := model.Metadata{}
	for k, v := range in.Metadata {
		md[k] = v
	}
	md["createdFrom"] = "create_key"
	md["timestamp"] = s.now().UTC().Format(time.RFC3339)

	k := &model.AnalysisKey{
		RemoteKeyID: in.RemoteKeyID,
		Key:         in.Key,
		SessionID:   in.SessionID,
		UserID:      in.UserID,
		AnalysisID:  in.AnalysisID,
		Status:      model.KeyActive,
		Metadata:    md,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := s.keys.CreateAnalysisKey(ctx, k); err != nil {
		return nil, fmt.Errorf("service/key: creating %s: %w", in.Key, err)
	}

	return k, nil
}

// UpdateKey changes status and/or metadata. Status changes follow
// model.KeyStatus.CanTransitionTo.
func (s *KeyService) UpdateKey(ctx context.Context, key string, in UpdateKeyInput) (*model.AnalysisKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperror.ValidationFailed("key", "key is required")
	}
	if in.Status == nil && in.Metadata == nil {
		return nil, apperror.ValidationFailed("status", "status or metadata is required")
	}

	var (
		ok  bool
		err error
	)
	if in.Status != nil {
		ok, err = s.keys.TransitionAnalysisKey(ctx, key, *in.Status, in.Metadata)
	} else {
		ok, err = s.keys.UpdateAnalysisKeyMetadata(ctx, key, in.Metadata)
	}
	if err != nil {
		return nil, fmt.Errorf("service/key: updating %s: %w", key, err)
	}
	if !ok {
		return nil, apperror.NotFound("analysis key", key)
	}

	updated, err := s.keys.GetAnalysisKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("service/key: reloading %s: %w", key, err)
	}
	return updated, nil
}

// CleanupExpired deletes every key whose expiry has passed.
func (s *KeyService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.keys.CleanupExpiredKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("service/key: cleaning up expired keys: %w", err)
	}

	metrics.KeysCleanedUp.Add(float64(n))
	if n > 0 {
		s.logger.Info("expired keys removed", slog.Int64("count", n))
	}
	return n, nil
}

// DeactivateForAnalysis makes every key tied to analysisID inactive.
func (s *KeyService) DeactivateForAnalysis(ctx context.Context, analysisID int64) (int64, error) {
	if analysisID <= 0 {
		return 0, apperror.ValidationFailed("analysis_id", "analysis_id must be a positive integer")
	}

	n, err := s.keys.DeactivateKeysForAnalysis(ctx, analysisID)
	if err != nil {
		return 0, fmt.Errorf("service/key: deactivating keys of analysis %d: %w", analysisID, err)
	}

	s.logger.Info("keys deactivated",
		slog.Int64("analysisID", analysisID),
		slog.Int64("count", n),
	)
	return n, nil
}
