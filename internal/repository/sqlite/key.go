package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

var _ repository.KeyRepository = (*DB)(nil)

const keyColumns = `id, key_id, key, session_id, user_id, analysis_id, status, metadata, created_at, expires_at`

// CreateAnalysisKey inserts a key. An empty Status defaults to active.
// ID and CreatedAt are filled in on success.
//
// Returns apperror.ErrDuplicateKey when the key string already exists or
// when the (user, session) pair already has an active key.
func (db *DB) CreateAnalysisKey(ctx context.Context, k *model.AnalysisKey) error {
	if k.Status == "" {
		k.Status = model.KeyActive
	}
	if !k.Status.Valid() {
		return apperror.ValidationFailed("status", fmt.Sprintf("unknown key status %q", k.Status))
	}
	k.CreatedAt = db.now().UTC().Truncate(0)

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO analysis_keys
		   (key_id, key, session_id, user_id, analysis_id, status, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.RemoteKeyID,
		k.Key,
		k.SessionID,
		k.UserID,
		k.AnalysisID,
		string(k.Status),
		k.Metadata,
		formatTime(k.CreatedAt),
		nullTime(k.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "analysis_keys.key") {
				return apperror.DuplicateKey(k.Key, err)
			}
			return &apperror.AppError{
				Err: apperror.ErrDuplicateKey,
				Message: fmt.Sprintf("session %d already has an active key for user %d",
					k.SessionID, k.UserID),
				Cause: err,
			}
		}
		return fmt.Errorf("sqlite: creating analysis key: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading analysis key id: %w", err)
	}
	k.ID = id

	return nil
}

// GetAnalysisKey returns the key or nil when it does not exist.
func (db *DB) GetAnalysisKey(ctx context.Context, key string) (*model.AnalysisKey, error) {
	return db.getKey(ctx, "key "+key,
		`SELECT `+keyColumns+` FROM analysis_keys WHERE key = ?`, key)
}

func (db *DB) GetAnalysisKeyByRemoteID(ctx context.Context, remoteID int64) (*model.AnalysisKey, error) {
	return db.getKey(ctx, "remote id "+strconv.FormatInt(remoteID, 10),
		`SELECT `+keyColumns+` FROM analysis_keys WHERE key_id = ?`, remoteID)
}

// FindActiveKey returns the active key for the (user, session) pair, if any.
func (db *DB) FindActiveKey(ctx context.Context, userID, sessionID int64) (*model.AnalysisKey, error) {
	return db.getKey(ctx, fmt.Sprintf("active key for user %d session %d", userID, sessionID),
		`SELECT `+keyColumns+` FROM analysis_keys
		 WHERE user_id = ? AND session_id = ? AND status = 'active'
		 ORDER BY id DESC LIMIT 1`,
		userID, sessionID)
}

func (db *DB) getKey(ctx context.Context, what, query string, args ...any) (*model.AnalysisKey, error) {
	k, err := scanAnalysisKey(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting analysis key (%s): %w", what, err)
	}
	return k, nil
}

// ListAnalysisKeysByUser returns the user's keys, newest first.
func (db *DB) ListAnalysisKeysByUser(ctx context.Context, userID int64) ([]model.AnalysisKey, error) {
	return db.listKeys(ctx,
		`SELECT `+keyColumns+` FROM analysis_keys
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID)
}

func (db *DB) ListAnalysisKeysByAnalysis(ctx context.Context, analysisID int64) ([]model.AnalysisKey, error) {
	return db.listKeys(ctx,
		`SELECT `+keyColumns+` FROM analysis_keys
		 WHERE analysis_id = ?
		 ORDER BY created_at DESC, id DESC`,
		analysisID)
}

func (db *DB) listKeys(ctx context.Context, query string, args ...any) ([]model.AnalysisKey, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing analysis keys: %w", err)
	}
	defer rows.Close()

	keys := make([]model.AnalysisKey, 0)
	for rows.Next() {
		k, err := scanAnalysisKey(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning analysis key row: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating analysis keys: %w", err)
	}

	return keys, nil
}

// UpdateAnalysisKeyStatus moves the key to status. It returns false when the
// key does not exist and a validation error when the move would go backwards.
func (db *DB) UpdateAnalysisKeyStatus(ctx context.Context, key string, status model.KeyStatus) (bool, error) {
	return db.TransitionAnalysisKey(ctx, key, status, nil)
}

// UpdateAnalysisKeyMetadata overwrites the key's metadata.
func (db *DB) UpdateAnalysisKeyMetadata(ctx context.Context, key string, md model.Metadata) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE analysis_keys SET metadata = ? WHERE key = ?`, md, key,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: updating metadata of %s: %w", key, err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransitionAnalysisKey changes status and, when md is non-nil, overwrites
// metadata in the same transaction. See model.KeyStatus.CanTransitionTo for
// the allowed moves.
func (db *DB) TransitionAnalysisKey(ctx context.Context, key string, status model.KeyStatus, md model.Metadata) (bool, error) {
	if !status.Valid() {
		return false, apperror.ValidationFailed("status", fmt.Sprintf("unknown key status %q", status))
	}

	found := false
	err := withTx(ctx, db.conn, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM analysis_keys WHERE key = ?`, key,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sqlite: reading status of %s: %w", key, err)
		}
		found = true

		from := model.KeyStatus(current)
		if !from.CanTransitionTo(status) {
			return apperror.InvalidTransition(key, current, string(status))
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE analysis_keys
			 SET status = ?, metadata = COALESCE(?, metadata)
			 WHERE key = ?`,
			string(status), md, key,
		); err != nil {
			return fmt.Errorf("sqlite: updating status of %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return found, nil
}

func (db *DB) DeleteAnalysisKey(ctx context.Context, key string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM analysis_keys WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting analysis key %s: %w", key, err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CleanupExpiredKeys deletes every key whose expiry lies in the past and
// returns how many were removed. Keys without an expiry are kept.
func (db *DB) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM analysis_keys
		 WHERE expires_at IS NOT NULL AND expires_at < ?`,
		formatTime(db.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: cleaning up expired keys: %w", err)
	}
	return affected(res)
}

// DeactivateKeysForAnalysis marks every key tied to analysisID inactive and
// returns how many changed.
func (db *DB) DeactivateKeysForAnalysis(ctx context.Context, analysisID int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE analysis_keys SET status = 'inactive'
		 WHERE analysis_id = ? AND status != 'inactive'`,
		analysisID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deactivating keys for analysis %d: %w", analysisID, err)
	}
	return affected(res)
}

func scanAnalysisKey(rs rowScanner) (*model.AnalysisKey, error) {
	var (
		k          model.AnalysisKey
		remoteID   sql.NullInt64
		analysisID sql.NullInt64
		status     string
		created    string
		expires    sql.NullString
	)
	if err := rs.Scan(
		&k.ID, &remoteID, &k.Key, &k.SessionID, &k.UserID, &analysisID,
		&status, &k.Metadata, &created, &expires,
	); err != nil {
		return nil, err
	}

	if remoteID.Valid {
		v := remoteID.Int64
		k.RemoteKeyID = &v
	}
	if analysisID.Valid {
		v := analysisID.Int64
		k.AnalysisID = &v
	}
	k.Status = model.KeyStatus(status)

	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	k.CreatedAt = t

	if k.ExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}

	return &k, nil
}
