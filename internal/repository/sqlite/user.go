package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, server_user_id, username, email, token, created_at`

// UpsertUser keeps the users table down to a single row.
//
// Inside one transaction it:
//  1. deletes every user whose email differs from in.Email
//  2. updates the remaining row, or inserts one if none is left
//
// A nil Token or ServerUserID keeps the stored value on update.
func (db *DB) UpsertUser(ctx context.Context, in model.UserUpsert) (*model.User, error) {
	var user *model.User

	err := withTx(ctx, db.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM users WHERE email != ?`, in.Email,
		); err != nil {
			return fmt.Errorf("sqlite: removing other users: %w", err)
		}

		var existingID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE email = ?`, in.Email,
		).Scan(&existingID)

		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx,
				`UPDATE users
				 SET username = ?,
				     token = COALESCE(?, token),
				     server_user_id = COALESCE(?, server_user_id)
				 WHERE id = ?`,
				in.Username, in.Token, in.ServerUserID, existingID,
			)
			if err != nil {
				return fmt.Errorf("sqlite: updating user %s: %w", in.Email, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			var serverID int64
			if in.ServerUserID != nil {
				serverID = *in.ServerUserID
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO users (server_user_id, username, email, token, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				serverID, in.Username, in.Email, in.Token, formatTime(db.now()),
			)
			if err != nil {
				return fmt.Errorf("sqlite: inserting user %s: %w", in.Email, err)
			}
		default:
			return fmt.Errorf("sqlite: looking up user %s: %w", in.Email, err)
		}

		u, err := scanUser(tx.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = ?`, in.Email,
		))
		if err != nil {
			return fmt.Errorf("sqlite: reading back user %s: %w", in.Email, err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetOnlyUser returns the most recently created user, or nil if there is none.
func (db *DB) GetOnlyUser(ctx context.Context) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting current user: %w", err)
	}
	return u, nil
}

// UpdateUserToken replaces the stored token; a nil token logs the user out.
func (db *DB) UpdateUserToken(ctx context.Context, email string, token *string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET token = ? WHERE email = ?`, token, email,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: updating token for %s: %w", email, err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanUser(rs rowScanner) (*model.User, error) {
	var (
		u       model.User
		token   sql.NullString
		created string
	)
	if err := rs.Scan(&u.ID, &u.ServerUserID, &u.Username, &u.Email, &token, &created); err != nil {
		return nil, err
	}
	if token.Valid {
		t := token.String
		u.Token = &t
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}
