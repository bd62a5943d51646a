package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

var _ repository.ServerRepository = (*DB)(nil)

func (db *DB) AddServer(ctx context.Context, srv *model.Server) error {
	srv.CreatedAt = db.now().UTC().Truncate(0)

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO servers (url, description, created_at) VALUES (?, ?, ?)`,
		srv.URL, srv.Description, formatTime(srv.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("server", srv.URL)
		}
		return fmt.Errorf("sqlite: adding server %s: %w", srv.URL, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading server id: %w", err)
	}
	srv.ID = id

	return nil
}

func (db *DB) ListServers(ctx context.Context) ([]model.Server, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, url, description, created_at FROM servers ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing servers: %w", err)
	}
	defer rows.Close()

	servers := make([]model.Server, 0)
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning server row: %w", err)
		}
		servers = append(servers, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating servers: %w", err)
	}

	return servers, nil
}

func (db *DB) GetServer(ctx context.Context, id int64) (*model.Server, error) {
	s, err := scanServer(db.conn.QueryRowContext(ctx,
		`SELECT id, url, description, created_at FROM servers WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting server %d: %w", id, err)
	}
	return s, nil
}

func (db *DB) DeleteServer(ctx context.Context, id int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting server %d: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanServer(rs rowScanner) (*model.Server, error) {
	var (
		s       model.Server
		created string
	)
	if err := rs.Scan(&s.ID, &s.URL, &s.Description, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = t
	return &s, nil
}
