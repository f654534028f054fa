package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

func (s *sqliteClient) IncrementStats(ctx context.Context, scopeID int64, delta db.StatsDelta) error {
	if !delta.Valid() {
		return fmt.Errorf("failed to increment stats: negative delta %+v", delta)
	}
	if delta.IsZero() {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statistics (scope_id, total_messages, deleted_messages, total_users, banned_users, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET
		total_messages = total_messages + excluded.total_messages,
		deleted_messages = deleted_messages + excluded.deleted_messages,
		total_users = total_users + excluded.total_users,
		banned_users = banned_users + excluded.banned_users,
		last_updated = excluded.last_updated
	`, scopeID, delta.TotalMessages, delta.DeletedMessages, delta.TotalUsers, delta.BannedUsers, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to increment stats: %w", err)
	}
	return nil
}

func (s *sqliteClient) GetStats(ctx context.Context, scopeID int64) (*db.Statistics, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var stats db.Statistics
	err := s.db.GetContext(ctx, &stats, `
		SELECT scope_id, total_messages, deleted_messages, total_users, banned_users, last_updated
		FROM statistics WHERE scope_id = ?
	`, scopeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &db.Statistics{ScopeID: scopeID}, nil
		}
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

func (s *sqliteClient) SetAutoClean(ctx context.Context, scopeID int64, enabled bool) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `INSERT OR IGNORE INTO autoclean_scopes (scope_id) VALUES (?)`
	if !enabled {
		query = `DELETE FROM autoclean_scopes WHERE scope_id = ?`
	}
	res, err := s.db.ExecContext(ctx, query, scopeID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle autoclean: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteClient) IsAutoClean(ctx context.Context, scopeID int64) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var exists int
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM autoclean_scopes WHERE scope_id = ?)`, scopeID)
	if err != nil {
		return false, fmt.Errorf("failed to check autoclean: %w", err)
	}
	return exists == 1, nil
}

func (s *sqliteClient) ListAutoClean(ctx context.Context) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT scope_id FROM autoclean_scopes ORDER BY scope_id`); err != nil {
		return nil, fmt.Errorf("failed to list autoclean scopes: %w", err)
	}
	return ids, nil
}
