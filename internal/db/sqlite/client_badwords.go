package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

func (s *sqliteClient) AddBadword(ctx context.Context, entry *db.BadwordEntry) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO badwords (scope_id, term, kind, submitted_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ScopeID, entry.Term, entry.Kind, entry.SubmittedBy, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to add badword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *sqliteClient) RemoveBadword(ctx context.Context, scopeID int64, term string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM badwords WHERE scope_id = ? AND term = ?`, scopeID, term)
	if err != nil {
		return false, fmt.Errorf("failed to remove badword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteClient) ListBadwords(ctx context.Context, scopeID int64) ([]*db.BadwordEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var entries []*db.BadwordEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, scope_id, term, kind, submitted_by, created_at
		FROM badwords WHERE scope_id = ? ORDER BY id
	`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badwords: %w", err)
	}
	return entries, nil
}
