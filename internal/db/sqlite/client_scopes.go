package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

func (s *sqliteClient) EnsureScope(ctx context.Context, scope *db.Scope) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	joinedAt := scope.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scopes (id, title, is_active, joined_at) VALUES (?, ?, 1, ?)
	`, scope.ID, scope.Title, joinedAt)
	if err != nil {
		return false, fmt.Errorf("failed to ensure scope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *sqliteClient) GetScope(ctx context.Context, id int64) (*db.Scope, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var scope db.Scope
	err := s.db.GetContext(ctx, &scope, `SELECT id, title, is_active, joined_at FROM scopes WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return &scope, nil
}

func (s *sqliteClient) SetScopeActive(ctx context.Context, id int64, active bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE scopes SET is_active = ? WHERE id = ?`, boolToInt(active), id); err != nil {
		return fmt.Errorf("failed to set scope activity: %w", err)
	}
	return nil
}

func (s *sqliteClient) AddMessage(ctx context.Context, msg *db.MessageRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (scope_id, account_id, text, created_at, is_spam, link)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ScopeID, msg.AccountID, msg.Text, msg.CreatedAt, boolToInt(msg.IsSpam), msg.Link)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}
	return nil
}

func (s *sqliteClient) HasMessages(ctx context.Context, scopeID, accountID int64) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var exists int
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM messages WHERE scope_id = ? AND account_id = ?)
	`, scopeID, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to check messages: %w", err)
	}
	return exists == 1, nil
}

// SearchMessages returns the newest records of the scope containing every word.
func (s *sqliteClient) SearchMessages(ctx context.Context, scopeID int64, words []string, limit int) ([]*db.MessageRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	query := `SELECT id, scope_id, account_id, text, created_at, is_spam, link FROM messages WHERE scope_id = ?`
	args := []any{scopeID}
	for _, word := range words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		query += ` AND text LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(word)+"%")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var records []*db.MessageRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return records, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
