package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

func (s *sqliteClient) CreatePrompt(ctx context.Context, prompt *db.ActionPrompt) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO action_prompts (scope_id, message_id, target_id, subject_message_id, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, prompt.ScopeID, prompt.MessageID, prompt.TargetID, prompt.SubjectMessageID, prompt.Kind, prompt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

func (s *sqliteClient) GetPrompt(ctx context.Context, scopeID int64, messageID int) (*db.ActionPrompt, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var prompt db.ActionPrompt
	err := s.db.GetContext(ctx, &prompt, `
		SELECT scope_id, message_id, target_id, subject_message_id, kind, created_at, resolved_by, resolved_at
		FROM action_prompts WHERE scope_id = ? AND message_id = ?
	`, scopeID, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return &prompt, nil
}

// ClaimPrompt marks an open prompt as resolved by the requester. Only one
// caller observes true for a given prompt.
func (s *sqliteClient) ClaimPrompt(ctx context.Context, scopeID int64, messageID int, requesterID int64, at time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE action_prompts SET resolved_by = ?, resolved_at = ?
		WHERE scope_id = ? AND message_id = ? AND resolved_at IS NULL
	`, requesterID, at.UTC(), scopeID, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to claim prompt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *sqliteClient) ReleasePrompt(ctx context.Context, scopeID int64, messageID int, requesterID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE action_prompts SET resolved_by = NULL, resolved_at = NULL
		WHERE scope_id = ? AND message_id = ? AND resolved_by = ?
	`, scopeID, messageID, requesterID)
	if err != nil {
		return fmt.Errorf("failed to release prompt: %w", err)
	}
	return nil
}
