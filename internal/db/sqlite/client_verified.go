package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/ngguard/internal/db"
)

func (s *sqliteClient) GetVerifiedAccount(ctx context.Context, accountID int64) (*db.VerifiedAccount, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var verified db.VerifiedAccount
	err := s.db.GetContext(ctx, &verified, `
		SELECT account_id, verified_at, first_msg_date, messages_count, chats_count
		FROM verified_accounts WHERE account_id = ?
	`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get verified account: %w", err)
	}
	return &verified, nil
}

func (s *sqliteClient) UpsertVerifiedAccount(ctx context.Context, verified *db.VerifiedAccount) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verified_accounts (account_id, verified_at, first_msg_date, messages_count, chats_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
		verified_at = excluded.verified_at,
		first_msg_date = excluded.first_msg_date,
		messages_count = excluded.messages_count,
		chats_count = excluded.chats_count
	`, verified.AccountID, verified.VerifiedAt, verified.FirstMsgDate, verified.MessagesCount, verified.ChatsCount)
	if err != nil {
		return fmt.Errorf("failed to upsert verified account: %w", err)
	}
	return nil
}
