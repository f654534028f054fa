package db

import (
	"time"
)

type (
	Account struct {
		ID             int64     `db:"id"`
		FirstName      string    `db:"first_name"`
		Username       string    `db:"username"`
		JoinedAt       time.Time `db:"joined_at"`
		ViolationCount int       `db:"violation_count"`
		BanPending     bool      `db:"ban_pending"`
		Banned         bool      `db:"banned"`
		IsAdmin        bool      `db:"is_admin"`
		UpdatedAt      time.Time `db:"updated_at"`
	}

	Scope struct {
		ID       int64     `db:"id"`
		Title    string    `db:"title"`
		IsActive bool      `db:"is_active"`
		JoinedAt time.Time `db:"joined_at"`
	}

	MessageRecord struct {
		ID        int64     `db:"id"`
		ScopeID   int64     `db:"scope_id"`
		AccountID int64     `db:"account_id"`
		Text      string    `db:"text"`
		CreatedAt time.Time `db:"created_at"`
		IsSpam    bool      `db:"is_spam"`
		Link      string    `db:"link"`
	}

	BadwordEntry struct {
		ID          int64     `db:"id"`
		ScopeID     int64     `db:"scope_id"`
		Term        string    `db:"term"`
		Kind        TermKind  `db:"kind"`
		SubmittedBy int64     `db:"submitted_by"`
		CreatedAt   time.Time `db:"created_at"`
	}

	VerifiedAccount struct {
		AccountID     int64     `db:"account_id"`
		VerifiedAt    time.Time `db:"verified_at"`
		FirstMsgDate  time.Time `db:"first_msg_date"`
		MessagesCount int64     `db:"messages_count"`
		ChatsCount    int64     `db:"chats_count"`
	}

	ActionPrompt struct {
		ScopeID          int64      `db:"scope_id"`
		MessageID        int        `db:"message_id"`
		TargetID         int64      `db:"target_id"`
		SubjectMessageID int        `db:"subject_message_id"`
		Kind             PromptKind `db:"kind"`
		CreatedAt        time.Time  `db:"created_at"`
		ResolvedBy       *int64     `db:"resolved_by"`
		ResolvedAt       *time.Time `db:"resolved_at"`
	}

	TermKind   string
	PromptKind string
)

const (
	TermKindLiteral TermKind = "literal"
	TermKindPattern TermKind = "pattern"
)

const (
	PromptKindSuspicious PromptKind = "suspicious"
	PromptKindPendingBan PromptKind = "pending_ban"
	PromptKindManual     PromptKind = "manual"
)

func (p *ActionPrompt) IsResolved() bool {
	return p.ResolvedAt != nil
}
