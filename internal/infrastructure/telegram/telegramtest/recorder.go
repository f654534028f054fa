// Package telegramtest provides an in-memory telegram.Platform for tests.
package telegramtest

import (
	"context"
	"sync"

	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
)

type Callback struct {
	ID    string
	Text  string
	Alert bool
}

type Deletion struct {
	ChatID    int64
	MessageID int
}

type Forward struct {
	ToChatID   int64
	FromChatID int64
	MessageID  int
}

type Edit struct {
	ChatID    int64
	MessageID int
	Text      string
	Buttons   [][]telegram.Button
}

// Recorder records every call. Roles and errors are configured per user id.
type Recorder struct {
	mu sync.Mutex

	Roles        map[int64]telegram.Role
	RemoveErrors map[int64]error
	DeleteErr    error
	SendErr      error

	nextID    int
	Sent      []telegram.Outgoing
	Edits     []Edit
	Deleted   []Deletion
	Forwarded []Forward
	Removed   []int64
	Callbacks []Callback
}

var _ telegram.Platform = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{
		Roles:        map[int64]telegram.Role{},
		RemoveErrors: map[int64]error{},
		nextID:       1000,
	}
}

func (r *Recorder) SendText(_ context.Context, out telegram.Outgoing) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return 0, r.SendErr
	}
	r.nextID++
	r.Sent = append(r.Sent, out)
	return r.nextID, nil
}

func (r *Recorder) EditText(_ context.Context, chatID int64, messageID int, text string, buttons [][]telegram.Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Edits = append(r.Edits, Edit{ChatID: chatID, MessageID: messageID, Text: text, Buttons: buttons})
	return nil
}

func (r *Recorder) DeleteMessages(_ context.Context, chatID int64, messageIDs ...int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	for _, id := range messageIDs {
		if id != 0 {
			r.Deleted = append(r.Deleted, Deletion{ChatID: chatID, MessageID: id})
		}
	}
	return nil
}

func (r *Recorder) ForwardMessage(_ context.Context, toChatID, fromChatID int64, messageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.Forwarded = append(r.Forwarded, Forward{ToChatID: toChatID, FromChatID: fromChatID, MessageID: messageID})
	return r.nextID, nil
}

func (r *Recorder) MembershipRole(_ context.Context, _ int64, userID int64) (telegram.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.Roles[userID]; ok {
		return role, nil
	}
	return telegram.RoleMember, nil
}

func (r *Recorder) RemoveMember(_ context.Context, _ int64, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.RemoveErrors[userID]; err != nil {
		return err
	}
	r.Removed = append(r.Removed, userID)
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Callbacks = append(r.Callbacks, Callback{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (r *Recorder) SetRole(userID int64, role telegram.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Roles[userID] = role
}

// LastSent returns the most recent outgoing message, if any.
func (r *Recorder) LastSent() (telegram.Outgoing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sent) == 0 {
		return telegram.Outgoing{}, false
	}
	return r.Sent[len(r.Sent)-1], true
}

func (r *Recorder) LastCallback() (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Callbacks) == 0 {
		return Callback{}, false
	}
	return r.Callbacks[len(r.Callbacks)-1], true
}

func (r *Recorder) WasDeleted(chatID int64, messageID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.Deleted {
		if d.ChatID == chatID && d.MessageID == messageID {
			return true
		}
	}
	return false
}

func (r *Recorder) RemovedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Removed)
}

func (r *Recorder) SentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}
