package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram/telegramtest"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/scoring"
)

const (
	testChatID  int64 = -100200
	testBotID   int64 = 1
	testAdminID int64 = 10
	testUserID  int64 = 20

	spamText  = "ᴀ ԁ premium @seller"
	cleanText = "good morning everyone"
)

type reactorEnv struct {
	reactor   *Reactor
	store     db.Client
	terms     *badwords.Store
	escalator *moderation.Escalator
	platform  *telegramtest.Recorder
}

func newReactorEnv(t *testing.T, maxPromptLength int) *reactorEnv {
	t.Helper()
	ctx := context.Background()

	client, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, badwords.GlobalFileName), []byte("casino\n"), 0o644); err != nil {
		t.Fatalf("write global terms: %v", err)
	}
	terms, err := badwords.NewStore(client, dir, 8)
	if err != nil {
		t.Fatalf("new badword store: %v", err)
	}

	engine := scoring.NewEngine(terms, config.NewScoringSettings(config.DefaultScoring(), ""))
	identities := permissions.NewIdentities(nil, nil)
	platform := telegramtest.New()
	platform.SetRole(testAdminID, telegram.RoleAdministrator)

	escalator := moderation.NewEscalator(client, nil, identities, 3)
	actions := moderation.NewActions(platform, client, escalator, identities, config.Moderation{}, "en")
	reactor := NewReactor(platform, client, engine, terms, escalator, actions, Config{
		BotID:           testBotID,
		Language:        "en",
		MaxPromptLength: maxPromptLength,
	})
	return &reactorEnv{reactor: reactor, store: client, terms: terms, escalator: escalator, platform: platform}
}

func (e *reactorEnv) send(t *testing.T, from int64, messageID int, text string) *MessageProcessingResult {
	t.Helper()
	chat := &api.Chat{ID: testChatID, Type: "supergroup", Title: "Test chat", UserName: "testchat"}
	user := &api.User{ID: from, FirstName: "User", UserName: "user"}
	msg := &api.Message{MessageID: messageID, From: user, Chat: *chat, Text: text}

	result, err := e.reactor.handleMessage(context.Background(), msg, chat, user)
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	return result
}

func (e *reactorEnv) stats(t *testing.T) *db.Statistics {
	t.Helper()
	stats, err := e.store.GetStats(context.Background(), testChatID)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	return stats
}

func TestCleanMessageIsPersisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newReactorEnv(t, 1000)

	result := env.send(t, testUserID, 1, cleanText)
	if result.Skipped || result.Score == nil || result.Score.IsSpam() {
		t.Fatalf("unexpected result: %+v", result)
	}
	env.send(t, testUserID, 2, "casino night anyone?")

	if env.platform.SentCount() != 0 {
		t.Fatalf("clean messages must not prompt")
	}
	stats := env.stats(t)
	if stats.TotalMessages != 2 || stats.TotalUsers != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	scope, err := env.store.GetScope(ctx, testChatID)
	if err != nil || scope == nil || scope.Title != "Test chat" {
		t.Fatalf("expected scope to be ensured, got %+v, %v", scope, err)
	}
	records, err := env.store.SearchMessages(ctx, testChatID, []string{"night"}, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one stored record, got %d, %v", len(records), err)
	}
	if !strings.Contains(records[0].Text, "<casino>") {
		t.Fatalf("expected highlighted text, got %q", records[0].Text)
	}
	if records[0].Link != "https://t.me/testchat/2" {
		t.Fatalf("unexpected permalink %q", records[0].Link)
	}
}

func TestSpamMessageIsPrompted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newReactorEnv(t, 1000)

	result := env.send(t, testUserID, 5, spamText)
	if result.Action != "prompt" || result.Escalation == nil || result.Escalation.State != moderation.StateWarned {
		t.Fatalf("unexpected result: %+v", result)
	}
	sent, ok := env.platform.LastSent()
	if !ok || sent.ReplyTo != 5 || len(sent.Buttons) != 1 || len(sent.Buttons[0]) != 3 {
		t.Fatalf("expected a reply prompt with three actions, got %+v", sent)
	}

	records, err := env.store.SearchMessages(ctx, testChatID, []string{"premium"}, 10)
	if err != nil || len(records) != 1 || !records[0].IsSpam {
		t.Fatalf("expected a stored spam record, got %+v, %v", records, err)
	}
}

func TestPendingBanShortCircuits(t *testing.T) {
	t.Parallel()

	env := newReactorEnv(t, 1000)
	for i := 1; i <= 3; i++ {
		env.send(t, testUserID, i, spamText)
	}
	before := env.stats(t).TotalMessages

	result := env.send(t, testUserID, 4, cleanText)
	if !result.Skipped || result.Stage != StagePendingBan {
		t.Fatalf("expected pending-ban short circuit, got %+v", result)
	}
	sent, _ := env.platform.LastSent()
	if len(sent.Buttons) != 1 || len(sent.Buttons[0]) != 2 {
		t.Fatalf("expected confirm/reject buttons, got %+v", sent.Buttons)
	}
	if got := env.stats(t).TotalMessages; got != before {
		t.Fatalf("pending-ban messages must not be scored again, total went %d -> %d", before, got)
	}
}

func TestAutoCleanScopeDeletesWithoutPrompt(t *testing.T) {
	t.Parallel()

	env := newReactorEnv(t, 1000)
	if _, err := env.store.SetAutoClean(context.Background(), testChatID, true); err != nil {
		t.Fatalf("set autoclean: %v", err)
	}

	result := env.send(t, testUserID, 9, spamText)
	if result.Action != "autoclean" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !env.platform.WasDeleted(testChatID, 9) || env.platform.SentCount() != 0 {
		t.Fatalf("expected silent deletion")
	}
	stats := env.stats(t)
	if stats.DeletedMessages != 1 || stats.BannedUsers != 0 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestPrivilegedAuthorIsShamedAndModerated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("prompt", func(t *testing.T) {
		t.Parallel()

		env := newReactorEnv(t, 1000)
		result := env.send(t, testAdminID, 3, spamText)
		if !result.Shamed || result.Action != "prompt" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if env.platform.SentCount() != 2 {
			t.Fatalf("expected a shame notice and a prompt, sent %d", env.platform.SentCount())
		}
		shame := env.platform.Sent[0]
		if len(shame.Buttons) != 0 || !strings.Contains(shame.Text, "@user") {
			t.Fatalf("expected a plain shame notice, got %+v", shame)
		}
		if prompt, _ := env.platform.LastSent(); len(prompt.Buttons) == 0 {
			t.Fatalf("expected a prompt with buttons, got %+v", prompt)
		}
	})

	t.Run("autoclean", func(t *testing.T) {
		t.Parallel()

		env := newReactorEnv(t, 1000)
		if _, err := env.store.SetAutoClean(ctx, testChatID, true); err != nil {
			t.Fatalf("set autoclean: %v", err)
		}
		result := env.send(t, testAdminID, 3, spamText)
		if !result.Shamed || result.Action != "autoclean" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if len(env.platform.Deleted) != 1 || env.platform.RemovedCount() != 0 {
			t.Fatalf("expected the message deleted and nobody removed, deleted %v", env.platform.Deleted)
		}
	})
}

func TestSizeGuardSkipsPrompt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newReactorEnv(t, 40)
	result := env.send(t, testUserID, 3, spamText+" "+strings.Repeat("lorem ipsum ", 10))
	if result.Stage != StageSizeGuarded {
		t.Fatalf("unexpected result: %+v", result)
	}
	if env.platform.SentCount() != 0 {
		t.Fatalf("oversized spam must not be prompted")
	}
	state, err := env.escalator.State(ctx, testUserID)
	if err != nil || state.Violations != 1 {
		t.Fatalf("oversized spam still counts as an offense, got %+v, %v", state, err)
	}
}

func TestDialogConsumesTerm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newReactorEnv(t, 1000)
	if err := env.store.SetKV(ctx, moderation.TermDialogKey(testChatID, testAdminID), "open"); err != nil {
		t.Fatalf("set dialog: %v", err)
	}

	result := env.send(t, testAdminID, 4, "Lottery")
	if result.Stage != StageDialog || !result.Skipped {
		t.Fatalf("unexpected result: %+v", result)
	}
	sent, _ := env.platform.LastSent()
	if !strings.Contains(sent.Text, "lottery") {
		t.Fatalf("unexpected dialog reply %q", sent.Text)
	}

	scope := testChatID
	terms, err := env.terms.ListTerms(ctx, &scope)
	if err != nil {
		t.Fatalf("list terms: %v", err)
	}
	found := false
	for _, term := range terms {
		if term.Source == "lottery" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected term to be stored, got %+v", terms)
	}
	if state, _ := env.store.GetKV(ctx, moderation.TermDialogKey(testChatID, testAdminID)); state != "" {
		t.Fatalf("dialog state must be cleared")
	}
	if next := env.send(t, testAdminID, 5, "hello"); next.Stage == StageDialog {
		t.Fatalf("dialog must consume a single message")
	}
}

func TestSkipReasons(t *testing.T) {
	t.Parallel()

	sender := &api.User{ID: testUserID}
	tests := []struct {
		name string
		msg  *api.Message
		user *api.User
		skip bool
	}{
		{name: "regular", msg: &api.Message{From: sender}, user: sender},
		{name: "no sender", msg: &api.Message{}, user: nil, skip: true},
		{name: "bot", msg: &api.Message{From: &api.User{ID: 2, IsBot: true}}, user: &api.User{ID: 2, IsBot: true}, skip: true},
		{
			name: "linked channel",
			msg:  &api.Message{From: sender, IsAutomaticForward: true, SenderChat: &api.Chat{Type: "channel"}},
			user: sender,
			skip: true,
		},
		{name: "anonymous admin", msg: &api.Message{From: sender, SenderChat: &api.Chat{Type: "supergroup"}}, user: sender, skip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := skipReason(tt.msg, tt.user) != ""; got != tt.skip {
				t.Fatalf("skipReason() skip = %v, want %v", got, tt.skip)
			}
		})
	}
}

func TestIsLinkedChannelAutoForward(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *api.Message
		want bool
	}{
		{
			name: "auto-forward-from-channel",
			msg: &api.Message{
				IsAutomaticForward: true,
				SenderChat: &api.Chat{
					Type: "channel",
				},
			},
			want: true,
		},
		{
			name: "nil-message",
			msg:  nil,
			want: false,
		},
		{
			name: "automatic-forward-without-sender-chat",
			msg: &api.Message{
				IsAutomaticForward: true,
			},
			want: false,
		},
		{
			name: "sender-chat-is-not-channel",
			msg: &api.Message{
				IsAutomaticForward: true,
				SenderChat: &api.Chat{
					Type: "supergroup",
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := isLinkedChannelAutoForward(tt.msg)
			if got != tt.want {
				t.Fatalf("isLinkedChannelAutoForward() = %v, want %v", got, tt.want)
			}
		})
	}
}
