package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram/telegramtest"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

const (
	testChatID  int64 = -100300
	testAdminID int64 = 10
	testUserID  int64 = 20
	testSuperID int64 = 50
)

type staticReputation map[int64]*db.VerifiedAccount

func (r staticReputation) VerifyAccount(_ context.Context, id int64) (*db.VerifiedAccount, bool) {
	verified, ok := r[id]
	return verified, ok
}

func (r staticReputation) IsVerified(ctx context.Context, id int64) bool {
	_, ok := r.VerifyAccount(ctx, id)
	return ok
}

type adminEnv struct {
	admin     *Admin
	store     db.Client
	terms     *badwords.Store
	settings  *config.ScoringSettings
	escalator *moderation.Escalator
	platform  *telegramtest.Recorder
	envFile   string
}

func newAdminEnv(t *testing.T, reputation staticReputation) *adminEnv {
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

	envFile := filepath.Join(dir, ".env")
	settings := config.NewScoringSettings(config.DefaultScoring(), envFile)
	identities := permissions.NewIdentities([]int64{testSuperID}, nil)
	platform := telegramtest.New()
	platform.SetRole(testAdminID, telegram.RoleAdministrator)

	escalator := moderation.NewEscalator(client, reputation, identities, 3)
	actions := moderation.NewActions(platform, client, escalator, identities, config.Moderation{}, "en")
	admin := NewAdmin(platform, client, terms, settings, reputation, escalator, actions, Config{Language: "en", WordsPerPage: 2})
	return &adminEnv{
		admin:     admin,
		store:     client,
		terms:     terms,
		settings:  settings,
		escalator: escalator,
		platform:  platform,
		envFile:   envFile,
	}
}

var testChat = api.Chat{ID: testChatID, Type: "supergroup", Title: "Test chat"}

func commandUpdate(from int64, messageID int, text string) *api.Update {
	name := strings.Fields(text)[0]
	return &api.Update{Message: &api.Message{
		MessageID: messageID,
		From:      &api.User{ID: from, FirstName: "Operator"},
		Chat:      testChat,
		Text:      text,
		Entities:  []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func (e *adminEnv) run(t *testing.T, from int64, text string) telegram.Outgoing {
	t.Helper()
	before := e.platform.SentCount()
	u := commandUpdate(from, 100+before, text)
	chat := testChat
	proceed, err := e.admin.Handle(context.Background(), u, &chat, u.Message.From)
	if err != nil {
		t.Fatalf("%s: %v", text, err)
	}
	if proceed {
		t.Fatalf("%s: expected the command to be consumed", text)
	}
	sent, ok := e.platform.LastSent()
	if !ok || e.platform.SentCount() == before {
		t.Fatalf("%s: expected a reply", text)
	}
	return sent
}

func TestUnprivilegedCommandsAreRejected(t *testing.T) {
	t.Parallel()

	env := newAdminEnv(t, nil)
	for _, text := range []string{"/addword spam", "/threshold 9", "/autoclean on", "/stats", "/pending", "/promote 20"} {
		before := env.platform.SentCount()
		u := commandUpdate(testUserID, 100+before, text)
		chat := testChat
		proceed, err := env.admin.Handle(context.Background(), u, &chat, u.Message.From)
		if err != nil {
			t.Fatalf("%s: %v", text, err)
		}
		if !proceed {
			t.Fatalf("%s: a rejected command must stay in the chain for scoring", text)
		}
		sent, ok := env.platform.LastSent()
		if !ok || env.platform.SentCount() == before || sent.Text != "You are not allowed to do this" {
			t.Fatalf("%s: expected a rejection, got %q", text, sent.Text)
		}
	}
	if got := env.settings.Current().Threshold; got != config.DefaultScoring().Threshold {
		t.Fatalf("threshold changed by an unprivileged user: %v", got)
	}
	on, err := env.store.IsAutoClean(context.Background(), testChatID)
	if err != nil || on {
		t.Fatalf("autoclean changed by an unprivileged user: %v, %v", on, err)
	}
}

func TestUnknownCommandPassesThrough(t *testing.T) {
	t.Parallel()

	env := newAdminEnv(t, nil)
	u := commandUpdate(testUserID, 100, "/promo casino premium")
	chat := testChat
	proceed, err := env.admin.Handle(context.Background(), u, &chat, u.Message.From)
	if err != nil || !proceed {
		t.Fatalf("expected the update to proceed, got %v, %v", proceed, err)
	}
	if env.platform.SentCount() != 0 {
		t.Fatalf("unknown commands must not be answered")
	}
}

func TestModeratorCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)
	const otherChatID int64 = -100301

	u := commandUpdate(testAdminID, 100, "/promote 20")
	chat := testChat
	if _, err := env.admin.Handle(ctx, u, &chat, u.Message.From); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if sent, _ := env.platform.LastSent(); sent.Text != "You are not allowed to do this" {
		t.Fatalf("chat administrators must not grant moderation, got %q", sent.Text)
	}
	if sent := env.run(t, testSuperID, "/moderators"); sent.Text != "No moderators yet" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if sent := env.run(t, testSuperID, "/promote"); !strings.HasPrefix(sent.Text, "Usage: /promote") {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if sent := env.run(t, testSuperID, "/promote @nobody"); sent.Text != "Unknown account: @nobody" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if env.admin.actions.IsPrivileged(ctx, testUserID, otherChatID) {
		t.Fatalf("user is privileged before promotion")
	}

	if sent := env.run(t, testSuperID, "/promote 20"); sent.Text != "20 is now a moderator" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if !env.admin.actions.IsPrivileged(ctx, testUserID, otherChatID) {
		t.Fatalf("promoted user must be privileged in every chat")
	}
	if sent := env.run(t, testSuperID, "/moderators"); sent.Text != "Moderators:\n• 20" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}

	u = commandUpdate(testSuperID, 200, "/demote")
	u.Message.ReplyToMessage = &api.Message{MessageID: 199, From: &api.User{ID: testUserID, UserName: "someone"}}
	if proceed, err := env.admin.Handle(ctx, u, &chat, u.Message.From); err != nil || proceed {
		t.Fatalf("demote: %v, %v", proceed, err)
	}
	if sent, _ := env.platform.LastSent(); sent.Text != "@someone is no longer a moderator" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if env.admin.actions.IsPrivileged(ctx, testUserID, otherChatID) {
		t.Fatalf("demoted user is still privileged")
	}
}

func TestOpenCommandsNeedNoPrivilege(t *testing.T) {
	t.Parallel()

	env := newAdminEnv(t, nil)
	if sent := env.run(t, testUserID, "/invert ПРИВЕТ  Мир"); sent.Text != "privet mir" {
		t.Fatalf("unexpected normalized text %q", sent.Text)
	}
	if sent := env.run(t, testUserID, "/genregex"); !strings.Contains(sent.Text, "casino") {
		t.Fatalf("expected the effective alternation, got %q", sent.Text)
	}
}

func TestAddWordCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)

	if sent := env.run(t, testAdminID, "/addword Lottery"); sent.Text != "Added the term: lottery" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if sent := env.run(t, testAdminID, "/addword lottery"); sent.Text != "The term is already on the list: lottery" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if sent := env.run(t, testAdminID, "/addchatword crypto signals"); sent.Text != "Added the term: crypto signals" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}

	global, err := env.terms.ListTerms(ctx, nil)
	if err != nil {
		t.Fatalf("list global terms: %v", err)
	}
	scope := testChatID
	scoped, _, err := env.terms.Page(ctx, &scope, 0, 10)
	if err != nil {
		t.Fatalf("page scope terms: %v", err)
	}
	if len(global) != 2 || len(scoped) != 1 || scoped[0].Source != "crypto signals" {
		t.Fatalf("unexpected terms: global %+v, scoped %+v", global, scoped)
	}
}

func TestAddChatWordOpensDialog(t *testing.T) {
	t.Parallel()

	env := newAdminEnv(t, nil)
	if sent := env.run(t, testAdminID, "/addchatword"); sent.Text != "Send the term as your next message" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	state, err := env.store.GetKV(context.Background(), moderation.TermDialogKey(testChatID, testAdminID))
	if err != nil || state == "" {
		t.Fatalf("expected an open dialog, got %q, %v", state, err)
	}
}

func TestWordsPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)
	scope := testChatID
	for _, term := range []string{"alpha", "bravo", "charlie"} {
		if _, _, err := env.terms.AddTerm(ctx, &scope, term, testAdminID); err != nil {
			t.Fatalf("add term: %v", err)
		}
	}

	sent := env.run(t, testAdminID, "/words")
	if !strings.HasPrefix(sent.Text, "Terms, page 1 of 2:") || !strings.Contains(sent.Text, "2. bravo") {
		t.Fatalf("unexpected first page %q", sent.Text)
	}
	if len(sent.Buttons) != 3 || len(sent.Buttons[2]) != 1 || sent.Buttons[2][0].Data != "mod:page:1:0" {
		t.Fatalf("unexpected keyboard %+v", sent.Buttons)
	}

	sent = env.run(t, testAdminID, "/words 2")
	if !strings.Contains(sent.Text, "3. charlie") || sent.Buttons[1][0].Data != "mod:page:0:0" {
		t.Fatalf("unexpected second page %q %+v", sent.Text, sent.Buttons)
	}

	if sent := env.run(t, testAdminID, "/words zero"); sent.Text != "Page must be a positive number" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
}

func callbackUpdate(from int64, messageID int, data moderation.CallbackData) *api.Update {
	return &api.Update{CallbackQuery: &api.CallbackQuery{
		ID:      "cb",
		From:    &api.User{ID: from},
		Message: &api.Message{MessageID: messageID, Chat: testChat},
		Data:    data.String(),
	}}
}

func TestRemoveTermCallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)
	scope := testChatID
	for _, term := range []string{"alpha", "bravo", "charlie"} {
		if _, _, err := env.terms.AddTerm(ctx, &scope, term, testAdminID); err != nil {
			t.Fatalf("add term: %v", err)
		}
	}

	chat := testChat
	u := callbackUpdate(testAdminID, 500, moderation.CallbackData{Verb: moderation.VerbRemoveTerm, Target: 1, Subject: 0})
	proceed, err := env.admin.Handle(ctx, u, &chat, u.CallbackQuery.From)
	if err != nil || proceed {
		t.Fatalf("expected the callback to be consumed, got (%v, %v)", proceed, err)
	}

	cb, ok := env.platform.LastCallback()
	if !ok || cb.Text != "Removed the term: charlie" {
		t.Fatalf("unexpected callback answer %+v", cb)
	}
	if len(env.platform.Edits) != 1 || !strings.HasPrefix(env.platform.Edits[0].Text, "Terms, page 1 of 1:") {
		t.Fatalf("expected the list to fall back to the last page, got %+v", env.platform.Edits)
	}
	remaining, _, err := env.terms.Page(ctx, &scope, 0, 10)
	if err != nil || len(remaining) != 2 {
		t.Fatalf("expected two terms left, got %+v, %v", remaining, err)
	}

	u = callbackUpdate(testUserID, 500, moderation.CallbackData{Verb: moderation.VerbRemoveTerm, Target: 0, Subject: 0})
	if _, err := env.admin.Handle(ctx, u, &chat, u.CallbackQuery.From); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if cb, _ := env.platform.LastCallback(); !cb.Alert {
		t.Fatalf("expected an alert for an unprivileged requester")
	}
	if remaining, _, _ := env.terms.Page(ctx, &scope, 0, 10); len(remaining) != 2 {
		t.Fatalf("unprivileged requester removed a term")
	}

	u = callbackUpdate(testAdminID, 500, moderation.CallbackData{Verb: moderation.VerbBan, Target: testUserID, Subject: 1})
	if proceed, _ := env.admin.Handle(ctx, u, &chat, u.CallbackQuery.From); !proceed {
		t.Fatalf("moderation callbacks belong to the reactor")
	}
}

func TestThresholdCommand(t *testing.T) {
	t.Parallel()

	env := newAdminEnv(t, nil)
	if sent := env.run(t, testAdminID, "/threshold"); sent.Text != "Current threshold: 3.00" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if sent := env.run(t, testAdminID, "/threshold -1"); sent.Text != "Threshold must be a positive number" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if sent := env.run(t, testAdminID, "/threshold 4,5"); sent.Text != "Threshold set to 4.50" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
	if got := env.settings.Current().Threshold; got != 4.5 {
		t.Fatalf("expected threshold 4.5, got %v", got)
	}
	data, err := os.ReadFile(env.envFile)
	if err != nil || !strings.Contains(string(data), "4.5") {
		t.Fatalf("expected the threshold to be persisted, got %q, %v", data, err)
	}
}

func TestCheckCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, staticReputation{
		77: {AccountID: 77, FirstMsgDate: time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), MessagesCount: 40, ChatsCount: 3},
	})
	if _, err := env.store.UpsertAccount(ctx, &db.Account{ID: 77, Username: "veteran"}); err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	sent := env.run(t, testAdminID, "/check @veteran")
	if !strings.Contains(sent.Text, "first message 2020-05-01, 40 messages in 3 chats") {
		t.Fatalf("unexpected verdict %q", sent.Text)
	}
	if sent := env.run(t, testAdminID, "/check 88"); !strings.Contains(sent.Text, "Not verified") {
		t.Fatalf("unexpected verdict %q", sent.Text)
	}
	if sent := env.run(t, testAdminID, "/check @ghost"); sent.Text != "Unknown account: @ghost" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.escalator.RecordOffense(ctx, testChatID, testUserID, "spam"); err != nil {
			t.Fatalf("record offense: %v", err)
		}
	}
	sent = env.run(t, testAdminID, "/check 20")
	if len(sent.Buttons) != 1 || len(sent.Buttons[0]) != 2 {
		t.Fatalf("expected a pending-ban prompt, got %+v", sent)
	}
}

func TestAutoCleanCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)

	tests := []struct {
		text string
		want string
	}{
		{"/autoclean on", "Auto-clean enabled"},
		{"/autoclean on", "Nothing changed"},
		{"/autoclean list", "Auto-clean is enabled in:\n-100300"},
		{"/autoclean off", "Auto-clean disabled"},
		{"/autoclean list", "No chats have auto-clean enabled"},
		{"/autoclean maybe", "Usage: /autoclean on|off|list"},
	}
	for _, tt := range tests {
		if sent := env.run(t, testAdminID, tt.text); sent.Text != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.text, sent.Text, tt.want)
		}
	}
	if on, _ := env.store.IsAutoClean(ctx, testChatID); on {
		t.Fatalf("expected autoclean to be off")
	}
}

func TestManualBanPromptsAndResolves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)

	u := commandUpdate(testAdminID, 90, "/ban")
	u.Message.ReplyToMessage = &api.Message{MessageID: 80, From: &api.User{ID: testUserID, UserName: "spammer"}, Chat: testChat}
	chat := testChat
	if _, err := env.admin.Handle(ctx, u, &chat, u.Message.From); err != nil {
		t.Fatalf("handle: %v", err)
	}
	sent, ok := env.platform.LastSent()
	if !ok || sent.ReplyTo != 80 || sent.Text != "Ban @spammer?" {
		t.Fatalf("unexpected prompt %+v", sent)
	}
	if !env.platform.WasDeleted(testChatID, 90) {
		t.Fatalf("expected the command message to be deleted")
	}

	if sent := env.run(t, testAdminID, "/ban"); sent.Text != "Reply to a message to use this command" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
}

func TestPendingCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)
	if sent := env.run(t, testAdminID, "/pending"); sent.Text != "No accounts await a ban decision" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}

	for _, id := range []int64{21, 22} {
		for i := 0; i < 3; i++ {
			if _, err := env.escalator.RecordOffense(ctx, testChatID, id, "spam"); err != nil {
				t.Fatalf("record offense: %v", err)
			}
		}
	}
	before := env.platform.SentCount()
	env.run(t, testAdminID, "/pending")
	if got := env.platform.SentCount() - before; got != 2 {
		t.Fatalf("expected one prompt per pending account, got %d", got)
	}
}

func TestStatsAndSearch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)
	if err := env.store.IncrementStats(ctx, testChatID, db.StatsDelta{TotalMessages: 7, TotalUsers: 2, BannedUsers: 1}); err != nil {
		t.Fatalf("increment stats: %v", err)
	}
	if err := env.store.AddMessage(ctx, &db.MessageRecord{
		ScopeID:   testChatID,
		AccountID: testUserID,
		Text:      "cheap <casino> chips",
		Link:      "https://t.me/test/5",
	}); err != nil {
		t.Fatalf("add message: %v", err)
	}

	sent := env.run(t, testSuperID, "/stats")
	if sent.Text != "Messages: 7\nDeleted: 0\nUsers: 2\nBanned: 1" {
		t.Fatalf("unexpected report %q", sent.Text)
	}
	if sent := env.run(t, testSuperID, "/search chips"); sent.Text != "• cheap <casino> chips https://t.me/test/5" {
		t.Fatalf("unexpected search result %q", sent.Text)
	}
	if sent := env.run(t, testSuperID, "/search nothing"); sent.Text != "Nothing found" {
		t.Fatalf("unexpected reply %q", sent.Text)
	}
}

func TestMyChatMemberTracksScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newAdminEnv(t, nil)

	update := func(status string) *api.Update {
		return &api.Update{MyChatMember: &api.ChatMemberUpdated{
			Chat:          testChat,
			NewChatMember: api.ChatMember{Status: status},
		}}
	}

	for _, tt := range []struct {
		status string
		active bool
	}{
		{"administrator", true},
		{"kicked", false},
		{"member", true},
	} {
		if _, err := env.admin.Handle(ctx, update(tt.status), nil, nil); err != nil {
			t.Fatalf("%s: %v", tt.status, err)
		}
		scope, err := env.store.GetScope(ctx, testChatID)
		if err != nil || scope == nil || scope.IsActive != tt.active {
			t.Fatalf("%s: expected active=%v, got %+v, %v", tt.status, tt.active, scope, err)
		}
	}
}
