package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/iamwavecut/ngguard/internal/db"
)

func addWarning(t *testing.T, client *sqliteClient, accountID int64, policy db.EscalationPolicy) *db.Account {
	t.Helper()

	account, err := client.AddSpamWarning(context.Background(), &db.SpamWarning{
		AccountID: accountID,
		ScopeID:   -100,
		Text:      "spam",
	}, policy)
	if err != nil {
		t.Fatalf("add spam warning: %v", err)
	}
	return account
}

func TestAddSpamWarningEscalatesOnThirdWarning(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	policy := db.EscalationPolicy{PendingBanAfter: 3}

	for i := 1; i <= 3; i++ {
		account := addWarning(t, client, 42, policy)
		if account.ViolationCount != i {
			t.Fatalf("warning %d: unexpected count %d", i, account.ViolationCount)
		}
		if wantPending := i == 3; account.BanPending != wantPending {
			t.Fatalf("warning %d: ban pending = %v, want %v", i, account.BanPending, wantPending)
		}
	}

	pending, err := client.ListPendingBans(context.Background())
	if err != nil {
		t.Fatalf("list pending bans: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 42 {
		t.Fatalf("unexpected pending bans: %#v", pending)
	}
}

func TestAddSpamWarningExemptNeverPending(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	policy := db.EscalationPolicy{PendingBanAfter: 3, Exempt: true}

	var account *db.Account
	for i := 0; i < 5; i++ {
		account = addWarning(t, client, 7, policy)
	}
	if account.ViolationCount != 5 {
		t.Fatalf("unexpected count: %d", account.ViolationCount)
	}
	if account.BanPending {
		t.Fatalf("exempt account must not become ban pending")
	}
}

func TestAddSpamWarningConcurrentIncrementsAreNotLost(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	policy := db.EscalationPolicy{PendingBanAfter: 3}

	const offenses = 20
	var wg sync.WaitGroup
	errs := make(chan error, offenses)
	for i := 0; i < offenses; i++ {
		wg.Add(1)
		go func(scope int64) {
			defer wg.Done()
			_, err := client.AddSpamWarning(ctx, &db.SpamWarning{AccountID: 99, ScopeID: scope, Text: "x"}, policy)
			errs <- err
		}(int64(-100 - i%4))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent warning: %v", err)
		}
	}

	account, err := client.GetAccount(ctx, 99)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.ViolationCount != offenses {
		t.Fatalf("lost updates: count %d, want %d", account.ViolationCount, offenses)
	}
	if !account.BanPending {
		t.Fatalf("expected ban pending after %d offenses", offenses)
	}

	var warnings int
	if err := client.db.GetContext(ctx, &warnings, `SELECT COUNT(*) FROM spam_warnings WHERE account_id = 99`); err != nil {
		t.Fatalf("count warnings: %v", err)
	}
	if warnings != offenses {
		t.Fatalf("unexpected warnings count: %d", warnings)
	}
}

func TestConfirmBanClearsPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	policy := db.EscalationPolicy{PendingBanAfter: 3}
	for i := 0; i < 3; i++ {
		addWarning(t, client, 5, policy)
	}

	if err := client.ConfirmBan(ctx, 5); err != nil {
		t.Fatalf("confirm ban: %v", err)
	}
	account, err := client.GetAccount(ctx, 5)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !account.Banned || account.BanPending {
		t.Fatalf("unexpected state after confirm: banned=%v pending=%v", account.Banned, account.BanPending)
	}

	account = addWarning(t, client, 5, policy)
	if account.BanPending {
		t.Fatalf("banned account must not become pending again")
	}

	var unconfirmed int
	if err := client.db.GetContext(ctx, &unconfirmed, `SELECT COUNT(*) FROM spam_warnings WHERE account_id = 5 AND is_confirmed = 0`); err != nil {
		t.Fatalf("count unconfirmed: %v", err)
	}
	if unconfirmed != 1 {
		t.Fatalf("expected only the post-ban warning unconfirmed, got %d", unconfirmed)
	}
}

func TestRejectBanResetsAndReplaysTimeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	policy := db.EscalationPolicy{PendingBanAfter: 3}

	for round := 0; round < 2; round++ {
		for i := 1; i <= 3; i++ {
			account := addWarning(t, client, 11, policy)
			if account.BanPending != (i == 3) {
				t.Fatalf("round %d warning %d: pending = %v", round, i, account.BanPending)
			}
		}
		if err := client.RejectBan(ctx, 11); err != nil {
			t.Fatalf("reject ban: %v", err)
		}
		account, err := client.GetAccount(ctx, 11)
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if account.ViolationCount != 0 || account.BanPending {
			t.Fatalf("unexpected state after reject: %+v", account)
		}
	}
}

func TestListPendingBansSkipsAdmins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	policy := db.EscalationPolicy{PendingBanAfter: 1}

	addWarning(t, client, 1, policy)
	addWarning(t, client, 2, policy)
	if err := client.SetAdmin(ctx, 2, true); err != nil {
		t.Fatalf("set admin: %v", err)
	}

	pending, err := client.ListPendingBans(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 1 {
		t.Fatalf("unexpected pending: %#v", pending)
	}

	admins, err := client.ListAdminIDs(ctx)
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(admins) != 1 || admins[0] != 2 {
		t.Fatalf("unexpected admins: %v", admins)
	}
}
