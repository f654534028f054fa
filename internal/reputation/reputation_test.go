package reputation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
)

type memoryVerifiedStore struct {
	mu      sync.Mutex
	records map[int64]*db.VerifiedAccount
	writes  int
}

func newMemoryVerifiedStore() *memoryVerifiedStore {
	return &memoryVerifiedStore{records: map[int64]*db.VerifiedAccount{}}
}

func (m *memoryVerifiedStore) GetVerifiedAccount(_ context.Context, accountID int64) (*db.VerifiedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[accountID], nil
}

func (m *memoryVerifiedStore) UpsertVerifiedAccount(_ context.Context, verified *db.VerifiedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[verified.AccountID] = verified
	m.writes++
	return nil
}

func (m *memoryVerifiedStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig(baseURL string) config.Reputation {
	return config.Reputation{
		BaseURL:       baseURL,
		Token:         "secret",
		Timeout:       2 * time.Second,
		MinAccountAge: 60 * 24 * time.Hour,
		CacheSize:     16,
	}
}

func newStatsServer(t *testing.T, status int, body string, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if r.URL.Path != "/users/42/stats_min" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestCache(baseURL string, store verifiedStore) *Cache {
	cfg := testConfig(baseURL)
	cache := NewCache(store, NewClient(cfg), cfg)
	cache.now = func() time.Time { return fixedNow }
	return cache
}

func TestVerifyOldAccountOnce(t *testing.T) {
	t.Parallel()

	first := fixedNow.Add(-90 * 24 * time.Hour).Format(dateLayout)
	srv, calls := newStatsServer(t, http.StatusOK, fmt.Sprintf(`{"first_msg_date":%q,"messages_count":120,"chats_count":4}`, first), 0)
	store := newMemoryVerifiedStore()
	cache := newTestCache(srv.URL, store)
	ctx := context.Background()

	verified, ok := cache.VerifyAccount(ctx, 42)
	if !ok {
		t.Fatalf("expected account to be verified")
	}
	if verified.MessagesCount != 120 || verified.ChatsCount != 4 {
		t.Fatalf("unexpected record: %+v", verified)
	}
	if !cache.IsVerified(ctx, 42) {
		t.Fatalf("expected cached verification")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single remote call, got %d", got)
	}

	fresh := newTestCache(srv.URL, store)
	if !fresh.IsVerified(ctx, 42) {
		t.Fatalf("expected stored verification to survive a new cache")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("stored verification must not call the service, got %d calls", got)
	}
}

func TestYoungAccountIsNotVerified(t *testing.T) {
	t.Parallel()

	first := fixedNow.Add(-10 * 24 * time.Hour).Format(dateLayout)
	srv, calls := newStatsServer(t, http.StatusOK, fmt.Sprintf(`{"first_msg_date":%q}`, first), 0)
	store := newMemoryVerifiedStore()
	cache := newTestCache(srv.URL, store)

	if cache.IsVerified(context.Background(), 42) {
		t.Fatalf("young account must not be verified")
	}
	if cache.IsVerified(context.Background(), 42) {
		t.Fatalf("young account must not be verified")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("negative answers are not cached, expected 2 calls, got %d", got)
	}
	if store.writeCount() != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestRemoteFailuresReadAsUnverified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
		{name: "not found", status: http.StatusNotFound, body: `{}`},
		{name: "malformed payload", status: http.StatusOK, body: `{"first_msg_date":`},
		{name: "missing date", status: http.StatusOK, body: `{"messages_count":3}`},
		{name: "bad date", status: http.StatusOK, body: `{"first_msg_date":"yesterday"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newStatsServer(t, tt.status, tt.body, 0)
			store := newMemoryVerifiedStore()
			cache := newTestCache(srv.URL, store)
			if cache.IsVerified(context.Background(), 42) {
				t.Fatalf("expected unverified")
			}
			if store.writeCount() != 0 {
				t.Fatalf("nothing should be persisted")
			}
		})
	}
}

func TestTimeoutReadsAsUnverified(t *testing.T) {
	t.Parallel()

	srv, _ := newStatsServer(t, http.StatusOK, `{}`, 300*time.Millisecond)
	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	cache := NewCache(newMemoryVerifiedStore(), NewClient(cfg), cfg)

	if cache.IsVerified(context.Background(), 42) {
		t.Fatalf("expected unverified on timeout")
	}
}

func TestConcurrentVerificationsCollapse(t *testing.T) {
	t.Parallel()

	first := fixedNow.Add(-400 * 24 * time.Hour).Format(dateLayout)
	srv, calls := newStatsServer(t, http.StatusOK, fmt.Sprintf(`{"first_msg_date":%q}`, first), 100*time.Millisecond)
	store := newMemoryVerifiedStore()
	cache := newTestCache(srv.URL, store)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.IsVerified(context.Background(), 42) {
				t.Errorf("expected verified")
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one remote call, got %d", got)
	}
	if store.writeCount() != 1 {
		t.Fatalf("expected one persisted record, got %d", store.writeCount())
	}
}

func TestExpiredVerificationIsRechecked(t *testing.T) {
	t.Parallel()

	first := fixedNow.Add(-400 * 24 * time.Hour).Format(dateLayout)
	srv, calls := newStatsServer(t, http.StatusOK, fmt.Sprintf(`{"first_msg_date":%q}`, first), 0)
	store := newMemoryVerifiedStore()
	store.records[42] = &db.VerifiedAccount{AccountID: 42, VerifiedAt: fixedNow.Add(-48 * time.Hour)}

	cfg := testConfig(srv.URL)
	cfg.VerifiedTTL = 24 * time.Hour
	cache := NewCache(store, NewClient(cfg), cfg)
	cache.now = func() time.Time { return fixedNow }

	if !cache.IsVerified(context.Background(), 42) {
		t.Fatalf("expected re-verification to succeed")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected stale record to be rechecked, got %d calls", got)
	}
}
