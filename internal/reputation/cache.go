package reputation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
)

type verifiedStore interface {
	GetVerifiedAccount(ctx context.Context, accountID int64) (*db.VerifiedAccount, error)
	UpsertVerifiedAccount(ctx context.Context, verified *db.VerifiedAccount) error
}

type statsFetcher interface {
	StatsMin(ctx context.Context, accountID int64) (*Stats, error)
}

// Cache answers whether an account has a long enough message history. A
// positive answer is persisted and never asks the remote service again until
// the verified TTL, if any, runs out. Negative answers are not remembered.
type Cache struct {
	store   verifiedStore
	fetcher statsFetcher
	minAge  time.Duration
	ttl     time.Duration
	known   *expirable.LRU[int64, *db.VerifiedAccount]
	group   singleflight.Group
	now     func() time.Time
}

func NewCache(store verifiedStore, fetcher statsFetcher, cfg config.Reputation) *Cache {
	size := cfg.CacheSize
	if size <= 0 {
		size = 10000
	}
	return &Cache{
		store:   store,
		fetcher: fetcher,
		minAge:  cfg.MinAccountAge,
		ttl:     cfg.VerifiedTTL,
		known:   expirable.NewLRU[int64, *db.VerifiedAccount](size, nil, cfg.VerifiedTTL),
		now:     time.Now,
	}
}

func getLogEntry() *log.Entry {
	return log.WithField("object", "ReputationCache")
}

func (c *Cache) IsVerified(ctx context.Context, accountID int64) bool {
	_, ok := c.VerifyAccount(ctx, accountID)
	return ok
}

// VerifyAccount returns the stored verification of the account, consulting
// the remote service when there is none. Every failure reads as unverified.
func (c *Cache) VerifyAccount(ctx context.Context, accountID int64) (*db.VerifiedAccount, bool) {
	if verified, ok := c.known.Get(accountID); ok {
		return verified, true
	}

	entry := getLogEntry().WithField("account", accountID)
	stored, err := c.store.GetVerifiedAccount(ctx, accountID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to get verified account")
	} else if stored != nil && c.fresh(stored) {
		c.known.Add(accountID, stored)
		return stored, true
	}

	result, err, _ := c.group.Do(strconv.FormatInt(accountID, 10), func() (any, error) {
		return c.verifyRemote(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, errTooYoung) || errors.Is(err, ErrNoHistory) {
			entry.WithField("reason", err.Error()).Debug("account not verified")
		} else {
			entry.WithField("error", err.Error()).Warn("reputation lookup failed")
		}
		return nil, false
	}
	return result.(*db.VerifiedAccount), true
}

var errTooYoung = errors.New("account is too young")

func (c *Cache) verifyRemote(ctx context.Context, accountID int64) (*db.VerifiedAccount, error) {
	if verified, ok := c.known.Get(accountID); ok {
		return verified, nil
	}
	stats, err := c.fetcher.StatsMin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	if now.Sub(stats.FirstMsgDate) < c.minAge {
		return nil, errTooYoung
	}

	verified := &db.VerifiedAccount{
		AccountID:     accountID,
		VerifiedAt:    now,
		FirstMsgDate:  stats.FirstMsgDate,
		MessagesCount: stats.MessagesCount,
		ChatsCount:    stats.ChatsCount,
	}
	if err := c.store.UpsertVerifiedAccount(ctx, verified); err != nil {
		return nil, err
	}
	c.known.Add(accountID, verified)
	getLogEntry().WithField("account", accountID).Info("account verified")
	return verified, nil
}

func (c *Cache) fresh(verified *db.VerifiedAccount) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.now().Sub(verified.VerifiedAt) <= c.ttl
}
