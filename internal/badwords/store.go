package badwords

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/resources"
)

const (
	GlobalFileName = "badwords.txt"

	globalKey int64 = 0
)

type termStore interface {
	AddBadword(ctx context.Context, entry *db.BadwordEntry) (bool, error)
	RemoveBadword(ctx context.Context, scopeID int64, term string) (bool, error)
	ListBadwords(ctx context.Context, scopeID int64) ([]*db.BadwordEntry, error)
}

// Store owns the global term file and the per-scope terms kept in the database.
type Store struct {
	store    termStore
	path     string
	globalMu sync.RWMutex
	global   []Term
	matchers *lru.Cache[int64, *Matcher]
	version  atomic.Uint64
	logger   *log.Entry
}

// NewStore loads the global list from dir, seeding it from the embedded
// default list when the file does not exist yet.
func NewStore(store termStore, dir string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	matchers, err := lru.New[int64, *Matcher](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher cache: %w", err)
	}

	s := &Store{
		store:    store,
		path:     filepath.Join(dir, GlobalFileName),
		matchers: matchers,
		logger:   log.WithField("object", "BadwordStore"),
	}
	if err := s.seed(); err != nil {
		return nil, err
	}
	if err := s.loadGlobal(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) seed() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat global terms: %w", err)
	}

	defaults, err := resources.FS.ReadFile(GlobalFileName)
	if err != nil {
		return fmt.Errorf("failed to read default terms: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create terms dir: %w", err)
	}
	if err := os.WriteFile(s.path, defaults, 0o644); err != nil {
		return fmt.Errorf("failed to seed global terms: %w", err)
	}
	s.logger.WithField("path", s.path).Info("seeded global terms")
	return nil
}

func (s *Store) loadGlobal() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read global terms: %w", err)
	}

	var terms []Term
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		term, err := ParseTerm(scanner.Text())
		if err != nil {
			continue
		}
		terms = append(terms, term)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan global terms: %w", err)
	}

	s.globalMu.Lock()
	s.global = uniqueTerms(terms)
	s.globalMu.Unlock()
	s.invalidate(nil)
	return nil
}

// ListTerms returns the global terms together with the terms of scope, if any.
func (s *Store) ListTerms(ctx context.Context, scope *int64) ([]Term, error) {
	s.globalMu.RLock()
	terms := append([]Term(nil), s.global...)
	s.globalMu.RUnlock()

	if scope == nil {
		return terms, nil
	}
	own, err := s.scopeTerms(ctx, *scope)
	if err != nil {
		return nil, err
	}
	return uniqueTerms(append(terms, own...)), nil
}

func (s *Store) scopeTerms(ctx context.Context, scopeID int64) ([]Term, error) {
	entries, err := s.store.ListBadwords(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scope terms: %w", err)
	}
	return lo.Map(entries, func(entry *db.BadwordEntry, _ int) Term {
		return fromEntry(entry)
	}), nil
}

// AddTerm stores raw as a new term. A nil scope targets the global list.
// The returned flag is false when the term was already present.
func (s *Store) AddTerm(ctx context.Context, scope *int64, raw string, submittedBy int64) (Term, bool, error) {
	term, err := ParseTerm(raw)
	if err != nil {
		return Term{}, false, err
	}
	entry := s.logger.WithField("method", "AddTerm").WithField("term", term.Source).WithField("kind", term.Kind)

	if scope == nil {
		added, err := s.appendGlobal(term)
		if err != nil {
			entry.WithField("error", err.Error()).Error("failed to add global term")
			return Term{}, false, err
		}
		if added {
			s.invalidate(nil)
			entry.Info("global term added")
		}
		return term, added, nil
	}

	added, err := s.store.AddBadword(ctx, &db.BadwordEntry{
		ScopeID:     *scope,
		Term:        term.Source,
		Kind:        term.Kind,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to add scope term")
		return Term{}, false, err
	}
	if added {
		s.invalidate(scope)
		entry.WithField("scope", *scope).Info("scope term added")
	}
	return term, added, nil
}

func (s *Store) appendGlobal(term Term) (bool, error) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	if lo.ContainsBy(s.global, func(t Term) bool { return t.Source == term.Source }) {
		return false, nil
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open global terms: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + term.Source); err != nil {
		return false, fmt.Errorf("failed to append global term: %w", err)
	}
	s.global = append(s.global, term)
	return true, nil
}

// RemoveTerm deletes the term with the given source from the list of scope
// or from the global list when scope is nil. The source is accepted both as
// stored and as raw input.
func (s *Store) RemoveTerm(ctx context.Context, scope *int64, source string) (bool, error) {
	parsed, err := ParseTerm(source)
	if err != nil {
		return false, err
	}
	sources := lo.Uniq([]string{strings.Join(strings.Fields(source), " "), parsed.Source})

	if scope != nil {
		for _, candidate := range sources {
			removed, err := s.store.RemoveBadword(ctx, *scope, candidate)
			if err != nil {
				return false, fmt.Errorf("failed to remove scope term: %w", err)
			}
			if removed {
				s.invalidate(scope)
				return true, nil
			}
		}
		return false, nil
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	kept := lo.Reject(s.global, func(t Term, _ int) bool { return lo.Contains(sources, t.Source) })
	if len(kept) == len(s.global) {
		return false, nil
	}
	lines := lo.Map(kept, func(t Term, _ int) string { return t.Source })
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("failed to write global terms: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return false, fmt.Errorf("failed to replace global terms: %w", err)
	}
	s.global = kept
	s.invalidate(nil)
	return true, nil
}

// Page returns one page of the terms owned by scope (the global list for nil)
// sorted by source, and the total number of pages. Pages are zero-based.
func (s *Store) Page(ctx context.Context, scope *int64, page, perPage int) ([]Term, int, error) {
	if perPage <= 0 {
		perPage = 5
	}

	var terms []Term
	if scope == nil {
		s.globalMu.RLock()
		terms = append(terms, s.global...)
		s.globalMu.RUnlock()
	} else {
		own, err := s.scopeTerms(ctx, *scope)
		if err != nil {
			return nil, 0, err
		}
		terms = own
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Source < terms[j].Source })

	pages := lo.Chunk(terms, perPage)
	if page < 0 || page >= len(pages) {
		return nil, len(pages), nil
	}
	return pages[page], len(pages), nil
}

// Matcher returns the compiled alternation of the effective terms of scope.
func (s *Store) Matcher(ctx context.Context, scope *int64) (*Matcher, error) {
	key := globalKey
	if scope != nil {
		key = *scope
	}
	if m, ok := s.matchers.Get(key); ok {
		return m, nil
	}
	version := s.version.Load()

	terms, err := s.ListTerms(ctx, scope)
	if err != nil {
		return nil, err
	}
	m, err := newMatcher(terms)
	if err != nil {
		return nil, fmt.Errorf("failed to compile matcher: %w", err)
	}
	// a write that raced with the build leaves the cache cold
	if s.version.Load() == version {
		s.matchers.Add(key, m)
	}
	return m, nil
}

func (s *Store) invalidate(scope *int64) {
	s.version.Add(1)
	if scope == nil {
		s.matchers.Purge()
		return
	}
	s.matchers.Remove(*scope)
}

func uniqueTerms(terms []Term) []Term {
	return lo.UniqBy(terms, func(t Term) string { return t.Source })
}
