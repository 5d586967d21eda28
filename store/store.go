// Package store is the persistence boundary. Every query is scoped by the
// tenant ID passed in by the caller.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-hotspot/cache"
	"go-hotspot/core"
)

const defaultCacheTTL = 5 * time.Minute

type Store struct {
	db    *gorm.DB
	cache cache.Cache
	ttl   time.Duration

	// set inside Transaction; cache invalidations wait for commit
	pending *invalidations
}

type invalidations struct {
	mu   sync.Mutex
	keys []string
}

func New(conn *gorm.DB, c cache.Cache) *Store {
	return &Store{db: conn, cache: c, ttl: defaultCacheTTL}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a database transaction. Calling it on a store
// that is already inside a transaction opens a savepoint.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	pending := s.pending
	outer := pending == nil
	if outer {
		pending = &invalidations{}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, cache: s.cache, ttl: s.ttl, pending: pending})
	})
	if outer {
		pending.mu.Lock()
		keys := pending.keys
		pending.mu.Unlock()
		s.dropCache(ctx, keys...)
	}
	return err
}

func (s *Store) locked() *gorm.DB {
	return s.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	if s.pending != nil {
		s.pending.mu.Lock()
		s.pending.keys = append(s.pending.keys, keys...)
		s.pending.mu.Unlock()
		return
	}
	s.dropCache(ctx, keys...)
}

func (s *Store) dropCache(ctx context.Context, keys ...string) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	// A stale entry expires with its ttl; nothing else to do on failure.
	_ = s.cache.Delete(ctx, keys...)
}

// translate maps driver errors onto the shared taxonomy.
func translate(err error, what string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.NotFoundf("%s %v", what, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.WithType(errors.Annotatef(err, "%s %v", what, id), core.ErrPersistenceConflict)
	default:
		return errors.Annotatef(err, "%s %v", what, id)
	}
}

// Filter narrows a query. Filters are shared between counting and mutating
// callers so both select the same rows.
type Filter func(*gorm.DB) *gorm.DB

func apply(q *gorm.DB, filters []Filter) *gorm.DB {
	for _, f := range filters {
		q = f(q)
	}
	return q
}
