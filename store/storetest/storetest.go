// Package storetest opens throwaway sqlite-backed stores for tests.
package storetest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"

	"go-hotspot/cache"
	"go-hotspot/db"
	"go-hotspot/store"
)

var seq atomic.Int64

// Epoch is the time test clocks start at.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewClock returns a test clock set to Epoch.
func NewClock() *testclock.Clock {
	return testclock.NewClock(Epoch)
}

// New opens a migrated in-memory database bound to clk. A single connection
// is used so concurrent transactions serialise instead of failing with
// "database is locked".
func New(t testing.TB, clk clock.Clock) *store.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	conn, err := db.Open(db.Options{
		Driver:       "sqlite",
		DSN:          dsn,
		Clock:        clk,
		Silent:       true,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	return store.New(conn, cache.NewMemory(clk))
}
