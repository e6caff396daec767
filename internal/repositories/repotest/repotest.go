// Package repotest builds repository dependencies over an in-memory store
// for tests.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/auth"
	"github.com/dmitrijs2005/kehilla/internal/dispatch"
	"github.com/dmitrijs2005/kehilla/internal/docstore/memstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/mirror"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
	"github.com/dmitrijs2005/kehilla/internal/txn"
)

// Now is the fixed clock of Deps.
var Now = time.Date(2026, 4, 18, 10, 30, 0, 0, time.UTC)

// Deps returns dependencies over a fresh memstore allowing many retry
// attempts, so concurrency tests only see domain outcomes. Feed callbacks run
// inline; the registry is stopped at cleanup.
func Deps(t testing.TB, opts ...memstore.Option) (repositories.Deps, *memstore.Store) {
	t.Helper()
	store := memstore.New(append([]memstore.Option{memstore.WithMaxAttempts(1000)}, opts...)...)
	reg := feed.NewRegistry()
	t.Cleanup(func() {
		reg.StopAll()
		_ = store.Close()
	})
	d := repositories.Deps{
		Txn:      txn.New(store),
		State:    mirror.New(),
		Exec:     dispatch.Immediate{},
		Registry: reg,
		Now:      func() time.Time { return Now },
	}
	return d.WithDefaults(), store
}

// Admins is a fixed admin set that also records pledges.
type Admins struct {
	mu      sync.Mutex
	admins  map[string]bool
	pledged map[string]float64
	Err     error
}

func NewAdmins(emails ...string) *Admins {
	a := &Admins{admins: map[string]bool{}, pledged: map[string]float64{}}
	for _, e := range emails {
		a.admins[auth.NormalizeEmail(e)] = true
	}
	return a
}

func (a *Admins) IsAdmin(email string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admins[auth.NormalizeEmail(email)]
}

func (a *Admins) LookupAdmin(_ context.Context, email string) (bool, error) {
	return a.IsAdmin(email), nil
}

func (a *Admins) IncrementPledge(_ context.Context, email string, amount float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.pledged[auth.NormalizeEmail(email)] += amount
	return nil
}

// Pledged is the total recorded for email.
func (a *Admins) Pledged(email string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pledged[auth.NormalizeEmail(email)]
}

// Actor builds a principal.
func Actor(email, name string) repositories.Actor {
	return repositories.Actor{Email: email, Name: name}
}
