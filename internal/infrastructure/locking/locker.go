// Package locking provides the case-scoped mutual exclusion used by the
// transition engine. SQLite has no advisory-lock primitive, so with the store
// owned by a single process the registry lives in memory; the contract
// (fail fast on contention, release on any exit path, never held across
// restarts) matches what a store-level advisory lock would give. A fleet
// deployment swaps in a store-backed port.CaseLocker.
package locking

import (
	"sync"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
)

// CaseLockRegistry hands out per-case try-locks.
type CaseLockRegistry struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewCaseLockRegistry creates an empty registry.
func NewCaseLockRegistry() *CaseLockRegistry {
	return &CaseLockRegistry{held: make(map[int64]struct{})}
}

// TryLock acquires the lock for a case without blocking. When the case is
// already held it returns ok=false immediately; the caller translates that
// into lock contention. The release function is idempotent.
func (r *CaseLockRegistry) TryLock(caseID int64) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.held[caseID]; taken {
		return nil, false
	}
	r.held[caseID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, caseID)
			r.mu.Unlock()
		})
	}
	return release, true
}

// Verify interface compliance
var _ port.CaseLocker = (*CaseLockRegistry)(nil)
