// Package ledger posts matched payments exactly once: under a per-invoice
// advisory lock it transitions the invoice to PAID, appends the
// confirmation event, and writes one balanced DEBIT/CREDIT pair into the
// double-entry ledger.
package ledger

import "sync"

// KeyedLock is an in-process advisory lock keyed by invoice id. Acquisition
// is non-blocking: a concurrent request for the same invoice means the
// other request is already progressing it, so the caller fails fast rather
// than queueing.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedLock creates an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]struct{})}
}

// TryLock attempts to acquire the lock for key without blocking. Returns
// false if the key is already held.
func (l *KeyedLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.held[key]; exists {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Unlock releases the lock for key. Safe to call on an unheld key.
func (l *KeyedLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
