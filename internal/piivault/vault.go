// Package piivault holds raw phone numbers keyed by hash for the duration
// of one execution batch. It is the only place a raw number lives after
// ingestion; everything durable stores the hash.
package piivault

import "sync"

// Vault is an in-memory phoneHash → phone map with batch-scoped lifetime.
// Entries accumulate during ingestion and are wiped unconditionally at the
// end of every executor batch via Clear, bounding PII exposure in time.
// Safe for concurrent use.
type Vault struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New creates an empty vault.
func New() *Vault {
	return &Vault{entries: make(map[string]string)}
}

// Put stores a raw phone under its hash.
func (v *Vault) Put(phoneHash, phone string) {
	if phoneHash == "" || phone == "" {
		return
	}
	v.mu.Lock()
	v.entries[phoneHash] = phone
	v.mu.Unlock()
}

// Lookup returns the raw phone for a hash, scoped to the caller's current
// operation. Callers must not retain the value beyond the send.
func (v *Vault) Lookup(phoneHash string) (string, bool) {
	v.mu.RLock()
	phone, ok := v.entries[phoneHash]
	v.mu.RUnlock()
	return phone, ok
}

// Clear wipes every entry. Executor batches call this on all exit paths
// (defer), success or failure.
func (v *Vault) Clear() {
	v.mu.Lock()
	v.entries = make(map[string]string)
	v.mu.Unlock()
}

// Len returns the number of held entries. Observability only.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}
