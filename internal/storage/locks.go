package storage

import (
	"sort"
	"sync"

	"fineledger/internal/domain"
)

// Scope names every aggregate a mutating operation will touch. Locks are
// acquired in the fixed global order Driver -> Offense -> Appeal -> Payment
// (ids sorted within each class) so two operations competing for overlapping
// scopes can never deadlock.
type Scope struct {
	Drivers  []domain.DriverID
	Offenses []domain.OffenseID
	Appeals  []domain.AppealID
	Payments []domain.PaymentID
}

func (s Scope) orderedKeys() []string {
	keys := make([]string, 0, len(s.Drivers)+len(s.Offenses)+len(s.Appeals)+len(s.Payments))
	keys = appendSorted(keys, "1:driver:", driverKeys(s.Drivers))
	keys = appendSorted(keys, "2:offense:", offenseKeys(s.Offenses))
	keys = appendSorted(keys, "3:appeal:", appealKeys(s.Appeals))
	keys = appendSorted(keys, "4:payment:", paymentKeys(s.Payments))
	return keys
}

func driverKeys(ids []domain.DriverID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func offenseKeys(ids []domain.OffenseID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func appealKeys(ids []domain.AppealID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func paymentKeys(ids []domain.PaymentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func appendSorted(keys []string, prefix string, ids []string) []string {
	sort.Strings(ids)
	prev := ""
	for _, id := range ids {
		if id == prev {
			continue // duplicate ids in one scope lock once
		}
		prev = id
		keys = append(keys, prefix+id)
	}
	return keys
}

// KeyedLocks hands out one mutex per entity id, created on demand and freed
// when the last holder releases.
type KeyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{entries: make(map[string]*lockEntry)}
}

// Acquire locks every key in the scope in global order and returns the
// release function. Release unlocks in reverse order.
func (k *KeyedLocks) Acquire(scope Scope) func() {
	keys := scope.orderedKeys()
	entries := make([]*lockEntry, 0, len(keys))

	for _, key := range keys {
		k.mu.Lock()
		entry := k.entries[key]
		if entry == nil {
			entry = &lockEntry{}
			k.entries[key] = entry
		}
		entry.refs++
		k.mu.Unlock()

		entry.mu.Lock()
		entries = append(entries, entry)
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		k.mu.Lock()
		for _, key := range keys {
			entry := k.entries[key]
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
		}
		k.mu.Unlock()
	}
}
