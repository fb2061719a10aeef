package storage

import "sync"

// KeyLock hands out one RWMutex per key and forgets keys nobody holds
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.RWMutex
	refs int
}

// NewKeyLock creates an empty KeyLock
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

func (k *KeyLock) acquire(key string) *keyEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyLock) release(key string, e *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is exclusively held and returns the matching unlock
func (k *KeyLock) Lock(key string) func() {
	e := k.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}
}

// RLock takes key in shared mode
func (k *KeyLock) RLock(key string) func() {
	e := k.acquire(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		k.release(key, e)
	}
}

// Locks serializes merges against scoring. A merge holds its whole namespace
// because matching reads other records; scoring holds one record and shares
// the namespace with other scorers.
type Locks struct {
	namespaces *KeyLock
	records    *KeyLock
}

// NewLocks creates an empty lock table
func NewLocks() *Locks {
	return &Locks{namespaces: NewKeyLock(), records: NewKeyLock()}
}

// Namespace locks ns exclusively
func (l *Locks) Namespace(ns string) func() {
	return l.namespaces.Lock(ns)
}

// Record locks one record of ns
func (l *Locks) Record(ns, id string) func() {
	unlockNS := l.namespaces.RLock(ns)
	unlockRec := l.records.Lock(ns + "/" + id)
	return func() {
		unlockRec()
		unlockNS()
	}
}
