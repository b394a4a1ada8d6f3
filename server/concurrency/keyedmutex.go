package concurrency

import "sync"

// SimpleMutex is a mutex built on a buffered channel, so that acquiring it can be attempted without blocking.
type SimpleMutex chan struct{}

// NewSimpleMutex returns an unlocked SimpleMutex.
func NewSimpleMutex() SimpleMutex {
	return make(SimpleMutex, 1)
}

// Lock blocks until the mutex is acquired.
func (s SimpleMutex) Lock() {
	s <- struct{}{}
}

// TryLock reports whether the mutex was acquired without waiting.
func (s SimpleMutex) TryLock() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unlocked SimpleMutex blocks forever.
func (s SimpleMutex) Unlock() {
	<-s
}

type keyedLock struct {
	mu   SimpleMutex
	refs int
}

// KeyedMutex provides one mutex per key. Entries are dropped when nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for the key and returns the function which releases it.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{mu: NewSimpleMutex()}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently locked or waited for.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
