package service

import (
	"context"
	"sync"
)

// requestLocks serializes work per request id. Distinct ids never contend.
type requestLocks struct {
	mu      sync.Mutex
	entries map[int64]*requestLock
}

type requestLock struct {
	sem  chan struct{}
	refs int
}

func newRequestLocks() *requestLocks {
	return &requestLocks{entries: make(map[int64]*requestLock)}
}

// Lock blocks until id is free or ctx is done. The returned func releases the lock.
func (l *requestLocks) Lock(ctx context.Context, id int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &requestLock{sem: make(chan struct{}, 1)}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(id, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(id, entry)
		})
	}, nil
}

func (l *requestLocks) release(id int64, entry *requestLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *requestLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
