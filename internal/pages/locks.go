package pages

import (
	"context"
	"sync"
)

// bookLocks serializes mutations per book. Waiting for a lock honors
// context cancellation.
type bookLocks struct {
	locks map[int64]chan struct{}
	mu    sync.Mutex
}

func newBookLocks() *bookLocks {
	return &bookLocks{locks: make(map[int64]chan struct{})}
}

// lock blocks until the book's lock is held or ctx is done.
func (l *bookLocks) lock(ctx context.Context, bookID int64) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[bookID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[bookID] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// forget drops the book's lock unless it is held. A caller that fetched the
// channel before the drop still acquires it and then finds the book gone.
func (l *bookLocks) forget(bookID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[bookID]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
		delete(l.locks, bookID)
		<-ch
	default:
	}
}
