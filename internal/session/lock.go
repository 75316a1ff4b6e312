package session

import (
	"context"
	"sync"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// lockTable is the in-process exclusive lock manager of spec §4.3. Each
// entry is a FIFO queue of waiter completion channels; the head of the
// queue holds the lock once signaled.
type lockTable struct {
	mu      sync.Mutex
	waiters map[contracts.SessionID][]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{waiters: make(map[contracts.SessionID][]chan struct{})}
}

// acquire blocks until id's lock is held by the caller, or ctx is done. The
// returned release function must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, id contracts.SessionID) (func(), error) {
	t.mu.Lock()
	queue, held := t.waiters[id]
	if !held {
		t.waiters[id] = []chan struct{}{}
		t.mu.Unlock()
		return func() { t.release(id) }, nil
	}

	wait := make(chan struct{})
	t.waiters[id] = append(queue, wait)
	t.mu.Unlock()

	select {
	case <-wait:
		return func() { t.release(id) }, nil
	case <-ctx.Done():
		if !t.abandon(id, wait) {
			// Lost the race: release() already popped us as the new
			// holder and closed wait. Since we're declining the lock,
			// pass it on to whoever is next rather than stranding it.
			t.release(id)
		}
		return nil, contracts.Aborted("cancelled waiting for session lock")
	}
}

// release hands the lock to the next waiter in FIFO order, or deletes the
// entry entirely if no one is waiting.
func (t *lockTable) release(id contracts.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue, ok := t.waiters[id]
	if !ok {
		return
	}
	if len(queue) == 0 {
		delete(t.waiters, id)
		return
	}
	next := queue[0]
	t.waiters[id] = queue[1:]
	close(next)
}

// abandon removes a waiter that gave up on ctx cancellation before being
// signaled, so a later release doesn't hand the lock to a channel no one
// is listening on. It reports false if wait was not found in the
// queue — meaning release() had already popped it and handed over the
// lock before the cancellation was observed.
func (t *lockTable) abandon(id contracts.SessionID, wait chan struct{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue, ok := t.waiters[id]
	if !ok {
		return false
	}
	for i, w := range queue {
		if w == wait {
			t.waiters[id] = append(queue[:i], queue[i+1:]...)
			return true
		}
	}
	return false
}

// purge drops a session's lock entry entirely, used when the session row
// itself is deleted (explicit delete or TTL sweep).
func (t *lockTable) purge(id contracts.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiters, id)
}
