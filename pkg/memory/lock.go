package memory

import (
	"sync"
	"time"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/transaction"
)

// LockManager provides per-page shared/exclusive locking keyed by
// (transaction, page). A shared lock admits any number of readers; an
// exclusive lock admits one writer. A transaction holding the only shared
// lock on a page may upgrade it. Waits are bounded: a transaction that
// cannot acquire a lock within the timeout receives TransactionAborted.
type LockManager struct {
	mutex   sync.Mutex
	cond    *sync.Cond
	locks   map[primitives.HashCode]*pageLock
	timeout time.Duration
}

type pageLock struct {
	// holders maps transaction id to whether it holds the lock exclusively
	holders map[int64]bool
}

// NewLockManager creates a lock manager with the given wait bound.
func NewLockManager(timeout time.Duration) *LockManager {
	lm := &LockManager{
		locks:   make(map[primitives.HashCode]*pageLock),
		timeout: timeout,
	}
	lm.cond = sync.NewCond(&lm.mutex)
	return lm
}

// LockPage acquires a shared (exclusive=false) or exclusive (exclusive=true)
// lock on pid for tid, blocking until granted or the timeout elapses.
func (lm *LockManager) LockPage(tid *transaction.TransactionID, pid primitives.PageID, exclusive bool) error {
	if tid == nil {
		return dberr.New(dberr.IllegalArgument, "transaction id cannot be nil")
	}

	key := pid.HashCode()
	deadline := time.Now().Add(lm.timeout)
	timer := time.AfterFunc(lm.timeout, func() {
		lm.mutex.Lock()
		lm.cond.Broadcast()
		lm.mutex.Unlock()
	})
	defer timer.Stop()

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	for {
		pl, ok := lm.locks[key]
		if !ok {
			pl = &pageLock{holders: make(map[int64]bool)}
			lm.locks[key] = pl
		}

		if pl.grantable(tid.ID(), exclusive) {
			if exclusive {
				pl.holders[tid.ID()] = true
			} else if _, held := pl.holders[tid.ID()]; !held {
				pl.holders[tid.ID()] = false
			}
			return nil
		}

		if time.Now().After(deadline) {
			if len(pl.holders) == 0 {
				delete(lm.locks, key)
			}
			return dberr.New(dberr.TransactionAborted,
				"transaction %s timed out waiting for lock on %s", tid, pid)
		}
		lm.cond.Wait()
	}
}

// grantable reports whether tid may take the lock at the requested level.
func (pl *pageLock) grantable(tid int64, exclusive bool) bool {
	if exclusive {
		if len(pl.holders) == 0 {
			return true
		}
		// upgrade: sole holder may go exclusive
		_, held := pl.holders[tid]
		return held && len(pl.holders) == 1
	}

	for holder, isExclusive := range pl.holders {
		if isExclusive && holder != tid {
			return false
		}
	}
	return true
}

// UnlockPage releases tid's lock on pid, if any.
func (lm *LockManager) UnlockPage(tid *transaction.TransactionID, pid primitives.PageID) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	key := pid.HashCode()
	if pl, ok := lm.locks[key]; ok {
		delete(pl.holders, tid.ID())
		if len(pl.holders) == 0 {
			delete(lm.locks, key)
		}
	}
	lm.cond.Broadcast()
}

// UnlockAllPages releases every lock held by tid.
func (lm *LockManager) UnlockAllPages(tid *transaction.TransactionID) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	for key, pl := range lm.locks {
		delete(pl.holders, tid.ID())
		if len(pl.holders) == 0 {
			delete(lm.locks, key)
		}
	}
	lm.cond.Broadcast()
}

// HoldsLock reports whether tid holds a lock on pid, and whether it is
// exclusive.
func (lm *LockManager) HoldsLock(tid *transaction.TransactionID, pid primitives.PageID) (held, exclusive bool) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if pl, ok := lm.locks[pid.HashCode()]; ok {
		exclusive, held = pl.holders[tid.ID()]
		return held, exclusive
	}
	return false, false
}

// IsPageLocked reports whether any transaction holds a lock on pid.
func (lm *LockManager) IsPageLocked(pid primitives.PageID) bool {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	pl, ok := lm.locks[pid.HashCode()]
	return ok && len(pl.holders) > 0
}
