package memory

import (
	"sync"

	"github.com/sirupsen/logrus"

	"pagedb/pkg/config"
	"pagedb/pkg/dberr"
	"pagedb/pkg/logger"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
)

// PageStore is the buffer pool: the single gateway through which the file
// layer reads and writes pages on behalf of transactions. It provides
// per-page shared/exclusive locking, caches resident pages, tracks which
// pages each transaction dirtied, and applies before-images on abort.
//
// It implements page.PageFetcher, so heap and B+-tree files can be wired
// straight to it.
type PageStore struct {
	mutex        sync.RWMutex
	files        map[primitives.TableID]page.DbFile
	transactions map[int64]*transactionInfo
	cache        *PageCache
	locks        *LockManager
}

type transactionInfo struct {
	dirtyPages map[primitives.HashCode]primitives.PageID
	// pinnedPages are the pages this transaction fetched read-write; they
	// stay pinned in the cache until the transaction finishes
	pinnedPages map[primitives.HashCode]primitives.PageID
}

// NewPageStore creates a buffer pool with the configured capacity and lock
// timeout.
func NewPageStore(cfg *config.Cfg) (*PageStore, error) {
	cache, err := NewPageCache(cfg.BufferPoolPages)
	if err != nil {
		return nil, err
	}
	return &PageStore{
		files:        make(map[primitives.TableID]page.DbFile),
		transactions: make(map[int64]*transactionInfo),
		cache:        cache,
		locks:        NewLockManager(cfg.LockTimeout()),
	}, nil
}

// RegisterFile makes a database file reachable by its table id. The catalog
// calls this once per table.
func (ps *PageStore) RegisterFile(f page.DbFile) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	ps.files[f.GetID()] = f
}

// GetDbFile returns the file registered for tableID.
func (ps *PageStore) GetDbFile(tableID primitives.TableID) (page.DbFile, error) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	f, ok := ps.files[tableID]
	if !ok {
		return nil, dberr.New(dberr.DbException, "no file registered for table %d", tableID)
	}
	return f, nil
}

// GetPage fetches a page on behalf of tid with the requested permission,
// blocking until the page lock is granted. This is the main entry point for
// all page access.
func (ps *PageStore) GetPage(tid *transaction.TransactionID, pid primitives.PageID, perm page.Permissions) (page.Page, error) {
	if err := ps.locks.LockPage(tid, pid, perm == page.ReadWrite); err != nil {
		return nil, err
	}
	info := ps.trackTransaction(tid)

	p, ok := ps.cache.Get(pid)
	if !ok {
		file, err := ps.GetDbFile(pid.GetTableID())
		if err != nil {
			return nil, err
		}
		p, err = file.ReadPage(pid)
		if err != nil {
			return nil, err
		}
		ps.cache.Put(p)
	}

	if perm == page.ReadWrite {
		// a write-locked page is about to change; pin it so the mutation
		// cannot be evicted before the dirty set is recorded
		ps.cache.Pin(p)
		ps.mutex.Lock()
		info.pinnedPages[pid.HashCode()] = pid
		ps.mutex.Unlock()
	}
	return p, nil
}

// DiscardPage drops a page from the cache without writing it. Used by the
// B+-tree allocator when wiping a freed page for reuse.
func (ps *PageStore) DiscardPage(pid primitives.PageID) {
	ps.cache.Remove(pid)

	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	for _, info := range ps.transactions {
		delete(info.dirtyPages, pid.HashCode())
		delete(info.pinnedPages, pid.HashCode())
	}
}

// InsertTuple adds t to the named table within tid, marking every page the
// file layer touched as dirty for the transaction.
func (ps *PageStore) InsertTuple(tid *transaction.TransactionID, tableID primitives.TableID, t *tuple.Tuple) error {
	file, err := ps.GetDbFile(tableID)
	if err != nil {
		return err
	}

	dirtied, err := file.InsertTuple(tid, t)
	if err != nil {
		return err
	}
	ps.markPagesAsDirty(tid, dirtied)
	return nil
}

// DeleteTuple removes t from its table within tid.
func (ps *PageStore) DeleteTuple(tid *transaction.TransactionID, t *tuple.Tuple) error {
	if t == nil || t.RecordID == nil {
		return dberr.New(dberr.DbException, "tuple has no record id")
	}

	file, err := ps.GetDbFile(t.RecordID.PageID.GetTableID())
	if err != nil {
		return err
	}

	dirtied, err := file.DeleteTuple(tid, t)
	if err != nil {
		return err
	}
	ps.markPagesAsDirty(tid, dirtied)
	return nil
}

// CommitTransaction makes tid's changes durable: dirty pages are flushed,
// their before-images advanced to the committed state, and all locks
// released.
func (ps *PageStore) CommitTransaction(tid *transaction.TransactionID) error {
	if tid == nil {
		return dberr.New(dberr.IllegalArgument, "transaction id cannot be nil")
	}

	touched := ps.takeTransaction(tid)

	flushed := 0
	for _, pid := range touched {
		p, ok := ps.cache.Get(pid)
		if !ok {
			continue
		}
		if p.IsDirty() != nil {
			p.SetBeforeImage()
			if err := ps.FlushPage(pid); err != nil {
				return err
			}
			flushed++
		}
		ps.cache.Demote(pid)
	}

	ps.locks.UnlockAllPages(tid)
	logger.WithFields(logrus.Fields{"tid": tid, "pages": flushed}).Debugf("committed transaction")
	return nil
}

// takeTransaction removes tid's bookkeeping and returns every page id the
// transaction fetched read-write or dirtied.
func (ps *PageStore) takeTransaction(tid *transaction.TransactionID) []primitives.PageID {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	info, exists := ps.transactions[tid.ID()]
	if !exists {
		return nil
	}
	delete(ps.transactions, tid.ID())

	seen := make(map[primitives.HashCode]primitives.PageID, len(info.dirtyPages)+len(info.pinnedPages))
	for h, pid := range info.dirtyPages {
		seen[h] = pid
	}
	for h, pid := range info.pinnedPages {
		seen[h] = pid
	}

	touched := make([]primitives.PageID, 0, len(seen))
	for _, pid := range seen {
		touched = append(touched, pid)
	}
	return touched
}

// AbortTransaction undoes tid's changes by restoring each dirtied page to
// its before-image, then releases all locks.
func (ps *PageStore) AbortTransaction(tid *transaction.TransactionID) error {
	if tid == nil {
		return dberr.New(dberr.IllegalArgument, "transaction id cannot be nil")
	}

	touched := ps.takeTransaction(tid)

	restored := 0
	for _, pid := range touched {
		p, ok := ps.cache.Get(pid)
		if !ok {
			continue
		}
		if p.IsDirty() == nil {
			ps.cache.Demote(pid)
			continue
		}

		before := p.GetBeforeImage()
		ps.cache.Remove(pid)
		if before != nil {
			before.MarkDirty(false, nil)
			ps.cache.Put(before)
		}
		restored++
	}

	ps.locks.UnlockAllPages(tid)
	logger.WithFields(logrus.Fields{"tid": tid, "pages": restored}).Debugf("aborted transaction")
	return nil
}

// FlushPage writes a page to disk if it is dirty and unmarks it.
func (ps *PageStore) FlushPage(pid primitives.PageID) error {
	p, ok := ps.cache.Get(pid)
	if !ok {
		return nil
	}
	if p.IsDirty() == nil {
		return nil
	}

	file, err := ps.GetDbFile(pid.GetTableID())
	if err != nil {
		return err
	}
	if err := file.WritePage(p); err != nil {
		return err
	}

	p.MarkDirty(false, nil)
	ps.cache.Put(p)
	return nil
}

// FlushAllPages writes every dirty page to disk. Used by tests and shutdown.
func (ps *PageStore) FlushAllPages() error {
	for _, p := range ps.cache.PinnedPages() {
		if err := ps.FlushPage(p.GetID()); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes outstanding dirty pages and releases the cache.
func (ps *PageStore) Close() error {
	if err := ps.FlushAllPages(); err != nil {
		return err
	}
	ps.cache.Close()
	return nil
}

func (ps *PageStore) trackTransaction(tid *transaction.TransactionID) *transactionInfo {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	info, ok := ps.transactions[tid.ID()]
	if !ok {
		info = &transactionInfo{
			dirtyPages:  make(map[primitives.HashCode]primitives.PageID),
			pinnedPages: make(map[primitives.HashCode]primitives.PageID),
		}
		ps.transactions[tid.ID()] = info
	}
	return info
}

func (ps *PageStore) markPagesAsDirty(tid *transaction.TransactionID, pages []page.Page) {
	info := ps.trackTransaction(tid)

	for _, p := range pages {
		p.MarkDirty(true, tid)
		ps.cache.Put(p)
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	for _, p := range pages {
		info.dirtyPages[p.GetID().HashCode()] = p.GetID()
	}
}
