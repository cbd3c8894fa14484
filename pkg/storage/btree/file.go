package btree

import (
	"github.com/sirupsen/logrus"

	"pagedb/pkg/dberr"
	"pagedb/pkg/logger"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
	"pagedb/pkg/types"
)

// btreePage is the surface shared by leaf and internal pages: the tree
// mutation algorithms re-parent both kinds through it.
type btreePage interface {
	page.Page
	BTreeID() *BTreePageID
	GetParentID() *BTreePageID
	SetParentID(*BTreePageID) error
}

// dirtyMap is the per-operation local cache of pages fetched read-write.
// Re-references within one mutation hit this map instead of the buffer pool,
// so a structural change in progress is never re-read half-applied. Each
// mutation carries its own map; it is never shared across operations.
type dirtyMap map[primitives.HashCode]page.Page

func (d dirtyMap) put(p page.Page) {
	d[p.GetID().HashCode()] = p
}

func (d dirtyMap) remove(pid primitives.PageID) {
	delete(d, pid.HashCode())
}

func (d dirtyMap) pages() []page.Page {
	out := make([]page.Page, 0, len(d))
	for _, p := range d {
		out = append(out, p)
	}
	return out
}

// BTreeFile is a DbFile storing a B+-tree: a root-pointer page, a set of
// internal and leaf pages holding tuples sorted on the key field, and a
// chain of header pages tracking freed pages. On disk the root-pointer page
// occupies the first RootPtrPageSize bytes; page n (n >= 1) lives at offset
// RootPtrPageSize + (n-1)*page.PageSize.
type BTreeFile struct {
	*page.BaseFile
	tupleDesc *tuple.TupleDescription
	keyField  int
	pool      page.PageFetcher
}

// NewBTreeFile opens (creating if necessary) a B+-tree file keyed on field
// keyField of td.
func NewBTreeFile(filename primitives.Filepath, keyField int, td *tuple.TupleDescription, pool page.PageFetcher) (*BTreeFile, error) {
	if keyField < 0 || keyField >= td.NumFields() {
		return nil, dberr.New(dberr.IllegalArgument, "key field %d out of bounds", keyField)
	}

	baseFile, err := page.NewBaseFile(filename)
	if err != nil {
		return nil, err
	}

	return &BTreeFile{
		BaseFile:  baseFile,
		tupleDesc: td,
		keyField:  keyField,
		pool:      pool,
	}, nil
}

// GetTupleDesc returns the schema of tuples stored in this file.
func (f *BTreeFile) GetTupleDesc() *tuple.TupleDescription {
	return f.tupleDesc
}

// KeyField returns the index of the field the tree is keyed on.
func (f *BTreeFile) KeyField() int {
	return f.keyField
}

// NumPages returns the number of uniform pages in the file, excluding the
// root-pointer page.
func (f *BTreeFile) NumPages() (primitives.PageNumber, error) {
	size, err := f.Size()
	if err != nil {
		return 0, err
	}
	if size < RootPtrPageSize {
		return 0, nil
	}
	return primitives.PageNumber((size - RootPtrPageSize) / int64(page.PageSize)), nil
}

// pageOffset returns the byte offset of a uniform page.
func pageOffset(pageNo primitives.PageNumber) int64 {
	return RootPtrPageSize + (int64(pageNo)-1)*int64(page.PageSize)
}

// ReadPage reads the named page from disk, decoding it according to its
// category. Called by the buffer pool on a cache miss.
func (f *BTreeFile) ReadPage(pid primitives.PageID) (page.Page, error) {
	btreePid, ok := pid.(*BTreePageID)
	if !ok {
		return nil, dberr.New(dberr.IllegalArgument, "invalid page id type for B+-tree file")
	}
	if btreePid.GetTableID() != f.GetID() {
		return nil, dberr.New(dberr.IllegalArgument, "page id table mismatch")
	}

	if btreePid.Category() == RootPtr {
		data, err := f.ReadRegion(0, RootPtrPageSize)
		if err != nil {
			return nil, err
		}
		return NewBTreeRootPtrPage(btreePid, data)
	}

	data, err := f.ReadRegion(pageOffset(btreePid.PageNo()), page.PageSize)
	if err != nil {
		return nil, err
	}

	switch btreePid.Category() {
	case Internal:
		keyType, _ := f.tupleDesc.TypeAtIndex(f.keyField)
		return NewBTreeInternalPage(btreePid, data, keyType)
	case Leaf:
		return NewBTreeLeafPage(btreePid, data, f.tupleDesc, f.keyField)
	case Header:
		return NewBTreeHeaderPage(btreePid, data)
	default:
		return nil, dberr.New(dberr.IllegalArgument, "unknown page category %d", btreePid.Category())
	}
}

// WritePage writes a whole page at its offset in the file.
func (f *BTreeFile) WritePage(p page.Page) error {
	if p == nil {
		return dberr.New(dberr.IllegalArgument, "page cannot be nil")
	}
	btreePid, ok := p.GetID().(*BTreePageID)
	if !ok {
		return dberr.New(dberr.IllegalArgument, "invalid page id type for B+-tree file")
	}

	if btreePid.Category() == RootPtr {
		return f.WriteRegion(0, p.GetPageData())
	}
	return f.WriteRegion(pageOffset(btreePid.PageNo()), p.GetPageData())
}

// getPage locks and fetches a page, consulting the operation's local dirty
// map first. Pages fetched read-write are recorded in the dirty map since
// the mutation is about to change them.
func (f *BTreeFile) getPage(tid *transaction.TransactionID, dirty dirtyMap, pid *BTreePageID, perm page.Permissions) (page.Page, error) {
	if p, ok := dirty[pid.HashCode()]; ok {
		return p, nil
	}

	p, err := f.pool.GetPage(tid, pid, perm)
	if err != nil {
		return nil, err
	}
	if perm == page.ReadWrite {
		dirty.put(p)
	}
	return p, nil
}

// getLeafPage fetches a page known to be a leaf.
func (f *BTreeFile) getLeafPage(tid *transaction.TransactionID, dirty dirtyMap, pid *BTreePageID, perm page.Permissions) (*BTreeLeafPage, error) {
	p, err := f.getPage(tid, dirty, pid, perm)
	if err != nil {
		return nil, err
	}
	leaf, ok := p.(*BTreeLeafPage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page %s is not a leaf page", pid)
	}
	return leaf, nil
}

// getInternalPage fetches a page known to be internal.
func (f *BTreeFile) getInternalPage(tid *transaction.TransactionID, dirty dirtyMap, pid *BTreePageID, perm page.Permissions) (*BTreeInternalPage, error) {
	p, err := f.getPage(tid, dirty, pid, perm)
	if err != nil {
		return nil, err
	}
	internal, ok := p.(*BTreeInternalPage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page %s is not an internal page", pid)
	}
	return internal, nil
}

// getBTreePage fetches a page known to be a leaf or internal page.
func (f *BTreeFile) getBTreePage(tid *transaction.TransactionID, dirty dirtyMap, pid *BTreePageID, perm page.Permissions) (btreePage, error) {
	p, err := f.getPage(tid, dirty, pid, perm)
	if err != nil {
		return nil, err
	}
	bp, ok := p.(btreePage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page %s is not a tree page", pid)
	}
	return bp, nil
}

// getRootPtrPage returns the root-pointer page under a read lock, laying
// down the initial file structure (empty root pointer plus one empty leaf)
// if the file is still empty. The initial write happens atomically under the
// file handle's lock, so two racing transactions cannot both extend the file.
func (f *BTreeFile) getRootPtrPage(tid *transaction.TransactionID, dirty dirtyMap) (*BTreeRootPtrPage, error) {
	initial := make([]byte, RootPtrPageSize+page.PageSize)
	wrote, err := f.AppendIfEmpty(initial)
	if err != nil {
		return nil, err
	}
	if wrote {
		logger.WithFields(logrus.Fields{"table": f.GetID()}).Debugf("initialized empty B+-tree file")
	}

	p, err := f.getPage(tid, dirty, RootPtrPageID(f.GetID()), page.ReadOnly)
	if err != nil {
		return nil, err
	}
	rootPtr, ok := p.(*BTreeRootPtrPage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page 0 is not the root pointer page")
	}
	return rootPtr, nil
}

// findLeafPage descends from pid to the left-most leaf that may contain key,
// locking interior pages read-only and the leaf itself with perm. A nil key
// descends the left-most path (used by the forward scan iterator).
func (f *BTreeFile) findLeafPage(tid *transaction.TransactionID, dirty dirtyMap, pid *BTreePageID, perm page.Permissions, key types.Field) (*BTreeLeafPage, error) {
	if pid.Category() == Leaf {
		return f.getLeafPage(tid, dirty, pid, perm)
	}

	internal, err := f.getInternalPage(tid, dirty, pid, page.ReadOnly)
	if err != nil {
		return nil, err
	}

	it := internal.Iterator()
	if !it.HasNext() {
		return nil, dberr.New(dberr.DbException, "internal page %s has no entries", pid)
	}
	entry, err := it.Next()
	if err != nil {
		return nil, err
	}

	var next *BTreePageID
	if key == nil {
		next = entry.GetLeftChild()
	} else {
		// walk right until an entry key >= search key appears
		for {
			gt, err := key.Compare(primitives.GreaterThan, entry.GetKey())
			if err != nil {
				return nil, err
			}
			if !gt || !it.HasNext() {
				break
			}
			entry, err = it.Next()
			if err != nil {
				return nil, err
			}
		}

		le, err := key.Compare(primitives.LessThanOrEqual, entry.GetKey())
		if err != nil {
			return nil, err
		}
		if le {
			next = entry.GetLeftChild()
		} else {
			next = entry.GetRightChild()
		}
	}

	return f.findLeafPage(tid, dirty, next, perm, key)
}

// FindLeafPage is the dirty-map-free entry point used by iterators.
func (f *BTreeFile) FindLeafPage(tid *transaction.TransactionID, pid *BTreePageID, perm page.Permissions, key types.Field) (*BTreeLeafPage, error) {
	return f.findLeafPage(tid, dirtyMap{}, pid, perm, key)
}

// InsertTuple adds t keeping tuples sorted on the key field, splitting the
// target leaf (and, recursively, its ancestors) when full. Returns every
// page dirtied by the operation.
func (f *BTreeFile) InsertTuple(tid *transaction.TransactionID, t *tuple.Tuple) ([]page.Page, error) {
	dirty := dirtyMap{}

	rootPtr, err := f.getRootPtrPage(tid, dirty)
	if err != nil {
		return nil, err
	}
	rootID := rootPtr.GetRootID()

	if rootID == nil {
		// the file was just initialized: adopt the pre-written empty leaf
		numPages, err := f.NumPages()
		if err != nil {
			return nil, err
		}
		rootID = NewBTreePageID(f.GetID(), numPages, Leaf)

		rp, err := f.getPage(tid, dirty, RootPtrPageID(f.GetID()), page.ReadWrite)
		if err != nil {
			return nil, err
		}
		rootPtr = rp.(*BTreeRootPtrPage)
		if err := rootPtr.SetRootID(rootID); err != nil {
			return nil, err
		}
		rootPtr.MarkDirty(true, tid)
	}

	key, err := t.GetField(f.keyField)
	if err != nil {
		return nil, err
	}

	leaf, err := f.findLeafPage(tid, dirty, rootID, page.ReadWrite, key)
	if err != nil {
		return nil, err
	}
	if leaf.GetNumEmptySlots() == 0 {
		leaf, err = f.splitLeafPage(tid, dirty, leaf, key)
		if err != nil {
			return nil, err
		}
	}

	if err := leaf.InsertTuple(t); err != nil {
		return nil, err
	}
	leaf.MarkDirty(true, tid)
	return dirty.pages(), nil
}

// Iterator returns a restartable iterator over every tuple in key order.
func (f *BTreeFile) Iterator(tid *transaction.TransactionID) page.DbFileIterator {
	return NewBTreeFileIterator(f, tid)
}

// IndexIterator returns an iterator over the tuples matching ipred, using
// the tree order to skip non-candidates where the operator allows.
func (f *BTreeFile) IndexIterator(tid *transaction.TransactionID, ipred IndexPredicate) page.DbFileIterator {
	return NewBTreeSearchIterator(f, tid, ipred)
}
