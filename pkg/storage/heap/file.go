package heap

import (
	"github.com/sirupsen/logrus"

	"pagedb/pkg/dberr"
	"pagedb/pkg/logger"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
)

// HeapFile stores a collection of tuples in no particular order across a
// sequence of fixed-size heap pages in a single OS file. Page n lives at byte
// offset n * page.PageSize; numPages = floor(fileLength / pageSize).
//
// All page access during insert/delete/scan goes through the buffer pool so
// per-page locking is honored; the file itself only performs raw page I/O.
type HeapFile struct {
	*page.BaseFile
	tupleDesc *tuple.TupleDescription
	pool      page.PageFetcher
}

// NewHeapFile opens (creating if necessary) a heap file backed by the file at
// filename. The table id is the stable hash of the absolute path.
func NewHeapFile(filename primitives.Filepath, td *tuple.TupleDescription, pool page.PageFetcher) (*HeapFile, error) {
	baseFile, err := page.NewBaseFile(filename)
	if err != nil {
		return nil, err
	}

	return &HeapFile{
		BaseFile:  baseFile,
		tupleDesc: td,
		pool:      pool,
	}, nil
}

// GetTupleDesc returns the schema of tuples stored in this file.
func (hf *HeapFile) GetTupleDesc() *tuple.TupleDescription {
	return hf.tupleDesc
}

// NumPages returns the number of whole pages currently in the file.
func (hf *HeapFile) NumPages() (primitives.PageNumber, error) {
	size, err := hf.Size()
	if err != nil {
		return 0, err
	}
	return primitives.PageNumber(size / int64(page.PageSize)), nil
}

// ReadPage reads the named page from disk. Called by the buffer pool on a
// cache miss. A page id pointing past the end of the file fails with
// IllegalArgument (short read).
func (hf *HeapFile) ReadPage(pid primitives.PageID) (page.Page, error) {
	heapPid, err := hf.validatePageID(pid)
	if err != nil {
		return nil, err
	}

	offset := int64(heapPid.PageNo()) * int64(page.PageSize)
	data, err := hf.ReadRegion(offset, page.PageSize)
	if err != nil {
		return nil, err
	}
	return NewHeapPage(heapPid, data, hf.tupleDesc)
}

// WritePage writes a whole page at its offset in the file.
func (hf *HeapFile) WritePage(p page.Page) error {
	if p == nil {
		return dberr.New(dberr.IllegalArgument, "page cannot be nil")
	}
	offset := int64(p.GetID().PageNo()) * int64(page.PageSize)
	return hf.WriteRegion(offset, p.GetPageData())
}

// InsertTuple adds t to the first page with a free slot, scanning page
// numbers 0..numPages. When every existing page is full a zeroed page is
// atomically appended to the file and the tuple inserted there; the new page
// is fetched through the buffer pool like any other, so it participates in
// locking and shows up in the returned dirty set.
func (hf *HeapFile) InsertTuple(tid *transaction.TransactionID, t *tuple.Tuple) ([]page.Page, error) {
	numPages, err := hf.NumPages()
	if err != nil {
		return nil, err
	}

	for pageNo := primitives.PageNumber(0); pageNo < numPages; pageNo++ {
		pid := NewHeapPageID(hf.GetID(), pageNo)
		p, err := hf.pool.GetPage(tid, pid, page.ReadWrite)
		if err != nil {
			return nil, err
		}

		hp, ok := p.(*HeapPage)
		if !ok {
			return nil, dberr.New(dberr.DbException, "page %s is not a heap page", pid)
		}
		if hp.GetNumEmptySlots() == 0 {
			continue
		}

		if err := hp.InsertTuple(t); err != nil {
			return nil, err
		}
		hp.MarkDirty(true, tid)
		return []page.Page{hp}, nil
	}

	// every existing page is full: extend the file by one zeroed page, then
	// insert through the buffer pool so the new page is locked and dirtied
	// like any other
	newPageNo, err := hf.allocatePage()
	if err != nil {
		return nil, err
	}

	pid := NewHeapPageID(hf.GetID(), newPageNo)
	p, err := hf.pool.GetPage(tid, pid, page.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp, ok := p.(*HeapPage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page %s is not a heap page", pid)
	}
	if err := hp.InsertTuple(t); err != nil {
		return nil, err
	}
	hp.MarkDirty(true, tid)

	logger.WithFields(logrus.Fields{
		"table": hf.GetID(),
		"page":  newPageNo,
	}).Debugf("heap file extended with new page")

	return []page.Page{hp}, nil
}

// allocatePage atomically appends one zeroed page and returns its number.
func (hf *HeapFile) allocatePage() (primitives.PageNumber, error) {
	offset, err := hf.Append(page.CreateEmptyPageData())
	if err != nil {
		return 0, err
	}
	return primitives.PageNumber(offset / int64(page.PageSize)), nil
}

// DeleteTuple removes t from the page named by its RecordID.
func (hf *HeapFile) DeleteTuple(tid *transaction.TransactionID, t *tuple.Tuple) ([]page.Page, error) {
	if t.RecordID == nil {
		return nil, dberr.New(dberr.DbException, "tuple has no record id")
	}
	if t.RecordID.PageID.GetTableID() != hf.GetID() {
		return nil, dberr.New(dberr.DbException, "tuple does not belong to this file")
	}

	p, err := hf.pool.GetPage(tid, t.RecordID.PageID, page.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp, ok := p.(*HeapPage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page %s is not a heap page", t.RecordID.PageID)
	}

	if err := hp.DeleteTuple(t); err != nil {
		return nil, err
	}
	hp.MarkDirty(true, tid)
	return []page.Page{hp}, nil
}

// Iterator returns a restartable iterator over every tuple in the file,
// visiting pages in order through the buffer pool with read-only permission.
func (hf *HeapFile) Iterator(tid *transaction.TransactionID) page.DbFileIterator {
	return NewHeapFileIterator(hf, tid)
}

func (hf *HeapFile) validatePageID(pid primitives.PageID) (*HeapPageID, error) {
	if pid == nil {
		return nil, dberr.New(dberr.IllegalArgument, "page id cannot be nil")
	}
	heapPid, ok := pid.(*HeapPageID)
	if !ok {
		return nil, dberr.New(dberr.IllegalArgument, "invalid page id type for heap file")
	}
	if heapPid.GetTableID() != hf.GetID() {
		return nil, dberr.New(dberr.IllegalArgument, "page id table mismatch")
	}
	return heapPid, nil
}
