package heap

import (
	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
)

// HeapFileIterator walks every tuple in a HeapFile, page 0 through
// numPages-1, fetching each page through the buffer pool with read-only
// permission. An empty file yields nothing; Next before Open fails.
type HeapFileIterator struct {
	file        *HeapFile
	tid         *transaction.TransactionID
	currentPage int64
	numPages    int64
	pageIter    *HeapPageIterator
	isOpen      bool
}

// NewHeapFileIterator creates an iterator over the given file.
func NewHeapFileIterator(file *HeapFile, tid *transaction.TransactionID) *HeapFileIterator {
	return &HeapFileIterator{
		file:        file,
		tid:         tid,
		currentPage: -1,
	}
}

// Open snapshots the page count and positions before the first page.
func (it *HeapFileIterator) Open() error {
	numPages, err := it.file.NumPages()
	if err != nil {
		return err
	}
	it.numPages = int64(numPages)
	it.currentPage = -1
	it.pageIter = nil
	it.isOpen = true
	return it.moveToNextPage()
}

// HasNext reports whether more tuples are available. Reports false when the
// iterator was never opened.
func (it *HeapFileIterator) HasNext() (bool, error) {
	if !it.isOpen {
		return false, nil
	}

	for {
		if it.pageIter == nil {
			return false, nil
		}
		hasNext, err := it.pageIter.HasNext()
		if err != nil {
			return false, err
		}
		if hasNext {
			return true, nil
		}
		if err := it.moveToNextPage(); err != nil {
			return false, err
		}
	}
}

// Next returns the next tuple.
func (it *HeapFileIterator) Next() (*tuple.Tuple, error) {
	hasNext, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !hasNext {
		return nil, dberr.New(dberr.DbException, "no more tuples")
	}
	return it.pageIter.Next()
}

// Rewind closes and reopens the iterator.
func (it *HeapFileIterator) Rewind() error {
	if err := it.Close(); err != nil {
		return err
	}
	return it.Open()
}

// Close releases iterator resources; Next afterwards yields nothing.
func (it *HeapFileIterator) Close() error {
	if it.pageIter != nil {
		_ = it.pageIter.Close()
		it.pageIter = nil
	}
	it.currentPage = -1
	it.isOpen = false
	return nil
}

// moveToNextPage advances the page cursor, leaving pageIter nil when the last
// page has been consumed.
func (it *HeapFileIterator) moveToNextPage() error {
	it.pageIter = nil
	if it.currentPage+1 >= it.numPages {
		return nil
	}
	it.currentPage++

	pid := NewHeapPageID(it.file.GetID(), primitives.PageNumber(it.currentPage))
	p, err := it.file.pool.GetPage(it.tid, pid, page.ReadOnly)
	if err != nil {
		return err
	}
	hp, ok := p.(*HeapPage)
	if !ok {
		return dberr.New(dberr.DbException, "page %s is not a heap page", pid)
	}

	it.pageIter = NewHeapPageIterator(hp)
	return it.pageIter.Open()
}
