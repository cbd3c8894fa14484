package heap

import (
	"pagedb/pkg/dberr"
	"pagedb/pkg/tuple"
)

// HeapPageIterator iterates over the occupied slots of a single HeapPage.
// It snapshots the tuple references at Open.
type HeapPageIterator struct {
	page         *HeapPage
	tuples       []*tuple.Tuple
	currentIndex int
}

// NewHeapPageIterator creates an iterator for the given page.
func NewHeapPageIterator(page *HeapPage) *HeapPageIterator {
	return &HeapPageIterator{
		page:         page,
		currentIndex: -1,
	}
}

// Open initializes the iterator.
func (it *HeapPageIterator) Open() error {
	it.tuples = it.page.snapshotTuples()
	it.currentIndex = -1
	return nil
}

// HasNext reports whether more tuples are available.
func (it *HeapPageIterator) HasNext() (bool, error) {
	return it.tuples != nil && it.currentIndex+1 < len(it.tuples), nil
}

// Next returns the next tuple.
func (it *HeapPageIterator) Next() (*tuple.Tuple, error) {
	hasNext, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !hasNext {
		return nil, dberr.New(dberr.DbException, "no more tuples")
	}

	it.currentIndex++
	return it.tuples[it.currentIndex], nil
}

// Remove is not supported on page iterators.
func (it *HeapPageIterator) Remove() error {
	return dberr.New(dberr.DbException, "remove is not supported on heap page iterators")
}

// Rewind re-snapshots the page and starts over.
func (it *HeapPageIterator) Rewind() error {
	return it.Open()
}

// Close releases iterator resources.
func (it *HeapPageIterator) Close() error {
	it.tuples = nil
	it.currentIndex = -1
	return nil
}
