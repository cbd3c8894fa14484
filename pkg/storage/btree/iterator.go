package btree

import (
	"fmt"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
	"pagedb/pkg/types"
)

// IndexPredicate filters an index scan: keep tuples whose key field compares
// to Field under Op.
type IndexPredicate struct {
	Op    primitives.Predicate
	Field types.Field
}

func (ip IndexPredicate) String() string {
	return fmt.Sprintf("key %s %v", ip.Op, ip.Field)
}

// BTreeFileIterator yields every tuple of a B+-tree file in key order: it
// descends to the left-most leaf and then follows right-sibling pointers.
type BTreeFileIterator struct {
	file *BTreeFile
	tid  *transaction.TransactionID

	current  *BTreeLeafPage
	pageIter *BTreeLeafPageIterator
	next     *tuple.Tuple
	isOpen   bool
}

// NewBTreeFileIterator creates an iterator over the given file.
func NewBTreeFileIterator(file *BTreeFile, tid *transaction.TransactionID) *BTreeFileIterator {
	return &BTreeFileIterator{file: file, tid: tid}
}

// Open positions the iterator at the left-most leaf.
func (it *BTreeFileIterator) Open() error {
	rootPtr, err := it.file.getRootPtrPage(it.tid, dirtyMap{})
	if err != nil {
		return err
	}
	rootID := rootPtr.GetRootID()
	it.isOpen = true
	if rootID == nil {
		return nil
	}

	leaf, err := it.file.FindLeafPage(it.tid, rootID, page.ReadOnly, nil)
	if err != nil {
		return err
	}
	it.current = leaf
	it.pageIter = leaf.Iterator()
	return nil
}

// HasNext reports whether more tuples are available.
func (it *BTreeFileIterator) HasNext() (bool, error) {
	if !it.isOpen {
		return false, nil
	}
	if it.next != nil {
		return true, nil
	}

	t, err := it.readNext()
	if err != nil {
		return false, err
	}
	it.next = t
	return t != nil, nil
}

// Next returns the next tuple.
func (it *BTreeFileIterator) Next() (*tuple.Tuple, error) {
	hasNext, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !hasNext {
		return nil, dberr.New(dberr.DbException, "no more tuples")
	}
	t := it.next
	it.next = nil
	return t, nil
}

// readNext pulls from the current leaf, hopping right-sibling pointers until
// a tuple appears or the chain ends.
func (it *BTreeFileIterator) readNext() (*tuple.Tuple, error) {
	for it.pageIter != nil {
		if it.pageIter.HasNext() {
			return it.pageIter.Next()
		}

		nextID := it.current.GetRightSiblingID()
		if nextID == nil {
			it.current = nil
			it.pageIter = nil
			return nil, nil
		}
		leaf, err := it.file.getLeafPage(it.tid, dirtyMap{}, nextID, page.ReadOnly)
		if err != nil {
			return nil, err
		}
		it.current = leaf
		it.pageIter = leaf.Iterator()
	}
	return nil, nil
}

// Rewind closes and reopens the iterator.
func (it *BTreeFileIterator) Rewind() error {
	if err := it.Close(); err != nil {
		return err
	}
	return it.Open()
}

// Close releases iterator resources.
func (it *BTreeFileIterator) Close() error {
	it.current = nil
	it.pageIter = nil
	it.next = nil
	it.isOpen = false
	return nil
}

// BTreeSearchIterator yields the tuples matching an IndexPredicate. For =,
// > and >= it descends directly to the first candidate leaf; the tree order
// lets it stop early on = (key passed the probe) and on < / <= (first
// non-match past the target ends the scan).
type BTreeSearchIterator struct {
	file  *BTreeFile
	tid   *transaction.TransactionID
	ipred IndexPredicate

	current  *BTreeLeafPage
	pageIter *BTreeLeafPageIterator
	next     *tuple.Tuple
	isOpen   bool
}

// NewBTreeSearchIterator creates a predicate-driven iterator.
func NewBTreeSearchIterator(file *BTreeFile, tid *transaction.TransactionID, ipred IndexPredicate) *BTreeSearchIterator {
	return &BTreeSearchIterator{file: file, tid: tid, ipred: ipred}
}

// Open descends to the first leaf that can hold a match: the probe key's
// leaf when the operator exploits the ordering, the left-most leaf otherwise.
func (it *BTreeSearchIterator) Open() error {
	rootPtr, err := it.file.getRootPtrPage(it.tid, dirtyMap{})
	if err != nil {
		return err
	}
	rootID := rootPtr.GetRootID()
	it.isOpen = true
	if rootID == nil {
		return nil
	}

	var probe types.Field
	switch it.ipred.Op {
	case primitives.Equals, primitives.GreaterThan, primitives.GreaterThanOrEqual:
		probe = it.ipred.Field
	default:
		probe = nil
	}

	leaf, err := it.file.FindLeafPage(it.tid, rootID, page.ReadOnly, probe)
	if err != nil {
		return err
	}
	it.current = leaf
	it.pageIter = leaf.Iterator()
	return nil
}

// HasNext reports whether another matching tuple is available.
func (it *BTreeSearchIterator) HasNext() (bool, error) {
	if !it.isOpen {
		return false, nil
	}
	if it.next != nil {
		return true, nil
	}

	t, err := it.readNext()
	if err != nil {
		return false, err
	}
	it.next = t
	return t != nil, nil
}

// Next returns the next matching tuple.
func (it *BTreeSearchIterator) Next() (*tuple.Tuple, error) {
	hasNext, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !hasNext {
		return nil, dberr.New(dberr.DbException, "no more tuples")
	}
	t := it.next
	it.next = nil
	return t, nil
}

func (it *BTreeSearchIterator) readNext() (*tuple.Tuple, error) {
	for it.pageIter != nil {
		for it.pageIter.HasNext() {
			t, err := it.pageIter.Next()
			if err != nil {
				return nil, err
			}
			key, err := t.GetField(it.file.keyField)
			if err != nil {
				return nil, err
			}

			match, err := key.Compare(it.ipred.Op, it.ipred.Field)
			if err != nil {
				return nil, err
			}
			if match {
				return t, nil
			}

			switch it.ipred.Op {
			case primitives.LessThan, primitives.LessThanOrEqual:
				// keys only grow from here
				return nil, nil
			case primitives.Equals:
				gt, err := key.Compare(primitives.GreaterThan, it.ipred.Field)
				if err != nil {
					return nil, err
				}
				if gt {
					return nil, nil
				}
			}
		}

		nextID := it.current.GetRightSiblingID()
		if nextID == nil {
			it.current = nil
			it.pageIter = nil
			return nil, nil
		}
		leaf, err := it.file.getLeafPage(it.tid, dirtyMap{}, nextID, page.ReadOnly)
		if err != nil {
			return nil, err
		}
		it.current = leaf
		it.pageIter = leaf.Iterator()
	}
	return nil, nil
}

// Rewind closes and reopens the iterator.
func (it *BTreeSearchIterator) Rewind() error {
	if err := it.Close(); err != nil {
		return err
	}
	return it.Open()
}

// Close releases iterator resources.
func (it *BTreeSearchIterator) Close() error {
	it.current = nil
	it.pageIter = nil
	it.next = nil
	it.isOpen = false
	return nil
}
