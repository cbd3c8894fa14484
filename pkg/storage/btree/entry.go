package btree

import (
	"fmt"

	"pagedb/pkg/tuple"
	"pagedb/pkg/types"
)

// BTreeEntry is a view of one key and its two adjacent child pointers inside
// an internal page. Adjacent entries share a child: e[i].RightChild is
// e[i+1].LeftChild. Mutating an entry does not change the page until it is
// handed back through InsertEntry or UpdateEntry.
type BTreeEntry struct {
	key        types.Field
	leftChild  *BTreePageID
	rightChild *BTreePageID

	// recordID locates the slot this entry was read from; nil for entries
	// that are not (or no longer) stored on a page.
	recordID *tuple.RecordID
}

// NewBTreeEntry creates an entry not yet stored on any page.
func NewBTreeEntry(key types.Field, leftChild, rightChild *BTreePageID) *BTreeEntry {
	return &BTreeEntry{
		key:        key,
		leftChild:  leftChild,
		rightChild: rightChild,
	}
}

func (e *BTreeEntry) GetKey() types.Field {
	return e.key
}

func (e *BTreeEntry) SetKey(key types.Field) {
	e.key = key
}

func (e *BTreeEntry) GetLeftChild() *BTreePageID {
	return e.leftChild
}

func (e *BTreeEntry) SetLeftChild(id *BTreePageID) {
	e.leftChild = id
}

func (e *BTreeEntry) GetRightChild() *BTreePageID {
	return e.rightChild
}

func (e *BTreeEntry) SetRightChild(id *BTreePageID) {
	e.rightChild = id
}

func (e *BTreeEntry) GetRecordID() *tuple.RecordID {
	return e.recordID
}

func (e *BTreeEntry) SetRecordID(rid *tuple.RecordID) {
	e.recordID = rid
}

func (e *BTreeEntry) String() string {
	return fmt.Sprintf("BTreeEntry(key=%v, left=%v, right=%v)", e.key, e.leftChild, e.rightChild)
}
