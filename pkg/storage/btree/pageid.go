package btree

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"pagedb/pkg/primitives"
)

// PageCategory tags the role of a B+-tree page. The root-pointer page always
// has page number 0; every other category shares the uniform page size.
type PageCategory byte

const (
	RootPtr PageCategory = iota
	Internal
	Leaf
	Header
)

func (c PageCategory) String() string {
	switch c {
	case RootPtr:
		return "ROOT_PTR"
	case Internal:
		return "INTERNAL"
	case Leaf:
		return "LEAF"
	case Header:
		return "HEADER"
	default:
		return "UNKNOWN"
	}
}

// BTreePageID identifies a page within a B+-tree file: table, page number and
// category. The category participates in equality and hashing because the
// buffer pool must not conflate, say, a leaf fetch with a header fetch for
// the same number.
type BTreePageID struct {
	tableID  primitives.TableID
	pageNum  primitives.PageNumber
	category PageCategory
}

// NewBTreePageID creates a B+-tree page id.
func NewBTreePageID(tableID primitives.TableID, pageNum primitives.PageNumber, category PageCategory) *BTreePageID {
	return &BTreePageID{
		tableID:  tableID,
		pageNum:  pageNum,
		category: category,
	}
}

// RootPtrPageID returns the id of a tree's root-pointer page: page number 0.
func RootPtrPageID(tableID primitives.TableID) *BTreePageID {
	return NewBTreePageID(tableID, 0, RootPtr)
}

// GetTableID returns the table this page belongs to.
func (pid *BTreePageID) GetTableID() primitives.TableID {
	return pid.tableID
}

// PageNo returns the page number within the file.
func (pid *BTreePageID) PageNo() primitives.PageNumber {
	return pid.pageNum
}

// Category returns the page category tag.
func (pid *BTreePageID) Category() PageCategory {
	return pid.category
}

// Serialize returns a byte representation of this page id.
func (pid *BTreePageID) Serialize() []byte {
	buf := make([]byte, 13)
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(pid.tableID) >> (56 - 8*i))
	}
	buf[8] = byte(uint32(pid.pageNum) >> 24)
	buf[9] = byte(uint32(pid.pageNum) >> 16)
	buf[10] = byte(uint32(pid.pageNum) >> 8)
	buf[11] = byte(uint32(pid.pageNum))
	buf[12] = byte(pid.category)
	return buf
}

// Equals checks if two page ids name the same B+-tree page.
func (pid *BTreePageID) Equals(other primitives.PageID) bool {
	otherBTree, ok := other.(*BTreePageID)
	if !ok {
		return false
	}
	return pid.tableID == otherBTree.tableID &&
		pid.pageNum == otherBTree.pageNum &&
		pid.category == otherBTree.category
}

func (pid *BTreePageID) String() string {
	return fmt.Sprintf("BTreePageID(table=%d, page=%d, category=%s)", pid.tableID, pid.pageNum, pid.category)
}

// HashCode returns a stable hash of this page id.
func (pid *BTreePageID) HashCode() primitives.HashCode {
	return primitives.HashCode(xxhash.Sum64(pid.Serialize()))
}
