package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"pagedb/pkg/primitives"
)

// HeapPageID identifies a page within a heap file.
type HeapPageID struct {
	tableID primitives.TableID
	pageNum primitives.PageNumber
}

// NewHeapPageID creates a heap page id.
func NewHeapPageID(tableID primitives.TableID, pageNum primitives.PageNumber) *HeapPageID {
	return &HeapPageID{
		tableID: tableID,
		pageNum: pageNum,
	}
}

// GetTableID returns the table this page belongs to.
func (pid *HeapPageID) GetTableID() primitives.TableID {
	return pid.tableID
}

// PageNo returns the page number within the table's file.
func (pid *HeapPageID) PageNo() primitives.PageNumber {
	return pid.pageNum
}

// Serialize returns a byte representation of this page id.
func (pid *HeapPageID) Serialize() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(pid.tableID))
	binary.BigEndian.PutUint32(buf[8:12], uint32(pid.pageNum))
	return buf
}

// Equals checks if two page ids name the same heap page.
func (pid *HeapPageID) Equals(other primitives.PageID) bool {
	otherHeap, ok := other.(*HeapPageID)
	if !ok {
		return false
	}
	return pid.tableID == otherHeap.tableID && pid.pageNum == otherHeap.pageNum
}

func (pid *HeapPageID) String() string {
	return fmt.Sprintf("HeapPageID(table=%d, page=%d)", pid.tableID, pid.pageNum)
}

// HashCode returns a stable hash of this page id.
func (pid *HeapPageID) HashCode() primitives.HashCode {
	return primitives.HashCode(xxhash.Sum64(pid.Serialize()))
}
