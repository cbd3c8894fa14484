package tuple

import (
	"fmt"

	"pagedb/pkg/primitives"
)

// RecordID names the physical location of a tuple: the page holding it and
// the slot index within that page. A tuple has no RecordID until it is
// inserted; deletion clears it again.
type RecordID struct {
	PageID  primitives.PageID
	SlotNum primitives.SlotID
}

// NewRecordID creates a RecordID.
func NewRecordID(pageID primitives.PageID, slotNum primitives.SlotID) *RecordID {
	return &RecordID{
		PageID:  pageID,
		SlotNum: slotNum,
	}
}

func (rid *RecordID) Equals(other *RecordID) bool {
	if other == nil {
		return false
	}
	return rid.PageID.Equals(other.PageID) && rid.SlotNum == other.SlotNum
}

func (rid *RecordID) String() string {
	return fmt.Sprintf("RecordID(page=%s, slot=%d)", rid.PageID.String(), rid.SlotNum)
}
