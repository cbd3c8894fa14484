package heap

import (
	"bytes"
	"io"
	"sync"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
)

// HeapPage is a fixed-layout unordered slotted page. The on-disk format, in
// order: a slot bitmap header (LSB-first within each byte), numSlots
// fixed-size tuple slots, then zero padding to page.PageSize. Empty slots
// still consume tupleSize zero bytes so slot offsets never move.
//
//	numSlots    = floor(pageSize*8 / (tupleSize*8 + 1))
//	headerBytes = ceil(numSlots / 8)
//
// Decoding the bytes of a heap page and re-encoding them yields identical
// bytes (round-trip identity).
type HeapPage struct {
	pid       *HeapPageID
	tupleDesc *tuple.TupleDescription
	header    []byte
	tuples    []*tuple.Tuple
	numSlots  int

	dirtier *transaction.TransactionID
	oldData []byte
	mutex   sync.RWMutex
}

// NewEmptyHeapPage creates a heap page with no occupied slots.
func NewEmptyHeapPage(pid *HeapPageID, td *tuple.TupleDescription) (*HeapPage, error) {
	return NewHeapPage(pid, page.CreateEmptyPageData(), td)
}

// NewHeapPage decodes a heap page from raw disk bytes: header first, then
// every slot in order (empty slots are read and discarded). The re-encoded
// bytes are captured as the page's before-image.
func NewHeapPage(pid *HeapPageID, data []byte, td *tuple.TupleDescription) (*HeapPage, error) {
	if len(data) != page.PageSize {
		return nil, dberr.New(dberr.IllegalArgument,
			"invalid page data size: expected %d, got %d", page.PageSize, len(data))
	}

	hp := &HeapPage{
		pid:       pid,
		tupleDesc: td,
	}
	hp.numSlots = NumSlotsPerPage(td)
	hp.tuples = make([]*tuple.Tuple, hp.numSlots)
	hp.header = make([]byte, page.HeaderBytes(hp.numSlots))

	if err := hp.parsePageData(data); err != nil {
		return nil, err
	}

	hp.oldData = hp.getPageData()
	return hp, nil
}

// NumSlotsPerPage computes the slot capacity for tuples of the given schema:
// floor(pageSize*8 / (tupleSize*8 + 1)), one header bit per slot.
func NumSlotsPerPage(td *tuple.TupleDescription) int {
	tupleSize := int(td.GetSize())
	return (page.PageSize * 8) / (tupleSize*8 + 1)
}

func (hp *HeapPage) parsePageData(data []byte) error {
	r := bytes.NewReader(data)
	if _, err := io.ReadFull(r, hp.header); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to read page header")
	}

	tupleSize := int(hp.tupleDesc.GetSize())
	for i := 0; i < hp.numSlots; i++ {
		if !page.IsSet(hp.header, i) {
			// empty slot still occupies tupleSize bytes
			if _, err := r.Seek(int64(tupleSize), io.SeekCurrent); err != nil {
				return dberr.Wrap(dberr.IoError, err, "failed to skip empty slot")
			}
			continue
		}

		t, err := tuple.ReadTuple(r, hp.tupleDesc)
		if err != nil {
			return dberr.Wrap(dberr.DbException, err, "failed to decode tuple")
		}
		t.RecordID = tuple.NewRecordID(hp.pid, primitives.SlotID(i))
		hp.tuples[i] = t
	}
	return nil
}

// GetID returns the page id.
func (hp *HeapPage) GetID() primitives.PageID {
	return hp.pid
}

// IsDirty returns the transaction that last dirtied this page, or nil.
func (hp *HeapPage) IsDirty() *transaction.TransactionID {
	hp.mutex.RLock()
	defer hp.mutex.RUnlock()
	return hp.dirtier
}

// MarkDirty sets or clears the dirty state.
func (hp *HeapPage) MarkDirty(dirty bool, tid *transaction.TransactionID) {
	hp.mutex.Lock()
	defer hp.mutex.Unlock()

	if dirty {
		hp.dirtier = tid
	} else {
		hp.dirtier = nil
	}
}

// GetPageData re-encodes the page into exactly page.PageSize bytes: header,
// slots (zero bytes for empty slots), zero padding.
func (hp *HeapPage) GetPageData() []byte {
	hp.mutex.RLock()
	defer hp.mutex.RUnlock()
	return hp.getPageData()
}

func (hp *HeapPage) getPageData() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, page.PageSize))
	buf.Write(hp.header)

	tupleSize := int(hp.tupleDesc.GetSize())
	emptySlot := make([]byte, tupleSize)
	for i := 0; i < hp.numSlots; i++ {
		if hp.tuples[i] == nil || !page.IsSet(hp.header, i) {
			buf.Write(emptySlot)
			continue
		}
		// the buffer cannot fail; tuple fields are always set on stored tuples
		if err := hp.tuples[i].Serialize(buf); err != nil {
			panic("heap page re-encode failed: " + err.Error())
		}
	}

	data := buf.Bytes()
	padded := make([]byte, page.PageSize)
	copy(padded, data)
	return padded
}

// GetBeforeImage returns a page decoded from the before-image bytes. The
// bytes parsed successfully at construction, so a decode failure here means
// in-memory corruption and aborts the process.
func (hp *HeapPage) GetBeforeImage() page.Page {
	hp.mutex.RLock()
	oldData := hp.oldData
	hp.mutex.RUnlock()

	before, err := NewHeapPage(hp.pid, oldData, hp.tupleDesc)
	if err != nil {
		panic("heap page before-image no longer decodes: " + err.Error())
	}
	return before
}

// SetBeforeImage captures the current content as the new before image.
func (hp *HeapPage) SetBeforeImage() {
	hp.mutex.Lock()
	defer hp.mutex.Unlock()
	hp.oldData = hp.getPageData()
}

// InsertTuple places t into the first unoccupied slot, marks the slot used
// and assigns t's RecordID.
//
// Fails with DbException on a schema mismatch or when the page is full.
func (hp *HeapPage) InsertTuple(t *tuple.Tuple) error {
	hp.mutex.Lock()
	defer hp.mutex.Unlock()

	if !t.TupleDesc.Equals(hp.tupleDesc) {
		return dberr.New(dberr.DbException, "tuple descriptor does not match page descriptor")
	}

	for i := 0; i < hp.numSlots; i++ {
		if page.IsSet(hp.header, i) {
			continue
		}
		page.SetBit(hp.header, i)
		t.RecordID = tuple.NewRecordID(hp.pid, primitives.SlotID(i))
		hp.tuples[i] = t
		return nil
	}
	return dberr.New(dberr.DbException, "page %s is full", hp.pid)
}

// DeleteTuple clears the slot named by t's RecordID.
//
// Fails with DbException when the tuple is not on this page or the slot is
// already empty.
func (hp *HeapPage) DeleteTuple(t *tuple.Tuple) error {
	hp.mutex.Lock()
	defer hp.mutex.Unlock()

	rid := t.RecordID
	if rid == nil || !rid.PageID.Equals(hp.pid) {
		return dberr.New(dberr.DbException, "tuple is not on this page")
	}

	slot := int(rid.SlotNum)
	if slot >= hp.numSlots || !page.IsSet(hp.header, slot) {
		return dberr.New(dberr.DbException, "tuple slot %d is already empty", slot)
	}

	page.ClearBit(hp.header, slot)
	hp.tuples[slot] = nil
	t.RecordID = nil
	return nil
}

// GetNumEmptySlots returns the count of unoccupied slots.
func (hp *HeapPage) GetNumEmptySlots() int {
	hp.mutex.RLock()
	defer hp.mutex.RUnlock()
	return hp.getNumEmptySlots()
}

func (hp *HeapPage) getNumEmptySlots() int {
	empty := 0
	for i := 0; i < hp.numSlots; i++ {
		if !page.IsSet(hp.header, i) {
			empty++
		}
	}
	return empty
}

// IsSlotUsed reports whether slot i holds a tuple.
func (hp *HeapPage) IsSlotUsed(i int) bool {
	hp.mutex.RLock()
	defer hp.mutex.RUnlock()

	if i < 0 || i >= hp.numSlots {
		return false
	}
	return page.IsSet(hp.header, i)
}

// NumSlots returns the slot capacity of this page.
func (hp *HeapPage) NumSlots() int {
	return hp.numSlots
}

// GetTupleDesc returns the schema of tuples on this page.
func (hp *HeapPage) GetTupleDesc() *tuple.TupleDescription {
	return hp.tupleDesc
}

// snapshotTuples returns the occupied tuples in ascending slot order.
func (hp *HeapPage) snapshotTuples() []*tuple.Tuple {
	hp.mutex.RLock()
	defer hp.mutex.RUnlock()

	tuples := make([]*tuple.Tuple, 0, hp.numSlots-hp.getNumEmptySlots())
	for i := 0; i < hp.numSlots; i++ {
		if page.IsSet(hp.header, i) && hp.tuples[i] != nil {
			tuples = append(tuples, hp.tuples[i])
		}
	}
	return tuples
}

// Iterator yields the page's tuples in ascending slot order, skipping empty
// slots. The iterator snapshots the occupied tuples at Open, so clearing a
// slot afterwards neither invalidates it nor makes it yield deleted tuples
// twice; restarting requires a new iterator (or Rewind).
func (hp *HeapPage) Iterator() *HeapPageIterator {
	return NewHeapPageIterator(hp)
}
