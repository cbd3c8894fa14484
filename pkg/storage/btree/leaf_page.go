package btree

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
)

// BTreeLeafPage stores tuples sorted on the key field, linked to its left and
// right sibling leaves. Layout: 4-byte parent page number, 4-byte left
// sibling, 4-byte right sibling (0 = none), an LSB-first slot bitmap of
// ceil(maxTuples/8) bytes, then maxTuples fixed-size tuple slots.
//
//	maxTuples = (pageSize*8 - 3*4*8) / (tupleSize*8 + 1)
type BTreeLeafPage struct {
	pid       *BTreePageID
	tupleDesc *tuple.TupleDescription
	keyField  int

	parent       primitives.PageNumber
	leftSibling  primitives.PageNumber
	rightSibling primitives.PageNumber
	header       []byte
	tuples       []*tuple.Tuple
	numSlots     int

	dirtier *transaction.TransactionID
	oldData []byte
	mutex   sync.RWMutex
}

// LeafMaxTuples computes the tuple capacity of a leaf page for the given
// schema.
func LeafMaxTuples(td *tuple.TupleDescription) int {
	tupleSize := int(td.GetSize())
	return (page.PageSize*8 - 3*childPtrSize*8) / (tupleSize*8 + 1)
}

// NewBTreeLeafPage decodes a leaf page from its on-disk bytes.
func NewBTreeLeafPage(pid *BTreePageID, data []byte, td *tuple.TupleDescription, keyField int) (*BTreeLeafPage, error) {
	if len(data) != page.PageSize {
		return nil, dberr.New(dberr.IllegalArgument,
			"invalid leaf page data size: expected %d, got %d", page.PageSize, len(data))
	}
	if pid.Category() != Leaf {
		return nil, dberr.New(dberr.IllegalArgument, "page id %s is not a leaf page id", pid)
	}
	if keyField < 0 || keyField >= td.NumFields() {
		return nil, dberr.New(dberr.IllegalArgument, "key field %d out of bounds", keyField)
	}

	p := &BTreeLeafPage{
		pid:       pid,
		tupleDesc: td,
		keyField:  keyField,
		numSlots:  LeafMaxTuples(td),
	}
	p.header = make([]byte, page.HeaderBytes(p.numSlots))
	p.tuples = make([]*tuple.Tuple, p.numSlots)

	if err := p.parsePageData(data); err != nil {
		return nil, err
	}
	p.oldData = p.getPageData()
	return p, nil
}

func (p *BTreeLeafPage) parsePageData(data []byte) error {
	r := bytes.NewReader(data)

	var fixed [12]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to read leaf page header")
	}
	p.parent = primitives.PageNumber(binary.BigEndian.Uint32(fixed[0:4]))
	p.leftSibling = primitives.PageNumber(binary.BigEndian.Uint32(fixed[4:8]))
	p.rightSibling = primitives.PageNumber(binary.BigEndian.Uint32(fixed[8:12]))

	if _, err := io.ReadFull(r, p.header); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to read leaf page bitmap")
	}

	tupleSize := int64(p.tupleDesc.GetSize())
	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			if _, err := r.Seek(tupleSize, io.SeekCurrent); err != nil {
				return dberr.Wrap(dberr.IoError, err, "failed to skip empty tuple slot")
			}
			continue
		}
		t, err := tuple.ReadTuple(r, p.tupleDesc)
		if err != nil {
			return dberr.Wrap(dberr.DbException, err, "failed to decode leaf tuple")
		}
		t.RecordID = tuple.NewRecordID(p.pid, primitives.SlotID(i))
		p.tuples[i] = t
	}
	return nil
}

// GetID returns the page id.
func (p *BTreeLeafPage) GetID() primitives.PageID {
	return p.pid
}

// BTreeID returns the id with its B+-tree category tag.
func (p *BTreeLeafPage) BTreeID() *BTreePageID {
	return p.pid
}

// GetParentID returns the parent's id: the root-pointer page when this leaf
// is the root.
func (p *BTreeLeafPage) GetParentID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.parent == primitives.InvalidPageNumber {
		return RootPtrPageID(p.pid.GetTableID())
	}
	return NewBTreePageID(p.pid.GetTableID(), p.parent, Internal)
}

// SetParentID installs the parent reference.
func (p *BTreeLeafPage) SetParentID(id *BTreePageID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return setParentNumber(&p.parent, p.pid, id)
}

// GetLeftSiblingID returns the left sibling leaf id, or nil.
func (p *BTreeLeafPage) GetLeftSiblingID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.leftSibling == primitives.InvalidPageNumber {
		return nil
	}
	return NewBTreePageID(p.pid.GetTableID(), p.leftSibling, Leaf)
}

// SetLeftSiblingID links the left sibling (nil unlinks).
func (p *BTreeLeafPage) SetLeftSiblingID(id *BTreePageID) error {
	return p.setSibling(&p.leftSibling, id)
}

// GetRightSiblingID returns the right sibling leaf id, or nil.
func (p *BTreeLeafPage) GetRightSiblingID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.rightSibling == primitives.InvalidPageNumber {
		return nil
	}
	return NewBTreePageID(p.pid.GetTableID(), p.rightSibling, Leaf)
}

// SetRightSiblingID links the right sibling (nil unlinks).
func (p *BTreeLeafPage) SetRightSiblingID(id *BTreePageID) error {
	return p.setSibling(&p.rightSibling, id)
}

func (p *BTreeLeafPage) setSibling(slot *primitives.PageNumber, id *BTreePageID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id == nil {
		*slot = primitives.InvalidPageNumber
		return nil
	}
	if id.GetTableID() != p.pid.GetTableID() || id.Category() != Leaf {
		return dberr.New(dberr.DbException, "sibling must be a leaf page of this table")
	}
	*slot = id.PageNo()
	return nil
}

// GetMaxTuples returns the tuple capacity of this page.
func (p *BTreeLeafPage) GetMaxTuples() int {
	return p.numSlots
}

// GetNumTuples returns the number of tuples currently stored.
func (p *BTreeLeafPage) GetNumTuples() int {
	return p.numSlots - p.GetNumEmptySlots()
}

// GetNumEmptySlots returns the count of unoccupied slots.
func (p *BTreeLeafPage) GetNumEmptySlots() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.getNumEmptySlots()
}

func (p *BTreeLeafPage) getNumEmptySlots() int {
	empty := 0
	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			empty++
		}
	}
	return empty
}

// IsSlotUsed reports whether slot i holds a tuple.
func (p *BTreeLeafPage) IsSlotUsed(i int) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return i >= 0 && i < p.numSlots && page.IsSet(p.header, i)
}

// InsertTuple places t into a slot such that tuples stay sorted on the key
// field, shifting neighbors toward the nearest empty slot as needed.
func (p *BTreeLeafPage) InsertTuple(t *tuple.Tuple) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !t.TupleDesc.Equals(p.tupleDesc) {
		return dberr.New(dberr.DbException, "tuple descriptor does not match page descriptor")
	}

	emptySlot := -1
	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			emptySlot = i
			break
		}
	}
	if emptySlot == -1 {
		return dberr.New(dberr.DbException, "leaf page %s is full", p.pid)
	}

	key, err := t.GetField(p.keyField)
	if err != nil {
		return err
	}

	// last occupied slot whose key is <= the inserted key
	lessOrEqKey := -1
	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			continue
		}
		slotKey, err := p.tuples[i].GetField(p.keyField)
		if err != nil {
			return err
		}
		ge, err := key.Compare(primitives.GreaterThanOrEqual, slotKey)
		if err != nil {
			return err
		}
		if ge {
			lessOrEqKey = i
		} else {
			break
		}
	}

	var goodSlot int
	if emptySlot < lessOrEqKey {
		for i := emptySlot; i < lessOrEqKey; i++ {
			p.moveTuple(i+1, i)
		}
		goodSlot = lessOrEqKey
	} else {
		for i := emptySlot; i > lessOrEqKey+1; i-- {
			p.moveTuple(i-1, i)
		}
		goodSlot = lessOrEqKey + 1
	}

	page.SetBit(p.header, goodSlot)
	t.RecordID = tuple.NewRecordID(p.pid, primitives.SlotID(goodSlot))
	p.tuples[goodSlot] = t
	return nil
}

func (p *BTreeLeafPage) moveTuple(from, to int) {
	if page.IsSet(p.header, from) && !page.IsSet(p.header, to) {
		page.SetBit(p.header, to)
		p.tuples[to] = p.tuples[from]
		if p.tuples[to] != nil {
			p.tuples[to].RecordID = tuple.NewRecordID(p.pid, primitives.SlotID(to))
		}
		page.ClearBit(p.header, from)
		p.tuples[from] = nil
	}
}

// DeleteTuple clears the slot named by t's RecordID.
func (p *BTreeLeafPage) DeleteTuple(t *tuple.Tuple) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	rid := t.RecordID
	if rid == nil || !rid.PageID.Equals(p.pid) {
		return dberr.New(dberr.DbException, "tuple is not on this page")
	}

	slot := int(rid.SlotNum)
	if slot >= p.numSlots || !page.IsSet(p.header, slot) {
		return dberr.New(dberr.DbException, "tuple slot %d is already empty", slot)
	}

	page.ClearBit(p.header, slot)
	p.tuples[slot] = nil
	t.RecordID = nil
	return nil
}

// snapshotTuples returns the occupied tuples in ascending key order.
func (p *BTreeLeafPage) snapshotTuples() []*tuple.Tuple {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	tuples := make([]*tuple.Tuple, 0, p.numSlots-p.getNumEmptySlots())
	for i := 0; i < p.numSlots; i++ {
		if page.IsSet(p.header, i) && p.tuples[i] != nil {
			tuples = append(tuples, p.tuples[i])
		}
	}
	return tuples
}

// Iterator yields the page's tuples in ascending key order.
func (p *BTreeLeafPage) Iterator() *BTreeLeafPageIterator {
	return newBTreeLeafPageIterator(p.snapshotTuples(), false)
}

// ReverseIterator yields the page's tuples in descending key order.
func (p *BTreeLeafPage) ReverseIterator() *BTreeLeafPageIterator {
	return newBTreeLeafPageIterator(p.snapshotTuples(), true)
}

// IsDirty returns the transaction that last dirtied this page, or nil.
func (p *BTreeLeafPage) IsDirty() *transaction.TransactionID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.dirtier
}

// MarkDirty sets or clears the dirty state.
func (p *BTreeLeafPage) MarkDirty(dirty bool, tid *transaction.TransactionID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if dirty {
		p.dirtier = tid
	} else {
		p.dirtier = nil
	}
}

// GetPageData re-encodes the page into exactly page.PageSize bytes.
func (p *BTreeLeafPage) GetPageData() []byte {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.getPageData()
}

func (p *BTreeLeafPage) getPageData() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, page.PageSize))

	var fixed [12]byte
	binary.BigEndian.PutUint32(fixed[0:4], uint32(p.parent))
	binary.BigEndian.PutUint32(fixed[4:8], uint32(p.leftSibling))
	binary.BigEndian.PutUint32(fixed[8:12], uint32(p.rightSibling))
	buf.Write(fixed[:])
	buf.Write(p.header)

	tupleSize := int(p.tupleDesc.GetSize())
	emptySlot := make([]byte, tupleSize)
	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) || p.tuples[i] == nil {
			buf.Write(emptySlot)
			continue
		}
		if err := p.tuples[i].Serialize(buf); err != nil {
			panic("leaf page re-encode failed: " + err.Error())
		}
	}

	data := make([]byte, page.PageSize)
	copy(data, buf.Bytes())
	return data
}

// GetBeforeImage returns a page decoded from the before-image bytes.
func (p *BTreeLeafPage) GetBeforeImage() page.Page {
	p.mutex.RLock()
	oldData := p.oldData
	p.mutex.RUnlock()

	before, err := NewBTreeLeafPage(p.pid, oldData, p.tupleDesc, p.keyField)
	if err != nil {
		panic("leaf page before-image no longer decodes: " + err.Error())
	}
	return before
}

// SetBeforeImage captures the current content as the new before image.
func (p *BTreeLeafPage) SetBeforeImage() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.oldData = p.getPageData()
}

// BTreeLeafPageIterator walks a snapshot of a leaf page's tuples.
type BTreeLeafPageIterator struct {
	tuples  []*tuple.Tuple
	reverse bool
	pos     int
}

func newBTreeLeafPageIterator(tuples []*tuple.Tuple, reverse bool) *BTreeLeafPageIterator {
	return &BTreeLeafPageIterator{tuples: tuples, reverse: reverse}
}

// HasNext reports whether more tuples are available.
func (it *BTreeLeafPageIterator) HasNext() bool {
	return it.pos < len(it.tuples)
}

// Next returns the next tuple.
func (it *BTreeLeafPageIterator) Next() (*tuple.Tuple, error) {
	if !it.HasNext() {
		return nil, dberr.New(dberr.DbException, "no more tuples")
	}
	var t *tuple.Tuple
	if it.reverse {
		t = it.tuples[len(it.tuples)-1-it.pos]
	} else {
		t = it.tuples[it.pos]
	}
	it.pos++
	return t, nil
}
