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
	"pagedb/pkg/types"
)

const childPtrSize = 4

// BTreeInternalPage holds a sorted run of keys with child pointers, one more
// child than keys. Layout: 4-byte parent page number, 1-byte child category,
// an LSB-first slot bitmap of ceil((maxEntries+1)/8) bytes, maxEntries key
// slots (slot 0 is never a key), then maxEntries+1 child-pointer slots.
//
// Slot i >= 1 pairs keys[i] with its right child children[i]; the entry's
// left child is the child of the nearest occupied slot below i. Slot 0 holds
// only the extra left-most child.
//
//	maxEntries = (pageSize*8 - 2*4*8 - 8) / (keySize*8 + 4*8 + 1)
type BTreeInternalPage struct {
	pid     *BTreePageID
	keyType types.Type

	parent        primitives.PageNumber
	childCategory PageCategory
	header        []byte
	keys          []types.Field
	children      []primitives.PageNumber
	numSlots      int

	dirtier *transaction.TransactionID
	oldData []byte
	mutex   sync.RWMutex
}

// InternalMaxEntries computes the entry capacity of an internal page for the
// given key type.
func InternalMaxEntries(keyType types.Type) int {
	keySize := int(keyType.Size())
	return (page.PageSize*8 - 2*childPtrSize*8 - 8) / (keySize*8 + childPtrSize*8 + 1)
}

// NewBTreeInternalPage decodes an internal page from its on-disk bytes.
func NewBTreeInternalPage(pid *BTreePageID, data []byte, keyType types.Type) (*BTreeInternalPage, error) {
	if len(data) != page.PageSize {
		return nil, dberr.New(dberr.IllegalArgument,
			"invalid internal page data size: expected %d, got %d", page.PageSize, len(data))
	}
	if pid.Category() != Internal {
		return nil, dberr.New(dberr.IllegalArgument, "page id %s is not an internal page id", pid)
	}

	p := &BTreeInternalPage{
		pid:      pid,
		keyType:  keyType,
		numSlots: InternalMaxEntries(keyType) + 1,
	}
	p.header = make([]byte, page.HeaderBytes(p.numSlots))
	p.keys = make([]types.Field, p.numSlots)
	p.children = make([]primitives.PageNumber, p.numSlots)

	if err := p.parsePageData(data); err != nil {
		return nil, err
	}
	p.oldData = p.getPageData()
	return p, nil
}

func (p *BTreeInternalPage) parsePageData(data []byte) error {
	r := bytes.NewReader(data)

	var fixed [5]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to read internal page header")
	}
	p.parent = primitives.PageNumber(binary.BigEndian.Uint32(fixed[0:4]))
	p.childCategory = PageCategory(fixed[4])

	if _, err := io.ReadFull(r, p.header); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to read internal page bitmap")
	}

	keySize := int64(p.keyType.Size())
	for i := 1; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			if _, err := r.Seek(keySize, io.SeekCurrent); err != nil {
				return dberr.Wrap(dberr.IoError, err, "failed to skip empty key slot")
			}
			continue
		}
		key, err := types.ParseField(r, p.keyType)
		if err != nil {
			return dberr.Wrap(dberr.DbException, err, "failed to decode internal page key")
		}
		p.keys[i] = key
	}

	var child [4]byte
	for i := 0; i < p.numSlots; i++ {
		if _, err := io.ReadFull(r, child[:]); err != nil {
			return dberr.Wrap(dberr.IoError, err, "failed to read child pointer")
		}
		p.children[i] = primitives.PageNumber(binary.BigEndian.Uint32(child[:]))
	}
	return nil
}

// GetID returns the page id.
func (p *BTreeInternalPage) GetID() primitives.PageID {
	return p.pid
}

// BTreeID returns the id with its B+-tree category tag.
func (p *BTreeInternalPage) BTreeID() *BTreePageID {
	return p.pid
}

// GetParentID returns the id of this page's parent: the root-pointer page
// when the page is the root, an internal page otherwise.
func (p *BTreeInternalPage) GetParentID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.parent == primitives.InvalidPageNumber {
		return RootPtrPageID(p.pid.GetTableID())
	}
	return NewBTreePageID(p.pid.GetTableID(), p.parent, Internal)
}

// SetParentID installs the parent reference.
func (p *BTreeInternalPage) SetParentID(id *BTreePageID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return setParentNumber(&p.parent, p.pid, id)
}

// setParentNumber validates and stores a parent reference shared by internal
// and leaf pages.
func setParentNumber(slot *primitives.PageNumber, pid, parent *BTreePageID) error {
	if parent == nil {
		return dberr.New(dberr.DbException, "parent id cannot be nil")
	}
	if parent.GetTableID() != pid.GetTableID() {
		return dberr.New(dberr.DbException, "parent id table mismatch")
	}
	switch parent.Category() {
	case RootPtr:
		*slot = primitives.InvalidPageNumber
	case Internal:
		*slot = parent.PageNo()
	default:
		return dberr.New(dberr.DbException, "parent must be internal or root pointer, got %s", parent.Category())
	}
	return nil
}

// GetChildCategory returns the category all children of this page share.
func (p *BTreeInternalPage) GetChildCategory() PageCategory {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.childCategory
}

// GetMaxEntries returns the entry capacity of this page.
func (p *BTreeInternalPage) GetMaxEntries() int {
	return p.numSlots - 1
}

// GetNumEntries returns the number of entries currently stored.
func (p *BTreeInternalPage) GetNumEntries() int {
	return p.GetMaxEntries() - p.GetNumEmptySlots()
}

// GetNumEmptySlots returns the number of unoccupied entry slots.
func (p *BTreeInternalPage) GetNumEmptySlots() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.getNumEmptySlots()
}

func (p *BTreeInternalPage) getNumEmptySlots() int {
	empty := 0
	for i := 1; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			empty++
		}
	}
	return empty
}

// IsSlotUsed reports whether slot i is occupied.
func (p *BTreeInternalPage) IsSlotUsed(i int) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.isSlotUsed(i)
}

func (p *BTreeInternalPage) isSlotUsed(i int) bool {
	return i >= 0 && i < p.numSlots && page.IsSet(p.header, i)
}

// childID builds the typed id for the child pointer in slot i.
func (p *BTreeInternalPage) childID(i int) *BTreePageID {
	return NewBTreePageID(p.pid.GetTableID(), p.children[i], p.childCategory)
}

// InsertEntry adds (key, leftChild, rightChild) keeping keys sorted. One of
// the entry's children must already be referenced by this page: splits hand
// in entries whose left child is an existing child, and the shared pointer is
// spliced rather than duplicated.
func (p *BTreeInternalPage) InsertEntry(e *BTreeEntry) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if e.GetKey() == nil || e.GetKey().Type() != p.keyType {
		return dberr.New(dberr.DbException, "key type mismatch on internal page insert")
	}
	left, right := e.GetLeftChild(), e.GetRightChild()
	if left == nil || right == nil {
		return dberr.New(dberr.DbException, "entry children cannot be nil")
	}
	if left.GetTableID() != p.pid.GetTableID() || right.GetTableID() != p.pid.GetTableID() {
		return dberr.New(dberr.DbException, "entry child table mismatch")
	}
	if left.Category() != right.Category() {
		return dberr.New(dberr.DbException, "entry children must share a category")
	}
	if p.childCategory == RootPtr {
		// empty page adopts the category of its first children
		p.childCategory = left.Category()
	} else if left.Category() != p.childCategory {
		return dberr.New(dberr.DbException, "entry child category %s does not match page child category %s",
			left.Category(), p.childCategory)
	}

	// first entry: fill slot 0 with the left child and slot 1 with the key
	if p.getNumEmptySlots() == p.GetMaxEntries() {
		p.children[0] = left.PageNo()
		p.children[1] = right.PageNo()
		p.keys[1] = e.GetKey()
		page.SetBit(p.header, 0)
		page.SetBit(p.header, 1)
		e.SetRecordID(tuple.NewRecordID(p.pid, 1))
		return nil
	}

	emptySlot := -1
	for i := 1; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			emptySlot = i
			break
		}
	}
	if emptySlot == -1 {
		return dberr.New(dberr.DbException, "called InsertEntry on page with no empty slots")
	}

	// locate the slot whose child pointer this entry extends
	lessOrEqKey := -1
	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			continue
		}
		if p.children[i] == left.PageNo() || p.children[i] == right.PageNo() {
			if i > 0 {
				if lt, err := e.GetKey().Compare(primitives.LessThan, p.keys[i]); err != nil {
					return err
				} else if lt {
					return dberr.New(dberr.DbException, "attempt to insert invalid entry: key below slot %d", i)
				}
			}
			lessOrEqKey = i
			if p.children[i] == right.PageNo() {
				p.children[i] = left.PageNo()
			}
		} else if lessOrEqKey != -1 {
			// next key must be >= the one being inserted
			if gt, err := e.GetKey().Compare(primitives.GreaterThan, p.keys[i]); err != nil {
				return err
			} else if gt {
				return dberr.New(dberr.DbException, "attempt to insert invalid entry: key above slot %d", i)
			}
			break
		}
	}
	if lessOrEqKey == -1 {
		return dberr.New(dberr.DbException, "attempt to insert entry with unknown child pointers")
	}

	// shift entries toward the empty slot to open a gap right after
	// lessOrEqKey while preserving sort order
	var goodSlot int
	if emptySlot < lessOrEqKey {
		for i := emptySlot; i < lessOrEqKey; i++ {
			p.moveEntry(i+1, i)
		}
		goodSlot = lessOrEqKey
	} else {
		for i := emptySlot; i > lessOrEqKey+1; i-- {
			p.moveEntry(i-1, i)
		}
		goodSlot = lessOrEqKey + 1
	}

	page.SetBit(p.header, goodSlot)
	p.keys[goodSlot] = e.GetKey()
	p.children[goodSlot] = right.PageNo()
	e.SetRecordID(tuple.NewRecordID(p.pid, primitives.SlotID(goodSlot)))
	return nil
}

func (p *BTreeInternalPage) moveEntry(from, to int) {
	if page.IsSet(p.header, from) && !page.IsSet(p.header, to) {
		page.SetBit(p.header, to)
		p.keys[to] = p.keys[from]
		p.children[to] = p.children[from]
		page.ClearBit(p.header, from)
		p.keys[from] = nil
	}
}

// DeleteKeyAndRightChild removes the entry's key together with the child
// pointer on its right side.
func (p *BTreeInternalPage) DeleteKeyAndRightChild(e *BTreeEntry) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	slot, err := p.entrySlot(e)
	if err != nil {
		return err
	}
	page.ClearBit(p.header, slot)
	p.keys[slot] = nil
	e.SetRecordID(nil)
	return nil
}

// DeleteKeyAndLeftChild removes the entry's key together with the child
// pointer on its left side: the entry's right child takes over the slot of
// the nearest occupied slot below, and the entry's own slot is freed.
func (p *BTreeInternalPage) DeleteKeyAndLeftChild(e *BTreeEntry) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	slot, err := p.entrySlot(e)
	if err != nil {
		return err
	}
	for i := slot - 1; i >= 0; i-- {
		if page.IsSet(p.header, i) {
			p.children[i] = p.children[slot]
			page.ClearBit(p.header, slot)
			p.keys[slot] = nil
			e.SetRecordID(nil)
			return nil
		}
	}
	return dberr.New(dberr.DbException, "no occupied slot left of entry slot %d", slot)
}

// UpdateEntry writes the entry's key and right child back into its slot.
func (p *BTreeInternalPage) UpdateEntry(e *BTreeEntry) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	slot, err := p.entrySlot(e)
	if err != nil {
		return err
	}

	// the updated key must keep the page sorted
	for i := slot + 1; i < p.numSlots; i++ {
		if page.IsSet(p.header, i) {
			if lt, err := p.keys[i].Compare(primitives.LessThan, e.GetKey()); err != nil {
				return err
			} else if lt {
				return dberr.New(dberr.DbException, "updated key would break sort order above slot %d", slot)
			}
			break
		}
	}
	for i := slot - 1; i > 0; i-- {
		if page.IsSet(p.header, i) {
			if gt, err := p.keys[i].Compare(primitives.GreaterThan, e.GetKey()); err != nil {
				return err
			} else if gt {
				return dberr.New(dberr.DbException, "updated key would break sort order below slot %d", slot)
			}
			break
		}
	}

	p.children[slot] = e.GetRightChild().PageNo()
	p.keys[slot] = e.GetKey()
	return nil
}

func (p *BTreeInternalPage) entrySlot(e *BTreeEntry) (int, error) {
	rid := e.GetRecordID()
	if rid == nil {
		return 0, dberr.New(dberr.DbException, "entry is not stored on any page")
	}
	if !rid.PageID.Equals(p.pid) {
		return 0, dberr.New(dberr.DbException, "entry is not on this page")
	}
	slot := int(rid.SlotNum)
	if slot < 1 || slot >= p.numSlots || !page.IsSet(p.header, slot) {
		return 0, dberr.New(dberr.DbException, "entry slot %d is empty", slot)
	}
	return slot, nil
}

// snapshotEntries returns the entries in ascending key order, each carrying
// its slot's record id.
func (p *BTreeInternalPage) snapshotEntries() []*BTreeEntry {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	entries := make([]*BTreeEntry, 0, p.numSlots-1-p.getNumEmptySlots())
	prevChildSlot := 0
	for i := 1; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) {
			continue
		}
		e := NewBTreeEntry(p.keys[i], p.childID(prevChildSlot), p.childID(i))
		e.SetRecordID(tuple.NewRecordID(p.pid, primitives.SlotID(i)))
		entries = append(entries, e)
		prevChildSlot = i
	}
	return entries
}

// Iterator yields the page's entries in ascending key order.
func (p *BTreeInternalPage) Iterator() *BTreeEntryIterator {
	return newBTreeEntryIterator(p.snapshotEntries(), false)
}

// ReverseIterator yields the page's entries in descending key order.
func (p *BTreeInternalPage) ReverseIterator() *BTreeEntryIterator {
	return newBTreeEntryIterator(p.snapshotEntries(), true)
}

// IsDirty returns the transaction that last dirtied this page, or nil.
func (p *BTreeInternalPage) IsDirty() *transaction.TransactionID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.dirtier
}

// MarkDirty sets or clears the dirty state.
func (p *BTreeInternalPage) MarkDirty(dirty bool, tid *transaction.TransactionID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if dirty {
		p.dirtier = tid
	} else {
		p.dirtier = nil
	}
}

// GetPageData re-encodes the page into exactly page.PageSize bytes.
func (p *BTreeInternalPage) GetPageData() []byte {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.getPageData()
}

func (p *BTreeInternalPage) getPageData() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, page.PageSize))

	var fixed [5]byte
	binary.BigEndian.PutUint32(fixed[0:4], uint32(p.parent))
	fixed[4] = byte(p.childCategory)
	buf.Write(fixed[:])
	buf.Write(p.header)

	keySize := int(p.keyType.Size())
	emptyKey := make([]byte, keySize)
	for i := 1; i < p.numSlots; i++ {
		if !page.IsSet(p.header, i) || p.keys[i] == nil {
			buf.Write(emptyKey)
			continue
		}
		if err := p.keys[i].Serialize(buf); err != nil {
			panic("internal page re-encode failed: " + err.Error())
		}
	}

	var child [4]byte
	for i := 0; i < p.numSlots; i++ {
		binary.BigEndian.PutUint32(child[:], uint32(p.children[i]))
		buf.Write(child[:])
	}

	data := make([]byte, page.PageSize)
	copy(data, buf.Bytes())
	return data
}

// GetBeforeImage returns a page decoded from the before-image bytes.
func (p *BTreeInternalPage) GetBeforeImage() page.Page {
	p.mutex.RLock()
	oldData := p.oldData
	p.mutex.RUnlock()

	before, err := NewBTreeInternalPage(p.pid, oldData, p.keyType)
	if err != nil {
		panic("internal page before-image no longer decodes: " + err.Error())
	}
	return before
}

// SetBeforeImage captures the current content as the new before image.
func (p *BTreeInternalPage) SetBeforeImage() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.oldData = p.getPageData()
}

// BTreeEntryIterator walks a snapshot of an internal page's entries.
type BTreeEntryIterator struct {
	entries []*BTreeEntry
	reverse bool
	pos     int
}

func newBTreeEntryIterator(entries []*BTreeEntry, reverse bool) *BTreeEntryIterator {
	return &BTreeEntryIterator{entries: entries, reverse: reverse}
}

// HasNext reports whether more entries are available.
func (it *BTreeEntryIterator) HasNext() bool {
	return it.pos < len(it.entries)
}

// Next returns the next entry.
func (it *BTreeEntryIterator) Next() (*BTreeEntry, error) {
	if !it.HasNext() {
		return nil, dberr.New(dberr.DbException, "no more entries")
	}
	var e *BTreeEntry
	if it.reverse {
		e = it.entries[len(it.entries)-1-it.pos]
	} else {
		e = it.entries[it.pos]
	}
	it.pos++
	return e, nil
}
