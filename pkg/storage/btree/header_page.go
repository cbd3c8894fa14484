package btree

import (
	"encoding/binary"
	"sync"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
)

// BTreeHeaderPage is one link of the free-page bitmap chain. Layout: a 4-byte
// previous-header page number, a 4-byte next-header page number (0 = none),
// then an LSB-first bitmap filling the rest of the page.
//
// Bit k of header page h (zero-based along the chain) tracks page number
// h*NumHeaderSlots() + k + 1; the root-pointer page is never tracked. A set
// bit means the page is allocated, a clear bit means it is free for reuse.
type BTreeHeaderPage struct {
	pid *BTreePageID

	prevPage primitives.PageNumber
	nextPage primitives.PageNumber
	bitmap   []byte
	numSlots int

	dirtier *transaction.TransactionID
	oldData []byte
	mutex   sync.RWMutex
}

// NumHeaderSlots returns how many page numbers one header page tracks.
func NumHeaderSlots() int {
	return (page.PageSize - 8) * 8
}

// NewBTreeHeaderPage decodes a header page from its on-disk bytes.
func NewBTreeHeaderPage(pid *BTreePageID, data []byte) (*BTreeHeaderPage, error) {
	if len(data) != page.PageSize {
		return nil, dberr.New(dberr.IllegalArgument,
			"invalid header page data size: expected %d, got %d", page.PageSize, len(data))
	}
	if pid.Category() != Header {
		return nil, dberr.New(dberr.IllegalArgument, "page id %s is not a header page id", pid)
	}

	p := &BTreeHeaderPage{
		pid:      pid,
		prevPage: primitives.PageNumber(binary.BigEndian.Uint32(data[0:4])),
		nextPage: primitives.PageNumber(binary.BigEndian.Uint32(data[4:8])),
		bitmap:   make([]byte, page.PageSize-8),
		numSlots: NumHeaderSlots(),
	}
	copy(p.bitmap, data[8:])
	p.oldData = p.getPageData()
	return p, nil
}

// Init marks every tracked page as allocated. A fresh header page must not
// offer pages for reuse until something is explicitly freed.
func (p *BTreeHeaderPage) Init() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := range p.bitmap {
		p.bitmap[i] = 0xFF
	}
}

// GetID returns the page id.
func (p *BTreeHeaderPage) GetID() primitives.PageID {
	return p.pid
}

// BTreeID returns the id with its B+-tree category tag.
func (p *BTreeHeaderPage) BTreeID() *BTreePageID {
	return p.pid
}

// GetPrevPageID returns the previous header page id, or nil.
func (p *BTreeHeaderPage) GetPrevPageID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.prevPage == primitives.InvalidPageNumber {
		return nil
	}
	return NewBTreePageID(p.pid.GetTableID(), p.prevPage, Header)
}

// SetPrevPageID links the previous header page.
func (p *BTreeHeaderPage) SetPrevPageID(id *BTreePageID) error {
	return p.setLink(&p.prevPage, id)
}

// GetNextPageID returns the next header page id, or nil.
func (p *BTreeHeaderPage) GetNextPageID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.nextPage == primitives.InvalidPageNumber {
		return nil
	}
	return NewBTreePageID(p.pid.GetTableID(), p.nextPage, Header)
}

// SetNextPageID links the next header page.
func (p *BTreeHeaderPage) SetNextPageID(id *BTreePageID) error {
	return p.setLink(&p.nextPage, id)
}

func (p *BTreeHeaderPage) setLink(slot *primitives.PageNumber, id *BTreePageID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id == nil {
		*slot = primitives.InvalidPageNumber
		return nil
	}
	if id.GetTableID() != p.pid.GetTableID() || id.Category() != Header {
		return dberr.New(dberr.DbException, "header link must reference a header page of this table")
	}
	*slot = id.PageNo()
	return nil
}

// GetEmptySlot returns the index of the first clear bit, or -1 when every
// tracked page is allocated.
func (p *BTreeHeaderPage) GetEmptySlot() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for i := 0; i < p.numSlots; i++ {
		if !page.IsSet(p.bitmap, i) {
			return i
		}
	}
	return -1
}

// IsSlotUsed reports whether slot i is marked allocated.
func (p *BTreeHeaderPage) IsSlotUsed(i int) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if i < 0 || i >= p.numSlots {
		return false
	}
	return page.IsSet(p.bitmap, i)
}

// MarkSlotUsed sets or clears the allocation bit for slot i.
func (p *BTreeHeaderPage) MarkSlotUsed(i int, used bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if i < 0 || i >= p.numSlots {
		return
	}
	if used {
		page.SetBit(p.bitmap, i)
	} else {
		page.ClearBit(p.bitmap, i)
	}
}

// IsDirty returns the transaction that last dirtied this page, or nil.
func (p *BTreeHeaderPage) IsDirty() *transaction.TransactionID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.dirtier
}

// MarkDirty sets or clears the dirty state.
func (p *BTreeHeaderPage) MarkDirty(dirty bool, tid *transaction.TransactionID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if dirty {
		p.dirtier = tid
	} else {
		p.dirtier = nil
	}
}

// GetPageData re-encodes the page into exactly page.PageSize bytes.
func (p *BTreeHeaderPage) GetPageData() []byte {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.getPageData()
}

func (p *BTreeHeaderPage) getPageData() []byte {
	data := make([]byte, page.PageSize)
	binary.BigEndian.PutUint32(data[0:4], uint32(p.prevPage))
	binary.BigEndian.PutUint32(data[4:8], uint32(p.nextPage))
	copy(data[8:], p.bitmap)
	return data
}

// GetBeforeImage returns a page decoded from the before-image bytes.
func (p *BTreeHeaderPage) GetBeforeImage() page.Page {
	p.mutex.RLock()
	oldData := p.oldData
	p.mutex.RUnlock()

	before, err := NewBTreeHeaderPage(p.pid, oldData)
	if err != nil {
		panic("header page before-image no longer decodes: " + err.Error())
	}
	return before
}

// SetBeforeImage captures the current content as the new before image.
func (p *BTreeHeaderPage) SetBeforeImage() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.oldData = p.getPageData()
}
