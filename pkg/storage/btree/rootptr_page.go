package btree

import (
	"encoding/binary"
	"sync"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
)

// RootPtrPageSize is the on-disk size of the root-pointer page: a 4-byte root
// page number, a 1-byte root category and a 4-byte first-header page number.
// A stored page number of 0 means null.
const RootPtrPageSize = 9

// BTreeRootPtrPage is the sole fixed-size page at offset 0 of a B+-tree file.
// It records which page is the current root and where the header-page chain
// for free-page tracking starts.
type BTreeRootPtrPage struct {
	pid *BTreePageID

	rootPage     primitives.PageNumber
	rootCategory PageCategory
	headerPage   primitives.PageNumber

	dirtier *transaction.TransactionID
	oldData []byte
	mutex   sync.RWMutex
}

// NewBTreeRootPtrPage decodes the root-pointer page from its on-disk bytes.
func NewBTreeRootPtrPage(pid *BTreePageID, data []byte) (*BTreeRootPtrPage, error) {
	if len(data) != RootPtrPageSize {
		return nil, dberr.New(dberr.IllegalArgument,
			"invalid root pointer data size: expected %d, got %d", RootPtrPageSize, len(data))
	}
	if pid.Category() != RootPtr {
		return nil, dberr.New(dberr.IllegalArgument, "page id %s is not a root pointer id", pid)
	}

	p := &BTreeRootPtrPage{
		pid:          pid,
		rootPage:     primitives.PageNumber(binary.BigEndian.Uint32(data[0:4])),
		rootCategory: PageCategory(data[4]),
		headerPage:   primitives.PageNumber(binary.BigEndian.Uint32(data[5:9])),
	}
	p.oldData = p.getPageData()
	return p, nil
}

// CreateEmptyRootPtrData returns the bytes of a root-pointer page with no
// root and no header chain.
func CreateEmptyRootPtrData() []byte {
	return make([]byte, RootPtrPageSize)
}

// GetID returns the page id.
func (p *BTreeRootPtrPage) GetID() primitives.PageID {
	return p.pid
}

// BTreeID returns the id with its B+-tree category tag.
func (p *BTreeRootPtrPage) BTreeID() *BTreePageID {
	return p.pid
}

// GetRootID returns the id of the tree's root page, or nil for an empty tree.
func (p *BTreeRootPtrPage) GetRootID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.rootPage == primitives.InvalidPageNumber {
		return nil
	}
	return NewBTreePageID(p.pid.GetTableID(), p.rootPage, p.rootCategory)
}

// SetRootID installs a new root. The id must be a leaf or internal page of
// the same table.
func (p *BTreeRootPtrPage) SetRootID(id *BTreePageID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id == nil {
		p.rootPage = primitives.InvalidPageNumber
		p.rootCategory = RootPtr
		return nil
	}
	if id.GetTableID() != p.pid.GetTableID() {
		return dberr.New(dberr.DbException, "root id table mismatch")
	}
	if id.Category() != Internal && id.Category() != Leaf {
		return dberr.New(dberr.DbException, "root must be a leaf or internal page, got %s", id.Category())
	}
	p.rootPage = id.PageNo()
	p.rootCategory = id.Category()
	return nil
}

// GetHeaderID returns the id of the first header page, or nil if the tree
// has never freed a page.
func (p *BTreeRootPtrPage) GetHeaderID() *BTreePageID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.headerPage == primitives.InvalidPageNumber {
		return nil
	}
	return NewBTreePageID(p.pid.GetTableID(), p.headerPage, Header)
}

// SetHeaderID installs the first header page of the free-list chain.
func (p *BTreeRootPtrPage) SetHeaderID(id *BTreePageID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id == nil {
		p.headerPage = primitives.InvalidPageNumber
		return nil
	}
	if id.GetTableID() != p.pid.GetTableID() || id.Category() != Header {
		return dberr.New(dberr.DbException, "header id must be a header page of this table")
	}
	p.headerPage = id.PageNo()
	return nil
}

// IsDirty returns the transaction that last dirtied this page, or nil.
func (p *BTreeRootPtrPage) IsDirty() *transaction.TransactionID {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.dirtier
}

// MarkDirty sets or clears the dirty state.
func (p *BTreeRootPtrPage) MarkDirty(dirty bool, tid *transaction.TransactionID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if dirty {
		p.dirtier = tid
	} else {
		p.dirtier = nil
	}
}

// GetPageData re-encodes the page into exactly RootPtrPageSize bytes.
func (p *BTreeRootPtrPage) GetPageData() []byte {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.getPageData()
}

func (p *BTreeRootPtrPage) getPageData() []byte {
	data := make([]byte, RootPtrPageSize)
	binary.BigEndian.PutUint32(data[0:4], uint32(p.rootPage))
	data[4] = byte(p.rootCategory)
	binary.BigEndian.PutUint32(data[5:9], uint32(p.headerPage))
	return data
}

// GetBeforeImage returns a page decoded from the before-image bytes.
func (p *BTreeRootPtrPage) GetBeforeImage() page.Page {
	p.mutex.RLock()
	oldData := p.oldData
	p.mutex.RUnlock()

	before, err := NewBTreeRootPtrPage(p.pid, oldData)
	if err != nil {
		panic("root pointer before-image no longer decodes: " + err.Error())
	}
	return before
}

// SetBeforeImage captures the current content as the new before image.
func (p *BTreeRootPtrPage) SetBeforeImage() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.oldData = p.getPageData()
}
