package btree

import (
	"github.com/sirupsen/logrus"

	"pagedb/pkg/dberr"
	"pagedb/pkg/logger"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
)

// getEmptyPageNo returns the number of a page free for reuse, preferring
// freed pages recorded in the header chain over extending the file. A reused
// page's bit is flipped to allocated; when no header page offers a free slot
// the file grows by one zeroed page at EOF (atomically, under the file
// handle's lock).
func (f *BTreeFile) getEmptyPageNo(tid *transaction.TransactionID, dirty dirtyMap) (primitives.PageNumber, error) {
	rootPtr, err := f.getRootPtrPage(tid, dirty)
	if err != nil {
		return 0, err
	}

	headerID := rootPtr.GetHeaderID()
	headerPageCount := 0

	if headerID != nil {
		hp, err := f.getHeaderPage(tid, dirty, headerID, page.ReadOnly)
		if err != nil {
			return 0, err
		}

		for hp != nil && hp.GetEmptySlot() == -1 {
			headerID = hp.GetNextPageID()
			if headerID == nil {
				hp = nil
				break
			}
			hp, err = f.getHeaderPage(tid, dirty, headerID, page.ReadOnly)
			if err != nil {
				return 0, err
			}
			headerPageCount++
		}

		if hp != nil {
			hp, err = f.getHeaderPage(tid, dirty, headerID, page.ReadWrite)
			if err != nil {
				return 0, err
			}
			slot := hp.GetEmptySlot()
			if slot == -1 {
				return 0, dberr.New(dberr.DbException, "header page %s lost its free slot", headerID)
			}
			hp.MarkSlotUsed(slot, true)
			hp.MarkDirty(true, tid)

			pageNo := primitives.PageNumber(headerPageCount*NumHeaderSlots() + slot + 1)
			logger.WithFields(logrus.Fields{
				"table": f.GetID(),
				"page":  pageNo,
			}).Debugf("reusing freed page")
			return pageNo, nil
		}
	}

	// no header page with a free slot: extend the file
	offset, err := f.Append(page.CreateEmptyPageData())
	if err != nil {
		return 0, err
	}
	return primitives.PageNumber((offset-RootPtrPageSize)/int64(page.PageSize)) + 1, nil
}

// getEmptyPage produces a fresh, zero-wiped page of the requested category,
// fetched through the buffer pool under write permission. Stale cached
// copies of the page number (under any category it may previously have had)
// are evicted first so no old content can resurface.
func (f *BTreeFile) getEmptyPage(tid *transaction.TransactionID, dirty dirtyMap, category PageCategory) (page.Page, error) {
	pageNo, err := f.getEmptyPageNo(tid, dirty)
	if err != nil {
		return nil, err
	}

	if err := f.WriteRegion(pageOffset(pageNo), page.CreateEmptyPageData()); err != nil {
		return nil, err
	}

	for _, cat := range []PageCategory{Internal, Leaf, Header} {
		stale := NewBTreePageID(f.GetID(), pageNo, cat)
		f.pool.DiscardPage(stale)
		dirty.remove(stale)
	}

	pid := NewBTreePageID(f.GetID(), pageNo, category)
	return f.getPage(tid, dirty, pid, page.ReadWrite)
}

func (f *BTreeFile) getEmptyLeafPage(tid *transaction.TransactionID, dirty dirtyMap) (*BTreeLeafPage, error) {
	p, err := f.getEmptyPage(tid, dirty, Leaf)
	if err != nil {
		return nil, err
	}
	return p.(*BTreeLeafPage), nil
}

func (f *BTreeFile) getEmptyInternalPage(tid *transaction.TransactionID, dirty dirtyMap) (*BTreeInternalPage, error) {
	p, err := f.getEmptyPage(tid, dirty, Internal)
	if err != nil {
		return nil, err
	}
	return p.(*BTreeInternalPage), nil
}

func (f *BTreeFile) getEmptyHeaderPage(tid *transaction.TransactionID, dirty dirtyMap) (*BTreeHeaderPage, error) {
	p, err := f.getEmptyPage(tid, dirty, Header)
	if err != nil {
		return nil, err
	}
	return p.(*BTreeHeaderPage), nil
}

// getHeaderPage fetches a page known to be a header page.
func (f *BTreeFile) getHeaderPage(tid *transaction.TransactionID, dirty dirtyMap, pid *BTreePageID, perm page.Permissions) (*BTreeHeaderPage, error) {
	p, err := f.getPage(tid, dirty, pid, perm)
	if err != nil {
		return nil, err
	}
	hp, ok := p.(*BTreeHeaderPage)
	if !ok {
		return nil, dberr.New(dberr.DbException, "page %s is not a header page", pid)
	}
	return hp, nil
}

// setEmptyPage records pageNo as free for reuse, extending the header chain
// until some header page covers it. Header page h (zero-based) covers page
// numbers h*NumHeaderSlots()+1 through (h+1)*NumHeaderSlots().
func (f *BTreeFile) setEmptyPage(tid *transaction.TransactionID, dirty dirtyMap, pageNo primitives.PageNumber) error {
	rootPtr, err := f.getRootPtrPage(tid, dirty)
	if err != nil {
		return err
	}

	headerID := rootPtr.GetHeaderID()
	var prevID *BTreePageID
	headerPageCount := 0

	// lazily create the first header page
	if headerID == nil {
		rp, err := f.getPage(tid, dirty, RootPtrPageID(f.GetID()), page.ReadWrite)
		if err != nil {
			return err
		}
		rootPtr = rp.(*BTreeRootPtrPage)

		headerPage, err := f.getEmptyHeaderPage(tid, dirty)
		if err != nil {
			return err
		}
		headerPage.Init()
		headerPage.MarkDirty(true, tid)
		headerID = headerPage.BTreeID()
		if err := rootPtr.SetHeaderID(headerID); err != nil {
			return err
		}
		rootPtr.MarkDirty(true, tid)
	}

	slotsPerHeader := NumHeaderSlots()
	target := (int(pageNo) - 1) / slotsPerHeader

	// walk existing header pages toward the one covering pageNo
	for headerID != nil && headerPageCount < target {
		hp, err := f.getHeaderPage(tid, dirty, headerID, page.ReadOnly)
		if err != nil {
			return err
		}
		prevID = headerID
		headerID = hp.GetNextPageID()
		headerPageCount++
	}

	// the chain may end before the covering header exists: append header
	// pages until header number `target` is present
	for headerID == nil {
		prevPage, err := f.getHeaderPage(tid, dirty, prevID, page.ReadWrite)
		if err != nil {
			return err
		}

		headerPage, err := f.getEmptyHeaderPage(tid, dirty)
		if err != nil {
			return err
		}
		headerPage.Init()
		headerID = headerPage.BTreeID()
		if err := headerPage.SetPrevPageID(prevID); err != nil {
			return err
		}
		if err := prevPage.SetNextPageID(headerID); err != nil {
			return err
		}
		headerPage.MarkDirty(true, tid)
		prevPage.MarkDirty(true, tid)

		if headerPageCount < target {
			prevID = headerID
			headerID = nil
			headerPageCount++
		}
	}

	hp, err := f.getHeaderPage(tid, dirty, headerID, page.ReadWrite)
	if err != nil {
		return err
	}
	slot := int(pageNo) - headerPageCount*slotsPerHeader - 1
	hp.MarkSlotUsed(slot, false)
	hp.MarkDirty(true, tid)

	logger.WithFields(logrus.Fields{
		"table": f.GetID(),
		"page":  pageNo,
	}).Debugf("freed page for reuse")
	return nil
}
