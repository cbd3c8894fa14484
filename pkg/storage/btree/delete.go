package btree

import (
	"github.com/sirupsen/logrus"

	"pagedb/pkg/dberr"
	"pagedb/pkg/logger"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
)

// stealThreshold returns the largest number of empty slots a page may have
// before it is considered under-occupied: a non-root page must keep at least
// ceil(max/2) elements, so more than max - ceil(max/2) empties is underflow.
func stealThreshold(max int) int {
	return max - (max - max/2)
}

// DeleteTuple removes t from the leaf named by its record id, rebalancing
// (steal or merge, possibly collapsing the root) when the leaf falls below
// minimum occupancy. Returns every page dirtied by the operation.
func (f *BTreeFile) DeleteTuple(tid *transaction.TransactionID, t *tuple.Tuple) ([]page.Page, error) {
	if t.RecordID == nil {
		return nil, dberr.New(dberr.DbException, "tuple has no record id")
	}

	dirty := dirtyMap{}
	pid := NewBTreePageID(f.GetID(), t.RecordID.PageID.PageNo(), Leaf)

	leaf, err := f.getLeafPage(tid, dirty, pid, page.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := leaf.DeleteTuple(t); err != nil {
		return nil, err
	}
	leaf.MarkDirty(true, tid)

	if leaf.GetNumEmptySlots() > stealThreshold(leaf.GetMaxTuples()) {
		if err := f.handleMinOccupancyPage(tid, dirty, leaf); err != nil {
			return nil, err
		}
	}
	return dirty.pages(), nil
}

// handleMinOccupancyPage rebalances a page that fell below minimum
// occupancy. The siblings are discovered through the parent so they are
// guaranteed to share it: the entry whose left child is the page names the
// right sibling, the entry whose right child is the page names the left.
func (f *BTreeFile) handleMinOccupancyPage(tid *transaction.TransactionID, dirty dirtyMap, pg btreePage) error {
	parentID := pg.GetParentID()

	var parent *BTreeInternalPage
	var leftEntry, rightEntry *BTreeEntry

	if parentID.Category() != RootPtr {
		var err error
		parent, err = f.getInternalPage(tid, dirty, parentID, page.ReadWrite)
		if err != nil {
			return err
		}

		it := parent.Iterator()
		for it.HasNext() {
			e, err := it.Next()
			if err != nil {
				return err
			}
			if e.GetLeftChild().Equals(pg.BTreeID()) {
				rightEntry = e
				break
			} else if e.GetRightChild().Equals(pg.BTreeID()) {
				leftEntry = e
			}
		}
	}

	switch typed := pg.(type) {
	case *BTreeLeafPage:
		return f.handleMinOccupancyLeafPage(tid, dirty, typed, parent, leftEntry, rightEntry)
	case *BTreeInternalPage:
		return f.handleMinOccupancyInternalPage(tid, dirty, typed, parent, leftEntry, rightEntry)
	default:
		return dberr.New(dberr.DbException, "page %s cannot underflow", pg.GetID())
	}
}

// handleMinOccupancyLeafPage rebalances an under-occupied leaf: prefer the
// left sibling when present; merge when the chosen sibling is itself at
// minimum occupancy, steal otherwise.
func (f *BTreeFile) handleMinOccupancyLeafPage(tid *transaction.TransactionID, dirty dirtyMap, pg *BTreeLeafPage,
	parent *BTreeInternalPage, leftEntry, rightEntry *BTreeEntry) error {

	var leftSiblingID, rightSiblingID *BTreePageID
	if leftEntry != nil {
		leftSiblingID = leftEntry.GetLeftChild()
	}
	if rightEntry != nil {
		rightSiblingID = rightEntry.GetRightChild()
	}

	mergeThreshold := stealThreshold(pg.GetMaxTuples())

	if leftSiblingID != nil {
		leftSibling, err := f.getLeafPage(tid, dirty, leftSiblingID, page.ReadWrite)
		if err != nil {
			return err
		}
		if leftSibling.GetNumEmptySlots() >= mergeThreshold {
			return f.mergeLeafPages(tid, dirty, leftSibling, pg, parent, leftEntry)
		}
		return f.stealFromLeafPage(tid, pg, leftSibling, parent, leftEntry, false)
	}

	if rightSiblingID != nil {
		rightSibling, err := f.getLeafPage(tid, dirty, rightSiblingID, page.ReadWrite)
		if err != nil {
			return err
		}
		if rightSibling.GetNumEmptySlots() >= mergeThreshold {
			return f.mergeLeafPages(tid, dirty, pg, rightSibling, parent, rightEntry)
		}
		return f.stealFromLeafPage(tid, pg, rightSibling, parent, rightEntry, true)
	}
	return nil
}

// stealFromLeafPage evens out two leaves by moving tuples from the richer
// sibling's inner edge into pg, then repoints the separating entry at the
// new first key of whichever page sits on the right.
func (f *BTreeFile) stealFromLeafPage(tid *transaction.TransactionID, pg, sibling *BTreeLeafPage,
	parent *BTreeInternalPage, entry *BTreeEntry, siblingIsRight bool) error {

	moveCount := (sibling.GetNumTuples() - pg.GetNumTuples()) / 2
	if moveCount <= 0 {
		return nil
	}

	var it *BTreeLeafPageIterator
	var rhs *BTreeLeafPage
	if siblingIsRight {
		// take from the front of the right sibling
		rhs = sibling
		it = sibling.Iterator()
	} else {
		// take from the back of the left sibling
		rhs = pg
		it = sibling.ReverseIterator()
	}

	toMove := make([]*tuple.Tuple, 0, moveCount)
	for len(toMove) < moveCount && it.HasNext() {
		t, err := it.Next()
		if err != nil {
			return err
		}
		toMove = append(toMove, t)
	}

	for _, t := range toMove {
		if err := sibling.DeleteTuple(t); err != nil {
			return err
		}
		if err := pg.InsertTuple(t); err != nil {
			return err
		}
	}

	// the separator must equal the first key of the right-hand page
	rhsIt := rhs.Iterator()
	if rhsIt.HasNext() {
		first, err := rhsIt.Next()
		if err != nil {
			return err
		}
		key, err := first.GetField(f.keyField)
		if err != nil {
			return err
		}
		entry.SetKey(key)
		if err := parent.UpdateEntry(entry); err != nil {
			return err
		}
	}

	pg.MarkDirty(true, tid)
	sibling.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)
	return nil
}

// handleMinOccupancyInternalPage rebalances an under-occupied internal page.
func (f *BTreeFile) handleMinOccupancyInternalPage(tid *transaction.TransactionID, dirty dirtyMap, pg *BTreeInternalPage,
	parent *BTreeInternalPage, leftEntry, rightEntry *BTreeEntry) error {

	var leftSiblingID, rightSiblingID *BTreePageID
	if leftEntry != nil {
		leftSiblingID = leftEntry.GetLeftChild()
	}
	if rightEntry != nil {
		rightSiblingID = rightEntry.GetRightChild()
	}

	mergeThreshold := stealThreshold(pg.GetMaxEntries())

	if leftSiblingID != nil {
		leftSibling, err := f.getInternalPage(tid, dirty, leftSiblingID, page.ReadWrite)
		if err != nil {
			return err
		}
		if leftSibling.GetNumEmptySlots() >= mergeThreshold {
			return f.mergeInternalPages(tid, dirty, leftSibling, pg, parent, leftEntry)
		}
		return f.stealFromLeftInternalPage(tid, dirty, pg, leftSibling, parent, leftEntry)
	}

	if rightSiblingID != nil {
		rightSibling, err := f.getInternalPage(tid, dirty, rightSiblingID, page.ReadWrite)
		if err != nil {
			return err
		}
		if rightSibling.GetNumEmptySlots() >= mergeThreshold {
			return f.mergeInternalPages(tid, dirty, pg, rightSibling, parent, rightEntry)
		}
		return f.stealFromRightInternalPage(tid, dirty, pg, rightSibling, parent, rightEntry)
	}
	return nil
}

// stealFromLeftInternalPage moves entries from the left sibling into pg,
// rotating keys through the parent: each step pulls the current separator
// down into pg and pushes the sibling's last key up to replace it. Moved
// child subtrees are re-parented to pg.
func (f *BTreeFile) stealFromLeftInternalPage(tid *transaction.TransactionID, dirty dirtyMap,
	pg, leftSibling *BTreeInternalPage, parent *BTreeInternalPage, leftEntry *BTreeEntry) error {

	moveCount := (leftSibling.GetNumEntries() - pg.GetNumEntries()) / 2
	if moveCount <= 0 {
		return nil
	}

	toMove := make([]*BTreeEntry, 0, moveCount)
	it := leftSibling.ReverseIterator()
	for len(toMove) < moveCount && it.HasNext() {
		e, err := it.Next()
		if err != nil {
			return err
		}
		toMove = append(toMove, e)
	}

	for _, e := range toMove {
		if err := leftSibling.DeleteKeyAndRightChild(e); err != nil {
			return err
		}
		if err := f.updateParentPointer(tid, dirty, pg.BTreeID(), e.GetRightChild()); err != nil {
			return err
		}
		movedChild := e.GetRightChild()

		// push the sibling's key up into the separator slot
		e.SetLeftChild(leftEntry.GetLeftChild())
		e.SetRightChild(leftEntry.GetRightChild())
		e.SetRecordID(leftEntry.GetRecordID())
		if err := parent.UpdateEntry(e); err != nil {
			return err
		}

		// pull the old separator key down in front of pg's entries
		leftEntry.SetLeftChild(movedChild)
		pgIt := pg.Iterator()
		if !pgIt.HasNext() {
			return dberr.New(dberr.DbException, "internal page %s has no entries", pg.GetID())
		}
		first, err := pgIt.Next()
		if err != nil {
			return err
		}
		leftEntry.SetRightChild(first.GetLeftChild())
		if err := pg.InsertEntry(leftEntry); err != nil {
			return err
		}

		leftEntry = e
	}

	parent.MarkDirty(true, tid)
	leftSibling.MarkDirty(true, tid)
	pg.MarkDirty(true, tid)
	dirty.put(parent)
	dirty.put(leftSibling)
	dirty.put(pg)
	return nil
}

// stealFromRightInternalPage is the mirror image: entries move from the
// front of the right sibling, the separator rotates down into pg and the
// sibling's first key rotates up.
func (f *BTreeFile) stealFromRightInternalPage(tid *transaction.TransactionID, dirty dirtyMap,
	pg, rightSibling *BTreeInternalPage, parent *BTreeInternalPage, rightEntry *BTreeEntry) error {

	moveCount := (rightSibling.GetNumEntries() - pg.GetNumEntries()) / 2
	if moveCount <= 0 {
		return nil
	}

	toMove := make([]*BTreeEntry, 0, moveCount)
	it := rightSibling.Iterator()
	for len(toMove) < moveCount && it.HasNext() {
		e, err := it.Next()
		if err != nil {
			return err
		}
		toMove = append(toMove, e)
	}

	for _, e := range toMove {
		if err := rightSibling.DeleteKeyAndLeftChild(e); err != nil {
			return err
		}
		if err := f.updateParentPointer(tid, dirty, pg.BTreeID(), e.GetLeftChild()); err != nil {
			return err
		}
		movedChild := e.GetLeftChild()

		e.SetLeftChild(rightEntry.GetLeftChild())
		e.SetRightChild(rightEntry.GetRightChild())
		e.SetRecordID(rightEntry.GetRecordID())
		if err := parent.UpdateEntry(e); err != nil {
			return err
		}

		rightEntry.SetRightChild(movedChild)
		pgIt := pg.ReverseIterator()
		if !pgIt.HasNext() {
			return dberr.New(dberr.DbException, "internal page %s has no entries", pg.GetID())
		}
		last, err := pgIt.Next()
		if err != nil {
			return err
		}
		rightEntry.SetLeftChild(last.GetRightChild())
		if err := pg.InsertEntry(rightEntry); err != nil {
			return err
		}

		rightEntry = e
	}

	parent.MarkDirty(true, tid)
	rightSibling.MarkDirty(true, tid)
	pg.MarkDirty(true, tid)
	dirty.put(parent)
	dirty.put(rightSibling)
	dirty.put(pg)
	return nil
}

// mergeLeafPages folds the right leaf into the left one: tuples move left,
// the sibling chain is spliced around the right page, the right page is
// handed to the free list and the separating entry is deleted from the
// parent.
func (f *BTreeFile) mergeLeafPages(tid *transaction.TransactionID, dirty dirtyMap,
	left, right *BTreeLeafPage, parent *BTreeInternalPage, parentEntry *BTreeEntry) error {

	toMove := right.snapshotTuples()
	for _, t := range toMove {
		if err := right.DeleteTuple(t); err != nil {
			return err
		}
		if err := left.InsertTuple(t); err != nil {
			return err
		}
	}

	rightSiblingID := right.GetRightSiblingID()
	if err := left.SetRightSiblingID(rightSiblingID); err != nil {
		return err
	}
	if rightSiblingID != nil {
		rightSibling, err := f.getLeafPage(tid, dirty, rightSiblingID, page.ReadWrite)
		if err != nil {
			return err
		}
		if err := rightSibling.SetLeftSiblingID(left.BTreeID()); err != nil {
			return err
		}
		rightSibling.MarkDirty(true, tid)
	}

	left.MarkDirty(true, tid)
	dirty.put(left)

	if err := f.setEmptyPage(tid, dirty, right.BTreeID().PageNo()); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"table": f.GetID(),
		"left":  left.BTreeID().PageNo(),
		"right": right.BTreeID().PageNo(),
	}).Debugf("merged leaf pages")

	return f.deleteParentEntry(tid, dirty, left, parent, parentEntry)
}

// mergeInternalPages folds the right internal page into the left one. The
// parent separator's key is pulled down between the two halves, every child
// of the right page is re-parented to the left, and the separating entry is
// deleted from the parent.
func (f *BTreeFile) mergeInternalPages(tid *transaction.TransactionID, dirty dirtyMap,
	left, right *BTreeInternalPage, parent *BTreeInternalPage, parentEntry *BTreeEntry) error {

	if err := f.deleteParentEntry(tid, dirty, left, parent, parentEntry); err != nil {
		return err
	}

	// pull the separator down between the halves
	leftIt := left.ReverseIterator()
	if !leftIt.HasNext() {
		return dberr.New(dberr.DbException, "internal page %s has no entries", left.GetID())
	}
	leftLast, err := leftIt.Next()
	if err != nil {
		return err
	}
	rightIt := right.Iterator()
	if !rightIt.HasNext() {
		return dberr.New(dberr.DbException, "internal page %s has no entries", right.GetID())
	}
	rightFirst, err := rightIt.Next()
	if err != nil {
		return err
	}

	parentEntry.SetLeftChild(leftLast.GetRightChild())
	parentEntry.SetRightChild(rightFirst.GetLeftChild())
	if err := left.InsertEntry(parentEntry); err != nil {
		return err
	}
	if err := f.updateParentPointer(tid, dirty, left.BTreeID(), parentEntry.GetRightChild()); err != nil {
		return err
	}

	for _, e := range right.snapshotEntries() {
		if err := right.DeleteKeyAndLeftChild(e); err != nil {
			return err
		}
		if err := f.updateParentPointer(tid, dirty, left.BTreeID(), e.GetRightChild()); err != nil {
			return err
		}
		if err := left.InsertEntry(e); err != nil {
			return err
		}
	}

	left.MarkDirty(true, tid)
	dirty.put(left)

	logger.WithFields(logrus.Fields{
		"table": f.GetID(),
		"left":  left.BTreeID().PageNo(),
		"right": right.BTreeID().PageNo(),
	}).Debugf("merged internal pages")

	return f.setEmptyPage(tid, dirty, right.BTreeID().PageNo())
}

// deleteParentEntry removes an entry (key and right child) from the parent
// after a merge. An emptied parent must be the root: the merged child is
// promoted to root and the old root freed. A parent merely under minimum
// occupancy rebalances recursively.
func (f *BTreeFile) deleteParentEntry(tid *transaction.TransactionID, dirty dirtyMap,
	leftRemainder btreePage, parent *BTreeInternalPage, parentEntry *BTreeEntry) error {

	if err := parent.DeleteKeyAndRightChild(parentEntry); err != nil {
		return err
	}
	parent.MarkDirty(true, tid)
	dirty.put(parent)

	if parent.GetNumEmptySlots() == parent.GetMaxEntries() {
		// the root just lost its last entry: the merged child takes over
		rootPtrID := parent.GetParentID()
		if rootPtrID.Category() != RootPtr {
			return dberr.New(dberr.DbException, "attempting to delete a non-root node")
		}

		rp, err := f.getPage(tid, dirty, rootPtrID, page.ReadWrite)
		if err != nil {
			return err
		}
		rootPtr, ok := rp.(*BTreeRootPtrPage)
		if !ok {
			return dberr.New(dberr.DbException, "page %s is not the root pointer page", rootPtrID)
		}

		if err := leftRemainder.SetParentID(rootPtrID); err != nil {
			return err
		}
		if err := rootPtr.SetRootID(leftRemainder.BTreeID()); err != nil {
			return err
		}
		rootPtr.MarkDirty(true, tid)
		leftRemainder.MarkDirty(true, tid)
		dirty.put(leftRemainder)

		logger.WithFields(logrus.Fields{
			"table":   f.GetID(),
			"newRoot": leftRemainder.BTreeID().PageNo(),
		}).Debugf("collapsed root")

		return f.setEmptyPage(tid, dirty, parent.BTreeID().PageNo())
	}

	if parent.GetNumEmptySlots() > stealThreshold(parent.GetMaxEntries()) {
		return f.handleMinOccupancyPage(tid, dirty, parent)
	}
	return nil
}
