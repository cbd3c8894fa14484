package btree

import (
	"github.com/sirupsen/logrus"

	"pagedb/pkg/logger"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
	"pagedb/pkg/types"
)

// splitLeafPage makes room in a full leaf: a new right sibling is allocated,
// the upper half of the tuples move there, and the first key of the right
// half is copied up into the parent. Returns the leaf into which a tuple
// with the given key should be inserted.
func (f *BTreeFile) splitLeafPage(tid *transaction.TransactionID, dirty dirtyMap, leaf *BTreeLeafPage, field types.Field) (*BTreeLeafPage, error) {
	right, err := f.getEmptyLeafPage(tid, dirty)
	if err != nil {
		return nil, err
	}

	// move the upper (n+1)/2 tuples (integer division, i.e. ceil(n/2)),
	// collected in descending order so the sort order survives re-insertion
	moveCount := (leaf.GetNumTuples() + 1) / 2
	toMove := make([]*tuple.Tuple, 0, moveCount)
	it := leaf.ReverseIterator()
	for len(toMove) < moveCount && it.HasNext() {
		t, err := it.Next()
		if err != nil {
			return nil, err
		}
		toMove = append(toMove, t)
	}

	for i := len(toMove) - 1; i >= 0; i-- {
		if err := leaf.DeleteTuple(toMove[i]); err != nil {
			return nil, err
		}
		if err := right.InsertTuple(toMove[i]); err != nil {
			return nil, err
		}
	}

	midKey, err := toMove[len(toMove)-1].GetField(f.keyField)
	if err != nil {
		return nil, err
	}

	parent, err := f.getParentWithEmptySlots(tid, dirty, leaf.GetParentID(), midKey)
	if err != nil {
		return nil, err
	}

	// splice the new page into the sibling chain
	oldRightID := leaf.GetRightSiblingID()
	if err := right.SetRightSiblingID(oldRightID); err != nil {
		return nil, err
	}
	if err := right.SetLeftSiblingID(leaf.BTreeID()); err != nil {
		return nil, err
	}
	if err := leaf.SetRightSiblingID(right.BTreeID()); err != nil {
		return nil, err
	}
	if oldRightID != nil {
		oldRight, err := f.getLeafPage(tid, dirty, oldRightID, page.ReadWrite)
		if err != nil {
			return nil, err
		}
		if err := oldRight.SetLeftSiblingID(right.BTreeID()); err != nil {
			return nil, err
		}
		oldRight.MarkDirty(true, tid)
	}

	if err := right.SetParentID(parent.BTreeID()); err != nil {
		return nil, err
	}
	if err := leaf.SetParentID(parent.BTreeID()); err != nil {
		return nil, err
	}

	if err := parent.InsertEntry(NewBTreeEntry(midKey, leaf.BTreeID(), right.BTreeID())); err != nil {
		return nil, err
	}

	leaf.MarkDirty(true, tid)
	right.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)

	logger.WithFields(logrus.Fields{
		"table": f.GetID(),
		"left":  leaf.BTreeID().PageNo(),
		"right": right.BTreeID().PageNo(),
	}).Debugf("split leaf page")

	gt, err := field.Compare(primitives.GreaterThan, midKey)
	if err != nil {
		return nil, err
	}
	if gt {
		return right, nil
	}
	return leaf, nil
}

// splitInternalPage makes room in a full internal page. The upper half of
// the entries move to a new right sibling and the median entry is pushed up:
// removed from both halves and inserted into the parent with the two halves
// as its children. Returns the page into which an entry with the given key
// should be inserted.
func (f *BTreeFile) splitInternalPage(tid *transaction.TransactionID, dirty dirtyMap, pg *BTreeInternalPage, field types.Field) (*BTreeInternalPage, error) {
	right, err := f.getEmptyInternalPage(tid, dirty)
	if err != nil {
		return nil, err
	}

	moveCount := (pg.GetNumEntries() + 1) / 2
	toMove := make([]*BTreeEntry, 0, moveCount)
	it := pg.ReverseIterator()
	for len(toMove) < moveCount && it.HasNext() {
		e, err := it.Next()
		if err != nil {
			return nil, err
		}
		toMove = append(toMove, e)
	}

	// toMove is in descending order; the last element is the median. Every
	// entry above the median moves to the right page, and each moved child
	// subtree is re-parented there.
	var mid *BTreeEntry
	for i := len(toMove) - 1; i >= 0; i-- {
		e := toMove[i]
		if err := pg.DeleteKeyAndRightChild(e); err != nil {
			return nil, err
		}
		if i == len(toMove)-1 {
			mid = e
		} else {
			if err := right.InsertEntry(e); err != nil {
				return nil, err
			}
		}
		if err := f.updateParentPointer(tid, dirty, right.BTreeID(), e.GetRightChild()); err != nil {
			return nil, err
		}
	}

	mid.SetLeftChild(pg.BTreeID())
	mid.SetRightChild(right.BTreeID())

	parent, err := f.getParentWithEmptySlots(tid, dirty, pg.GetParentID(), mid.GetKey())
	if err != nil {
		return nil, err
	}
	if err := parent.InsertEntry(mid); err != nil {
		return nil, err
	}

	if err := pg.SetParentID(parent.BTreeID()); err != nil {
		return nil, err
	}
	if err := right.SetParentID(parent.BTreeID()); err != nil {
		return nil, err
	}

	pg.MarkDirty(true, tid)
	right.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)

	logger.WithFields(logrus.Fields{
		"table": f.GetID(),
		"left":  pg.BTreeID().PageNo(),
		"right": right.BTreeID().PageNo(),
	}).Debugf("split internal page")

	gt, err := field.Compare(primitives.GreaterThan, mid.GetKey())
	if err != nil {
		return nil, err
	}
	if gt {
		return right, nil
	}
	return pg, nil
}

// getParentWithEmptySlots readies a parent page to accept one more entry:
// when the child was the root a fresh internal page becomes the new root,
// and a full parent is recursively split. The key decides which half of a
// split parent is returned.
func (f *BTreeFile) getParentWithEmptySlots(tid *transaction.TransactionID, dirty dirtyMap, parentID *BTreePageID, field types.Field) (*BTreeInternalPage, error) {
	var parent *BTreeInternalPage

	if parentID.Category() == RootPtr {
		// the split page was the root: grow the tree by one level
		var err error
		parent, err = f.getEmptyInternalPage(tid, dirty)
		if err != nil {
			return nil, err
		}

		rp, err := f.getPage(tid, dirty, RootPtrPageID(f.GetID()), page.ReadWrite)
		if err != nil {
			return nil, err
		}
		rootPtr := rp.(*BTreeRootPtrPage)
		if err := rootPtr.SetRootID(parent.BTreeID()); err != nil {
			return nil, err
		}
		rootPtr.MarkDirty(true, tid)
	} else {
		var err error
		parent, err = f.getInternalPage(tid, dirty, parentID, page.ReadWrite)
		if err != nil {
			return nil, err
		}
	}

	if parent.GetNumEmptySlots() == 0 {
		return f.splitInternalPage(tid, dirty, parent, field)
	}
	return parent, nil
}

// updateParentPointer points child's parent reference at pid, fetching the
// child read-write only when it actually needs the update.
func (f *BTreeFile) updateParentPointer(tid *transaction.TransactionID, dirty dirtyMap, pid, child *BTreePageID) error {
	p, err := f.getBTreePage(tid, dirty, child, page.ReadOnly)
	if err != nil {
		return err
	}

	if !p.GetParentID().Equals(pid) {
		p, err = f.getBTreePage(tid, dirty, child, page.ReadWrite)
		if err != nil {
			return err
		}
		if err := p.SetParentID(pid); err != nil {
			return err
		}
		p.MarkDirty(true, tid)
	}
	return nil
}

