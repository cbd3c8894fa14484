package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/types"
)

func TestRootPtrPageRoundTrip(t *testing.T) {
	pid := RootPtrPageID(7)

	p, err := NewBTreeRootPtrPage(pid, CreateEmptyRootPtrData())
	require.NoError(t, err)
	assert.Nil(t, p.GetRootID(), "zeroed root pointer has no root")
	assert.Nil(t, p.GetHeaderID())

	require.NoError(t, p.SetRootID(NewBTreePageID(7, 3, Leaf)))
	require.NoError(t, p.SetHeaderID(NewBTreePageID(7, 5, Header)))

	data := p.GetPageData()
	require.Len(t, data, RootPtrPageSize)

	decoded, err := NewBTreeRootPtrPage(pid, data)
	require.NoError(t, err)
	require.NotNil(t, decoded.GetRootID())
	assert.True(t, decoded.GetRootID().Equals(NewBTreePageID(7, 3, Leaf)))
	require.NotNil(t, decoded.GetHeaderID())
	assert.True(t, decoded.GetHeaderID().Equals(NewBTreePageID(7, 5, Header)))
	assert.Equal(t, data, decoded.GetPageData())
}

func TestRootPtrPageRejectsBadRoot(t *testing.T) {
	p, err := NewBTreeRootPtrPage(RootPtrPageID(7), CreateEmptyRootPtrData())
	require.NoError(t, err)

	assert.Error(t, p.SetRootID(NewBTreePageID(7, 3, Header)), "header page cannot be root")
	assert.Error(t, p.SetRootID(NewBTreePageID(8, 3, Leaf)), "foreign table")
	assert.Error(t, p.SetHeaderID(NewBTreePageID(7, 3, Leaf)), "leaf cannot head the free list")
}

func TestHeaderPageSlots(t *testing.T) {
	withPageSize(t, 128)

	pid := NewBTreePageID(7, 1, Header)
	p, err := NewBTreeHeaderPage(pid, page.CreateEmptyPageData())
	require.NoError(t, err)

	assert.Equal(t, (128-8)*8, NumHeaderSlots())
	assert.Equal(t, 0, p.GetEmptySlot(), "zeroed header page starts all-free")

	p.Init()
	assert.Equal(t, -1, p.GetEmptySlot(), "initialized header page has everything allocated")

	p.MarkSlotUsed(42, false)
	assert.Equal(t, 42, p.GetEmptySlot())
	assert.False(t, p.IsSlotUsed(42))

	p.MarkSlotUsed(42, true)
	assert.Equal(t, -1, p.GetEmptySlot())
}

func TestHeaderPageRoundTrip(t *testing.T) {
	withPageSize(t, 128)

	pid := NewBTreePageID(7, 2, Header)
	p, err := NewBTreeHeaderPage(pid, page.CreateEmptyPageData())
	require.NoError(t, err)

	p.Init()
	require.NoError(t, p.SetPrevPageID(NewBTreePageID(7, 1, Header)))
	require.NoError(t, p.SetNextPageID(NewBTreePageID(7, 3, Header)))
	p.MarkSlotUsed(9, false)

	data := p.GetPageData()
	require.Len(t, data, page.PageSize)

	decoded, err := NewBTreeHeaderPage(pid, data)
	require.NoError(t, err)
	assert.True(t, decoded.GetPrevPageID().Equals(NewBTreePageID(7, 1, Header)))
	assert.True(t, decoded.GetNextPageID().Equals(NewBTreePageID(7, 3, Header)))
	assert.Equal(t, 9, decoded.GetEmptySlot())
	assert.Equal(t, data, decoded.GetPageData())
}

func TestLeafPageCapacityFormula(t *testing.T) {
	withPageSize(t, 128)
	td := twoIntDesc(t)

	// (pageSize*8 - 3 pointer fields) / (tupleSize*8 + 1)
	assert.Equal(t, (128*8-3*32)/65, LeafMaxTuples(td))
	assert.Equal(t, 14, LeafMaxTuples(td))
}

func TestLeafPageSortedInsert(t *testing.T) {
	withPageSize(t, 128)
	td := twoIntDesc(t)
	pid := NewBTreePageID(7, 1, Leaf)

	p, err := NewBTreeLeafPage(pid, page.CreateEmptyPageData(), td, 0)
	require.NoError(t, err)

	for _, k := range []int32{5, 1, 9, 3, 7} {
		require.NoError(t, p.InsertTuple(makeTuple(t, td, k)))
	}

	var keys []int32
	it := p.Iterator()
	for it.HasNext() {
		tup, err := it.Next()
		require.NoError(t, err)
		f, err := tup.GetField(0)
		require.NoError(t, err)
		keys = append(keys, f.(*types.IntField).Value)
	}
	assert.Equal(t, []int32{1, 3, 5, 7, 9}, keys)

	rev := p.ReverseIterator()
	tup, err := rev.Next()
	require.NoError(t, err)
	f, err := tup.GetField(0)
	require.NoError(t, err)
	assert.Equal(t, int32(9), f.(*types.IntField).Value)
}

func TestLeafPageRoundTrip(t *testing.T) {
	withPageSize(t, 128)
	td := twoIntDesc(t)
	pid := NewBTreePageID(7, 1, Leaf)

	p, err := NewBTreeLeafPage(pid, page.CreateEmptyPageData(), td, 0)
	require.NoError(t, err)
	require.NoError(t, p.SetParentID(NewBTreePageID(7, 4, Internal)))
	require.NoError(t, p.SetLeftSiblingID(NewBTreePageID(7, 2, Leaf)))
	require.NoError(t, p.SetRightSiblingID(NewBTreePageID(7, 3, Leaf)))
	for _, k := range []int32{2, 4, 6} {
		require.NoError(t, p.InsertTuple(makeTuple(t, td, k)))
	}

	data := p.GetPageData()
	decoded, err := NewBTreeLeafPage(pid, data, td, 0)
	require.NoError(t, err)

	assert.True(t, decoded.GetParentID().Equals(NewBTreePageID(7, 4, Internal)))
	assert.True(t, decoded.GetLeftSiblingID().Equals(NewBTreePageID(7, 2, Leaf)))
	assert.True(t, decoded.GetRightSiblingID().Equals(NewBTreePageID(7, 3, Leaf)))
	assert.Equal(t, 3, decoded.GetNumTuples())
	assert.Equal(t, data, decoded.GetPageData())
}

func TestLeafPageFull(t *testing.T) {
	withPageSize(t, 128)
	td := twoIntDesc(t)

	p, err := NewBTreeLeafPage(NewBTreePageID(7, 1, Leaf), page.CreateEmptyPageData(), td, 0)
	require.NoError(t, err)

	for i := 0; i < p.GetMaxTuples(); i++ {
		require.NoError(t, p.InsertTuple(makeTuple(t, td, int32(i))))
	}
	assert.Error(t, p.InsertTuple(makeTuple(t, td, 99)))
}

func TestInternalPageCapacityFormula(t *testing.T) {
	withPageSize(t, 128)

	// (pageSize*8 - parent - extra child - category byte) / (key + child + slot bit)
	assert.Equal(t, (128*8-2*32-8)/(32+32+1), InternalMaxEntries(types.IntType))
	assert.Equal(t, 14, InternalMaxEntries(types.IntType))
}

func TestInternalPageInsertAndIterate(t *testing.T) {
	withPageSize(t, 128)
	pid := NewBTreePageID(7, 1, Internal)

	p, err := NewBTreeInternalPage(pid, page.CreateEmptyPageData(), types.IntType)
	require.NoError(t, err)
	assert.Equal(t, 0, p.GetNumEntries())

	child := func(n uint32) *BTreePageID { return NewBTreePageID(7, primitives.PageNumber(n), Leaf) }

	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(10), child(2), child(3))))
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(20), child(3), child(4))))
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(30), child(4), child(5))))
	assert.Equal(t, 3, p.GetNumEntries())

	entries := p.snapshotEntries()
	require.Len(t, entries, 3)
	assert.True(t, entries[0].GetKey().Equals(types.NewIntField(10)))
	assert.True(t, entries[0].GetLeftChild().Equals(child(2)))
	assert.True(t, entries[0].GetRightChild().Equals(child(3)))
	assert.True(t, entries[1].GetLeftChild().Equals(child(3)), "adjacent entries share a child")
	assert.True(t, entries[2].GetRightChild().Equals(child(5)))
}

func TestInternalPageRejectsDisconnectedEntry(t *testing.T) {
	withPageSize(t, 128)

	p, err := NewBTreeInternalPage(NewBTreePageID(7, 1, Internal), page.CreateEmptyPageData(), types.IntType)
	require.NoError(t, err)

	child := func(n uint32) *BTreePageID { return NewBTreePageID(7, primitives.PageNumber(n), Leaf) }
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(10), child(2), child(3))))

	// neither child is referenced by the page
	err = p.InsertEntry(NewBTreeEntry(types.NewIntField(20), child(8), child(9)))
	assert.Error(t, err)

	// child category must match
	err = p.InsertEntry(NewBTreeEntry(types.NewIntField(20), NewBTreePageID(7, 3, Internal), NewBTreePageID(7, 4, Internal)))
	assert.Error(t, err)
}

func TestInternalPageDeleteAndUpdate(t *testing.T) {
	withPageSize(t, 128)

	p, err := NewBTreeInternalPage(NewBTreePageID(7, 1, Internal), page.CreateEmptyPageData(), types.IntType)
	require.NoError(t, err)

	child := func(n uint32) *BTreePageID { return NewBTreePageID(7, primitives.PageNumber(n), Leaf) }
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(10), child(2), child(3))))
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(20), child(3), child(4))))

	entries := p.snapshotEntries()
	require.Len(t, entries, 2)

	// update the second entry's key in place
	entries[1].SetKey(types.NewIntField(25))
	require.NoError(t, p.UpdateEntry(entries[1]))
	assert.True(t, p.snapshotEntries()[1].GetKey().Equals(types.NewIntField(25)))

	// sort-order violations are rejected
	entries = p.snapshotEntries()
	entries[1].SetKey(types.NewIntField(5))
	assert.Error(t, p.UpdateEntry(entries[1]))

	entries = p.snapshotEntries()
	require.NoError(t, p.DeleteKeyAndRightChild(entries[1]))
	assert.Equal(t, 1, p.GetNumEntries())
	assert.Nil(t, entries[1].GetRecordID())
}

func TestInternalPageRoundTrip(t *testing.T) {
	withPageSize(t, 128)
	pid := NewBTreePageID(7, 1, Internal)

	p, err := NewBTreeInternalPage(pid, page.CreateEmptyPageData(), types.IntType)
	require.NoError(t, err)
	require.NoError(t, p.SetParentID(NewBTreePageID(7, 9, Internal)))

	child := func(n uint32) *BTreePageID { return NewBTreePageID(7, primitives.PageNumber(n), Leaf) }
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(10), child(2), child(3))))
	require.NoError(t, p.InsertEntry(NewBTreeEntry(types.NewIntField(20), child(3), child(4))))

	data := p.GetPageData()
	require.Len(t, data, page.PageSize)

	decoded, err := NewBTreeInternalPage(pid, data, types.IntType)
	require.NoError(t, err)
	assert.True(t, decoded.GetParentID().Equals(NewBTreePageID(7, 9, Internal)))
	assert.Equal(t, 2, decoded.GetNumEntries())
	assert.Equal(t, Leaf, decoded.GetChildCategory())
	assert.Equal(t, data, decoded.GetPageData())
}
