package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/primitives"
	"pagedb/pkg/transaction"
	"pagedb/pkg/types"
)

func TestBTreeFileLayout(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	insertKeys(t, f, tid, []int32{1})
	require.NoError(t, ps.FlushAllPages())

	// root pointer page plus one uniform page
	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(RootPtrPageSize+128), size)

	numPages, err := f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, primitives.PageNumber(1), numPages)
}

func TestBTreeFirstInsertAdoptsInitialLeaf(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	insertKeys(t, f, tid, []int32{42})
	require.NoError(t, ps.FlushAllPages())

	rootPtr := readRoot(t, f)
	rootID := rootPtr.GetRootID()
	require.NotNil(t, rootID)
	assert.Equal(t, Leaf, rootID.Category())
	assert.Equal(t, primitives.PageNumber(1), rootID.PageNo())

	assert.Equal(t, []int32{42}, scanKeys(t, f, tid))
}

func TestBTreeInsertKeepsOrder(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	keys := []int32{13, 2, 8, 21, 1, 34, 5, 3, 55, 89, 44, 17}
	insertKeys(t, f, tid, keys)
	require.NoError(t, ps.FlushAllPages())

	got := scanKeys(t, f, tid)
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1], got[i])
	}
	checkTreeInvariants(t, f)
}

func TestBTreeLeafSplit(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)
	maxTuples := LeafMaxTuples(f.GetTupleDesc())

	tid := transaction.NewTransactionID()
	var keys []int32
	for k := int32(1); k <= int32(maxTuples)+1; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, f, tid, keys)
	require.NoError(t, ps.FlushAllPages())

	// the root became a one-entry internal page whose key is copied up from
	// the first tuple of the right half
	rootPtr := readRoot(t, f)
	rootID := rootPtr.GetRootID()
	require.NotNil(t, rootID)
	require.Equal(t, Internal, rootID.Category())

	rootPage, err := f.ReadPage(rootID)
	require.NoError(t, err)
	root := rootPage.(*BTreeInternalPage)
	require.Equal(t, 1, root.GetNumEntries())

	expectedMid := int32((maxTuples+1)/2) + 1
	entry := root.snapshotEntries()[0]
	assert.True(t, entry.GetKey().Equals(types.NewIntField(expectedMid)))

	// the separator key also lives in the right leaf (copy-up, not push-up)
	rightPage, err := f.ReadPage(entry.GetRightChild())
	require.NoError(t, err)
	right := rightPage.(*BTreeLeafPage)
	firstRight, err := right.snapshotTuples()[0].GetField(0)
	require.NoError(t, err)
	assert.True(t, firstRight.Equals(types.NewIntField(expectedMid)))

	// both leaves sibling-linked and parented to the new root
	leftPage, err := f.ReadPage(entry.GetLeftChild())
	require.NoError(t, err)
	left := leftPage.(*BTreeLeafPage)
	require.NotNil(t, left.GetRightSiblingID())
	assert.True(t, left.GetRightSiblingID().Equals(right.BTreeID()))
	require.NotNil(t, right.GetLeftSiblingID())
	assert.True(t, right.GetLeftSiblingID().Equals(left.BTreeID()))
	assert.True(t, left.GetParentID().Equals(rootID))
	assert.True(t, right.GetParentID().Equals(rootID))

	assert.Equal(t, keys, scanKeys(t, f, tid))
	checkTreeInvariants(t, f)
}

func TestBTreeInternalPushUp(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	// enough sequential keys to split the root internal page: every leaf
	// split adds an entry, so a few hundred keys overflow its 14 slots
	tid := transaction.NewTransactionID()
	var keys []int32
	for k := int32(1); k <= 300; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, f, tid, keys)
	require.NoError(t, ps.FlushAllPages())

	rootPtr := readRoot(t, f)
	rootID := rootPtr.GetRootID()
	require.NotNil(t, rootID)
	require.Equal(t, Internal, rootID.Category())

	rootPage, err := f.ReadPage(rootID)
	require.NoError(t, err)
	root := rootPage.(*BTreeInternalPage)
	assert.Equal(t, Internal, root.GetChildCategory(), "tree must have grown to height 3")

	// the pushed-up median must not appear in either child (push-up removes
	// it from both halves)
	entry := root.snapshotEntries()[0]
	for _, childID := range []*BTreePageID{entry.GetLeftChild(), entry.GetRightChild()} {
		childPage, err := f.ReadPage(childID)
		require.NoError(t, err)
		child := childPage.(*BTreeInternalPage)
		assert.True(t, child.GetParentID().Equals(rootID))
		for _, e := range child.snapshotEntries() {
			assert.False(t, e.GetKey().Equals(entry.GetKey()),
				"median key must have been removed from the children")
		}
	}

	assert.Equal(t, keys, scanKeys(t, f, tid))
	checkTreeInvariants(t, f)
}

func TestBTreeScanEmptyTree(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	assert.Empty(t, scanKeys(t, f, tid))
}

func TestBTreeIteratorRewind(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	insertKeys(t, f, tid, []int32{3, 1, 2})

	it := f.Iterator(tid)
	require.NoError(t, it.Open())
	first, err := it.Next()
	require.NoError(t, err)
	firstKey, err := first.GetField(0)
	require.NoError(t, err)
	assert.True(t, firstKey.Equals(types.NewIntField(1)))

	require.NoError(t, it.Rewind())
	again, err := it.Next()
	require.NoError(t, err)
	againKey, err := again.GetField(0)
	require.NoError(t, err)
	assert.True(t, againKey.Equals(types.NewIntField(1)))
	require.NoError(t, it.Close())
}

func collectSearch(t *testing.T, f *BTreeFile, tid *transaction.TransactionID, ipred IndexPredicate) []int32 {
	t.Helper()
	it := f.IndexIterator(tid, ipred)
	require.NoError(t, it.Open())
	defer it.Close()

	var keys []int32
	for {
		hasNext, err := it.HasNext()
		require.NoError(t, err)
		if !hasNext {
			return keys
		}
		tup, err := it.Next()
		require.NoError(t, err)
		field, err := tup.GetField(0)
		require.NoError(t, err)
		keys = append(keys, field.(*types.IntField).Value)
	}
}

func TestBTreeSearchIterator(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	var keys []int32
	for k := int32(1); k <= 60; k++ {
		keys = append(keys, k)
	}
	insertKeys(t, f, tid, keys)

	tests := []struct {
		name     string
		op       primitives.Predicate
		probe    int32
		expected []int32
	}{
		{"equals", primitives.Equals, 17, []int32{17}},
		{"equals missing", primitives.Equals, 100, nil},
		{"greater than", primitives.GreaterThan, 57, []int32{58, 59, 60}},
		{"greater or equal", primitives.GreaterThanOrEqual, 58, []int32{58, 59, 60}},
		{"less than", primitives.LessThan, 4, []int32{1, 2, 3}},
		{"less or equal", primitives.LessThanOrEqual, 3, []int32{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectSearch(t, f, tid, IndexPredicate{Op: tt.op, Field: types.NewIntField(tt.probe)})
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBTreeSearchDuplicates(t *testing.T) {
	withPageSize(t, 128)
	ps := newTestStore(t)
	f := newTestBTreeFile(t, ps)

	tid := transaction.NewTransactionID()
	// 40 copies of the same key span several leaves; ties resolve to the
	// left-most leaf so a targeted descent must still find them all
	var keys []int32
	for i := 0; i < 40; i++ {
		keys = append(keys, 7)
	}
	insertKeys(t, f, tid, keys)

	got := collectSearch(t, f, tid, IndexPredicate{Op: primitives.Equals, Field: types.NewIntField(7)})
	assert.Len(t, got, 40)

	require.NoError(t, ps.FlushAllPages())
	checkTreeInvariants(t, f)
}
