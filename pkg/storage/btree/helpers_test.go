package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/config"
	"pagedb/pkg/memory"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/transaction"
	"pagedb/pkg/tuple"
	"pagedb/pkg/types"
)

// withPageSize shrinks the global page size for one test so structural
// scenarios need only a handful of tuples. At 128 bytes a two-int leaf holds
// 14 tuples and an int-keyed internal page 14 entries.
func withPageSize(t *testing.T, size int) {
	t.Helper()
	old := page.PageSize
	page.SetPageSize(size)
	t.Cleanup(func() { page.SetPageSize(old) })
}

func twoIntDesc(t *testing.T) *tuple.TupleDescription {
	t.Helper()
	td, err := tuple.NewTupleDesc([]types.Type{types.IntType, types.IntType}, nil)
	require.NoError(t, err)
	return td
}

func makeTuple(t *testing.T, td *tuple.TupleDescription, key int32) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewIntField(key)))
	require.NoError(t, tup.SetField(1, types.NewIntField(key*10)))
	return tup
}

func newTestStore(t *testing.T) *memory.PageStore {
	t.Helper()
	ps, err := memory.NewPageStore(config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func newTestBTreeFile(t *testing.T, ps *memory.PageStore) *BTreeFile {
	t.Helper()
	path := primitives.Filepath(filepath.Join(t.TempDir(), "index.idx"))
	f, err := NewBTreeFile(path, 0, twoIntDesc(t), ps)
	require.NoError(t, err)
	ps.RegisterFile(f)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// insertKeys inserts the given keys in order and returns the inserted
// tuples keyed by their key value.
func insertKeys(t *testing.T, f *BTreeFile, tid *transaction.TransactionID, keys []int32) map[int32]*tuple.Tuple {
	t.Helper()
	out := make(map[int32]*tuple.Tuple, len(keys))
	for _, k := range keys {
		tup := makeTuple(t, f.GetTupleDesc(), k)
		_, err := f.InsertTuple(tid, tup)
		require.NoError(t, err)
		out[k] = tup
	}
	return out
}

// scanKeys walks the whole tree in order and returns the key values.
func scanKeys(t *testing.T, f *BTreeFile, tid *transaction.TransactionID) []int32 {
	t.Helper()
	it := f.Iterator(tid)
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

// readRoot returns the decoded root pointer page straight from disk.
func readRoot(t *testing.T, f *BTreeFile) *BTreeRootPtrPage {
	t.Helper()
	p, err := f.ReadPage(RootPtrPageID(f.GetID()))
	require.NoError(t, err)
	return p.(*BTreeRootPtrPage)
}

// checkTreeInvariants re-reads the whole tree from disk and verifies the
// structural invariants: key order, occupancy of non-root pages, parent
// pointers and the doubly-linked leaf chain.
func checkTreeInvariants(t *testing.T, f *BTreeFile) {
	t.Helper()

	rootPtr := readRoot(t, f)
	rootID := rootPtr.GetRootID()
	if rootID == nil {
		return
	}

	var leaves []*BTreeLeafPage
	checkSubtree(t, f, rootID, RootPtrPageID(f.GetID()), nil, nil, &leaves)

	// leaves must form a doubly-linked list in key order
	for i, leaf := range leaves {
		if i == 0 {
			assert.Nil(t, leaf.GetLeftSiblingID(), "first leaf has no left sibling")
		} else {
			require.NotNil(t, leaf.GetLeftSiblingID())
			assert.True(t, leaf.GetLeftSiblingID().Equals(leaves[i-1].BTreeID()))
			require.NotNil(t, leaves[i-1].GetRightSiblingID())
			assert.True(t, leaves[i-1].GetRightSiblingID().Equals(leaf.BTreeID()))
		}
	}
	if len(leaves) > 0 {
		assert.Nil(t, leaves[len(leaves)-1].GetRightSiblingID(), "last leaf has no right sibling")
	}
}

func checkSubtree(t *testing.T, f *BTreeFile, pid, parentID *BTreePageID, lower, upper types.Field, leaves *[]*BTreeLeafPage) {
	t.Helper()

	p, err := f.ReadPage(pid)
	require.NoError(t, err)

	isRoot := parentID.Category() == RootPtr

	switch typed := p.(type) {
	case *BTreeLeafPage:
		assert.True(t, typed.GetParentID().Equals(parentID), "leaf %s parent pointer", pid)
		if !isRoot {
			min := typed.GetMaxTuples() - typed.GetMaxTuples()/2
			assert.GreaterOrEqual(t, typed.GetNumTuples(), min, "leaf %s occupancy", pid)
		}

		var prev types.Field
		for _, tup := range typed.snapshotTuples() {
			key, err := tup.GetField(f.KeyField())
			require.NoError(t, err)
			assertWithinBounds(t, key, lower, upper)
			if prev != nil {
				le, err := prev.Compare(primitives.LessThanOrEqual, key)
				require.NoError(t, err)
				assert.True(t, le, "leaf keys must be non-decreasing")
			}
			prev = key
		}
		*leaves = append(*leaves, typed)

	case *BTreeInternalPage:
		assert.True(t, typed.GetParentID().Equals(parentID), "internal %s parent pointer", pid)
		entries := typed.snapshotEntries()
		require.NotEmpty(t, entries, "internal page must hold at least one entry")
		if !isRoot {
			min := typed.GetMaxEntries() - typed.GetMaxEntries()/2
			assert.GreaterOrEqual(t, typed.GetNumEntries(), min, "internal %s occupancy", pid)
		}

		for i, e := range entries {
			if i > 0 {
				le, err := entries[i-1].GetKey().Compare(primitives.LessThanOrEqual, e.GetKey())
				require.NoError(t, err)
				assert.True(t, le, "internal keys must be non-decreasing")
			}
			assertWithinBounds(t, e.GetKey(), lower, upper)
		}

		for i, e := range entries {
			var childLower types.Field
			if i == 0 {
				childLower = lower
			} else {
				childLower = entries[i-1].GetKey()
			}
			checkSubtree(t, f, e.GetLeftChild(), pid, childLower, e.GetKey(), leaves)
		}
		last := entries[len(entries)-1]
		checkSubtree(t, f, last.GetRightChild(), pid, last.GetKey(), upper, leaves)

	default:
		t.Fatalf("unexpected page type %T at %s", p, pid)
	}
}

func assertWithinBounds(t *testing.T, key, lower, upper types.Field) {
	t.Helper()
	if lower != nil {
		ge, err := key.Compare(primitives.GreaterThanOrEqual, lower)
		require.NoError(t, err)
		assert.True(t, ge, "key %v below subtree bound %v", key, lower)
	}
	if upper != nil {
		le, err := key.Compare(primitives.LessThanOrEqual, upper)
		require.NoError(t, err)
		assert.True(t, le, "key %v above subtree bound %v", key, upper)
	}
}
