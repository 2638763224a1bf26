package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/store"
)

type treeFixture struct {
	path string
	opts store.Options
	st   *store.Store
	tree *BTree
}

func newFixture(t *testing.T, opts store.Options) *treeFixture {
	t.Helper()
	opts.Create = true
	f := &treeFixture{path: filepath.Join(t.TempDir(), "tree.bitable"), opts: opts}
	f.open(t)
	t.Cleanup(func() { f.st.Close() })
	return f
}

func (f *treeFixture) open(t *testing.T) {
	t.Helper()
	st, err := store.Open(f.path, &f.opts)
	require.NoError(t, err)
	f.st = st
	cmp, ok := basic.ComparatorByName(f.opts.Comparator)
	require.True(t, ok)
	f.tree = NewBTree(st, cmp)
	require.NoError(t, f.tree.Init())
}

func (f *treeFixture) reopen(t *testing.T) {
	t.Helper()
	require.NoError(t, f.st.Close())
	f.open(t)
}

func testKey(i int) basic.Value {
	return basic.Value(fmt.Sprintf("key-%06d", i))
}

func testVal(i int) basic.Value {
	return basic.Value(fmt.Sprintf("value-%d-%s", i, bytes.Repeat([]byte{'v'}, i%40)))
}

func TestEmptyTree(t *testing.T) {
	f := newFixture(t, store.Options{})
	_, err := f.tree.Get(basic.Value("nothing"), basic.ReadNone)
	assert.True(t, basic.IsKeyNotFound(err))
	assert.True(t, basic.IsKeyNotFound(f.tree.Delete(basic.Value("nothing"))))

	info, err := f.tree.Check()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.LeafPages)
	assert.Equal(t, uint64(0), info.KeyCount)
}

func TestInsertGetReopen(t *testing.T) {
	f := newFixture(t, store.Options{})
	const n = 3000
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range perm {
		inserted, err := f.tree.Put(testKey(i), testVal(i))
		require.NoError(t, err)
		require.True(t, inserted)
	}
	h := f.st.Header()
	assert.Equal(t, uint64(n), h.KeyCount)
	assert.True(t, h.Depth >= 1)

	info, err := f.tree.Check()
	require.NoError(t, err)
	assert.Equal(t, uint64(n), info.KeyCount)

	f.reopen(t)
	for i := 0; i < n; i++ {
		v, err := f.tree.Get(testKey(i), basic.ReadRandom)
		require.NoError(t, err)
		require.Equal(t, testVal(i), v)
	}
	_, err = f.tree.Check()
	require.NoError(t, err)
}

func TestOverwrite(t *testing.T) {
	f := newFixture(t, store.Options{})
	inserted, err := f.tree.Put(basic.Value("k"), basic.Value("v1"))
	require.NoError(t, err)
	assert.True(t, inserted)
	before := f.tree.Version()

	inserted, err = f.tree.Put(basic.Value("k"), basic.Value("v2"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, before, f.tree.Version())
	assert.Equal(t, uint64(1), f.st.Header().KeyCount)

	v, err := f.tree.Get(basic.Value("k"), basic.ReadNone)
	require.NoError(t, err)
	assert.Equal(t, "v2", v.String())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, store.Options{})
	err := f.tree.Update(basic.Value("missing"), basic.Value("x"))
	assert.True(t, basic.IsKeyNotFound(err))
	assert.Equal(t, uint64(0), f.st.Header().KeyCount)

	for i := 0; i < 200; i++ {
		_, err := f.tree.Put(testKey(i), basic.Value("s"))
		require.NoError(t, err)
	}
	big := bytes.Repeat([]byte{'x'}, 600)
	for i := 0; i < 200; i += 3 {
		require.NoError(t, f.tree.Update(testKey(i), big))
	}
	for i := 0; i < 200; i++ {
		v, err := f.tree.Get(testKey(i), basic.ReadNone)
		require.NoError(t, err)
		if i%3 == 0 {
			assert.Equal(t, basic.Value(big), v)
		} else {
			assert.Equal(t, "s", v.String())
		}
	}
	info, err := f.tree.Check()
	require.NoError(t, err)
	assert.Equal(t, uint64(200), info.KeyCount)
}

func TestDeleteAll(t *testing.T) {
	f := newFixture(t, store.Options{})
	const n = 2000
	for i := 0; i < n; i++ {
		_, err := f.tree.Put(testKey(i), testVal(i))
		require.NoError(t, err)
	}
	grown := f.st.Header().PageCount

	order := rand.New(rand.NewSource(2)).Perm(n)
	for idx, i := range order {
		require.NoError(t, f.tree.Delete(testKey(i)))
		if idx%250 == 0 {
			_, err := f.tree.Check()
			require.NoError(t, err, "after %d deletes", idx+1)
		}
	}
	h := f.st.Header()
	assert.Equal(t, uint64(0), h.KeyCount)
	assert.Equal(t, uint32(0), h.Depth)
	assert.Equal(t, grown, h.PageCount)
	assert.Equal(t, h.PageCount-2, h.FreeCount)

	_, err := f.tree.Check()
	require.NoError(t, err)
	assert.True(t, basic.IsKeyNotFound(f.tree.Delete(testKey(0))))

	// 空闲页面被复用，文件不再增长
	for i := 0; i < n; i++ {
		_, err := f.tree.Put(testKey(i), testVal(i))
		require.NoError(t, err)
	}
	assert.Equal(t, grown, f.st.Header().PageCount)
}

func TestRandomOperations(t *testing.T) {
	f := newFixture(t, store.Options{PageSize: 4096})
	rnd := rand.New(rand.NewSource(3))
	model := make(map[string]string)

	for step := 0; step < 6000; step++ {
		k := fmt.Sprintf("k%04d", rnd.Intn(1500))
		switch rnd.Intn(3) {
		case 0, 1:
			v := string(bytes.Repeat([]byte{byte('a' + rnd.Intn(26))}, 1+rnd.Intn(300)))
			_, err := f.tree.Put(basic.Value(k), basic.Value(v))
			require.NoError(t, err)
			model[k] = v
		case 2:
			err := f.tree.Delete(basic.Value(k))
			if _, ok := model[k]; ok {
				require.NoError(t, err)
				delete(model, k)
			} else {
				require.True(t, basic.IsKeyNotFound(err))
			}
		}
		if step%1000 == 999 {
			info, err := f.tree.Check()
			require.NoError(t, err, "step %d", step)
			require.Equal(t, uint64(len(model)), info.KeyCount)
		}
	}

	f.reopen(t)
	for k, v := range model {
		got, err := f.tree.Get(basic.Value(k), basic.ReadNone)
		require.NoError(t, err)
		require.Equal(t, v, got.String())
	}
	for i := 0; i < 1500; i++ {
		k := fmt.Sprintf("k%04d", i)
		if _, ok := model[k]; !ok {
			_, err := f.tree.Get(basic.Value(k), basic.ReadNone)
			require.True(t, basic.IsKeyNotFound(err))
		}
	}
}

func TestKeyLimits(t *testing.T) {
	f := newFixture(t, store.Options{})

	exact := bytes.Repeat([]byte{'k'}, basic.MaxKeySize)
	_, err := f.tree.Put(exact, basic.Value("ok"))
	require.NoError(t, err)
	v, err := f.tree.Get(exact, basic.ReadNone)
	require.NoError(t, err)
	assert.Equal(t, "ok", v.String())

	over := bytes.Repeat([]byte{'k'}, basic.MaxKeySize+1)
	_, err = f.tree.Put(over, basic.Value("no"))
	assert.True(t, basic.Is(err, basic.ResultKeyInvalid))
	_, err = f.tree.Get(over, basic.ReadNone)
	assert.True(t, basic.Is(err, basic.ResultKeyInvalid))
	assert.True(t, basic.Is(f.tree.Delete(over), basic.ResultKeyInvalid))

	_, err = f.tree.Put(basic.Value(""), basic.Value("no"))
	assert.True(t, basic.Is(err, basic.ResultKeyInvalid))

	maxVal := f.tree.MaxValueSize(1)
	_, err = f.tree.Put(basic.Value("a"), make(basic.Value, maxVal))
	require.NoError(t, err)
	_, err = f.tree.Put(basic.Value("b"), make(basic.Value, maxVal+1))
	assert.True(t, basic.Is(err, basic.ResultKeyInvalid))

	assert.Equal(t, uint64(2), f.st.Header().KeyCount)
}

func TestConfiguredMaxKeySize(t *testing.T) {
	f := newFixture(t, store.Options{MaxKeySize: 16})
	_, err := f.tree.Put(make(basic.Value, 16), basic.Value("ok"))
	require.NoError(t, err)
	_, err = f.tree.Put(make(basic.Value, 17), basic.Value("no"))
	assert.True(t, basic.Is(err, basic.ResultKeyInvalid))
}

func TestDepthLimit(t *testing.T) {
	f := newFixture(t, store.Options{PageSize: 4096, MaxDepth: 1})
	pad := bytes.Repeat([]byte{'p'}, 190)
	key := func(i int) basic.Value {
		return append(basic.Value(fmt.Sprintf("%08d", i)), pad...)
	}
	val := make(basic.Value, 700)

	var stored []int
	var limitErr error
	for i := 0; i < 1000; i++ {
		_, err := f.tree.Put(key(i), val)
		if err != nil {
			limitErr = err
			break
		}
		stored = append(stored, i)
	}
	require.Error(t, limitErr)
	assert.True(t, basic.Is(limitErr, basic.ResultMaximumTableTreeDepth))

	h := f.st.Header()
	assert.Equal(t, uint32(1), h.Depth)
	assert.Equal(t, uint64(len(stored)), h.KeyCount)

	failed := key(len(stored))
	_, err := f.tree.Get(failed, basic.ReadNone)
	assert.True(t, basic.IsKeyNotFound(err))
	for _, i := range stored {
		_, err := f.tree.Get(key(i), basic.ReadNone)
		require.NoError(t, err)
	}
	_, err = f.tree.Check()
	require.NoError(t, err)

	// 回滚后句柄仍可正常删除
	require.NoError(t, f.tree.Delete(key(stored[0])))
	assert.Equal(t, uint64(len(stored)-1), f.st.Header().KeyCount)
}

func TestReverseComparator(t *testing.T) {
	f := newFixture(t, store.Options{Comparator: "reverse"})
	keys := []string{"delta", "alpha", "echo", "charlie", "bravo"}
	for _, k := range keys {
		_, err := f.tree.Put(basic.Value(k), basic.Value(k))
		require.NoError(t, err)
	}
	c := f.tree.OpenCursor(basic.ReadNone)
	var got []string
	for {
		k, _, err := c.Next()
		if basic.IsEndOfSequence(err) {
			break
		}
		require.NoError(t, err)
		got = append(got, k.String())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	assert.Equal(t, keys, got)
}

func TestReadOnlyTree(t *testing.T) {
	f := newFixture(t, store.Options{})
	_, err := f.tree.Put(basic.Value("a"), basic.Value("1"))
	require.NoError(t, err)

	ro, err := store.Open(f.path, &store.Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	tree := NewBTree(ro, nil)
	v, err := tree.Get(basic.Value("a"), basic.ReadNone)
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())

	_, err = tree.Put(basic.Value("b"), basic.Value("2"))
	assert.True(t, basic.Is(err, basic.ResultFileOperationFailed))
}
