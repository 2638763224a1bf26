package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/store"
)

func fillTree(t *testing.T, f *treeFixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.tree.Put(testKey(i), testVal(i))
		require.NoError(t, err)
	}
}

func TestCursorTraversalSymmetry(t *testing.T) {
	f := newFixture(t, store.Options{})
	fillTree(t, f, 1500)

	c := f.tree.OpenCursor(basic.ReadSequential)
	defer c.Close()
	var forward []string
	for {
		k, _, err := c.Next()
		if basic.IsEndOfSequence(err) {
			break
		}
		require.NoError(t, err)
		forward = append(forward, k.String())
	}
	require.Len(t, forward, 1500)

	back := f.tree.OpenCursor(basic.ReadNone)
	require.NoError(t, back.Last())
	k, _, err := back.Current()
	require.NoError(t, err)
	backward := []string{k.String()}
	for {
		k, _, err := back.Previous()
		if basic.IsEndOfSequence(err) {
			break
		}
		require.NoError(t, err)
		backward = append(backward, k.String())
	}
	require.Len(t, backward, len(forward))
	for i := range forward {
		assert.Equal(t, forward[i], backward[len(backward)-1-i])
	}
	for i := 1; i < len(forward); i++ {
		assert.True(t, forward[i-1] < forward[i])
	}
}

func TestCursorSeek(t *testing.T) {
	f := newFixture(t, store.Options{})
	for _, k := range []string{"b", "d", "f"} {
		_, err := f.tree.Put(basic.Value(k), basic.Value("v"+k))
		require.NoError(t, err)
	}
	c := f.tree.OpenCursor(basic.ReadRandom)

	t.Run("精确匹配", func(t *testing.T) {
		require.NoError(t, c.Seek(basic.Value("d")))
		k, v, err := c.Current()
		require.NoError(t, err)
		assert.Equal(t, "d", k.String())
		assert.Equal(t, "vd", v.String())
	})

	t.Run("第一个大于等于", func(t *testing.T) {
		require.NoError(t, c.Seek(basic.Value("c")))
		k, _, err := c.Current()
		require.NoError(t, err)
		assert.Equal(t, "d", k.String())
		k, _, err = c.Next()
		require.NoError(t, err)
		assert.Equal(t, "f", k.String())
	})

	t.Run("越过末尾", func(t *testing.T) {
		err := c.Seek(basic.Value("g"))
		assert.True(t, basic.IsEndOfSequence(err))
		_, _, err = c.Current()
		assert.True(t, basic.IsInvalidCursor(err))
	})

	t.Run("末尾之后", func(t *testing.T) {
		require.NoError(t, c.Seek(basic.Value("f")))
		_, _, err := c.Next()
		assert.True(t, basic.IsEndOfSequence(err))
		k, _, err := c.Current()
		require.NoError(t, err)
		assert.Equal(t, "f", k.String())
		k, _, err = c.Previous()
		require.NoError(t, err)
		assert.Equal(t, "d", k.String())
	})

	t.Run("开头之前", func(t *testing.T) {
		require.NoError(t, c.First())
		_, _, err := c.Previous()
		assert.True(t, basic.IsEndOfSequence(err))
	})

	t.Run("非法键", func(t *testing.T) {
		err := c.Seek(basic.Value(""))
		assert.True(t, basic.Is(err, basic.ResultKeyInvalid))
	})
}

func TestCursorPastEnd(t *testing.T) {
	f := newFixture(t, store.Options{})
	for _, k := range []string{"a", "b", "c"} {
		_, err := f.tree.Put(basic.Value(k), basic.Value("v"+k))
		require.NoError(t, err)
	}
	c := f.tree.OpenCursor(basic.ReadNone)
	defer c.Close()

	assert.True(t, basic.IsEndOfSequence(c.Seek(basic.Value("z"))))
	assert.False(t, c.Valid())
	for i := 0; i < 2; i++ {
		_, _, err := c.Next()
		assert.True(t, basic.IsEndOfSequence(err))
	}
	k, _, err := c.Previous()
	require.NoError(t, err)
	assert.Equal(t, "c", k.String())

	// 删除最后一个条目后停在末尾之后
	require.NoError(t, c.Delete())
	assert.False(t, c.Valid())
	_, _, err = c.Next()
	assert.True(t, basic.IsEndOfSequence(err))
	k, _, err = c.Previous()
	require.NoError(t, err)
	assert.Equal(t, "b", k.String())

	// 重新定位后正常前进
	require.NoError(t, c.Seek(basic.Value("a")))
	k, _, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", k.String())
}

func TestCursorEmptyTree(t *testing.T) {
	f := newFixture(t, store.Options{})
	c := f.tree.OpenCursor(basic.ReadNone)
	assert.True(t, basic.IsEndOfSequence(c.First()))
	assert.True(t, basic.IsEndOfSequence(c.Last()))
	_, _, err := c.Next()
	assert.True(t, basic.IsEndOfSequence(err))
	assert.True(t, basic.IsEndOfSequence(c.Seek(basic.Value("a"))))
}

func TestCursorInvalidation(t *testing.T) {
	f := newFixture(t, store.Options{})
	fillTree(t, f, 100)

	c1 := f.tree.OpenCursor(basic.ReadNone)
	c2 := f.tree.OpenCursor(basic.ReadNone)
	require.NoError(t, c1.Seek(testKey(10)))
	require.NoError(t, c2.Seek(testKey(20)))

	// 原地覆盖不改变结构
	_, err := f.tree.Put(testKey(10), basic.Value("new"))
	require.NoError(t, err)
	_, v, err := c1.Current()
	require.NoError(t, err)
	assert.Equal(t, "new", v.String())

	// 新增键使所有游标失效
	_, err = f.tree.Put(basic.Value("key-000010a"), basic.Value("x"))
	require.NoError(t, err)
	_, _, err = c1.Next()
	assert.True(t, basic.IsInvalidCursor(err))
	assert.False(t, c2.Valid())
	_, _, err = c2.Current()
	assert.True(t, basic.IsInvalidCursor(err))

	// 重新定位后恢复
	require.NoError(t, c1.Seek(testKey(10)))
	k, _, err := c1.Next()
	require.NoError(t, err)
	assert.Equal(t, "key-000010a", k.String())
}

func TestCursorDelete(t *testing.T) {
	f := newFixture(t, store.Options{})
	fillTree(t, f, 50)

	c := f.tree.OpenCursor(basic.ReadNone)
	other := f.tree.OpenCursor(basic.ReadNone)
	require.NoError(t, other.First())

	require.NoError(t, c.Seek(testKey(5)))
	require.NoError(t, c.Delete())
	k, _, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, testKey(6), k)

	_, err = f.tree.Get(testKey(5), basic.ReadNone)
	assert.True(t, basic.IsKeyNotFound(err))
	_, _, err = other.Next()
	assert.True(t, basic.IsInvalidCursor(err))

	require.NoError(t, c.Last())
	require.NoError(t, c.Delete())
	_, _, err = c.Current()
	assert.True(t, basic.IsInvalidCursor(err))
	assert.Equal(t, uint64(48), f.st.Header().KeyCount)

	// 逐个删除剩余条目
	require.NoError(t, c.First())
	for c.Valid() {
		require.NoError(t, c.Delete())
	}
	assert.Equal(t, uint64(0), f.st.Header().KeyCount)
	_, err = f.tree.Check()
	require.NoError(t, err)
}

func TestCursorClosed(t *testing.T) {
	f := newFixture(t, store.Options{})
	fillTree(t, f, 3)
	c := f.tree.OpenCursor(basic.ReadNone)
	require.NoError(t, c.First())
	c.Close()
	c.Close()
	_, _, err := c.Next()
	assert.True(t, basic.IsInvalidCursor(err))
	assert.True(t, basic.IsInvalidCursor(c.First()))
}

func TestSequentialReadAhead(t *testing.T) {
	f := newFixture(t, store.Options{CachePages: 64, ReadAheadPages: 4})
	fillTree(t, f, 2000)
	f.reopen(t)

	c := f.tree.OpenCursor(basic.ReadSequential)
	count := 0
	for {
		_, _, err := c.Next()
		if basic.IsEndOfSequence(err) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2000, count)
	assert.True(t, f.st.Stats().ReadAheadPages > 0)
}
