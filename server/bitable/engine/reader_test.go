package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
)

func readerKey(i int) basic.Value {
	return basic.Value(fmt.Sprintf("key-%05d", i))
}

func fillWriter(t *testing.T, w *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, w.Put(readerKey(i), basic.Value(fmt.Sprintf("value-%05d-%040d", i, i))))
	}
	require.NoError(t, w.Sync())
}

func TestReaderRefreshAfterWriterDeletes(t *testing.T) {
	paths := testPaths(t)
	w := openTest(t, paths, &Options{Create: true})
	fillWriter(t, w, 2000)

	r := openTest(t, paths, &Options{ReadOnly: true})
	c, err := r.OpenCursor(basic.ReadSequential)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Seek(readerKey(1000)))
	_, _, err = c.Current()
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		if i%4 != 0 {
			require.NoError(t, w.Delete(readerKey(i)))
		}
	}
	require.NoError(t, w.Sync())

	require.NoError(t, r.Refresh())
	_, _, err = c.Next()
	assert.True(t, basic.IsInvalidCursor(err))
	_, _, err = c.Current()
	assert.True(t, basic.IsInvalidCursor(err))

	_, err = r.Get(readerKey(1))
	assert.True(t, basic.IsKeyNotFound(err))
	v, err := r.Get(readerKey(4))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("value-%05d-%040d", 4, 4), v.String())

	require.NoError(t, c.Seek(readerKey(0)))
	count := 1
	for {
		_, _, err := c.Next()
		if basic.IsEndOfSequence(err) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 500, count)

	st, err := r.Stats(true)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), st.KeyCount)
}

func TestReaderSeesFreedPagesWithoutRefresh(t *testing.T) {
	paths := testPaths(t)
	w := openTest(t, paths, &Options{Create: true})
	fillWriter(t, w, 2000)

	r := openTest(t, paths, &Options{ReadOnly: true})
	c, err := r.OpenCursor(basic.ReadNone)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2000; i++ {
		require.NoError(t, w.Delete(readerKey(i)))
	}
	require.NoError(t, w.Sync())

	// 旧的根页面已被释放，读到后自动刷新
	_, err = r.Get(readerKey(1500))
	assert.True(t, basic.IsKeyNotFound(err))
	ok, err := r.Has(readerKey(3))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, basic.IsEndOfSequence(c.First()))

	require.NoError(t, r.Refresh())
	st, err := r.Stats(false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.KeyCount)

	require.NoError(t, w.Put(basic.Value("again"), basic.Value("1")))
	require.NoError(t, r.Refresh())
	v, err := r.Get(basic.Value("again"))
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())
}

func TestCorruptPageUnderConcurrentReads(t *testing.T) {
	paths := testPaths(t)
	e, err := Open(paths, basic.ReadNone, &Options{Create: true})
	require.NoError(t, err)
	require.NoError(t, e.Put(basic.Value("k"), basic.Value("v")))
	require.NoError(t, e.Close())

	// 根叶子为第 1 页，默认页面大小与对齐下偏移为 4096
	f, err := os.OpenFile(paths.Primary, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xde, 0xad, 0xbe, 0xef}, basic.DefaultPageSize+200)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e = openTest(t, paths, nil)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Get(basic.Value("k"))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.True(t, basic.Is(err, basic.ResultHeaderCorrupt))
	}

	// 写句柄读到损坏页面后不再可用
	err = e.Put(basic.Value("x"), basic.Value("y"))
	assert.True(t, basic.Is(err, basic.ResultHeaderCorrupt))
	_, err = e.Stats(false)
	assert.Error(t, err)
	assert.NoError(t, e.Close())
}

func TestOpenWithoutAuxiliaryPath(t *testing.T) {
	primary := filepath.Join(t.TempDir(), "bare.bitable")
	paths := basic.Paths{Primary: primary}

	w, err := Open(paths, basic.ReadNone, &Options{Create: true})
	require.NoError(t, err)
	assert.Equal(t, primary+basic.LockFileExt, w.Paths().Auxiliary)
	_, err = os.Stat(primary + basic.LockFileExt)
	require.NoError(t, err)
	require.NoError(t, w.Put(basic.Value("a"), basic.Value("1")))

	_, err = Open(paths, basic.ReadNone, nil)
	assert.True(t, basic.Is(err, basic.ResultAlreadyOpen))

	require.NoError(t, w.Close())
	_, err = os.Stat(primary + basic.LockFileExt)
	assert.True(t, os.IsNotExist(err))
}
