package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
)

func TestPrefetchManager(t *testing.T) {
	t.Run("TestReadAheadRange", func(t *testing.T) {
		loader := newMemLoader(16)
		bp := newTestPool(t, 16, 4, loader)

		assert.Equal(t, 4, bp.ReadAhead(5))
		for pageNo := uint32(5); pageNo < 9; pageNo++ {
			assert.True(t, bp.Contains(pageNo))
		}
		assert.False(t, bp.Contains(9))
		assert.Equal(t, uint64(4), bp.GetStats().ReadAheadPages)

		buf := make([]byte, testPageSize)
		require.NoError(t, bp.GetPage(6, buf, basic.ReadSequential))
		stats := bp.GetStats()
		assert.Equal(t, uint64(1), stats.ReadAheadHits)
		assert.Equal(t, uint64(1), stats.PageHits)
	})

	t.Run("TestReadAheadStopsAtEndOfFile", func(t *testing.T) {
		loader := newMemLoader(6)
		bp := newTestPool(t, 16, 8, loader)
		assert.Equal(t, 2, bp.ReadAhead(4))
	})

	t.Run("TestReadAheadSkipsCachedAndFailures", func(t *testing.T) {
		loader := newMemLoader(16)
		loader.fail[7] = true
		bp := newTestPool(t, 16, 4, loader)

		buf := make([]byte, testPageSize)
		require.NoError(t, bp.GetPage(5, buf, basic.ReadNone))
		assert.Equal(t, 1, bp.ReadAhead(5))
		assert.False(t, bp.Contains(7))
	})

	t.Run("TestReadAheadDisabled", func(t *testing.T) {
		loader := newMemLoader(16)
		bp := newTestPool(t, 16, 0, loader)
		assert.Equal(t, 0, bp.ReadAhead(1))
		assert.Equal(t, 0, bp.Len())
	})
}
