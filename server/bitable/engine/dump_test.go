package engine

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
)

func TestDumpLoad(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			src := openTest(t, testPaths(t), &Options{Create: true})
			for i := 0; i < 500; i++ {
				val := bytes.Repeat([]byte{byte('a' + i%26)}, i%120)
				require.NoError(t, src.Put(basic.Value(fmt.Sprintf("k%05d", i)), val))
			}

			var buf bytes.Buffer
			n, err := src.Dump(&buf, codec)
			require.NoError(t, err)
			assert.Equal(t, uint64(500), n)

			dst := openTest(t, testPaths(t), &Options{Create: true, PageSize: 8192})
			loaded, err := dst.Load(&buf)
			require.NoError(t, err)
			assert.Equal(t, uint64(500), loaded)

			for i := 0; i < 500; i++ {
				key := basic.Value(fmt.Sprintf("k%05d", i))
				want, err := src.Get(key)
				require.NoError(t, err)
				got, err := dst.Get(key)
				require.NoError(t, err)
				require.Equal(t, want.Len(), got.Len())
				require.True(t, bytes.Equal(want, got))
			}
			_, err = dst.Check()
			require.NoError(t, err)
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	e := openTest(t, testPaths(t), &Options{Create: true})
	_, err := e.Load(bytes.NewReader([]byte("not a dump file")))
	assert.Error(t, err)

	var buf bytes.Buffer
	buf.WriteString(dumpMagic)
	buf.WriteByte(byte(CodecNone))
	buf.Write([]byte{3, 0})
	_, err = e.Load(&buf)
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)
	c, err = ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, c)
	_, err = ParseCodec("zstd")
	assert.Error(t, err)
}
