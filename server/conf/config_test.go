package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/engine"
)

func writeConfig(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := NewCfg().Load(&CommandLineArgs{})
	require.NoError(t, err)
	assert.Equal(t, basic.DefaultPageSize, cfg.PageSize)
	assert.Equal(t, basic.DefaultAlignment, cfg.Alignment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Create)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Nil(t, opts.Comparator)
	assert.Equal(t, 256, opts.CachePages)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: filepath.Join(t.TempDir(), "none.ini")})
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.BaseName)
}

func TestLoadIni(t *testing.T) {
	path := writeConfig(t, "bitable.ini", `
[bitable]
data_dir   = /var/lib/bitable
base_name  = users
page_size  = 8192
alignment  = 4096
comparator = uint64
read_flags = Sequential
read_only  = true
dump_codec = LZ4

[cache]
cache_pages      = 1024
read_ahead_pages = -3

[logs]
log_level = LOUD
`)
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, 4096, cfg.Alignment)
	assert.Equal(t, basic.ReadSequential, cfg.ReadOpenFlags())
	assert.Equal(t, 1024, cfg.CachePages)
	assert.Equal(t, 0, cfg.ReadAheadPages)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8192", cfg.GetString("bitable.page_size"))
	assert.Equal(t, 1024, cfg.GetInt("cache.cache_pages"))
	assert.Equal(t, 0, cfg.GetInt("cache.missing"))

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, engine.CodecLZ4, codec)

	paths, err := cfg.Paths()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/bitable", "users"+basic.DataFileExt), paths.Primary)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.True(t, opts.ReadOnly)
	assert.False(t, opts.Create)
	assert.Equal(t, basic.Uint64Comparator, opts.Comparator)
}

func TestLoadToml(t *testing.T) {
	path := writeConfig(t, "bitable.toml", `
[bitable]
base_name = "orders"
page_size = 16384
max_depth = 4
create = false

[cache]
cache_pages = 32

[logs]
log_level = "debug"
`)
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.BaseName)
	assert.Equal(t, 16384, cfg.PageSize)
	assert.Equal(t, 4, cfg.MaxDepth)
	assert.False(t, cfg.Create)
	assert.Equal(t, 32, cfg.CachePages)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "debug", cfg.LogConfig().LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("TOML顶层键", func(t *testing.T) {
		path := writeConfig(t, "bad.toml", "page_size = 4096\n")
		_, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
		assert.Error(t, err)
	})
	t.Run("TOML语法错误", func(t *testing.T) {
		path := writeConfig(t, "broken.toml", "[bitable\n")
		_, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
		assert.Error(t, err)
	})
	t.Run("未知排序", func(t *testing.T) {
		path := writeConfig(t, "cmp.ini", "[bitable]\ncomparator = natural\n")
		cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
		require.NoError(t, err)
		_, err = cfg.EngineOptions()
		assert.Error(t, err)
	})
	t.Run("无效压缩方式保留默认", func(t *testing.T) {
		path := writeConfig(t, "codec.ini", "[bitable]\ndump_codec = zstd\n")
		cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
		require.NoError(t, err)
		assert.Equal(t, "snappy", cfg.DumpCodec)
	})
}
