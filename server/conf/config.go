package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/engine"
)

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
[bitable]
data_dir     = data
base_name    = default
page_size    = 4096
alignment    = 512
comparator   = bytewise
read_flags   = random

[cache]
cache_pages      = 256
read_ahead_pages = 8

[logs]
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// bitable
	DataDir    string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	BaseName   string `default:"default" yaml:"base_name" json:"base_name,omitempty"`
	PageSize   int    `default:"4096" yaml:"page_size" json:"page_size,omitempty"`
	Alignment  int    `default:"512" yaml:"alignment" json:"alignment,omitempty"`
	MaxKeySize int    `default:"256" yaml:"max_key_size" json:"max_key_size,omitempty"`
	MaxDepth   int    `default:"16" yaml:"max_depth" json:"max_depth,omitempty"`
	Comparator string `default:"" yaml:"comparator" json:"comparator,omitempty"`
	ReadFlags  string `default:"none" yaml:"read_flags" json:"read_flags,omitempty"`
	ReadOnly   bool   `default:"false" yaml:"read_only" json:"read_only,omitempty"`
	Create     bool   `default:"true" yaml:"create" json:"create,omitempty"`
	DumpCodec  string `default:"snappy" yaml:"dump_codec" json:"dump_codec,omitempty"`

	// cache
	CachePages     int `default:"256" yaml:"cache_pages" json:"cache_pages,omitempty"`
	ReadAheadPages int `default:"8" yaml:"read_ahead_pages" json:"read_ahead_pages,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:            ini.Empty(),
		DataDir:        "data",
		BaseName:       "default",
		PageSize:       basic.DefaultPageSize,
		Alignment:      basic.DefaultAlignment,
		MaxKeySize:     basic.MaxKeySize,
		MaxDepth:       basic.MaxBranchLevels,
		ReadFlags:      basic.ReadNone.String(),
		Create:         true,
		DumpCodec:      engine.CodecSnappy.String(),
		CachePages:     256,
		ReadAheadPages: 8,
		LogLevel:       "info",
	}
}

// Load 读取配置文件，文件不存在时保留默认值；以 .toml 结尾的文件按 TOML 解析
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	raw, err := cfg.loadConfiguration(args)
	if err != nil {
		return nil, err
	}
	cfg.Raw = raw

	cfg.parseBitableCfg(cfg.Raw.Section("bitable"))
	cfg.parseCacheCfg(cfg.Raw.Section("cache"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg, nil
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	if args == nil || args.ConfigPath == "" {
		return ini.Empty(), nil
	}
	configFile := args.ConfigPath

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return ini.Empty(), nil
	}

	if strings.EqualFold(filepath.Ext(configFile), ".toml") {
		tree, err := toml.LoadFile(configFile)
		if err != nil {
			return nil, errors.Annotatef(err, "解析配置文件 %s", configFile)
		}
		return tomlToIni(tree)
	}

	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return nil, errors.Annotatef(err, "解析配置文件 %s", configFile)
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return parsedFile, nil
}

// tomlToIni 把两层的 TOML 表转成 INI 分节，之后统一按 INI 解析
func tomlToIni(tree *toml.Tree) (*ini.File, error) {
	file := ini.Empty()
	for _, name := range tree.Keys() {
		table, ok := tree.Get(name).(*toml.Tree)
		if !ok {
			return nil, errors.NotValidf("顶层键 %q，配置项必须位于表内", name)
		}
		section := file.Section(name)
		for _, key := range table.Keys() {
			value := table.Get(key)
			if _, nested := value.(*toml.Tree); nested {
				return nil, errors.NotValidf("嵌套表 %s.%s", name, key)
			}
			if _, err := section.NewKey(key, fmt.Sprint(value)); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	return file, nil
}

func (cfg *Cfg) parseBitableCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.DataDir, _ = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.BaseName, _ = valueAsString(section, "base_name", cfg.BaseName)
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	cfg.Alignment = section.Key("alignment").MustInt(cfg.Alignment)
	cfg.MaxKeySize = section.Key("max_key_size").MustInt(cfg.MaxKeySize)
	cfg.MaxDepth = section.Key("max_depth").MustInt(cfg.MaxDepth)
	cfg.Comparator, _ = valueAsString(section, "comparator", cfg.Comparator)
	cfg.ReadOnly = section.Key("read_only").MustBool(cfg.ReadOnly)
	cfg.Create = section.Key("create").MustBool(cfg.Create)

	readFlags, _ := valueAsString(section, "read_flags", cfg.ReadFlags)
	cfg.ReadFlags = basic.ParseReadOpenFlags(readFlags).String()

	codec, _ := valueAsString(section, "dump_codec", cfg.DumpCodec)
	if _, err := engine.ParseCodec(codec); err != nil {
		logger.Warnf("无效的导出压缩方式 '%s', 使用 '%s'", codec, cfg.DumpCodec)
	} else {
		cfg.DumpCodec = strings.ToLower(codec)
	}
	return cfg
}

func (cfg *Cfg) parseCacheCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.CachePages = section.Key("cache_pages").MustInt(cfg.CachePages)
	cfg.ReadAheadPages = section.Key("read_ahead_pages").MustInt(cfg.ReadAheadPages)
	if cfg.CachePages < 0 {
		cfg.CachePages = 0
	}
	if cfg.ReadAheadPages < 0 {
		cfg.ReadAheadPages = 0
	}
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}

	logError, err := valueAsString(section, "log_error", cfg.LogError)
	if err == nil {
		cfg.LogError = logError
	}

	logInfos, err := valueAsString(section, "log_infos", cfg.LogInfos)
	if err == nil {
		cfg.LogInfos = logInfos
	}

	logLevel, err := valueAsString(section, "log_level", cfg.LogLevel)
	if err == nil {
		cfg.LogLevel = strings.ToLower(logLevel)
		validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
		isValid := false
		for _, level := range validLevels {
			if cfg.LogLevel == level {
				isValid = true
				break
			}
		}
		if !isValid {
			logger.Warnf("无效的日志级别 '%s', 使用默认级别 'info'", logLevel)
			cfg.LogLevel = "info"
		}
	}
	return cfg
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	if section == nil {
		return defaultValue, nil
	}
	value = section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value, nil
}

// LogConfig 日志配置
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}
}

// Paths 数据文件路径，由 data_dir 与 base_name 拼出
func (cfg *Cfg) Paths() (basic.Paths, error) {
	return basic.BuildPaths(filepath.Join(cfg.DataDir, cfg.BaseName))
}

// ReadOpenFlags 点查询使用的访问提示
func (cfg *Cfg) ReadOpenFlags() basic.ReadOpenFlags {
	return basic.ParseReadOpenFlags(cfg.ReadFlags)
}

// Codec 导出使用的压缩方式
func (cfg *Cfg) Codec() (engine.Codec, error) {
	return engine.ParseCodec(cfg.DumpCodec)
}

// EngineOptions 转换为打开引擎的参数，comparator 只接受内置名称
func (cfg *Cfg) EngineOptions() (*engine.Options, error) {
	opts := &engine.Options{
		ReadOnly:       cfg.ReadOnly,
		Create:         cfg.Create && !cfg.ReadOnly,
		PageSize:       cfg.PageSize,
		Alignment:      cfg.Alignment,
		MaxKeySize:     cfg.MaxKeySize,
		MaxDepth:       cfg.MaxDepth,
		CachePages:     cfg.CachePages,
		ReadAheadPages: cfg.ReadAheadPages,
	}
	if cfg.Comparator != "" {
		cmp, ok := basic.ComparatorByName(cfg.Comparator)
		if !ok {
			return nil, errors.NotValidf("comparator %q", cfg.Comparator)
		}
		opts.Comparator = cmp
	}
	return opts, nil
}

// GetString 按 "section.key" 读取原始配置
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 || cfg.Raw == nil {
		return ""
	}
	value, err := valueAsString(cfg.Raw.Section(parts[0]), strings.Join(parts[1:], "."), "")
	if err != nil {
		return ""
	}
	return value
}

// GetInt 按 "section.key" 读取整数，缺失或非法时返回 0
func (cfg *Cfg) GetInt(key string) int {
	n, err := strconv.Atoi(cfg.GetString(key))
	if err != nil {
		return 0
	}
	return n
}
