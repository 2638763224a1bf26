package basic

import "strings"

// ReadOpenFlags 访问模式提示，只影响页面缓存与预读策略，不影响结果
type ReadOpenFlags uint8

const (
	ReadNone ReadOpenFlags = iota
	ReadRandom
	ReadSequential
)

func (f ReadOpenFlags) String() string {
	switch f {
	case ReadRandom:
		return "random"
	case ReadSequential:
		return "sequential"
	default:
		return "none"
	}
}

// ParseReadOpenFlags 解析配置中的访问模式，未知值按 none 处理
func ParseReadOpenFlags(s string) ReadOpenFlags {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random":
		return ReadRandom
	case "sequential", "seq":
		return ReadSequential
	default:
		return ReadNone
	}
}
