package basic

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zhukovaskychina/bitable/util"
)

const (
	DataFileExt = ".bitable"
	LockFileExt = ".lock"
)

// Paths 数据文件位置。Primary 为数据文件，Auxiliary 为写者锁文件，可以为空。
type Paths struct {
	Primary   string
	Auxiliary string
}

// BuildPaths 由基础路径确定性地推导出数据文件与锁文件路径
func BuildPaths(base string) (Paths, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return Paths{}, NewError(ResultBadPath, "build paths", fmt.Errorf("empty base path"))
	}
	if strings.HasSuffix(base, string(filepath.Separator)) || util.IsDir(base) {
		return Paths{}, NewError(ResultBadPath, "build paths", fmt.Errorf("%s is a directory", base))
	}
	primary := filepath.Clean(base)
	if !strings.HasSuffix(primary, DataFileExt) {
		primary += DataFileExt
	}
	return Paths{
		Primary:   primary,
		Auxiliary: primary + LockFileExt,
	}, nil
}

// Validate 检查路径是否可用
func (p Paths) Validate() error {
	if p.Primary == "" {
		return NewError(ResultBadPath, "validate paths", fmt.Errorf("primary path is empty"))
	}
	if util.IsDir(p.Primary) {
		return NewError(ResultBadPath, "validate paths", fmt.Errorf("%s is a directory", p.Primary))
	}
	if p.Auxiliary != "" && p.Auxiliary == p.Primary {
		return NewError(ResultBadPath, "validate paths", fmt.Errorf("auxiliary path equals primary path"))
	}
	return nil
}
