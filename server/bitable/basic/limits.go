package basic

// 编译期上限，文件头中的配置值在打开时与之比对
const (
	// MinPageSize 最小页面大小
	MinPageSize = 4096
	// MaxPageSize 最大页面大小
	MaxPageSize = 65536
	// MaxAlignment 页面起始偏移允许的最大对齐粒度
	MaxAlignment = 65536
	// MaxKeySize 键的最大字节数
	MaxKeySize = 256
	// MaxBranchLevels 叶子之上允许的最大分支层数
	MaxBranchLevels = 16
	// MaxFileSize 单个数据文件的最大字节数
	MaxFileSize = int64(1) << 40
)

const (
	DefaultPageSize  = 4096
	DefaultAlignment = 512
)
