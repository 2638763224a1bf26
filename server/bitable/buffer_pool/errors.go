package buffer_pool

import "errors"

var (
	ErrPageNotFound   = errors.New("page not found in buffer pool")
	ErrInvalidConfig  = errors.New("invalid buffer pool configuration")
	ErrInvalidPageLen = errors.New("page content length does not match page size")
	ErrClosed         = errors.New("buffer pool is closed")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op     string // 操作名称
	PageNo uint32
	Err    error // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, pageNo uint32, err error) error {
	return &BufferPoolError{
		Op:     op,
		PageNo: pageNo,
		Err:    err,
	}
}

// IsNotFound 检查是否为页面未找到错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}
