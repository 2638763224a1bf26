package basic

import "errors"

// Result 对外暴露的结果码
type Result int

const (
	ResultSuccess Result = iota
	ResultEndOfSequence
	ResultFileOpenFailed
	ResultFileOperationFailed
	ResultFileTooLarge
	ResultBadPath
	ResultAlreadyOpen
	ResultFileTooSmall
	ResultHeaderCorrupt
	ResultKeyNotFound
	ResultInvalidCursorLocation
	ResultMaximumTableTreeDepth
	ResultKeyInvalid
	ResultPagesizeInvalid
	ResultAlignmentInvalid
)

var resultNames = map[Result]string{
	ResultSuccess:               "success",
	ResultEndOfSequence:         "end of sequence",
	ResultFileOpenFailed:        "file open failed",
	ResultFileOperationFailed:   "file operation failed",
	ResultFileTooLarge:          "file too large",
	ResultBadPath:               "bad path",
	ResultAlreadyOpen:           "already open",
	ResultFileTooSmall:          "file too small",
	ResultHeaderCorrupt:         "header corrupt",
	ResultKeyNotFound:           "key not found",
	ResultInvalidCursorLocation: "invalid cursor location",
	ResultMaximumTableTreeDepth: "maximum table tree depth",
	ResultKeyInvalid:            "key invalid",
	ResultPagesizeInvalid:       "page size invalid",
	ResultAlignmentInvalid:      "alignment invalid",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "unknown result"
}

// Fatal I/O 与格式完整性错误会使句柄不可用
func (r Result) Fatal() bool {
	switch r {
	case ResultFileOperationFailed, ResultHeaderCorrupt:
		return true
	}
	return false
}

// Error 携带结果码的错误
type Error struct {
	Result Result
	Op     string // 操作名称
	Err    error  // 原始错误
}

func (e *Error) Error() string {
	msg := e.Result.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按结果码比较，使 errors.Is(err, ErrKeyNotFound) 对带上下文的错误同样成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Result == e.Result && t.Op == "" && t.Err == nil
}

// NewError 创建带结果码的错误
func NewError(result Result, op string, err error) error {
	return &Error{Result: result, Op: op, Err: err}
}

var (
	ErrEndOfSequence         = &Error{Result: ResultEndOfSequence}
	ErrFileOpenFailed        = &Error{Result: ResultFileOpenFailed}
	ErrFileOperationFailed   = &Error{Result: ResultFileOperationFailed}
	ErrFileTooLarge          = &Error{Result: ResultFileTooLarge}
	ErrBadPath               = &Error{Result: ResultBadPath}
	ErrAlreadyOpen           = &Error{Result: ResultAlreadyOpen}
	ErrFileTooSmall          = &Error{Result: ResultFileTooSmall}
	ErrHeaderCorrupt         = &Error{Result: ResultHeaderCorrupt}
	ErrKeyNotFound           = &Error{Result: ResultKeyNotFound}
	ErrInvalidCursorLocation = &Error{Result: ResultInvalidCursorLocation}
	ErrMaximumTableTreeDepth = &Error{Result: ResultMaximumTableTreeDepth}
	ErrKeyInvalid            = &Error{Result: ResultKeyInvalid}
	ErrPagesizeInvalid       = &Error{Result: ResultPagesizeInvalid}
	ErrAlignmentInvalid      = &Error{Result: ResultAlignmentInvalid}
)

type causer interface {
	Cause() error
}

type wrapper interface {
	Unwrap() error
}

// ResultOf 沿着 Cause()/Unwrap() 链找到第一个结果码。
// juju/errors 与 pkg/errors 的包装都能被穿透。
func ResultOf(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	for depth := 0; err != nil && depth < 64; depth++ {
		if e, ok := err.(*Error); ok {
			return e.Result
		}
		var next error
		if c, ok := err.(causer); ok {
			next = c.Cause()
		}
		if next == nil || next == err {
			next = nil
			if w, ok := err.(wrapper); ok {
				next = w.Unwrap()
			}
		}
		if next == err {
			break
		}
		err = next
	}
	return ResultFileOperationFailed
}

// Is 判断 err 是否属于指定结果码
func Is(err error, result Result) bool {
	if err == nil {
		return result == ResultSuccess
	}
	if errors.Is(err, &Error{Result: result}) {
		return true
	}
	return ResultOf(err) == result
}

func IsKeyNotFound(err error) bool {
	return Is(err, ResultKeyNotFound)
}

func IsEndOfSequence(err error) bool {
	return Is(err, ResultEndOfSequence)
}

func IsInvalidCursor(err error) bool {
	return Is(err, ResultInvalidCursorLocation)
}
