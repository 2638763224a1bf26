package basic

import "fmt"

// Value 键或值的字节串。
//
// 传入引擎的 Value 只在本次调用期间被借用；引擎返回的 Value 总是一份拷贝，归调用方所有。
type Value []byte

// Clone 返回独立的拷贝
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	copy(out, v)
	return out
}

func (v Value) Len() int {
	return len(v)
}

func (v Value) String() string {
	return string(v)
}

// ValidateKey 检查键的长度，limit 为文件配置的最大键长
func ValidateKey(key Value, limit int) error {
	if len(key) == 0 {
		return NewError(ResultKeyInvalid, "validate key", fmt.Errorf("empty key"))
	}
	if limit <= 0 || limit > MaxKeySize {
		limit = MaxKeySize
	}
	if len(key) > limit {
		return NewError(ResultKeyInvalid, "validate key",
			fmt.Errorf("key size %d exceeds limit %d", len(key), limit))
	}
	return nil
}
