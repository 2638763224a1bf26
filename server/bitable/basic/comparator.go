package basic

import (
	"bytes"
	"encoding/binary"
)

// Comparator 键排序能力。整个会话期间保持不变，所有树操作都通过它比较键。
type Comparator interface {
	// Compare 返回负数、0、正数分别表示 a<b、a==b、a>b
	Compare(a, b Value) int
	// Name 写入文件头，用于在打开时拒绝不一致的排序
	Name() string
}

// ComparisonFunc 原始比较函数，ctx 为调用方附带的上下文
type ComparisonFunc func(a, b Value, ctx interface{}) int

type funcComparator struct {
	name string
	fn   ComparisonFunc
	ctx  interface{}
}

// NewComparator 将比较函数与上下文绑定为 Comparator
func NewComparator(name string, fn ComparisonFunc, ctx interface{}) Comparator {
	return &funcComparator{name: name, fn: fn, ctx: ctx}
}

func (c *funcComparator) Compare(a, b Value) int {
	return c.fn(a, b, c.ctx)
}

func (c *funcComparator) Name() string {
	return c.name
}

type bytewise struct{}

func (bytewise) Compare(a, b Value) int { return bytes.Compare(a, b) }
func (bytewise) Name() string           { return "bitable.bytewise" }

// BytewiseComparator 字典序
var BytewiseComparator Comparator = bytewise{}

type reverse struct {
	inner Comparator
}

func (r reverse) Compare(a, b Value) int { return r.inner.Compare(b, a) }
func (r reverse) Name() string           { return "reverse(" + r.inner.Name() + ")" }

// ReverseComparator 反转给定排序
func ReverseComparator(c Comparator) Comparator {
	return reverse{inner: c}
}

type uint64Comparator struct{}

// 8 字节大端无符号整数；长度不为 8 的键退化为字典序
func (uint64Comparator) Compare(a, b Value) int {
	if len(a) != 8 || len(b) != 8 {
		return bytes.Compare(a, b)
	}
	x, y := binary.BigEndian.Uint64(a), binary.BigEndian.Uint64(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func (uint64Comparator) Name() string { return "bitable.uint64" }

// Uint64Comparator 适用于 8 字节大端整数键
var Uint64Comparator Comparator = uint64Comparator{}

// Uint64Key 将整数编码为 Uint64Comparator 使用的键
func Uint64Key(v uint64) Value {
	key := make(Value, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}

// ComparatorByName 返回内置排序，供配置文件使用
func ComparatorByName(name string) (Comparator, bool) {
	switch name {
	case "", "bytewise", BytewiseComparator.Name():
		return BytewiseComparator, true
	case "uint64", Uint64Comparator.Name():
		return Uint64Comparator, true
	case "reverse", "reverse(" + BytewiseComparator.Name() + ")":
		return ReverseComparator(BytewiseComparator), true
	}
	return nil, false
}
