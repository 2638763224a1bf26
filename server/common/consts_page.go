package common

// 文件头页
const FILE_HEADER_MAGIC = "BITABLE\x00"

const FILE_FORMAT_VERSION = 1

// 文件头页中固定字段的长度，打开文件时先读这一段确定页面大小
const FILE_HEADER_FIXED_SIZE = 64

// 每个页面末尾的 xxhash64 校验和
const PAGE_TRAILER_SIZE = 8

// 树节点页头
const PAGE_NODE_HEADER_SIZE = 16

// 槽位数组中每个槽位的字节数
const PAGE_SLOT_SIZE = 2

// 页面类型，位于每个页面的第一个字节
const (
	//最新分配，还未使用
	FILE_PAGE_TYPE_ALLOCATED = 0x00

	FILE_PAGE_TYPE_HEADER = 0x01

	//叶子节点
	FILE_PAGE_TYPE_LEAF = 0x02

	//分支节点
	FILE_PAGE_TYPE_BRANCH = 0x03

	//空闲链表中的页面
	FILE_PAGE_TYPE_FREE = 0x04
)

// 空闲页面中下一个空闲页号的偏移
const FREE_PAGE_NEXT_OFFSET = 4

// 页号 0 永远是文件头页，因此 0 也用作空指针
const NIL_PAGE_ID = 0

// PageTypeName 页面类型名称，用于日志与校验输出
func PageTypeName(t byte) string {
	switch t {
	case FILE_PAGE_TYPE_ALLOCATED:
		return "allocated"
	case FILE_PAGE_TYPE_HEADER:
		return "header"
	case FILE_PAGE_TYPE_LEAF:
		return "leaf"
	case FILE_PAGE_TYPE_BRANCH:
		return "branch"
	case FILE_PAGE_TYPE_FREE:
		return "free"
	}
	return "unknown"
}
