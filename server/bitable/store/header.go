package store

import (
	"bytes"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/common"
	"github.com/zhukovaskychina/bitable/util"
)

// Header 文件头页（第 0 页）
//
//	magic(8) version(4) pageSize(4) alignment(4) maxKeySize(4) maxDepth(4)
//	root(4) freeHead(4) pageCount(4) freeCount(4) depth(4) keyCount(8)
//	comparatorLen(2) comparator(n) ... checksum(8)
type Header struct {
	Version    uint32
	PageSize   uint32
	Alignment  uint32
	MaxKeySize uint32
	MaxDepth   uint32
	Root       uint32
	FreeHead   uint32
	PageCount  uint32
	FreeCount  uint32
	Depth      uint32
	KeyCount   uint64
	Comparator string
}

const headerFieldsSize = 56

const maxComparatorNameLen = 255

// ValidateGeometry 校验页面大小与对齐粒度
func ValidateGeometry(pageSize, alignment int) error {
	if pageSize < basic.MinPageSize || pageSize > basic.MaxPageSize || !util.IsPowerOfTwo(pageSize) {
		return basic.NewError(basic.ResultPagesizeInvalid, "geometry", errors.Errorf("page size %d", pageSize))
	}
	if alignment < 1 || alignment > basic.MaxAlignment || !util.IsPowerOfTwo(alignment) {
		return basic.NewError(basic.ResultAlignmentInvalid, "geometry", errors.Errorf("alignment %d", alignment))
	}
	return nil
}

// Stride 相邻两页起始偏移之差
func (h *Header) Stride() int64 {
	return int64(util.RoundUp(int(h.PageSize), int(h.Alignment)))
}

// MaxPageCount 受最大文件长度和页号宽度限制的页面数上限
func (h *Header) MaxPageCount() uint32 {
	n := basic.MaxFileSize / h.Stride()
	if n > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

// MinFileSize 页面数对应的最小文件长度
func (h *Header) MinFileSize() int64 {
	return int64(h.PageCount) * h.Stride()
}

// Encode 编码为整页并写入校验和
func (h *Header) Encode() []byte {
	buf := make([]byte, 0, h.PageSize)
	buf = util.WriteBytes(buf, []byte(common.FILE_HEADER_MAGIC))
	buf = util.WriteUB4(buf, h.Version)
	buf = util.WriteUB4(buf, h.PageSize)
	buf = util.WriteUB4(buf, h.Alignment)
	buf = util.WriteUB4(buf, h.MaxKeySize)
	buf = util.WriteUB4(buf, h.MaxDepth)
	buf = util.WriteUB4(buf, h.Root)
	buf = util.WriteUB4(buf, h.FreeHead)
	buf = util.WriteUB4(buf, h.PageCount)
	buf = util.WriteUB4(buf, h.FreeCount)
	buf = util.WriteUB4(buf, h.Depth)
	buf = util.WriteUB8(buf, h.KeyCount)
	buf = util.WriteLengthBytes(buf, []byte(h.Comparator))
	page := buf[:h.PageSize]
	util.SealPage(page, common.PAGE_TRAILER_SIZE)
	return page
}

// decodeHeaderFields 解析固定字段，只检查魔数与版本
func decodeHeaderFields(buf []byte) (*Header, error) {
	if len(buf) < headerFieldsSize {
		return nil, basic.NewError(basic.ResultFileTooSmall, "decode header", errors.Errorf("%d bytes", len(buf)))
	}
	cursor, magic := util.ReadBytes(buf, 0, len(common.FILE_HEADER_MAGIC))
	if !bytes.Equal(magic, []byte(common.FILE_HEADER_MAGIC)) {
		return nil, basic.NewError(basic.ResultHeaderCorrupt, "decode header", errors.New("bad magic"))
	}
	h := &Header{}
	cursor, h.Version = util.ReadUB4(buf, cursor)
	if h.Version != common.FILE_FORMAT_VERSION {
		return nil, basic.NewError(basic.ResultHeaderCorrupt, "decode header", errors.Errorf("unsupported version %d", h.Version))
	}
	cursor, h.PageSize = util.ReadUB4(buf, cursor)
	cursor, h.Alignment = util.ReadUB4(buf, cursor)
	cursor, h.MaxKeySize = util.ReadUB4(buf, cursor)
	cursor, h.MaxDepth = util.ReadUB4(buf, cursor)
	cursor, h.Root = util.ReadUB4(buf, cursor)
	cursor, h.FreeHead = util.ReadUB4(buf, cursor)
	cursor, h.PageCount = util.ReadUB4(buf, cursor)
	cursor, h.FreeCount = util.ReadUB4(buf, cursor)
	cursor, h.Depth = util.ReadUB4(buf, cursor)
	_, h.KeyCount = util.ReadUB8(buf, cursor)
	return h, nil
}

// DecodeHeader 解析完整的文件头页
func DecodeHeader(page []byte) (*Header, error) {
	h, err := decodeHeaderFields(page)
	if err != nil {
		return nil, err
	}
	if err := ValidateGeometry(int(h.PageSize), int(h.Alignment)); err != nil {
		return nil, err
	}
	if len(page) != int(h.PageSize) {
		return nil, basic.NewError(basic.ResultFileTooSmall, "decode header", errors.Errorf("header page %d of %d bytes", len(page), h.PageSize))
	}
	if !util.VerifyPage(page, common.PAGE_TRAILER_SIZE) {
		return nil, basic.NewError(basic.ResultHeaderCorrupt, "decode header", errors.New("checksum mismatch"))
	}
	_, nameLen := util.ReadUB2(page, headerFieldsSize)
	if nameLen > maxComparatorNameLen {
		return nil, basic.NewError(basic.ResultHeaderCorrupt, "decode header", errors.Errorf("comparator name length %d", nameLen))
	}
	_, name := util.ReadLengthBytes(page, headerFieldsSize)
	h.Comparator = string(name)
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate 检查字段之间的一致性
func (h *Header) Validate() error {
	if err := ValidateGeometry(int(h.PageSize), int(h.Alignment)); err != nil {
		return err
	}
	corrupt := func(format string, args ...interface{}) error {
		return basic.NewError(basic.ResultHeaderCorrupt, "validate header", errors.Errorf(format, args...))
	}
	if h.MaxKeySize == 0 || h.MaxKeySize > basic.MaxKeySize {
		return corrupt("max key size %d", h.MaxKeySize)
	}
	if h.MaxDepth > basic.MaxBranchLevels {
		return corrupt("max depth %d", h.MaxDepth)
	}
	if h.Depth > h.MaxDepth {
		return corrupt("depth %d exceeds max depth %d", h.Depth, h.MaxDepth)
	}
	if h.PageCount == 0 || h.PageCount > h.MaxPageCount() {
		return corrupt("page count %d", h.PageCount)
	}
	if h.Root >= h.PageCount || h.FreeHead >= h.PageCount {
		return corrupt("root %d free head %d page count %d", h.Root, h.FreeHead, h.PageCount)
	}
	if h.FreeCount >= h.PageCount {
		return corrupt("free count %d page count %d", h.FreeCount, h.PageCount)
	}
	if len(h.Comparator) > maxComparatorNameLen {
		return corrupt("comparator name length %d", len(h.Comparator))
	}
	return nil
}
