package engine

import (
	"bufio"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/util"
)

// Codec 导出文件的压缩方式
type Codec byte

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
)

const dumpMagic = "BTDUMP1\n"

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	}
	return "unknown"
}

// ParseCodec 解析压缩方式名称
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, errors.NotValidf("codec %q", s)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func newCodecWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopCloser{w}, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	}
	return nil, errors.NotValidf("codec %d", codec)
}

func newCodecReader(r io.Reader, codec Codec) (io.Reader, error) {
	switch codec {
	case CodecNone:
		return r, nil
	case CodecSnappy:
		return snappy.NewReader(r), nil
	case CodecLZ4:
		return lz4.NewReader(r), nil
	}
	return nil, errors.NotValidf("codec %d", codec)
}

// Dump 按键序导出全部条目。
//
//	magic(8) codec(1) | 压缩流: { klen(2) vlen(4) key val }* klen=0
func (e *Engine) Dump(w io.Writer, codec Codec) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return 0, err
	}
	header := util.WriteByte([]byte(dumpMagic), byte(codec))
	if _, err := w.Write(header); err != nil {
		return 0, errors.Annotate(err, "dump header")
	}
	cw, err := newCodecWriter(w, codec)
	if err != nil {
		return 0, err
	}

	c := e.tree.OpenCursor(basic.ReadSequential)
	defer c.Close()
	var count uint64
	buf := make([]byte, 0, 512)
	for {
		key, val, err := c.Next()
		if basic.IsEndOfSequence(err) {
			break
		}
		if err != nil {
			cw.Close()
			return count, e.observe(errors.Trace(err))
		}
		buf = buf[:0]
		buf = util.WriteUB2(buf, uint16(len(key)))
		buf = util.WriteUB4(buf, uint32(len(val)))
		buf = util.WriteBytes(buf, key)
		buf = util.WriteBytes(buf, val)
		if _, err := cw.Write(buf); err != nil {
			cw.Close()
			return count, errors.Annotatef(err, "dump entry %d", count)
		}
		count++
	}
	if _, err := cw.Write(util.WriteUB2(nil, 0)); err != nil {
		cw.Close()
		return count, errors.Annotate(err, "dump trailer")
	}
	if err := cw.Close(); err != nil {
		return count, errors.Annotate(err, "dump flush")
	}
	logger.Infof("dumped %d entries from %s with %s", count, e.paths.Primary, codec)
	return count, nil
}

// Load 导入 Dump 的输出，已存在的键被覆盖
func (e *Engine) Load(r io.Reader) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return 0, err
	}
	br := bufio.NewReader(r)
	header := make([]byte, len(dumpMagic)+1)
	if _, err := io.ReadFull(br, header); err != nil {
		return 0, errors.Annotate(err, "load header")
	}
	if string(header[:len(dumpMagic)]) != dumpMagic {
		return 0, errors.NotValidf("dump magic")
	}
	codec := Codec(header[len(dumpMagic)])
	cr, err := newCodecReader(br, codec)
	if err != nil {
		return 0, err
	}

	var count uint64
	lens := make([]byte, 6)
	for {
		if _, err := io.ReadFull(cr, lens[:2]); err != nil {
			return count, errors.Annotatef(err, "load entry %d", count)
		}
		_, klen := util.ReadUB2(lens, 0)
		if klen == 0 {
			break
		}
		if _, err := io.ReadFull(cr, lens[2:6]); err != nil {
			return count, errors.Annotatef(err, "load entry %d", count)
		}
		_, vlen := util.ReadUB4(lens, 2)
		if int(vlen) > basic.MaxPageSize {
			return count, errors.NotValidf("value length %d in entry %d", vlen, count)
		}
		entry := make([]byte, int(klen)+int(vlen))
		if _, err := io.ReadFull(cr, entry); err != nil {
			return count, errors.Annotatef(err, "load entry %d", count)
		}
		if _, err := e.tree.Put(entry[:klen], entry[klen:]); err != nil {
			return count, e.observe(errors.Annotatef(err, "load entry %d", count))
		}
		count++
	}
	logger.Infof("loaded %d entries into %s with %s", count, e.paths.Primary, codec)
	return count, nil
}
