package engine

import (
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/btree"
)

// Cursor 引擎上的游标。一个游标只能由一个 goroutine 使用。
// 只读句柄读到写句柄改动过的页面时会自动刷新，已定位的游标随之失效，需要重新定位。
type Cursor struct {
	engine *Engine
	inner  *btree.Cursor
}

func (c *Cursor) read(fn func() error) error {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	if err := c.engine.usable(); err != nil {
		return err
	}
	return c.engine.observe(c.engine.retry(fn, basic.ResultHeaderCorrupt))
}

// Seek 定位到第一个 >= key 的条目
func (c *Cursor) Seek(key basic.Value) error {
	return c.read(func() error { return c.inner.Seek(key) })
}

// First 定位到第一个条目
func (c *Cursor) First() error {
	return c.read(c.inner.First)
}

// Last 定位到最后一个条目
func (c *Cursor) Last() error {
	return c.read(c.inner.Last)
}

// Next 前进一步并返回新位置上的条目
func (c *Cursor) Next() (key, val basic.Value, err error) {
	err = c.read(func() error {
		key, val, err = c.inner.Next()
		return err
	})
	return key, val, err
}

// Previous 后退一步并返回新位置上的条目
func (c *Cursor) Previous() (key, val basic.Value, err error) {
	err = c.read(func() error {
		key, val, err = c.inner.Previous()
		return err
	})
	return key, val, err
}

// Current 当前条目
func (c *Cursor) Current() (key, val basic.Value, err error) {
	err = c.read(func() error {
		key, val, err = c.inner.Current()
		return err
	})
	return key, val, err
}

// Valid 是否停在一个条目上
func (c *Cursor) Valid() bool {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return c.engine.usable() == nil && c.inner.Valid()
}

// Delete 删除当前条目并移动到下一个条目，其他游标失效
func (c *Cursor) Delete() error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if err := c.engine.writable(); err != nil {
		return err
	}
	return c.engine.observe(c.inner.Delete())
}

// Close 关闭游标，可重复调用
func (c *Cursor) Close() {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	c.inner.Close()
	if c.engine.cursors != nil {
		delete(c.engine.cursors, c)
	}
}
