package basic

import (
	"errors"
	"fmt"
	"os"
	"testing"

	jerrors "github.com/juju/errors"
	perrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestResultOf(t *testing.T) {
	assert.Equal(t, ResultSuccess, ResultOf(nil))
	assert.Equal(t, ResultKeyNotFound, ResultOf(ErrKeyNotFound))

	wrapped := NewError(ResultHeaderCorrupt, "open", fmt.Errorf("bad magic"))
	assert.Equal(t, ResultHeaderCorrupt, ResultOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrHeaderCorrupt))
	assert.False(t, errors.Is(wrapped, ErrKeyNotFound))

	traced := jerrors.Annotatef(jerrors.Trace(wrapped), "engine %s", "x")
	assert.Equal(t, ResultHeaderCorrupt, ResultOf(traced))
	assert.True(t, Is(traced, ResultHeaderCorrupt))

	pkgWrapped := perrors.Wrapf(ErrMaximumTableTreeDepth, "insert into %d", 3)
	assert.Equal(t, ResultMaximumTableTreeDepth, ResultOf(pkgWrapped))
	assert.Equal(t, ResultMaximumTableTreeDepth, ResultOf(jerrors.Trace(pkgWrapped)))

	// 未分类的系统错误归为文件操作失败
	assert.Equal(t, ResultFileOperationFailed, ResultOf(&os.PathError{Op: "read", Path: "x", Err: os.ErrClosed}))
}

func TestResultHelpers(t *testing.T) {
	assert.True(t, IsKeyNotFound(jerrors.Trace(ErrKeyNotFound)))
	assert.True(t, IsEndOfSequence(ErrEndOfSequence))
	assert.True(t, IsInvalidCursor(NewError(ResultInvalidCursorLocation, "next", nil)))
	assert.False(t, IsKeyNotFound(nil))
	assert.True(t, Is(nil, ResultSuccess))
	assert.True(t, ResultHeaderCorrupt.Fatal())
	assert.False(t, ResultKeyNotFound.Fatal())
	assert.Equal(t, "open: bad path: x", NewError(ResultBadPath, "open", fmt.Errorf("x")).Error())
}
