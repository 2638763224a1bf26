package btree

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/common"
)

// rebalance 处理 parent.children[i] 的下溢。
// 兄弟选择空闲空间更多的一侧；两者合起来放得下一页就合并，否则按字节重新分配并更新父节点中的分隔键。
// parent 只在内存中修改，由调用方写回。
func (t *BTree) rebalance(op *mutation, parent *node, i int) error {
	if len(parent.children) < 2 {
		return basic.NewError(basic.ResultHeaderCorrupt, "rebalance", errors.Errorf("branch %d has a single child", parent.id))
	}
	child, err := op.load(parent.children[i])
	if err != nil {
		return err
	}

	var left, right *node
	var sep int
	switch {
	case i == 0:
		sib, err := op.load(parent.children[1])
		if err != nil {
			return err
		}
		left, right, sep = child, sib, 0
	case i == len(parent.children)-1:
		sib, err := op.load(parent.children[i-1])
		if err != nil {
			return err
		}
		left, right, sep = sib, child, i-1
	default:
		l, err := op.load(parent.children[i-1])
		if err != nil {
			return err
		}
		r, err := op.load(parent.children[i+1])
		if err != nil {
			return err
		}
		if l.size() <= r.size() {
			left, right, sep = l, child, i-1
		} else {
			left, right, sep = child, r, i
		}
	}
	if left.leaf != right.leaf {
		return basic.NewError(basic.ResultHeaderCorrupt, "rebalance",
			errors.Errorf("siblings %d and %d are at different levels", left.id, right.id))
	}

	op.structural = true
	if left.leaf {
		return t.rebalanceLeaves(op, parent, left, right, sep)
	}
	return t.rebalanceBranches(op, parent, left, right, sep)
}

func (t *BTree) rebalanceLeaves(op *mutation, parent, left, right *node, sep int) error {
	if left.size()+right.size() <= usableSpace(op.pageSize()) {
		left.keys = append(left.keys, right.keys...)
		left.vals = append(left.vals, right.vals...)
		left.next = right.next
		if right.next != common.NIL_PAGE_ID {
			sib, err := op.load(right.next)
			if err != nil {
				return err
			}
			sib.prev = left.id
			if err := op.write(sib); err != nil {
				return err
			}
		}
		if err := op.write(left); err != nil {
			return err
		}
		if err := op.free(right); err != nil {
			return err
		}
		parent.removeChild(sep)
		return nil
	}

	all := &node{leaf: true}
	all.keys = append(append(all.keys, left.keys...), right.keys...)
	all.vals = append(append(all.vals, left.vals...), right.vals...)
	m := all.splitPoint(1, all.count()-1)
	left.keys = append([]basic.Value(nil), all.keys[:m]...)
	left.vals = append([]basic.Value(nil), all.vals[:m]...)
	right.keys = append([]basic.Value(nil), all.keys[m:]...)
	right.vals = append([]basic.Value(nil), all.vals[m:]...)
	if err := op.write(left); err != nil {
		return err
	}
	if err := op.write(right); err != nil {
		return err
	}
	parent.keys[sep] = right.keys[0].Clone()
	return nil
}

func (t *BTree) rebalanceBranches(op *mutation, parent, left, right *node, sep int) error {
	sepKey := parent.keys[sep]
	if left.size()+right.size()+branchEntrySize(sepKey) <= usableSpace(op.pageSize()) {
		left.keys = append(append(left.keys, sepKey), right.keys...)
		left.children = append(left.children, right.children...)
		if err := op.write(left); err != nil {
			return err
		}
		if err := op.free(right); err != nil {
			return err
		}
		parent.removeChild(sep)
		return nil
	}

	all := &node{}
	all.keys = append(append(append(all.keys, left.keys...), sepKey), right.keys...)
	all.children = append(append(all.children, left.children...), right.children...)
	m := all.splitPoint(1, all.count()-2)
	left.keys = append([]basic.Value(nil), all.keys[:m]...)
	left.children = append([]uint32(nil), all.children[:m+1]...)
	right.keys = append([]basic.Value(nil), all.keys[m+1:]...)
	right.children = append([]uint32(nil), all.children[m+1:]...)
	if err := op.write(left); err != nil {
		return err
	}
	if err := op.write(right); err != nil {
		return err
	}
	parent.keys[sep] = all.keys[m]
	return nil
}
