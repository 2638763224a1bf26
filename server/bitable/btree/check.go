package btree

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/common"
)

// TreeInfo 全量遍历得到的统计
type TreeInfo struct {
	LeafPages   uint32
	BranchPages uint32
	KeyCount    uint64
	UsedBytes   uint64
	Depth       uint32
}

type walker struct {
	tree  *BTree
	info  TreeInfo
	seen  map[uint32]bool
	depth uint32

	// 按从左到右的顺序记录叶子，用于核对兄弟链
	leaves []*node
	strict bool
}

func corruptTree(format string, args ...interface{}) error {
	return basic.NewError(basic.ResultHeaderCorrupt, "check", errors.Errorf(format, args...))
}

// Walk 遍历整棵树收集统计，只做读取路径上必要的校验
func (t *BTree) Walk() (TreeInfo, error) {
	w := &walker{tree: t, seen: make(map[uint32]bool)}
	if err := w.run(); err != nil {
		return TreeInfo{}, err
	}
	return w.info, nil
}

// Check 校验整棵树：键有序且落在父节点分隔键范围内，叶子同深，
// 兄弟链与遍历顺序一致，键数与文件头一致，树页面与空闲页面互不重叠且覆盖全部页面。
func (t *BTree) Check() (TreeInfo, error) {
	w := &walker{tree: t, seen: make(map[uint32]bool), strict: true}
	if err := w.run(); err != nil {
		return TreeInfo{}, err
	}
	h := t.store.Header()
	if w.info.KeyCount != h.KeyCount {
		return TreeInfo{}, corruptTree("tree holds %d keys, header says %d", w.info.KeyCount, h.KeyCount)
	}
	if err := w.checkLeafChain(); err != nil {
		return TreeInfo{}, err
	}
	free, err := t.store.FreePages()
	if err != nil {
		return TreeInfo{}, err
	}
	for _, id := range free {
		if w.seen[id] {
			return TreeInfo{}, corruptTree("page %d is both in the tree and on the free list", id)
		}
	}
	used := uint32(len(w.seen)) + uint32(len(free)) + 1
	if h.Root != common.NIL_PAGE_ID && used != h.PageCount {
		return TreeInfo{}, corruptTree("%d pages accounted for, file has %d", used, h.PageCount)
	}
	return w.info, nil
}

func (w *walker) run() error {
	h := w.tree.store.Header()
	w.depth = h.Depth
	w.info.Depth = h.Depth
	if h.Root == common.NIL_PAGE_ID {
		return nil
	}
	return w.visit(h.Root, 0, nil, nil, true)
}

// visit 检查以 pageNo 为根的子树，其键必须落在 [lo, hi) 内，nil 表示无界
func (w *walker) visit(pageNo uint32, level uint32, lo, hi basic.Value, isRoot bool) error {
	if w.seen[pageNo] {
		return corruptTree("page %d is referenced twice", pageNo)
	}
	w.seen[pageNo] = true
	if level > w.depth {
		return corruptTree("page %d is below the recorded depth %d", pageNo, w.depth)
	}
	n, err := w.tree.readNode(pageNo, basic.ReadSequential)
	if err != nil {
		return err
	}
	w.info.UsedBytes += uint64(n.size())

	if w.strict {
		if err := w.checkKeys(n, lo, hi); err != nil {
			return err
		}
		if !isRoot && n.count() == 0 {
			return corruptTree("non-root page %d is empty", pageNo)
		}
	}

	if n.leaf {
		if level != w.depth {
			return corruptTree("leaf %d at level %d, expected %d", pageNo, level, w.depth)
		}
		w.info.LeafPages++
		w.info.KeyCount += uint64(n.count())
		if w.strict {
			w.leaves = append(w.leaves, &node{id: n.id, leaf: true, prev: n.prev, next: n.next})
		}
		return nil
	}

	w.info.BranchPages++
	if isRoot && n.count() == 0 && w.strict {
		return corruptTree("root branch %d has no keys", pageNo)
	}
	for i, child := range n.children {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = n.keys[i-1]
		}
		if i < n.count() {
			childHi = n.keys[i]
		}
		if err := w.visit(child, level+1, childLo, childHi, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) checkKeys(n *node, lo, hi basic.Value) error {
	cmp := w.tree.cmp
	for i, key := range n.keys {
		if i > 0 && cmp.Compare(n.keys[i-1], key) >= 0 {
			return corruptTree("page %d: keys %d and %d out of order", n.id, i-1, i)
		}
		if lo != nil && cmp.Compare(key, lo) < 0 {
			return corruptTree("page %d: key %d below the separator", n.id, i)
		}
		if hi != nil && cmp.Compare(key, hi) >= 0 {
			return corruptTree("page %d: key %d not below the separator", n.id, i)
		}
	}
	return nil
}

func (w *walker) checkLeafChain() error {
	for i, leaf := range w.leaves {
		var wantPrev, wantNext uint32
		if i > 0 {
			wantPrev = w.leaves[i-1].id
		}
		if i+1 < len(w.leaves) {
			wantNext = w.leaves[i+1].id
		}
		if leaf.prev != wantPrev || leaf.next != wantNext {
			return corruptTree("leaf %d links prev=%d next=%d, expected prev=%d next=%d",
				leaf.id, leaf.prev, leaf.next, wantPrev, wantNext)
		}
	}
	return nil
}
