package btree

import (
	"sync"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/pkg/types"
)

// node is a B+Tree node with latch-crabbing concurrency: callers must hold
// the node's RWMutex for the duration of any read or mutation, following
// the teacher's per-node sync.RWMutex pattern.
type node struct {
	t        int // minimum degree
	keys     []types.Comparable
	children []*node // empty for leaves
	dataPtrs []int64 // record pointers, parallel to keys, leaves only
	leaf     bool
	next     *node // leaf-chain link for ordered range scans
	mu       sync.RWMutex

	// pageID/hasPageID track the on-disk page this node is persisted to,
	// assigned once by Flush and reused on every later flush so a node's
	// location is stable across checkpoints.
	pageID    page.ID
	hasPageID bool
}

func newNode(t int, leaf bool) *node {
	return &node{t: t, leaf: leaf}
}

func (n *node) Lock()    { n.mu.Lock() }
func (n *node) Unlock()  { n.mu.Unlock() }
func (n *node) RLock()   { n.mu.RLock() }
func (n *node) RUnlock() { n.mu.RUnlock() }

// isFull reports whether n has reached its maximum key count (2t-1),
// meaning a preventive split is needed before descending into it during
// insert.
func (n *node) isFull() bool {
	return len(n.keys) >= 2*n.t-1
}

// findIndex returns the first index i such that keys[i] >= key, the
// standard B-tree descent position.
func (n *node) findIndex(key types.Comparable) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keys[mid].Compare(key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// search looks up key within a leaf node (must be called on a leaf with
// at least a read lock held).
func (n *node) search(key types.Comparable) (int64, bool) {
	i := n.findIndex(key)
	if i < len(n.keys) && n.keys[i].Compare(key) == 0 {
		return n.dataPtrs[i], true
	}
	return 0, false
}

// insertIntoLeaf inserts key/ptr into a non-full leaf at the sorted
// position, or overwrites the data pointer on an exact key match.
func (n *node) insertIntoLeaf(key types.Comparable, ptr int64) {
	i := n.findIndex(key)
	if i < len(n.keys) && n.keys[i].Compare(key) == 0 {
		n.dataPtrs[i] = ptr
		return
	}
	n.keys = append(n.keys, nil)
	n.dataPtrs = append(n.dataPtrs, 0)
	copy(n.keys[i+1:], n.keys[i:])
	copy(n.dataPtrs[i+1:], n.dataPtrs[i:])
	n.keys[i] = key
	n.dataPtrs[i] = ptr
}

// splitChild splits the full child at index i of n (an internal node)
// into two nodes, promoting the median key into n. For leaves the median
// key is duplicated upward per B+Tree convention (kept in the right
// sibling so leaf-chain scans still see every key); for internal nodes
// the median is removed from the node being split.
func (n *node) splitChild(i int) {
	child := n.children[i]
	t := child.t
	mid := t - 1

	right := newNode(t, child.leaf)
	var upKey types.Comparable

	if child.leaf {
		upKey = child.keys[mid]
		right.keys = append(right.keys, child.keys[mid:]...)
		right.dataPtrs = append(right.dataPtrs, child.dataPtrs[mid:]...)
		child.keys = child.keys[:mid]
		child.dataPtrs = child.dataPtrs[:mid]
		right.next = child.next
		child.next = right
	} else {
		upKey = child.keys[mid]
		right.keys = append(right.keys, child.keys[mid+1:]...)
		right.children = append(right.children, child.children[mid+1:]...)
		child.keys = child.keys[:mid]
		child.children = child.children[:mid+1]
	}

	n.children = append(n.children, nil)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = right

	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = upKey
}
