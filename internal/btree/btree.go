// Package btree implements the index structure backing table indexes: a
// B+Tree with latch-crabbing concurrency, preventive top-down splits on
// insert, and leaf-linked range scans. Deletes remove the key from its
// leaf; the tree never merges or redistributes underfull nodes (an
// explicit simplification — see DESIGN.md Open Question 1).
//
// The tree is built and mutated as an in-memory pointer structure (as
// above) but is not memory-only: Flush serializes every node to a page
// in an internal/page.Store, and Open reconstructs a tree from a
// previously flushed meta page id, giving the index the "persistent
// ordered index on top of the page store" shape the storage layer
// requires. See persist.go.
package btree

import (
	"sync"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/pkg/types"
)

const defaultDegree = 64

// Tree is a latch-crabbed B+Tree keyed by types.Comparable, storing
// int64 record pointers (heap/page offsets) at the leaves.
type Tree struct {
	mu     sync.RWMutex // guards root replacement, not node contents
	root   *node
	t      int
	unique bool

	// metaID/hasMetaID identify the page holding this tree's persisted
	// root pointer, assigned once by the first Flush (or by Open, which
	// reconstructs a tree from an existing meta page) and reused on
	// every later Flush.
	metaID    page.ID
	hasMetaID bool
}

// New returns an empty tree with the default node degree.
func New() *Tree { return newTree(defaultDegree, false) }

// NewUnique returns an empty tree flagged as unique, used for primary-key
// and unique indexes. The flag is persisted with the tree; Insert does not
// reject an existing key but overwrites its pointer, as in any tree.
func NewUnique() *Tree { return newTree(defaultDegree, true) }

func newTree(degree int, unique bool) *Tree {
	root := newNode(degree, true)
	return &Tree{root: root, t: degree, unique: unique}
}

// Search returns the record pointer for key, if present.
func (tr *Tree) Search(key types.Comparable) (int64, bool) {
	tr.mu.RLock()
	n := tr.root
	tr.mu.RUnlock()

	n.RLock()
	for !n.leaf {
		i := n.findIndex(key)
		if i < len(n.keys) && n.keys[i].Compare(key) == 0 {
			i++
		}
		child := n.children[i]
		child.RLock()
		n.RUnlock()
		n = child
	}
	defer n.RUnlock()
	return n.search(key)
}

// Insert adds key/ptr to the tree. If the tree is unique and key already
// exists, the existing pointer is overwritten (callers enforcing
// uniqueness as a constraint check it beforehand via Search).
func (tr *Tree) Insert(key types.Comparable, ptr int64) {
	tr.mu.Lock()
	root := tr.root
	if root.isFull() {
		newRoot := newNode(tr.t, false)
		newRoot.children = append(newRoot.children, root)
		newRoot.splitChild(0)
		tr.root = newRoot
		root = newRoot
	}
	tr.mu.Unlock()

	root.Lock()
	tr.insertNonFull(root, key, ptr)
}

// insertNonFull descends with latch crabbing: a child is locked before
// its parent is unlocked, and preventive splits mean a node is only ever
// entered non-full, so the parent latch can always be released right
// after acquiring the child's.
func (tr *Tree) insertNonFull(n *node, key types.Comparable, ptr int64) {
	if n.leaf {
		n.insertIntoLeaf(key, ptr)
		n.Unlock()
		return
	}

	i := n.findIndex(key)
	if i < len(n.keys) && n.keys[i].Compare(key) == 0 {
		i++
	}
	child := n.children[i]
	child.Lock()
	if child.isFull() {
		n.splitChild(i)
		if n.keys[i].Compare(key) <= 0 {
			i++
		}
		child.Unlock()
		child = n.children[i]
		child.Lock()
	}
	n.Unlock()
	tr.insertNonFull(child, key, ptr)
}

// Delete removes key's slot from its leaf. Per the package's explicit
// simplification, no merge or key redistribution follows: an underfull
// leaf is left as-is until a future insert or rebuild repopulates it.
func (tr *Tree) Delete(key types.Comparable) bool {
	tr.mu.RLock()
	n := tr.root
	tr.mu.RUnlock()

	n.Lock()
	for !n.leaf {
		i := n.findIndex(key)
		if i < len(n.keys) && n.keys[i].Compare(key) == 0 {
			i++
		}
		child := n.children[i]
		child.Lock()
		n.Unlock()
		n = child
	}
	defer n.Unlock()

	i := n.findIndex(key)
	if i >= len(n.keys) || n.keys[i].Compare(key) != 0 {
		return false
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.dataPtrs = append(n.dataPtrs[:i], n.dataPtrs[i+1:]...)
	return true
}

// Cursor positions a leaf-linked forward scan starting at the first key
// >= lowerBound (or the very first key if lowerBound is nil).
type Cursor struct {
	n   *node
	pos int
}

// Seek returns a cursor positioned at lowerBound, following leaf links
// for subsequent Next calls without re-descending the tree.
func (tr *Tree) Seek(lowerBound types.Comparable) *Cursor {
	tr.mu.RLock()
	n := tr.root
	tr.mu.RUnlock()

	n.RLock()
	for !n.leaf {
		var i int
		if lowerBound == nil {
			i = 0
		} else {
			i = n.findIndex(lowerBound)
		}
		if i >= len(n.children) {
			i = len(n.children) - 1
		}
		child := n.children[i]
		child.RLock()
		n.RUnlock()
		n = child
	}
	pos := 0
	if lowerBound != nil {
		pos = n.findIndex(lowerBound)
	}
	return &Cursor{n: n, pos: pos}
}

// Next returns the next key/pointer pair and advances the cursor,
// crossing leaf boundaries via the next-leaf link, until the tree is
// exhausted.
func (c *Cursor) Next() (types.Comparable, int64, bool) {
	for c.n != nil {
		if c.pos < len(c.n.keys) {
			k, p := c.n.keys[c.pos], c.n.dataPtrs[c.pos]
			c.pos++
			return k, p, true
		}
		next := c.n.next
		c.n.RUnlock()
		c.n = next
		c.pos = 0
		if c.n != nil {
			c.n.RLock()
		}
	}
	return nil, 0, false
}

// Close releases the cursor's currently held leaf latch, if any; callers
// that run Next to exhaustion need not call this.
func (c *Cursor) Close() {
	if c.n != nil {
		c.n.RUnlock()
		c.n = nil
	}
}
