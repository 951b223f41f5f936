package btree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/pkg/types"
)

// NodeOverflowError reports a node whose encoded form does not fit in a
// single page, the one condition the fixed-degree node layout cannot
// absorb by splitting: degree is sized (defaultDegree) so this should
// never trigger for the key types the engine actually stores, but
// Flush checks for it rather than silently truncating a node.
type NodeOverflowError struct {
	PageID page.ID
}

func (e *NodeOverflowError) Error() string {
	return "btree: node does not fit in one page"
}

// Height returns the number of levels from root to leaf, inclusive
// (an empty tree with only a root leaf has height 1).
func (tr *Tree) Height() int {
	tr.mu.RLock()
	n := tr.root
	tr.mu.RUnlock()

	n.RLock()
	h := 1
	for !n.leaf {
		h++
		child := n.children[0]
		child.RLock()
		n.RUnlock()
		n = child
	}
	n.RUnlock()
	return h
}

// Len returns the total number of keys stored in the tree, found by
// walking the leaf chain once.
func (tr *Tree) Len() int {
	c := tr.Seek(nil)
	defer c.Close()
	count := 0
	for {
		_, _, ok := c.Next()
		if !ok {
			break
		}
		count++
	}
	return count
}

// Upsert inserts key/ptr, returning true if key was not already present
// and false if an existing pointer was overwritten.
func (tr *Tree) Upsert(key types.Comparable, ptr int64) bool {
	_, existed := tr.Search(key)
	tr.Insert(key, ptr)
	return !existed
}

// Entry is one key/pointer pair returned by RangeScan.
type Entry struct {
	Key types.Comparable
	Ptr int64
}

// RangeScan returns every key/pointer pair with lo <= key <= hi
// (inclusive on both ends), in ascending order. A nil lo starts at the
// first key; a nil hi scans through the last key.
func (tr *Tree) RangeScan(lo, hi types.Comparable) []Entry {
	var out []Entry
	c := tr.Seek(lo)
	defer c.Close()
	for {
		k, p, ok := c.Next()
		if !ok {
			break
		}
		if hi != nil && k.Compare(hi) > 0 {
			break
		}
		out = append(out, Entry{Key: k, Ptr: p})
	}
	return out
}

// Flush serializes every node to a page in store, allocating a page the
// first time a node is written and reusing the same page id on every
// later flush, then writes (or updates) the tree's meta page recording
// the root page id and the key type tag. The returned meta page id is
// what a caller persists in the schema catalogue to reopen the tree
// with Open.
func (tr *Tree) Flush(store *page.Store) (page.ID, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tag := firstKeyTag(tr.root)

	rootID, err := assignPageIDs(store, tr.root)
	if err != nil {
		return 0, err
	}
	if err := encodeNodes(store, tr.root, tag); err != nil {
		return 0, err
	}

	if !tr.hasMetaID {
		p, err := store.Allocate(page.KindMeta)
		if err != nil {
			return 0, err
		}
		tr.metaID = p.ID
		tr.hasMetaID = true
	}
	metaPage, err := store.Fetch(tr.metaID)
	if err != nil {
		return 0, err
	}
	encodeMeta(metaPage, tag, tr.unique, rootID)
	store.Put(metaPage)

	return tr.metaID, nil
}

// Open reconstructs a tree previously flushed to store, starting from
// its meta page at metaID.
func Open(store *page.Store, metaID page.ID) (*Tree, error) {
	metaPage, err := store.Fetch(metaID)
	if err != nil {
		return nil, err
	}
	tag, unique, rootID := decodeMeta(metaPage)

	nodesByID := make(map[page.ID]*node)
	pendingNext := make(map[page.ID]page.ID)
	root, err := loadNode(store, rootID, tag, nodesByID, pendingNext)
	if err != nil {
		return nil, err
	}
	for id, nextID := range pendingNext {
		n, ok := nodesByID[id]
		if !ok {
			continue
		}
		if next, ok := nodesByID[nextID]; ok {
			n.next = next
		}
	}

	return &Tree{
		root:      root,
		t:         defaultDegree,
		unique:    unique,
		metaID:    metaID,
		hasMetaID: true,
	}, nil
}

// firstKeyTag returns the on-disk tag for the tree's key type, found by
// descending to the leftmost leaf. An entirely empty tree (never
// inserted into) has no key to infer a tag from and returns 0; Open
// treats a 0 tag as an empty tree.
func firstKeyTag(root *node) byte {
	n := root
	for !n.leaf {
		if len(n.children) == 0 {
			return 0
		}
		n = n.children[0]
	}
	if len(n.keys) == 0 {
		return 0
	}
	return types.TagFor(n.keys[0])
}

// assignPageIDs walks the tree depth-first, allocating a page for every
// node that doesn't already have one. It must run to completion before
// encodeNodes, since a leaf's next-leaf pointer and an internal node's
// child pointers are only resolvable once every referenced node has an
// id.
func assignPageIDs(store *page.Store, n *node) (page.ID, error) {
	if !n.hasPageID {
		kind := page.KindBTreeInternal
		if n.leaf {
			kind = page.KindBTreeLeaf
		}
		p, err := store.Allocate(kind)
		if err != nil {
			return 0, err
		}
		n.pageID = p.ID
		n.hasPageID = true
	}
	for _, c := range n.children {
		if _, err := assignPageIDs(store, c); err != nil {
			return 0, err
		}
	}
	return n.pageID, nil
}

func encodeNodes(store *page.Store, n *node, tag byte) error {
	p, err := store.Fetch(n.pageID)
	if err != nil {
		return err
	}
	if n.leaf {
		var nextID page.ID
		hasNext := n.next != nil
		if hasNext {
			nextID = n.next.pageID
		}
		if err := encodeLeafPayload(p, n, hasNext, nextID); err != nil {
			return err
		}
	} else {
		childIDs := make([]page.ID, len(n.children))
		for i, c := range n.children {
			childIDs[i] = c.pageID
		}
		if err := encodeInternalPayload(p, n, childIDs); err != nil {
			return err
		}
	}
	store.Put(p)

	for _, c := range n.children {
		if err := encodeNodes(store, c, tag); err != nil {
			return err
		}
	}
	return nil
}

func loadNode(store *page.Store, id page.ID, tag byte, nodesByID map[page.ID]*node, pendingNext map[page.ID]page.ID) (*node, error) {
	p, err := store.Fetch(id)
	if err != nil {
		return nil, err
	}

	n := newNode(defaultDegree, p.Kind == page.KindBTreeLeaf)
	n.pageID = id
	n.hasPageID = true
	nodesByID[id] = n

	if n.leaf {
		keys, ptrs, hasNext, nextID, err := decodeLeafPayload(p.Data, tag)
		if err != nil {
			return nil, err
		}
		n.keys = keys
		n.dataPtrs = ptrs
		if hasNext {
			pendingNext[id] = nextID
		}
		return n, nil
	}

	keys, childIDs, err := decodeInternalPayload(p.Data, tag)
	if err != nil {
		return nil, err
	}
	n.keys = keys
	n.children = make([]*node, len(childIDs))
	for i, cid := range childIDs {
		child, err := loadNode(store, cid, tag, nodesByID, pendingNext)
		if err != nil {
			return nil, err
		}
		n.children[i] = child
	}
	return n, nil
}

// Leaf payload layout: count(4) { keyLen(4) keyBytes dataPtr(8) }*count
// hasNext(1) [nextLeafID(8)].
func encodeLeafPayload(p *page.Page, n *node, hasNext bool, nextID page.ID) error {
	buf := make([]byte, 0, page.DataSize)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(n.keys)))
	buf = append(buf, u32[:]...)

	for i, k := range n.keys {
		enc := k.Encode()
		binary.BigEndian.PutUint32(u32[:], uint32(len(enc)))
		buf = append(buf, u32[:]...)
		buf = append(buf, enc...)

		var u64 [8]byte
		binary.BigEndian.PutUint64(u64[:], uint64(n.dataPtrs[i]))
		buf = append(buf, u64[:]...)
	}

	if hasNext {
		buf = append(buf, 1)
		var u64 [8]byte
		binary.BigEndian.PutUint64(u64[:], uint64(nextID))
		buf = append(buf, u64[:]...)
	} else {
		buf = append(buf, 0)
	}

	if len(buf) > page.DataSize {
		return &NodeOverflowError{PageID: p.ID}
	}
	var payload [page.DataSize]byte
	copy(payload[:], buf)
	p.Data = payload
	return nil
}

func decodeLeafPayload(data [page.DataSize]byte, tag byte) (keys []types.Comparable, ptrs []int64, hasNext bool, nextID page.ID, err error) {
	off := 0
	count := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	keys = make([]types.Comparable, count)
	ptrs = make([]int64, count)
	for i := 0; i < int(count); i++ {
		klen := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		kbytes := data[off : off+int(klen)]
		off += int(klen)
		k, derr := types.Decode(tag, kbytes)
		if derr != nil {
			return nil, nil, false, 0, errors.Wrap(derr, "btree: decode leaf key")
		}
		keys[i] = k

		ptr := binary.BigEndian.Uint64(data[off : off+8])
		off += 8
		ptrs[i] = int64(ptr)
	}

	hasNext = data[off] != 0
	off++
	if hasNext {
		nextID = page.ID(binary.BigEndian.Uint64(data[off : off+8]))
	}
	return keys, ptrs, hasNext, nextID, nil
}

// Internal payload layout: count(4) { keyLen(4) keyBytes }*count
// { childPageID(8) }*(count+1).
func encodeInternalPayload(p *page.Page, n *node, childIDs []page.ID) error {
	buf := make([]byte, 0, page.DataSize)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(n.keys)))
	buf = append(buf, u32[:]...)

	for _, k := range n.keys {
		enc := k.Encode()
		binary.BigEndian.PutUint32(u32[:], uint32(len(enc)))
		buf = append(buf, u32[:]...)
		buf = append(buf, enc...)
	}

	for _, id := range childIDs {
		var u64 [8]byte
		binary.BigEndian.PutUint64(u64[:], uint64(id))
		buf = append(buf, u64[:]...)
	}

	if len(buf) > page.DataSize {
		return &NodeOverflowError{PageID: p.ID}
	}
	var payload [page.DataSize]byte
	copy(payload[:], buf)
	p.Data = payload
	return nil
}

func decodeInternalPayload(data [page.DataSize]byte, tag byte) (keys []types.Comparable, childIDs []page.ID, err error) {
	off := 0
	count := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	keys = make([]types.Comparable, count)
	for i := 0; i < int(count); i++ {
		klen := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		kbytes := data[off : off+int(klen)]
		off += int(klen)
		k, derr := types.Decode(tag, kbytes)
		if derr != nil {
			return nil, nil, errors.Wrap(derr, "btree: decode internal key")
		}
		keys[i] = k
	}

	childIDs = make([]page.ID, count+1)
	for i := range childIDs {
		childIDs[i] = page.ID(binary.BigEndian.Uint64(data[off : off+8]))
		off += 8
	}
	return keys, childIDs, nil
}

// Meta page layout: tag(1) unique(1) rootPageID(8).
func encodeMeta(p *page.Page, tag byte, unique bool, rootID page.ID) {
	var payload [page.DataSize]byte
	payload[0] = tag
	if unique {
		payload[1] = 1
	}
	binary.BigEndian.PutUint64(payload[2:10], uint64(rootID))
	p.Data = payload
}

func decodeMeta(p *page.Page) (tag byte, unique bool, rootID page.ID) {
	tag = p.Data[0]
	unique = p.Data[1] != 0
	rootID = page.ID(binary.BigEndian.Uint64(p.Data[2:10]))
	return tag, unique, rootID
}
