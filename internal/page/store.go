package page

import (
	"container/list"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/neuroquantum/storage-engine/internal/metrics"
	storeerrors "github.com/neuroquantum/storage-engine/pkg/errors"
)

// SyncMode controls how aggressively the store flushes dirty pages to
// stable storage, mirroring the WAL's SyncPolicy knobs one layer down.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncNormal
	SyncFull
)

// Store is a fixed-size page file with a free-list allocator and an LRU
// buffer cache in front of it. It is the structural descendant of the
// teacher's segmented heap manager, generalized from variable-length
// heap records to fixed Size-byte slots addressed by ID.
type Store struct {
	mu       sync.Mutex
	file     *os.File
	sync     SyncMode
	nextID   ID
	freeList []ID

	cacheCap int
	cache    map[ID]*list.Element
	lru      *list.List // front = most recently used
}

type cacheEntry struct {
	id    ID
	page  *Page
	dirty bool
}

// Open opens or creates a page file at path with the given buffer-cache
// capacity (in pages) and sync mode.
func Open(path string, cacheCap int, mode SyncMode) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "page: open store file")
	}
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "page: stat store file")
	}
	s := &Store{
		file:     f,
		sync:     mode,
		nextID:   ID(info.Size() / Size),
		cacheCap: cacheCap,
		cache:    make(map[ID]*list.Element, cacheCap),
		lru:      list.New(),
	}
	return s, nil
}

// Allocate returns a fresh page ID, preferring a recycled free-list slot.
func (s *Store) Allocate(kind Kind) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id ID
	if n := len(s.freeList); n > 0 {
		id = s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
	} else {
		id = s.nextID
		s.nextID++
	}
	p := New(id, kind)
	s.putLocked(id, p, true)
	return p, nil
}

// Free returns a page's slot to the free list. The caller must have
// already WAL-logged the deallocation before calling this.
func (s *Store) Free(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeList = append(s.freeList, id)
	if el, ok := s.cache[id]; ok {
		s.lru.Remove(el)
		delete(s.cache, id)
	}
}

// Fetch returns the page for id, reading through to disk on a cache miss.
func (s *Store) Fetch(id ID) (*Page, error) {
	s.mu.Lock()
	if el, ok := s.cache[id]; ok {
		s.lru.MoveToFront(el)
		p := el.Value.(*cacheEntry).page
		s.mu.Unlock()
		metrics.PageCacheHits.Inc()
		return p, nil
	}
	s.mu.Unlock()
	metrics.PageCacheMisses.Inc()

	buf := make([]byte, Size)
	if _, err := s.file.ReadAt(buf, int64(id)*Size); err != nil {
		return nil, errors.Wrapf(err, "page: read page %d", id)
	}
	p := &Page{}
	if err := p.Unmarshal(id, buf); err != nil {
		if _, ok := err.(*ChecksumError); ok {
			return nil, &storeerrors.PageChecksumError{PageID: uint64(id)}
		}
		return nil, err
	}

	s.mu.Lock()
	s.putLocked(id, p, false)
	s.mu.Unlock()
	return p, nil
}

// Put installs a page into the cache, marking it dirty, and evicts the
// least-recently-used page if the cache is full, writing it out first if
// it is dirty.
func (s *Store) Put(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(p.ID, p, true)
}

func (s *Store) putLocked(id ID, p *Page, dirty bool) {
	if el, ok := s.cache[id]; ok {
		entry := el.Value.(*cacheEntry)
		entry.page = p
		entry.dirty = entry.dirty || dirty
		s.lru.MoveToFront(el)
		return
	}
	entry := &cacheEntry{id: id, page: p, dirty: dirty}
	el := s.lru.PushFront(entry)
	s.cache[id] = el

	for len(s.cache) > s.cacheCap && s.cacheCap > 0 {
		back := s.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*cacheEntry)
		if victim.dirty {
			// Can't silently drop a dirty page; flush it before eviction.
			s.flushLocked(victim)
		}
		s.lru.Remove(back)
		delete(s.cache, victim.id)
	}
}

// DirtyPageIDs returns the ids of every page currently dirty in the
// buffer cache, the dirty-page table a fuzzy checkpoint records so
// recovery knows which pages might not yet be durable.
func (s *Store) DirtyPageIDs() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ID, 0)
	for el := s.lru.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		if entry.dirty {
			out = append(out, entry.id)
		}
	}
	return out
}

// Flush writes every dirty page in the cache to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.lru.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		if entry.dirty {
			if err := s.flushLocked(entry); err != nil {
				return err
			}
		}
	}
	if s.sync == SyncFull {
		return s.file.Sync()
	}
	return nil
}

func (s *Store) flushLocked(entry *cacheEntry) error {
	buf := make([]byte, Size)
	entry.page.Marshal(buf)
	if _, err := s.file.WriteAt(buf, int64(entry.id)*Size); err != nil {
		return errors.Wrapf(err, "page: write page %d", entry.id)
	}
	entry.dirty = false
	if s.sync == SyncNormal {
		return s.file.Sync()
	}
	return nil
}

// Close flushes outstanding dirty pages and closes the underlying file.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
