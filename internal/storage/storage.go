// Package storage keeps the current remote config state as a reference
// counted table keyed by Path. An entry leaves the table exactly when its
// last owner releases its handle; the diff engine owns one reference per
// tracked file and consumers may retain more.
package storage

import (
	"sync"

	"rcsync/internal/types"
)

// Contents is the payload of one stored file. Data is the decoded body and is
// nil when Err is set; a file that fails product parsing still occupies its
// slot, carrying Err as the marker the consumer sees.
type Contents struct {
	Raw  []byte
	Data map[string]any
	Err  error
}

// Storage is the table of live entries. All table mutations (store, discard,
// release) serialize through one mutex so a remove-then-store for the same
// path can never evict the wrong entry. The lock never covers network calls
// or consumer callbacks.
type Storage struct {
	mu    sync.Mutex
	files map[types.Path]*Handle
}

func New() *Storage {
	return &Storage{files: make(map[types.Path]*Handle)}
}

// Handle is a counted reference to one stored file. Payload reads are safe
// concurrently with in-place updates from the poll loop.
type Handle struct {
	store *Storage
	path  types.Path

	// guarded by store.mu
	refs int
	live bool

	// guarded by mu
	mu       sync.RWMutex
	version  uint64
	contents Contents
}

// Store inserts a new entry with one reference held by the caller. Inserting
// over a live entry is an invariant violation and fails with ErrPathConflict.
// A retired entry still held by a consumer is detached and replaced; it dies
// on its final Release without touching the new entry.
func (s *Storage) Store(path types.Path, version uint64, contents Contents) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.files[path]; ok {
		if prev.live {
			return nil, types.Err(types.ErrPathConflict, nil, "path %s", path)
		}
		delete(s.files, path)
	}
	h := &Handle{
		store:    s,
		path:     path,
		refs:     1,
		live:     true,
		version:  version,
		contents: contents,
	}
	s.files[path] = h
	return h, nil
}

// Update replaces version and contents in place. It always succeeds.
func (s *Storage) Update(h *Handle, version uint64, contents Contents) {
	h.mu.Lock()
	h.version = version
	h.contents = contents
	h.mu.Unlock()
}

// Discard retires an entry on behalf of the tracker: the entry is no longer
// live (a later Store of the same path is legal) and the tracker's own
// reference is dropped.
func (s *Storage) Discard(h *Handle) {
	s.mu.Lock()
	h.live = false
	s.releaseLocked(h)
	s.mu.Unlock()
}

// Get returns the live handle for path, if any. The caller does not own a
// reference; Retain before holding it beyond the current call stack.
func (s *Storage) Get(path types.Path) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.files[path]
	if !ok || !h.live {
		return nil, false
	}
	return h, true
}

// Len counts entries still in the table, retired but held ones included.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *Storage) releaseLocked(h *Handle) {
	h.refs--
	if h.refs > 0 {
		return
	}
	// Identity check: the slot may already belong to a re-stored entry and a
	// stale release must not evict it.
	if cur, ok := s.files[h.path]; ok && cur == h {
		delete(s.files, h.path)
	}
}

// Retain adds one reference.
func (h *Handle) Retain() {
	h.store.mu.Lock()
	h.refs++
	h.store.mu.Unlock()
}

// Release drops one reference, removing the table entry when the count
// reaches zero.
func (h *Handle) Release() {
	h.store.mu.Lock()
	h.store.releaseLocked(h)
	h.store.mu.Unlock()
}

func (h *Handle) Path() types.Path {
	return h.path
}

func (h *Handle) Version() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Contents returns the current payload. The returned struct is a snapshot;
// Raw and Data must be treated as read-only.
func (h *Handle) Contents() Contents {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.contents
}
