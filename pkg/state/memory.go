package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Locks only serialize goroutines of the
// current process, so it suits tests and embedding where a single process
// owns the state.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]memoryDoc
	locks map[string]*sync.Mutex
	now   func() time.Time
}

type memoryDoc struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]memoryDoc),
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

func (s *MemoryStore) docLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.docLock(name)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	current := cloneBytes(s.docs[name].data)
	s.mu.Unlock()

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	s.mu.Lock()
	s.docs[name] = memoryDoc{data: cloneBytes(next), modTime: s.now()}
	s.mu.Unlock()
	return nil
}

// Read implements Store.
func (s *MemoryStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(doc.data), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	l := s.docLock(name)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	delete(s.docs, name)
	s.mu.Unlock()
	return nil
}

// DeleteIf implements Store.
func (s *MemoryStore) DeleteIf(ctx context.Context, name string, remove func([]byte) bool) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	l := s.docLock(name)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	doc, ok := s.docs[name]
	s.mu.Unlock()
	if !ok || !remove(cloneBytes(doc.data)) {
		return false, nil
	}

	s.mu.Lock()
	delete(s.docs, name)
	s.mu.Unlock()
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]DocumentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []DocumentInfo
	for name, doc := range s.docs {
		if strings.HasPrefix(name, prefix) {
			docs = append(docs, DocumentInfo{Name: name, ModTime: doc.modTime, Size: int64(len(doc.data))})
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Name < docs[j].Name
	})
	return docs, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Put stores raw bytes under name, bypassing encoding. Useful for seeding
// fixtures, including deliberately corrupt ones.
func (s *MemoryStore) Put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = memoryDoc{data: cloneBytes(data), modTime: s.now()}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
