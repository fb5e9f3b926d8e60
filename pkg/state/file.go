package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

const (
	documentExt = ".json"
	lockDirName = ".locks"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Dir is the directory holding the documents. Created if missing.
	Dir string

	// LockTimeout bounds how long Update waits for a document lock.
	// Zero waits until the context is done.
	LockTimeout time.Duration

	// FileMode is the permission of written documents (default 0600).
	FileMode os.FileMode
}

// FileStore stores each document as <dir>/<name>.json, guarded by
// <dir>/.locks/<name>.lock. It is safe for use by many processes at once.
type FileStore struct {
	dir     string
	lockDir string
	timeout time.Duration
	mode    os.FileMode
	closed  atomic.Bool
}

// NewFileStore creates a FileStore rooted at cfg.Dir.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("state directory is required")
	}
	mode := cfg.FileMode
	if mode == 0 {
		mode = 0o600
	}

	lockDir := filepath.Join(cfg.Dir, lockDirName)
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &FileStore{
		dir:     cfg.Dir,
		lockDir: lockDir,
		timeout: cfg.LockTimeout,
		mode:    mode,
	}, nil
}

// Dir returns the root directory of the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) paths(name string) (doc string, lock string, err error) {
	if err := ValidateName(name); err != nil {
		return "", "", err
	}
	return filepath.Join(s.dir, name+documentExt), filepath.Join(s.lockDir, name+".lock"), nil
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if s.closed.Load() {
		return ErrClosed
	}
	docPath, lockPath, err := s.paths(name)
	if err != nil {
		return err
	}

	unlock, err := acquireLock(ctx, lockPath, name, s.timeout)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := os.ReadFile(docPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewStorageError("file", "read", name, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if err := writeAtomic(docPath, next, s.mode); err != nil {
		return NewStorageError("file", "write", name, err)
	}
	return nil
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context, name string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	docPath, _, err := s.paths(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(docPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStorageError("file", "read", name, err)
	}
	return data, nil
}

// Delete implements Store. Lock files are left in place: removing a lock file
// another process is waiting on would let two holders in at once.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	docPath, lockPath, err := s.paths(name)
	if err != nil {
		return err
	}

	unlock, err := acquireLock(ctx, lockPath, name, s.timeout)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(docPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewStorageError("file", "delete", name, err)
	}
	return nil
}

// DeleteIf implements Store.
func (s *FileStore) DeleteIf(ctx context.Context, name string, remove func([]byte) bool) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	docPath, lockPath, err := s.paths(name)
	if err != nil {
		return false, err
	}

	unlock, err := acquireLock(ctx, lockPath, name, s.timeout)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := os.ReadFile(docPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, NewStorageError("file", "read", name, err)
	}
	if !remove(current) {
		return false, nil
	}
	if err := os.Remove(docPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, NewStorageError("file", "delete", name, err)
	}
	return true, nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, prefix string) ([]DocumentInfo, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, NewStorageError("file", "list", prefix, err)
	}

	var docs []DocumentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasSuffix(fileName, documentExt) || strings.HasPrefix(fileName, ".") {
			continue
		}
		name := strings.TrimSuffix(fileName, documentExt)
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		docs = append(docs, DocumentInfo{
			Name:    name,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Name < docs[j].Name
	})
	return docs, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte, mode os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
