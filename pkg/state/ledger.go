package state

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger stream names.
const (
	StreamEvidence    = "evidence"
	StreamPenalties   = "penalties"
	StreamCircuits    = "circuits"
	StreamDebt        = "debt"
	StreamTuning      = "tuning"
	StreamDiagnostics = "diagnostics"
)

const ledgerExt = ".jsonl"

// Record is one line of a ledger stream.
type Record struct {
	ID        string          `json:"id"`
	Time      time.Time       `json:"time"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Appender appends telemetry records to a named stream.
type Appender interface {
	Append(ctx context.Context, stream, recordType, sessionID string, payload any) error
}

// Discard is an Appender that drops every record.
var Discard Appender = discard{}

type discard struct{}

func (discard) Append(context.Context, string, string, string, any) error { return nil }

// Ledger writes append-only JSONL streams under a directory, one file per
// stream. Each append holds the stream's exclusive lock so lines from
// concurrent processes never interleave.
type Ledger struct {
	dir     string
	lockDir string
	timeout time.Duration
	now     func() time.Time
}

// NewLedger creates a Ledger writing to dir.
func NewLedger(dir string, lockTimeout time.Duration) (*Ledger, error) {
	lockDir := filepath.Join(dir, lockDirName)
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &Ledger{
		dir:     dir,
		lockDir: lockDir,
		timeout: lockTimeout,
		now:     time.Now,
	}, nil
}

func (l *Ledger) paths(stream string) (string, string, error) {
	if err := ValidateName(stream); err != nil {
		return "", "", err
	}
	return filepath.Join(l.dir, stream+ledgerExt), filepath.Join(l.lockDir, stream+ledgerExt+".lock"), nil
}

// Append implements Appender.
func (l *Ledger) Append(ctx context.Context, stream, recordType, sessionID string, payload any) error {
	path, lockPath, err := l.paths(stream)
	if err != nil {
		return err
	}

	rec := Record{
		ID:        uuid.New().String(),
		Time:      l.now().UTC(),
		Type:      recordType,
		SessionID: sessionID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", stream, err)
		}
		rec.Data = data
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", stream, err)
	}
	line = append(line, '\n')

	unlock, err := acquireLock(ctx, lockPath, stream, l.timeout)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return NewStorageError("file", "append", stream, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return NewStorageError("file", "append", stream, err)
	}
	if err := f.Close(); err != nil {
		return NewStorageError("file", "append", stream, err)
	}
	return nil
}

// Scan calls fn for every decodable record of stream in file order. Lines
// that fail to decode are skipped. A missing stream yields no records.
func (l *Ledger) Scan(ctx context.Context, stream string, fn func(Record) error) error {
	path, _, err := l.paths(stream)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return NewStorageError("file", "read", stream, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return NewStorageError("file", "read", stream, err)
	}
	return nil
}

// Compact rewrites stream keeping only records at or after before.
// Undecodable lines are dropped. Returns the number of lines removed.
func (l *Ledger) Compact(ctx context.Context, stream string, before time.Time) (int, error) {
	path, lockPath, err := l.paths(stream)
	if err != nil {
		return 0, err
	}

	unlock, err := acquireLock(ctx, lockPath, stream, l.timeout)
	if err != nil {
		return 0, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, NewStorageError("file", "read", stream, err)
	}

	var kept bytes.Buffer
	removed := 0
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil || rec.Time.Before(before) {
			removed++
			continue
		}
		kept.Write(line)
		kept.WriteByte('\n')
	}
	if removed == 0 {
		return 0, nil
	}

	if err := writeAtomic(path, kept.Bytes(), 0o600); err != nil {
		return 0, NewStorageError("file", "write", stream, err)
	}
	return removed, nil
}

// Streams lists the streams present on disk.
func (l *Ledger) Streams() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, NewStorageError("file", "list", "", err)
	}
	var streams []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ledgerExt) {
			continue
		}
		streams = append(streams, strings.TrimSuffix(name, ledgerExt))
	}
	sort.Strings(streams)
	return streams, nil
}

// MemoryLedger is an in-process Appender that keeps records per stream.
type MemoryLedger struct {
	mu      sync.Mutex
	streams map[string][]Record
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{streams: make(map[string][]Record)}
}

// Append implements Appender.
func (m *MemoryLedger) Append(ctx context.Context, stream, recordType, sessionID string, payload any) error {
	rec := Record{
		ID:        uuid.New().String(),
		Time:      time.Now().UTC(),
		Type:      recordType,
		SessionID: sessionID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		rec.Data = data
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = append(m.streams[stream], rec)
	return nil
}

// Records returns a copy of the records appended to stream.
func (m *MemoryLedger) Records(stream string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.streams[stream]))
	copy(out, m.streams[stream])
	return out
}
