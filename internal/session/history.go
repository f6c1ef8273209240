// Package session keeps chat transcripts as JSONL files, one per session.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"toolchat/internal/domain"
)

// writeFunc is used to write content so tests can inject a failing implementation.
type writeFunc func(f *os.File, data []byte) (int, error)

// marshalFunc is the JSON marshaling function; tests may replace it to force errors.
type marshalFunc func(v any) ([]byte, error)

// maxLineSize bounds one transcript line; tool messages carry their whole
// configuration.
const maxLineSize = 4 << 20

// HistoryStore persists session messages to a JSONL file (one JSON object per line).
// It supports appending new messages and loading the last N messages for context restoration.
type HistoryStore struct {
	path      string
	mu        sync.Mutex
	writeFn   writeFunc   // nil means use f.Write
	marshalFn marshalFunc // nil means use json.Marshal
}

// NewHistoryStore returns a HistoryStore that reads/writes to the given JSONL file path.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// Path returns the transcript file.
func (h *HistoryStore) Path() string { return h.path }

// Append serializes a Message to JSON and appends it as a single line to the history file.
func (h *HistoryStore) Append(msg domain.Message) error {
	marshal := json.Marshal
	if h.marshalFn != nil {
		marshal = h.marshalFn
	}
	data, err := marshal(msg)
	if err != nil {
		return fmt.Errorf("session: encode message %s: %w", msg.ID, err)
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: open history: %w", err)
	}
	var writeErr error
	if h.writeFn != nil {
		_, writeErr = h.writeFn(f, data)
	} else {
		_, writeErr = f.Write(data)
	}
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("session: write history: %w", writeErr)
	}
	return closeErr
}

// LoadHistory reads the last n messages from the history file.
// Returns empty slice when the file does not exist or n <= 0.
func (h *HistoryStore) LoadHistory(n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := h.readAll()
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// Pinned returns every pinned message in transcript order.
func (h *HistoryStore) Pinned() ([]domain.Message, error) {
	msgs, err := h.readAll()
	if err != nil {
		return nil, err
	}
	var out []domain.Message
	for _, m := range msgs {
		if m.Pinned {
			out = append(out, m)
		}
	}
	return out, nil
}

// readAll decodes the whole file, skipping blank and corrupt lines.
func (h *HistoryStore) readAll() ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: open history: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var msgs []domain.Message
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // skip corrupt lines
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: read history: %w", err)
	}
	return msgs, nil
}

// Ensure HistoryStore implements domain.SessionHistoryStore.
var _ domain.SessionHistoryStore = (*HistoryStore)(nil)

// Dir hands out one HistoryStore per session, stored as <dir>/<session>.jsonl.
type Dir struct {
	path string

	mu     sync.Mutex
	stores map[string]*HistoryStore
}

// NewDir returns a Dir rooted at path. The directory is created on first use.
func NewDir(path string) *Dir {
	return &Dir{path: path, stores: make(map[string]*HistoryStore)}
}

// Store returns the transcript of sessionID, reusing one store per session
// so appends from the same process are serialized.
func (d *Dir) Store(sessionID string) domain.SessionHistoryStore {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stores[sessionID]; ok {
		return s
	}
	// A failure here surfaces from the first Append.
	_ = os.MkdirAll(d.path, 0o755)
	s := NewHistoryStore(filepath.Join(d.path, FileName(sessionID)))
	d.stores[sessionID] = s
	return s
}

// Sessions lists the sessions that have a transcript file, sorted.
func (d *Dir) Sessions() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list %s: %w", d.path, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

// FileName maps a session ID onto a safe file name. Characters outside
// [A-Za-z0-9._-] become '_'.
func FileName(sessionID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, sessionID)
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_" + name
	}
	return name + ".jsonl"
}
