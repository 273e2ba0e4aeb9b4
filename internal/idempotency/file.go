package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps one <object_key>.<stage>.done file per marker.
type FileStore struct {
	dir     string
	nowFunc func() time.Time
}

// NewFileStore creates dir if needed and returns a file-backed store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create marker dir: %w", err)
	}
	return &FileStore{dir: dir, nowFunc: time.Now}, nil
}

func (s *FileStore) path(key Key) string {
	name := safeName(key.Object) + "." + safeName(key.Stage) + ".done"
	return filepath.Join(s.dir, name)
}

// safeName keeps marker file names inside the store directory.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Get reads a marker file. A file that is not JSON is taken as a bare value,
// so hand-written markers still count.
func (s *FileStore) Get(_ context.Context, key Key) (*Marker, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}
	m := Marker{MarkerKey: key.String(), ObjectKey: key.Object, Stage: key.Stage}
	if jerr := json.Unmarshal(raw, &m); jerr != nil {
		m.Value = strings.TrimSpace(string(raw))
	}
	m.MarkerKey, m.ObjectKey, m.Stage = key.String(), key.Object, key.Stage
	if m.Value == "" {
		m.Value = ValueDone
	}
	return &m, nil
}

// Create writes the marker through a temp file and a hard link, so the final
// name appears atomically and never replaces an existing marker.
func (s *FileStore) Create(_ context.Context, key Key, value string) (bool, error) {
	final := s.path(key)
	raw, err := json.Marshal(Marker{
		ObjectKey: key.Object,
		Stage:     key.Stage,
		Value:     value,
		CreatedAt: s.nowFunc().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal marker: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".marker-*")
	if err != nil {
		return false, fmt.Errorf("create temp marker: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write temp marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("sync temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp marker: %w", err)
	}

	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link marker: %w", err)
	}
	return true, nil
}

// Delete removes a marker file. Missing markers are not an error.
func (s *FileStore) Delete(_ context.Context, key Key) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}
