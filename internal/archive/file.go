package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxCreateRace bounds how often Archive moves past a sequence taken concurrently.
const maxCreateRace = 16

// FileSink writes each record to its own JSON file in one directory.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Archive(_ context.Context, rec Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := dayPrefix(rec)
	seq, err := s.nextSeq(prefix)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxCreateRace; i++ {
		name := entryName(prefix, seq)
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			seq++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create archive entry: %w", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("write archive entry: %w", werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("close archive entry: %w", cerr)
		}
		return name, nil
	}
	return "", fmt.Errorf("archive sequence contention for %s", prefix)
}

func (s *FileSink) nextSeq(prefix string) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("scan archive dir: %w", err)
	}
	max := 0
	for _, e := range entries {
		if n, ok := parseSeq(e.Name(), prefix); ok && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func (s *FileSink) Load(_ context.Context, ref string) (*Record, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return nil, fmt.Errorf("invalid archive ref %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read archive entry: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode archive entry: %w", err)
	}
	return &rec, nil
}
