package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxFileBytes = 10 << 20
	defaultKeepFiles    = 3
)

// FileSink appends log lines to a file and rolls it over to path.1,
// path.2, ... once it grows past its size limit. Safe for concurrent use.
type FileSink struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	keep     int
	f        *os.File
	size     int64
}

// OpenFile opens (or creates) path for logging. Zero or negative limits
// fall back to 10 MiB and three rolled files.
func OpenFile(path string, maxBytes int64, keep int) (*FileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	if keep <= 0 {
		keep = defaultKeepFiles
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	s := &FileSink{path: path, maxBytes: maxBytes, keep: keep}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return 0, os.ErrClosed
	}
	if s.size > 0 && s.size+int64(len(p)) > s.maxBytes {
		if err := s.roll(); err != nil {
			return 0, fmt.Errorf("roll log file: %w", err)
		}
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

// Sync flushes the file to disk.
func (s *FileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Sync()
}

// Close closes the file. Later writes fail with os.ErrClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	s.f = f
	s.size = info.Size()
	return nil
}

func (s *FileSink) roll() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	s.f = nil

	_ = os.Remove(s.rolled(s.keep))
	for i := s.keep - 1; i >= 1; i-- {
		_ = os.Rename(s.rolled(i), s.rolled(i+1))
	}
	if err := os.Rename(s.path, s.rolled(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.open()
}

func (s *FileSink) rolled(n int) string {
	return fmt.Sprintf("%s.%d", s.path, n)
}
