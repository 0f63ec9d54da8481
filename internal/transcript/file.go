package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by [FileSink.Append] after [FileSink.Close].
var ErrClosed = errors.New("transcript: sink closed")

// FileSink appends transcript lines to a local text file.
//
// The file is opened once in append mode and every line goes out in a single
// Write under a mutex, so concurrent relay connections never interleave
// partial lines.
type FileSink struct {
	path string

	mu sync.Mutex
	f  *os.File
}

var (
	_ Sink    = (*FileSink)(nil)
	_ Checker = (*FileSink)(nil)
)

// OpenFile opens (creating if needed) the transcript log at path. Missing
// parent directories are created.
func OpenFile(path string) (*FileSink, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcript: create directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Append implements [Sink].
func (s *FileSink) Append(_ context.Context, e Entry) error {
	line := []byte(e.Line() + "\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	return nil
}

// Check implements [Checker]: the sink must be open and its file must still
// exist on disk.
func (s *FileSink) Check(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	return nil
}

// Close implements [Sink]. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return fmt.Errorf("transcript: close: %w", err)
	}
	return nil
}
