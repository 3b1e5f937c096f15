package logging

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileSink appends log lines to a plain-text file and supports tailing it
// back with an optional case-insensitive substring filter.
type FileSink struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if needed) the log file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &FileSink{path: path, file: f}, nil
}

// Path returns the log file location.
func (s *FileSink) Path() string { return s.path }

// WriteLine appends one record. Write errors are swallowed: logging must
// never take the server down.
func (s *FileSink) WriteLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	_, _ = s.file.WriteString(line + "\n")
}

// Tail returns up to n of the most recent lines, oldest first. When filter
// is non-empty only lines containing it (case-insensitive) are considered.
func (s *FileSink) Tail(n int, filter string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	needle := strings.ToLower(filter)
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if needle != "" && !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
