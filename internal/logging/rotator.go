package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileRotator appends to a log file. A write that would take the file
// past MaxSize megabytes first shifts it to path.1, moving older backups
// up one index and dropping any beyond MaxBackups.
type FileRotator struct {
	path  string
	limit int64
	keep  int

	mu      sync.Mutex
	f       *os.File
	written int64
}

// NewFileRotator opens cfg.FilePath for appending, creating its directory.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("logging: log dir: %w", err)
	}
	r := &FileRotator{path: cfg.FilePath, limit: cfg.MaxSize << 20, keep: cfg.MaxBackups}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) reopen() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", r.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat %s: %w", r.path, err)
	}
	r.f, r.written = f, st.Size()
	return nil
}

func (r *FileRotator) backup(i int) string {
	return r.path + "." + strconv.Itoa(i)
}

// shift closes the live file and renumbers the backups.
func (r *FileRotator) shift() error {
	err := r.f.Close()
	r.f = nil
	if err != nil {
		return err
	}
	if r.keep <= 0 {
		return os.Remove(r.path)
	}
	if err := os.Remove(r.backup(r.keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for i := r.keep - 1; i >= 1; i-- {
		if err := os.Rename(r.backup(i), r.backup(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return os.Rename(r.path, r.backup(1))
}

// Write implements io.Writer. A single write larger than the limit still
// lands in one file.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f != nil && r.limit > 0 && r.written > 0 && r.written+int64(len(p)) > r.limit {
		if err := r.shift(); err != nil {
			return 0, fmt.Errorf("logging: rotate: %w", err)
		}
	}
	if r.f == nil {
		if err := r.reopen(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.written += int64(n)
	return n, err
}

// Backups lists the rotated files on disk, newest first.
func (r *FileRotator) Backups() []string {
	var out []string
	for i := 1; i <= r.keep; i++ {
		if _, err := os.Stat(r.backup(i)); err == nil {
			out = append(out, r.backup(i))
		}
	}
	return out
}

// Close closes the live file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
