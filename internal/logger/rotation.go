package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// defaultMaxSizeMB caps the active log file when the config leaves the
// limit unset.
const defaultMaxSizeMB = 100

// RotationPolicy bounds how much log history the service keeps on disk.
// A long-lived daemon logs every provisioning round trip; without a cap a
// busy instance would fill its data directory.
type RotationPolicy struct {
	MaxSizeMB  int  // rotate the active file past this many megabytes
	MaxAgeDays int  // remove rotated files older than this; 0 keeps everything
	Compress   bool // gzip rotated files
}

// RotatingWriter appends to a single active log file and rotates it aside
// once it crosses the size limit. Rotated files get a timestamp suffix and
// are compressed and eventually pruned per the policy. Writes are
// serialized; zerolog may call Write from several goroutines when console
// and file output share a logger.
type RotatingWriter struct {
	mu      sync.Mutex
	path    string
	policy  RotationPolicy
	maxSize int64
	file    *os.File
	size    int64
}

// NewRotatingWriter opens (or creates) the log file at path, creating
// parent directories as needed. Rotated siblings past the age limit are
// pruned in the background.
func NewRotatingWriter(path string, policy RotationPolicy) (*RotatingWriter, error) {
	if policy.MaxSizeMB <= 0 {
		policy.MaxSizeMB = defaultMaxSizeMB
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:    path,
		policy:  policy,
		maxSize: int64(policy.MaxSizeMB) * 1024 * 1024,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	go w.prune()

	return w, nil
}

// Write appends p to the active file, rotating first when the write would
// push it past the size limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active file. Safe to call more than once.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// open opens the active file for appending and picks up its current size,
// so a restarted daemon keeps honoring the limit.
func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = file
	w.size = info.Size()
	return nil
}

// rotate renames the active file aside and reopens a fresh one.
// Compression and pruning run in the background so a rotation never stalls
// the logging hot path. Caller holds w.mu.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}

	if w.policy.Compress {
		go compressLog(rotated)
	}
	go w.prune()

	return w.open()
}

// prune removes rotated siblings (compressed or not) whose modification
// time is past the age limit.
func (w *RotatingWriter) prune() {
	if w.policy.MaxAgeDays <= 0 {
		return
	}

	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.policy.MaxAgeDays)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}

// compressLog gzips a rotated file in place and removes the original.
func compressLog(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
