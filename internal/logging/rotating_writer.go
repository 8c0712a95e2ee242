package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that rotates the underlying file once
// it would exceed maxSize bytes, keeping up to maxBackups old files.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	size       int64
}

// NewRotatingWriter opens (or creates) the log file for appending.
func NewRotatingWriter(filePath string, maxSize int64, maxBackups int) (*RotatingWriter, error) {
	w := &RotatingWriter{
		filePath:   filePath,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}

	if err := w.open(); err != nil {
		return nil, err
	}

	info, err := w.file.Stat()
	if err != nil {
		_ = w.file.Close()
		return nil, err
	}
	w.size = info.Size()

	return w, nil
}

// Write implements io.Writer, rotating first when the write would overflow.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	w.file = file
	return nil
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
	}

	// Shift backups up by one, dropping the oldest.
	_ = os.Remove(w.backupName(w.maxBackups))
	for i := w.maxBackups - 1; i >= 1; i-- {
		oldPath := w.backupName(i)
		if _, err := os.Stat(oldPath); err == nil {
			if err := os.Rename(oldPath, w.backupName(i+1)); err != nil {
				return err
			}
		}
	}

	// The current file may not exist when rotation races a manual delete;
	// a failed rename is fine in that case.
	_ = os.Rename(w.filePath, w.backupName(1))

	if err := w.open(); err != nil {
		return err
	}
	w.size = 0
	return nil
}

func (w *RotatingWriter) backupName(index int) string {
	dir := filepath.Dir(w.filePath)
	base := filepath.Base(w.filePath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	timestamp := time.Now().Format("20060102")
	return filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", name, timestamp, index, ext))
}

var _ io.WriteCloser = (*RotatingWriter)(nil)
