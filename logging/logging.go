package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	DefaultMaxSize = 2 * 1024 * 1024 // 2MB
	DefaultBackups = 2
)

// RotatingWriter is a size-capped log file that keeps a few numbered backups
// (ingest.log.1, ingest.log.2, ...).
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
	backups int
}

// Setup opens logPath and tees the standard logger into it and stdout.
func Setup(logPath string) (*RotatingWriter, error) {
	rw, err := Open(logPath, DefaultMaxSize, DefaultBackups)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func Open(logPath string, maxSize int64, backups int) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if backups < 0 {
		backups = 0
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	rw := &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
		backups: backups,
	}

	// Oversized leftovers from a previous run rotate before the first write
	if size > maxSize {
		if err := rw.rotate(); err != nil {
			return nil, err
		}
	}

	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		if rerr := w.rotate(); rerr != nil && err == nil {
			err = rerr
		}
	}

	return n, err
}

func (w *RotatingWriter) rotate() error {
	w.file.Close()
	w.file = nil

	if w.backups == 0 {
		os.Remove(w.path)
	} else {
		for i := w.backups - 1; i >= 1; i-- {
			os.Rename(backupName(w.path, i), backupName(w.path, i+1))
		}
		os.Rename(w.path, backupName(w.path, 1))
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	w.file = f
	w.size = 0
	return nil
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

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
