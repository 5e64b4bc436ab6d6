// Package logging provides the daemon's rotating log file writer.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a log file rolls over within a day.
const DefaultMaxBytes = 64 << 20

// Writer appends to files that rotate on UTC day boundaries and when the
// current file would exceed maxBytes.
//
// Given base path logs/subsplitd.log, output files are named
// logs/subsplitd-2026-08-29.log, logs/subsplitd-2026-08-29-2.log and so on.
// The base path itself is maintained as a symlink to the active file so
// `tail -f logs/subsplitd.log` keeps working across rotations.
type Writer struct {
	basePath string
	maxBytes int64
	now      func() time.Time

	mu    sync.Mutex
	day   string // YYYY-MM-DD of the open file
	index int    // 1-based rollover index within the day
	file  *os.File
	size  int64
}

// NewWriter opens a rotating writer rooted at basePath. A basePath of "-"
// discards all output. maxBytes <= 0 selects DefaultMaxBytes.
func NewWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &Writer{basePath: basePath, maxBytes: maxBytes, now: time.Now}
	if err := w.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return w, nil
}

// SetClock overrides the time source. Only tests use this.
func (w *Writer) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now != nil {
		w.now = now
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	if err == nil {
		w.size += int64(n)
	}
	return n, err
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *Writer) rotateIfNeeded(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	if w.file == nil || w.day != today {
		w.day = today
		w.index = 1
		return w.openCurrent()
	}
	if w.size+incoming > w.maxBytes {
		w.index++
		return w.openCurrent()
	}
	return nil
}

func (w *Writer) openCurrent() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir, name := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.day, ext)
	if w.index > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.day, w.index, ext)
	}
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.updatePointer(path)
	return nil
}

func (w *Writer) updatePointer(target string) {
	base := strings.TrimSpace(w.basePath)
	if base == "" || base == "-" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, derr := os.Readlink(base); derr == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	// Prefer symbolic link; fall back to hard link; finally write pointer text.
	if err := os.Symlink(target, base); err == nil {
		return
	}
	if err := os.Link(target, base); err == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		defer f.Close()
		_, _ = fmt.Fprintf(f, "current log file: %s\n", target)
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
