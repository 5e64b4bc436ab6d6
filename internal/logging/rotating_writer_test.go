package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "subsplitd.log")
	wc, err := NewWriter(base, 1<<20)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w := wc.(*Writer)
	w.SetClock(func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) })
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "subsplitd-2026-08-29.log"))
	if err != nil {
		t.Fatalf("dated file missing: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("content = %q", data)
	}
}

func TestWriterRollsOverOnSize(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "subsplitd.log")
	wc, err := NewWriter(base, 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w := wc.(*Writer)
	w.SetClock(func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) })

	for i := 0; i < 3; i++ {
		if _, err := w.Write([]byte("01234567\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	_ = wc.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var rolled int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "subsplitd-2026-08-29") {
			rolled++
		}
	}
	if rolled < 2 {
		t.Fatalf("expected at least 2 rolled files, got %d", rolled)
	}
}

func TestWriterRotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "subsplitd.log")
	wc, err := NewWriter(base, 1<<20)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w := wc.(*Writer)

	day := time.Date(2026, 8, 29, 23, 59, 0, 0, time.UTC)
	w.SetClock(func() time.Time { return day })
	if _, err := w.Write([]byte("before\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if _, err := w.Write([]byte("after\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = wc.Close()

	if _, err := os.Stat(filepath.Join(dir, "subsplitd-2026-08-29.log")); err != nil {
		t.Fatalf("first day file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "subsplitd-2026-08-30.log")); err != nil {
		t.Fatalf("second day file missing: %v", err)
	}
}

func TestWriterDiscard(t *testing.T) {
	wc, err := NewWriter("-", 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := wc.Write([]byte("dropped")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
