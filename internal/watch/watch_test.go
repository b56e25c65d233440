package watch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWatcher(t *testing.T, delay time.Duration) *Watcher {
	t.Helper()
	w, err := New(WithDelay(delay))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatchFileDebounced(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "script.lua")
	other := filepath.Join(dir, "other.lua")
	writeFile(t, target, "-- v0")
	writeFile(t, other, "-- v0")

	w := newWatcher(t, 150*time.Millisecond)
	if err := w.Watch(target); err != nil {
		t.Fatalf("Watch() = %v", err)
	}

	for i := 0; i < 5; i++ {
		writeFile(t, target, "-- v"+string(rune('1'+i)))
	}
	writeFile(t, other, "-- v1")

	var got []Event
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-w.Events():
			got = append(got, ev)
		case <-deadline:
			break loop
		}
	}

	if len(got) != 1 {
		t.Fatalf("got %d events %v, want 1", len(got), got)
	}
	want, _ := filepath.Abs(target)
	if got[0].Path != want {
		t.Errorf("Path = %q, want %q", got[0].Path, want)
	}
	if got[0].Op&OpWrite == 0 {
		t.Errorf("Op = %v, want write", got[0].Op)
	}
}

func TestWatchDirectory(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, 50*time.Millisecond)
	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() = %v", err)
	}

	writeFile(t, filepath.Join(dir, "new.txt"), "x")

	select {
	case ev := <-w.Events():
		if filepath.Base(ev.Path) != "new.txt" {
			t.Errorf("Path = %q", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for a file created in a watched directory")
	}
}

func TestWatchMissing(t *testing.T) {
	w := newWatcher(t, 0)
	err := w.Watch(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrPathNotExist) {
		t.Errorf("Watch(missing) = %v, want ErrPathNotExist", err)
	}
}

func TestClose(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("Events() not closed")
	}
	if err := w.Watch(t.TempDir()); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("Watch() after Close = %v", err)
	}
}

func TestOpString(t *testing.T) {
	tests := map[Op]string{
		0:                   "none",
		OpWrite:             "write",
		OpCreate | OpWrite:  "create|write",
		OpRemove | OpRename: "remove|rename",
	}
	for op, want := range tests {
		if got := op.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", op, got, want)
		}
	}
}
