package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherTriggersOnWorkflowChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var triggered atomic.Int32
	done := make(chan error, 1)
	w := &Watcher{Path: path, Debounce: 50 * time.Millisecond}
	go func() {
		done <- w.Watch(ctx, func(context.Context) error {
			triggered.Add(1)
			return nil
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"# touched\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for triggered.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("watcher never triggered")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var triggered atomic.Int32
	done := make(chan error, 1)
	w := &Watcher{Path: path, Debounce: 200 * time.Millisecond}
	go func() {
		done <- w.Watch(ctx, func(context.Context) error {
			triggered.Add(1)
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(600 * time.Millisecond)
	if n := triggered.Load(); n != 1 {
		t.Fatalf("triggered %d times, want 1", n)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var triggered atomic.Int32
	done := make(chan error, 1)
	w := &Watcher{Path: path, Debounce: 50 * time.Millisecond}
	go func() {
		done <- w.Watch(ctx, func(context.Context) error {
			triggered.Add(1)
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	if n := triggered.Load(); n != 0 {
		t.Fatalf("triggered %d times, want 0", n)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherRequiresPath(t *testing.T) {
	w := &Watcher{}
	err := w.Watch(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
}
