package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches the burst of filesystem events a single save
// produces into one rerun.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reruns the pipeline when the workflow file or any declared
// input changes.
type Watcher struct {
	// Path is the workflow file.
	Path string

	// Inputs are additional files or directories to watch.
	Inputs []string

	// Debounce delays the rerun after the last event. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	Logger *zap.Logger
}

// Watch blocks until ctx is cancelled, invoking trigger after each
// debounced change burst. A trigger error stops the watch and is
// returned; ctx cancellation returns nil.
func (w *Watcher) Watch(ctx context.Context, trigger func(context.Context) error) error {
	if w.Path == "" {
		return errors.New("watcher path is required")
	}
	if trigger == nil {
		return errors.New("trigger is required")
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the containing directory rather than the file itself:
	// editors that rename-over the file would otherwise drop the watch.
	if err := fw.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}
	for _, input := range w.Inputs {
		dir := input
		if info, err := os.Stat(input); err != nil || !info.IsDir() {
			dir = filepath.Dir(input)
		}
		if err := fw.Add(dir); err != nil {
			logger.Warn("cannot watch input", zap.String("path", input), zap.Error(err))
		}
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			logger.Debug("change detected",
				zap.String("path", ev.Name),
				zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-fire:
			timer = nil
			fire = nil
			if err := trigger(ctx); err != nil {
				return err
			}
		}
	}
}

// relevant filters events down to the workflow file and declared inputs.
// Chmod-only events are noise.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if sameFile(ev.Name, w.Path) {
		return true
	}
	for _, input := range w.Inputs {
		if sameFile(ev.Name, input) || within(ev.Name, input) {
			return true
		}
	}
	return false
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && rel != "." &&
		!(len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator))
}
