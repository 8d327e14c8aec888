// Package watch triggers reconciliation when the document directory or the
// URL list changes on disk.
//
// Events are debounced: a burst of changes (a copy of many PDFs, an editor
// rewriting urls.txt) produces one callback once the window has been quiet.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch of changes is reported.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Dir      string
	Pattern  string
	URLsFile string
	Debounce time.Duration
}

// Watcher reports changes to the sources of a sync run.
type Watcher struct {
	dir      string
	pattern  string
	urlsFile string
	debounce time.Duration
	logger   *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.pdf"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	var urls string
	if opts.URLsFile != "" {
		if urls, err = filepath.Abs(opts.URLsFile); err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
	}
	return &Watcher{dir: dir, pattern: opts.Pattern, urlsFile: urls, debounce: opts.Debounce, logger: logger}, nil
}

// relevant reports whether a change to path can alter the source lists.
func (w *Watcher) relevant(path string) bool {
	if w.urlsFile != "" && path == w.urlsFile {
		return true
	}
	if filepath.Dir(path) != w.dir {
		return false
	}
	ok, err := doublestar.Match(w.pattern, filepath.Base(path))
	return err == nil && ok
}

// Run watches until ctx is done, calling onChange with the sorted set of
// changed paths after each debounced burst. An error from onChange is logged
// and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	// The parent directory is watched so atomic replaces of the URL file are seen.
	if w.urlsFile != "" {
		if parent := filepath.Dir(w.urlsFile); parent != w.dir {
			if err := fsw.Add(parent); err != nil {
				return fmt.Errorf("watch %s: %w", parent, err)
			}
		}
	}
	w.logger.Info("Watching sources", slog.String("dir", w.dir), slog.String("urls_file", w.urlsFile))

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || !w.relevant(filepath.Clean(event.Name)) {
				continue
			}
			w.logger.Debug("source changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			pending[filepath.Clean(event.Name)] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = map[string]struct{}{}
			if err := onChange(ctx, paths); err != nil {
				w.logger.Error("reconcile after change failed", slog.String("error", err.Error()))
			}
		}
	}
}
