// Package watcher reports extraction batch files dropped into an inbox
// directory, using filesystem events or polling.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/ctxgraph/internal/validation"
)

// Defaults for Options.
const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultPollInterval = 5 * time.Second
)

// Options tune a Watcher. Zero values take the defaults.
type Options struct {
	Debounce     time.Duration
	PollInterval time.Duration
	ForcePolling bool // skip fsnotify entirely
	Logger       *slog.Logger
}

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher monitors an inbox directory. onChange receives the batch files
// that were created or written since the last call, after debouncing.
// Calls to onChange never overlap.
type Watcher struct {
	dir      string
	onChange func([]string)
	opts     Options
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	polling bool
	known   map[string]fileState // polling mode only

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	flushMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for dir. It falls back to polling when fsnotify
// cannot watch the directory.
func New(dir string, onChange func([]string), opts Options) (*Watcher, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat inbox: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("inbox %s is not a directory", dir)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{
		dir:      dir,
		onChange: onChange,
		opts:     opts,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}

	if opts.ForcePolling {
		return w.usePolling(), nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, falling back to polling", "error", err, "interval", opts.PollInterval)
		return w.usePolling(), nil
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		logger.Warn("failed to watch inbox, falling back to polling", "dir", dir, "error", err, "interval", opts.PollInterval)
		return w.usePolling(), nil
	}
	w.fsw = fsw
	return w, nil
}

func (w *Watcher) usePolling() *Watcher {
	w.polling = true
	w.known = make(map[string]fileState)
	// Files already present are not changes.
	for _, p := range w.scan() {
		if st, err := os.Stat(p); err == nil {
			w.known[p] = fileState{modTime: st.ModTime(), size: st.Size()}
		}
	}
	return w
}

// Polling reports whether the watcher runs in polling mode.
func (w *Watcher) Polling() bool { return w.polling }

// Pending returns the batch files currently in the inbox, sorted.
func (w *Watcher) Pending() []string { return w.scan() }

// IsBatchFile reports whether name looks like an extraction batch file.
func IsBatchFile(name string) bool {
	base := filepath.Base(name)
	if base == "" || base[0] == '.' {
		return false
	}
	return validation.FormatFromPath(name) != ""
}

func (w *Watcher) scan() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to read inbox", "dir", w.dir, "error", err)
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsBatchFile(e.Name()) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	return out
}

// Start begins watching in the background until ctx ends or Close is
// called. Call it once.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.polling {
		w.startPolling(ctx)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !IsBatchFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					w.logger.Debug("inbox change", "file", event.Name, "op", event.Op.String())
					w.trigger(event.Name)
				}

			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Watcher) startPolling(ctx context.Context) {
	w.logger.Info("watching inbox by polling", "dir", w.dir, "interval", w.opts.PollInterval)
	ticker := time.NewTicker(w.opts.PollInterval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.poll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// poll diffs the inbox against the previous scan.
func (w *Watcher) poll() {
	present := make(map[string]bool)
	for _, p := range w.scan() {
		present[p] = true
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		cur := fileState{modTime: st.ModTime(), size: st.Size()}
		prev, ok := w.known[p]
		if ok && prev.modTime.Equal(cur.modTime) && prev.size == cur.size {
			continue
		}
		w.known[p] = cur
		w.logger.Debug("inbox change (polling)", "file", p)
		w.trigger(p)
	}
	for p := range w.known {
		if !present[p] {
			delete(w.known, p)
		}
	}
}

// trigger queues path and restarts the debounce timer.
func (w *Watcher) trigger(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, w.flush)
}

func (w *Watcher) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	slices.Sort(paths)
	w.onChange(paths)
}

// Close stops the watcher. Changes still inside the debounce window are
// dropped.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
