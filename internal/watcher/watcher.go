// Package watcher notifies when the command scripts or instruction documents of
// an Agent-SDD scaffold change.
package watcher

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/paths"
)

// Watcher monitors a scaffold directory and sends debounced notifications.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	scaffold  string
	exts      []string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	ScaffoldDir string
	// Extensions of files that trigger a notification. Empty matches every file.
	Extensions  []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(scaffoldDir string) Config {
	return Config{
		ScaffoldDir: scaffoldDir,
		Extensions:  []string{".sh", ".md"},
		DebounceDur: 300 * time.Millisecond,
	}
}

// New creates a new scaffold watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		scaffold:  filepath.Clean(cfg.ScaffoldDir),
		exts:      dotted(cfg.Extensions),
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the scaffold and whichever of its scripts/ and
// instructions/ directories exist. Directories created later are picked up.
// Returns a channel that receives a signal when something relevant changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.scaffold); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.scaffold, err)
	}
	for _, dir := range w.commandDirs() {
		// Missing directories are fine; they are added when created.
		if err := w.fsWatcher.Add(dir); err == nil {
			log.Debug(log.CatWatcher, "watching", "dir", dir)
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) commandDirs() []string {
	return []string{paths.ScriptsDir(w.scaffold), paths.InstructionsDir(w.scaffold)}
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}
			log.Debug(log.CatWatcher, "scaffold changed", "path", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Non-blocking send - drop if channel full
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "scaffold", w.scaffold)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether event changes what the resolver would find.
// Creation of scripts/ or instructions/ also registers the new directory.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		// chmod alone never changes resolution, and the executor chmods every script it runs.
		return false
	}

	dir := filepath.Dir(event.Name)
	if dir == w.scaffold {
		if !slices.Contains(w.commandDirs(), event.Name) {
			return false
		}
		if event.Op.Has(fsnotify.Create) {
			if err := w.fsWatcher.Add(event.Name); err != nil {
				log.ErrorErr(log.CatWatcher, "failed to watch new directory", err, "dir", event.Name)
			}
		}
		return true
	}

	if !slices.Contains(w.commandDirs(), dir) {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	return slices.Contains(w.exts, filepath.Ext(event.Name))
}

// dotted prefixes each extension with "." so "sh" and ".sh" both match.
func dotted(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
