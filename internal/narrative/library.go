package narrative

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stagehand/internal/logging"
)

// Loader resolves narrative names to loaded documents. The executor uses it
// for nested_narrative inputs; implementations must be safe for concurrent use.
type Loader interface {
	Load(name string) (*Narrative, error)
}

// Library is a directory-backed Loader. Documents are YAML files whose
// narrative name (not filename) is the lookup key. Loaded documents are
// cached; an optional fsnotify watcher invalidates the cache on changes.
type Library struct {
	mu    sync.RWMutex
	dir   string
	cache map[string]*Narrative // narrative name -> document
	paths map[string]string     // narrative name -> file path

	watcher     *fsnotify.Watcher
	debounceMap map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewLibrary creates a library over the given directory and indexes it.
func NewLibrary(dir string) (*Library, error) {
	lib := &Library{
		dir:         dir,
		cache:       make(map[string]*Narrative),
		paths:       make(map[string]string),
		debounceMap: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	if err := lib.Reindex(); err != nil {
		return nil, err
	}

	return lib, nil
}

// Reindex rescans the directory, replacing the cache. Documents that fail to
// parse are skipped with a warning so one bad file does not poison the library.
func (l *Library) Reindex() error {
	timer := logging.StartTimer(logging.CategoryNarrative, "Reindex")
	defer timer.Stop()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read narrative library %s: %w", l.dir, err)
	}

	cache := make(map[string]*Narrative)
	paths := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		n, err := ParseFile(path)
		if err != nil {
			logging.Get(logging.CategoryNarrative).Warn("Skipping %s: %v", path, err)
			continue
		}
		if prev, dup := paths[n.Name]; dup {
			logging.Get(logging.CategoryNarrative).Warn("Duplicate narrative %q in %s (keeping %s)", n.Name, path, prev)
			continue
		}
		cache[n.Name] = n
		paths[n.Name] = path
	}

	l.mu.Lock()
	l.cache = cache
	l.paths = paths
	l.mu.Unlock()

	logging.Narrative("Library indexed %d narratives from %s", len(cache), l.dir)
	return nil
}

// Load returns the named narrative from the cache.
func (l *Library) Load(name string) (*Narrative, error) {
	l.mu.RLock()
	n, ok := l.cache[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("narrative %q not found in library %s", name, l.dir)
	}
	return n, nil
}

// Names returns the sorted-insertion list of known narrative names.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.cache))
	for name := range l.cache {
		names = append(names, name)
	}
	return names
}

// Watch starts an fsnotify watcher that reindexes the library when documents
// change. Non-blocking; Stop shuts it down.
func (l *Library) Watch() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		l.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.running = true
	l.mu.Unlock()

	logging.Narrative("Library watching %s for changes", l.dir)
	go l.run()
	return nil
}

func (l *Library) run() {
	defer close(l.doneCh)

	for {
		select {
		case <-l.stopCh:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryNarrative).Warn("Library watcher error: %v", err)
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yaml" && ext != ".yml" {
		return
	}

	// Ignored ops (chmod) must not consume the debounce window.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// Debounce rapid saves from editors
	l.mu.Lock()
	last, seen := l.debounceMap[event.Name]
	now := time.Now()
	if seen && now.Sub(last) < 500*time.Millisecond {
		l.mu.Unlock()
		return
	}
	l.debounceMap[event.Name] = now
	l.mu.Unlock()

	logging.NarrativeDebug("Library change detected: %s (%s)", event.Name, event.Op)
	if err := l.Reindex(); err != nil {
		logging.Get(logging.CategoryNarrative).Error("Library reindex failed: %v", err)
	}
}

// Stop stops the watcher, if running, and waits for cleanup.
func (l *Library) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopCh)
	l.watcher.Close()
	<-l.doneCh
}
