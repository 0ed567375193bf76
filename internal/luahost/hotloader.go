package luahost

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joeycumines/logiface"
)

// HotLoader watches a script directory and calls reload with the path of
// each .lua file that changed, once writes to it have settled.
type HotLoader struct {
	dir     string
	watcher *fsnotify.Watcher
	reload  func(path string)
	log     *logiface.Logger[logiface.Event]

	// script path -> directory of its symlink target
	linkTargets map[string]string
	watched     map[string]int
	mu          sync.Mutex

	pending  map[string]time.Time
	pendMu   sync.Mutex
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewHotLoader creates a hot loader for dir.
func NewHotLoader(dir string, debounce time.Duration, reload func(path string), log *logiface.Logger[logiface.Event]) (*HotLoader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &HotLoader{
		dir:         filepath.Clean(dir),
		watcher:     watcher,
		reload:      reload,
		log:         log,
		linkTargets: make(map[string]string),
		watched:     make(map[string]int),
		pending:     make(map[string]time.Time),
		debounce:    debounce,
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching.
func (h *HotLoader) Start() error {
	if err := h.addWatch(h.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		h.log.Warning().Str("dir", h.dir).Err(err).Log("hotload: cannot scan for symlinks")
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".lua") {
			h.trackLink(filepath.Join(h.dir, entry.Name()))
		}
	}

	go h.eventLoop()
	go h.debounceLoop()
	h.log.Info().Str("dir", h.dir).Log("hotload: watching for changes")
	return nil
}

// Stop stops watching.
func (h *HotLoader) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.done)
		err = h.watcher.Close()
	})
	return err
}

func (h *HotLoader) trackLink(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.linkTargets[path]; ok {
		h.unwatchLocked(old)
		delete(h.linkTargets, path)
	}
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		h.log.Debug().Str("path", path).Err(err).Log("hotload: cannot resolve symlink")
		return
	}
	dir := filepath.Dir(target)
	h.linkTargets[path] = dir
	if err := h.watchLocked(dir); err != nil {
		h.log.Warning().Str("dir", dir).Err(err).Log("hotload: cannot watch symlink target")
	}
}

func (h *HotLoader) untrackLink(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dir, ok := h.linkTargets[path]; ok {
		h.unwatchLocked(dir)
		delete(h.linkTargets, path)
	}
}

func (h *HotLoader) addWatch(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watchLocked(dir)
}

func (h *HotLoader) watchLocked(dir string) error {
	h.watched[dir]++
	if h.watched[dir] == 1 {
		if err := h.watcher.Add(dir); err != nil {
			h.watched[dir]--
			return err
		}
	}
	return nil
}

func (h *HotLoader) unwatchLocked(dir string) {
	h.watched[dir]--
	if h.watched[dir] <= 0 {
		_ = h.watcher.Remove(dir)
		delete(h.watched, dir)
	}
}

func (h *HotLoader) eventLoop() {
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.handleEvent(event)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warning().Err(err).Log("hotload: watcher error")
		}
	}
}

func (h *HotLoader) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".lua") {
		return
	}
	h.log.Trace().Str("op", event.Op.String()).Str("path", event.Name).Log("hotload: event")

	if filepath.Dir(event.Name) == h.dir {
		switch {
		case event.Has(fsnotify.Create):
			h.trackLink(event.Name)
		case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
			h.untrackLink(event.Name)
		}
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		h.pendMu.Lock()
		h.pending[event.Name] = time.Now()
		h.pendMu.Unlock()
	}
}

func (h *HotLoader) debounceLoop() {
	ticker := time.NewTicker(h.debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.flush()
		}
	}
}

func (h *HotLoader) flush() {
	h.pendMu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range h.pending {
		if now.Sub(at) >= h.debounce {
			ready = append(ready, path)
			delete(h.pending, path)
		}
	}
	h.pendMu.Unlock()

	for _, path := range ready {
		if resolved := h.resolve(path); resolved != "" {
			h.log.Info().Str("path", resolved).Log("hotload: reloading")
			h.reload(resolved)
		}
	}
}

// resolve maps a changed path to the script in dir it belongs to.
func (h *HotLoader) resolve(changed string) string {
	if filepath.Dir(changed) == h.dir {
		if _, err := os.Stat(changed); err != nil {
			return ""
		}
		return changed
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	dir, base := filepath.Dir(changed), filepath.Base(changed)
	for script, target := range h.linkTargets {
		if target != dir {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(script); err == nil && filepath.Base(resolved) == base {
			return script
		}
	}
	return ""
}
