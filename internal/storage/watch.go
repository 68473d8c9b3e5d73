package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// WatchEventType describes the nature of an on-disk change notification.
type WatchEventType int

const (
	// WatchKindChanged indicates records of Kind were added, edited or
	// removed.
	WatchKindChanged WatchEventType = iota

	// WatchInvalidated signals a change that could not be attributed to a
	// single kind; callers should refresh everything they show.
	WatchInvalidated
)

// WatchEvent is emitted by Watch when the store directory changes.
type WatchEvent struct {
	Type WatchEventType
	Kind models.EntityKind
}

// Watch streams change events until ctx is cancelled. Bursts of writes are
// coalesced into one event per kind. The channel is closed once ctx is done
// or the watcher fails.
func (s *replica) Watch(ctx context.Context) (<-chan WatchEvent, error) {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: create watcher: %w", err)
	}
	var closeOnce sync.Once
	closeWatcher := func() {
		closeOnce.Do(func() {
			if err := watcher.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "storage: watcher close: %v\n", err)
			}
		})
	}

	dirs, err := collectDirs(s.basePath)
	if err != nil {
		closeWatcher()
		return nil, fmt.Errorf("storage: enumerate directories: %w", err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			closeWatcher()
			return nil, fmt.Errorf("storage: watch %s: %w", dir, err)
		}
	}

	events := make(chan WatchEvent, changeBuffer)

	go func() {
		// The throttle flushes from its own timer goroutine, so sends and
		// the final close share a lock.
		var (
			sendMu sync.Mutex
			closed bool
		)
		defer func() {
			sendMu.Lock()
			closed = true
			close(events)
			sendMu.Unlock()
		}()
		defer closeWatcher()

		watched := make(map[string]struct{}, len(dirs))
		for _, dir := range dirs {
			watched[dir] = struct{}{}
		}

		// A slow consumer loses intermediate events; the next one still
		// triggers a full refresh.
		send := func(ev WatchEvent) {
			sendMu.Lock()
			defer sendMu.Unlock()
			if closed {
				return
			}
			select {
			case events <- ev:
			default:
			}
		}

		throttle := newEventThrottle(s.debounce)
		defer throttle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				throttle.Enqueue(WatchEvent{Type: WatchInvalidated}, send)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}

				if evt.Op&fsnotify.Create == fsnotify.Create {
					if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
						dir := filepath.Clean(evt.Name)
						if _, found := watched[dir]; !found {
							if err := watcher.Add(dir); err != nil {
								fmt.Fprintf(os.Stderr, "storage: watch %s: %v\n", dir, err)
							} else {
								watched[dir] = struct{}{}
							}
						}
						throttle.Enqueue(WatchEvent{Type: WatchInvalidated}, send)
						continue
					}
				}

				if filepath.Base(evt.Name) == lockFileName {
					continue
				}
				kind := s.kindForPath(evt.Name)
				if kind == "" {
					throttle.Enqueue(WatchEvent{Type: WatchInvalidated}, send)
					continue
				}
				throttle.Enqueue(WatchEvent{Type: WatchKindChanged, Kind: kind}, send)
			}
		}
	}()

	return events, nil
}

// collectDirs walks base and returns all directories that should be watched.
func collectDirs(base string) ([]string, error) {
	dirs := []string{base}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != base {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

// kindForPath derives the entity kind from a record file path.
func (s *replica) kindForPath(path string) models.EntityKind {
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || rel == "." {
		return ""
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	return models.EntityKind(parts[0])
}

// eventThrottle coalesces rapid change notifications so subscribers refresh
// once per burst of filesystem activity instead of on every single write.
type eventThrottle struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending map[WatchEventType]map[models.EntityKind]struct{}
	delay   time.Duration
}

func newEventThrottle(delay time.Duration) *eventThrottle {
	return &eventThrottle{
		delay:   delay,
		pending: make(map[WatchEventType]map[models.EntityKind]struct{}),
	}
}

func (t *eventThrottle) Enqueue(ev WatchEvent, send func(WatchEvent)) {
	t.mu.Lock()
	if t.pending[ev.Type] == nil {
		t.pending[ev.Type] = make(map[models.EntityKind]struct{})
	}
	t.pending[ev.Type][ev.Kind] = struct{}{}

	if t.timer == nil {
		t.timer = time.AfterFunc(t.delay, func() {
			t.flush(send)
		})
	}
	t.mu.Unlock()
}

func (t *eventThrottle) flush(send func(WatchEvent)) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[WatchEventType]map[models.EntityKind]struct{})
	t.timer = nil
	t.mu.Unlock()

	if _, ok := pending[WatchInvalidated]; ok {
		send(WatchEvent{Type: WatchInvalidated})
		return
	}
	for kind := range pending[WatchKindChanged] {
		send(WatchEvent{Type: WatchKindChanged, Kind: kind})
	}
}

func (t *eventThrottle) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}
