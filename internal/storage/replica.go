// Package storage holds the local replica of the synchronized entity store:
// a diskv-backed record store with change subscriptions, a filesystem
// watcher and the conflict hook used when remote changes arrive.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/diskv/v3"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for a kind and id.
	ErrNotFound = errors.New("record not found")
	// ErrTypeChanged is returned when a local save would change the
	// taskType of an existing task.
	ErrTypeChanged = errors.New("task type cannot change after creation")

	// ErrInvalidKind is returned for an empty kind or one that cannot name a
	// replica directory.
	ErrInvalidKind = errors.New("invalid entity kind")
)

// ChangeType classifies an element-level change.
type ChangeType string

const (
	ChangeSave   ChangeType = "SAVE"
	ChangeDelete ChangeType = "DELETE"
	ChangeRemote ChangeType = "REMOTE"
)

// Change is one element-level mutation published to Observe subscribers.
type Change struct {
	Element models.Record
	OpType  ChangeType
}

// Snapshot is the current visible result set of one kind. IsSynced is true
// when no record of the kind has local changes awaiting upload.
type Snapshot struct {
	Items    []models.Record
	IsSynced bool
}

// ReplicaStore is the local replica of the synchronized store.
type ReplicaStore interface {
	Query(ctx context.Context, kind models.EntityKind) ([]models.Record, error)
	Get(ctx context.Context, kind models.EntityKind, id string) (models.Record, error)
	Save(ctx context.Context, r models.Record) (models.Record, error)
	Delete(ctx context.Context, r models.Record) error
	ApplyRemote(ctx context.Context, remote models.Record, op core.Operation) (models.Record, error)
	SetConflictHandler(h core.ConflictHandler)
	Observe(ctx context.Context, kind models.EntityKind) (<-chan Change, error)
	ObserveQuery(ctx context.Context, kind models.EntityKind) (<-chan Snapshot, error)
	Watch(ctx context.Context) (<-chan WatchEvent, error)
	BasePath() string
}

// Options configures a ReplicaStore.
type Options struct {
	BasePath       string
	CacheSizeBytes uint64
	WatchDebounce  time.Duration
	Events         core.EventLogger
	Now            func() time.Time
}

const (
	lockFileName      = ".qsync.lock"
	defaultCacheBytes = 1024 * 1024
	defaultDebounce   = 100 * time.Millisecond
	changeBuffer      = 64
)

type replica struct {
	d        *diskv.Diskv
	basePath string
	events   core.EventLogger
	now      func() time.Time
	debounce time.Duration

	// mu serializes read-modify-write cycles within the process; the lock
	// file does the same across processes.
	mu      sync.Mutex
	handler core.ConflictHandler

	subsMu sync.Mutex
	subs   map[*subscriber]struct{}
}

type subscriber struct {
	kind    models.EntityKind
	changes chan Change
}

// NewReplicaStore opens (creating if needed) a replica under opts.BasePath.
func NewReplicaStore(opts Options) (ReplicaStore, error) {
	if strings.TrimSpace(opts.BasePath) == "" {
		return nil, errors.New("storage: base path required")
	}
	if err := os.MkdirAll(opts.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	if opts.CacheSizeBytes == 0 {
		opts.CacheSizeBytes = defaultCacheBytes
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = defaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &replica{
		d: diskv.New(diskv.Options{
			BasePath:          opts.BasePath,
			AdvancedTransform: keyToPathTransform,
			InverseTransform:  pathToKeyTransform,
			CacheSizeMax:      opts.CacheSizeBytes,
		}),
		basePath: opts.BasePath,
		events:   opts.Events,
		now:      opts.Now,
		debounce: opts.WatchDebounce,
		subs:     make(map[*subscriber]struct{}),
	}, nil
}

func (s *replica) BasePath() string { return s.basePath }

// SetConflictHandler installs the hook invoked when a remote change meets a
// diverged pending local copy. A nil handler means remote wins.
func (s *replica) SetConflictHandler(h core.ConflictHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Query returns every record of kind, tombstones included, sorted by ID.
// Unreadable entries are skipped.
func (s *replica) Query(ctx context.Context, kind models.EntityKind) ([]models.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0)
	for key := range s.d.KeysPrefix(string(kind)+"-", ctx.Done()) {
		r, err := s.read(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "storage: %s: %v\n", key, err)
			continue
		}
		out = append(out, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one record or ErrNotFound.
func (s *replica) Get(ctx context.Context, kind models.EntityKind, id string) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}
	if err := checkKind(kind); err != nil {
		return models.Record{}, err
	}
	key := toKey(kind, id)
	if !s.d.Has(key) {
		return models.Record{}, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return s.read(key)
}

// Save persists a local mutation. The record becomes pending, its version
// is bumped past the stored one and an empty ID is assigned.
func (s *replica) Save(ctx context.Context, r models.Record) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}
	if err := checkKind(r.Kind); err != nil {
		return models.Record{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(filepath.Join(s.basePath, lockFileName))
	if err != nil {
		return models.Record{}, err
	}
	defer unlock()

	r = r.Clone()
	key := toKey(r.Kind, r.ID)
	if s.d.Has(key) {
		existing, err := s.read(key)
		if err != nil {
			return models.Record{}, fmt.Errorf("saving %s %s: %w", r.Kind, r.ID, err)
		}
		if r.Kind == models.KindTask && taskTypeChanged(existing, r) {
			return models.Record{}, fmt.Errorf("saving task %s: %w", r.ID, ErrTypeChanged)
		}
		r.Version = existing.Version + 1
	} else {
		r.Version = 1
	}
	r.Pending = true
	r.UpdatedAt = s.now().UTC()

	if err := s.write(key, r); err != nil {
		return models.Record{}, fmt.Errorf("saving %s %s: %w", r.Kind, r.ID, err)
	}
	s.logEvent("record.saved", map[string]any{"kind": string(r.Kind), "id": r.ID, "version": r.Version})
	s.publish(Change{Element: r.Clone(), OpType: ChangeSave})
	return r, nil
}

// Delete tombstones a stored record as a local mutation.
func (s *replica) Delete(ctx context.Context, r models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKind(r.Kind); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(filepath.Join(s.basePath, lockFileName))
	if err != nil {
		return err
	}
	defer unlock()

	key := toKey(r.Kind, r.ID)
	if !s.d.Has(key) {
		return fmt.Errorf("deleting %s %s: %w", r.Kind, r.ID, ErrNotFound)
	}
	existing, err := s.read(key)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", r.Kind, r.ID, err)
	}
	existing.Deleted = true
	existing.Pending = true
	existing.Version++
	existing.UpdatedAt = s.now().UTC()

	if err := s.write(key, existing); err != nil {
		return fmt.Errorf("deleting %s %s: %w", r.Kind, r.ID, err)
	}
	s.logEvent("record.deleted", map[string]any{"kind": string(r.Kind), "id": r.ID, "version": existing.Version})
	s.publish(Change{Element: existing.Clone(), OpType: ChangeDelete})
	return nil
}

// ApplyRemote ingests a version received from the backend. When the local
// copy has pending changes that diverge from remote, the conflict handler
// decides the surviving version; the result stays pending only when it
// differs from what the backend holds. The handler is told which local
// mutation is pending, while op only shapes the incoming remote version.
func (s *replica) ApplyRemote(ctx context.Context, remote models.Record, op core.Operation) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}
	if err := checkKind(remote.Kind); err != nil {
		return models.Record{}, err
	}
	if remote.ID == "" {
		return models.Record{}, errors.New("storage: remote record needs an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(filepath.Join(s.basePath, lockFileName))
	if err != nil {
		return models.Record{}, err
	}
	defer unlock()

	remote = remote.Clone()
	remote.Pending = false
	if op == core.OpDelete {
		remote.Deleted = true
	}
	if remote.UpdatedAt.IsZero() {
		remote.UpdatedAt = s.now().UTC()
	}

	key := toKey(remote.Kind, remote.ID)
	result := remote
	conflicted := false
	if s.d.Has(key) {
		local, err := s.read(key)
		if err != nil {
			return models.Record{}, fmt.Errorf("applying remote %s %s: %w", remote.Kind, remote.ID, err)
		}
		if local.Pending && diverged(local, remote) && s.handler != nil {
			conflicted = true
			resolved := s.handler(core.ConflictInput{
				Kind:      remote.Kind,
				Local:     local.Clone(),
				Remote:    remote.Clone(),
				Operation: pendingOperation(local),
				Attempts:  1,
			})
			resolved.Kind = remote.Kind
			resolved.ID = remote.ID
			resolved.Version = max(local.Version, remote.Version)
			resolved.UpdatedAt = s.now().UTC()
			resolved.Pending = !sameContent(resolved, remote)
			result = resolved
		}
	}

	if err := s.write(key, result); err != nil {
		return models.Record{}, fmt.Errorf("applying remote %s %s: %w", remote.Kind, remote.ID, err)
	}
	s.logEvent("remote.applied", map[string]any{
		"kind":       string(remote.Kind),
		"id":         remote.ID,
		"operation":  string(op),
		"conflicted": conflicted,
		"pending":    result.Pending,
	})
	s.publish(Change{Element: result.Clone(), OpType: ChangeRemote})
	return result, nil
}

// Observe streams element-level changes of kind made through this store
// until ctx is done. Changes are dropped when the consumer falls more than
// a buffer behind.
func (s *replica) Observe(ctx context.Context, kind models.EntityKind) (<-chan Change, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	sub := s.subscribe(kind)
	out := make(chan Change)
	go func() {
		defer close(out)
		defer s.unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-sub.changes:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ObserveQuery emits an initial snapshot of kind and a fresh one after each
// change, whether made through this store or by another process writing
// the same directory. A snapshot equal to the previous one is not emitted.
// Tombstoned records never appear in Items.
func (s *replica) ObserveQuery(ctx context.Context, kind models.EntityKind) (<-chan Snapshot, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	first, err := s.snapshot(ctx, kind)
	if err != nil {
		return nil, err
	}

	sub := s.subscribe(kind)
	disk, err := s.Watch(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: watch disabled: %v\n", err)
		disk = nil
	}

	out := make(chan Snapshot, 1)
	out <- first
	go func() {
		defer close(out)
		defer s.unsubscribe(sub)
		last := first
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.changes:
			case ev, ok := <-disk:
				if !ok {
					disk = nil
					continue
				}
				if ev.Type == WatchKindChanged && ev.Kind != kind {
					continue
				}
			}
			snap, err := s.snapshot(ctx, kind)
			if err != nil {
				return
			}
			// A save through this store is also seen by the disk watch.
			if sameSnapshot(last, snap) {
				continue
			}
			last = snap
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// pendingOperation names the local mutation a pending record is waiting to
// push.
func pendingOperation(local models.Record) core.Operation {
	switch {
	case local.IsTombstoned():
		return core.OpDelete
	case local.Version <= 1:
		return core.OpCreate
	default:
		return core.OpUpdate
	}
}

func (s *replica) snapshot(ctx context.Context, kind models.EntityKind) (Snapshot, error) {
	all, err := s.Query(ctx, kind)
	if err != nil {
		return Snapshot{}, err
	}
	synced := true
	for _, r := range all {
		if r.Pending {
			synced = false
			break
		}
	}
	return Snapshot{Items: core.FilterVisible(all), IsSynced: synced}, nil
}

func sameSnapshot(a, b Snapshot) bool {
	if a.IsSynced != b.IsSynced || len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		x, y := a.Items[i], b.Items[i]
		if x.Kind != y.Kind || x.ID != y.ID || x.Version != y.Version || x.Pending != y.Pending || !sameContent(x, y) {
			return false
		}
	}
	return true
}

func (s *replica) subscribe(kind models.EntityKind) *subscriber {
	sub := &subscriber{kind: kind, changes: make(chan Change, changeBuffer)}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	return sub
}

func (s *replica) unsubscribe(sub *subscriber) {
	s.subsMu.Lock()
	delete(s.subs, sub)
	s.subsMu.Unlock()
}

func (s *replica) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		if sub.kind != c.Element.Kind {
			continue
		}
		select {
		case sub.changes <- c:
		default:
		}
	}
}

func (s *replica) logEvent(eventType string, data map[string]any) {
	if s.events == nil {
		return
	}
	_ = s.events.LogEvent(eventType, data)
}

func (s *replica) read(key string) (models.Record, error) {
	val, err := s.d.Read(key)
	if err != nil {
		return models.Record{}, err
	}
	var r models.Record
	if err := json.Unmarshal(val, &r); err != nil {
		return models.Record{}, err
	}
	kind, id, err := fromKey(key)
	if err != nil {
		return models.Record{}, err
	}
	r.Kind = kind
	r.ID = id
	return r, nil
}

func (s *replica) write(key string, r models.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.d.Write(key, data)
}

// diverged reports whether local and remote differ in version or content.
func diverged(local, remote models.Record) bool {
	return local.Version != remote.Version || !sameContent(local, remote)
}

// sameContent compares deletion state and attributes. Fields are compared
// through their JSON encoding so numeric types decoded from disk match
// values built in memory.
func sameContent(a, b models.Record) bool {
	if a.IsTombstoned() != b.IsTombstoned() {
		return false
	}
	ja, errA := json.Marshal(a.Fields)
	jb, errB := json.Marshal(b.Fields)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func taskTypeChanged(existing, next models.Record) bool {
	if !existing.Has(models.FieldTaskType) || !next.Has(models.FieldTaskType) {
		return false
	}
	return fmt.Sprint(existing.Fields[models.FieldTaskType]) != fmt.Sprint(next.Fields[models.FieldTaskType])
}

// kindSeparators may not appear in a kind: '-' splits keys and the rest
// would escape the kind directory.
const kindSeparators = "-/\\."

// checkKind rejects kinds that cannot round-trip through a replica key.
func checkKind(kind models.EntityKind) error {
	if kind == "" {
		return fmt.Errorf("storage: kind required: %w", ErrInvalidKind)
	}
	if strings.ContainsAny(string(kind), kindSeparators) {
		return fmt.Errorf("storage: kind %q: %w", kind, ErrInvalidKind)
	}
	return nil
}

// Keys are `kind-encodedID`. checkKind keeps '-' out of kinds, so the first
// separator splits the kind directory from the file name.
func keyToPathTransform(key string) *diskv.PathKey {
	kind, file, ok := strings.Cut(key, "-")
	if !ok {
		return &diskv.PathKey{FileName: key}
	}
	return &diskv.PathKey{
		Path:     []string{kind},
		FileName: file,
	}
}

func pathToKeyTransform(pathKey *diskv.PathKey) string {
	if len(pathKey.Path) == 0 {
		return pathKey.FileName
	}
	return fmt.Sprintf("%s-%s", strings.Join(pathKey.Path, "-"), pathKey.FileName)
}

func toKey(kind models.EntityKind, id string) string {
	return fmt.Sprintf("%s-%s", kind, base64.RawURLEncoding.EncodeToString([]byte(id)))
}

func fromKey(key string) (models.EntityKind, string, error) {
	kind, encoded, ok := strings.Cut(key, "-")
	if !ok {
		return "", "", fmt.Errorf("storage: malformed key %q", key)
	}
	id, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("storage: malformed key %q: %w", key, err)
	}
	return models.EntityKind(kind), string(id), nil
}
