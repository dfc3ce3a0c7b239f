package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
)

var (
	// ErrUnsupported is returned by a loader that cannot serve the requested read shape.
	ErrUnsupported = errors.New("cache: unsupported fetch")
	// ErrNotLoaded indicates a refetch on a cache that never completed a fetch.
	ErrNotLoaded = errors.New("cache: nothing loaded")
	// ErrSuperseded is returned when response fencing discards an out-of-order response.
	ErrSuperseded = errors.New("cache: response superseded by a newer request")
)

const watcherBufferSize = 16

// Mode records which read shape produced the cached value.
type Mode int

const (
	ModeEmpty Mode = iota
	ModeOne
	ModeCollection
)

func (m Mode) String() string {
	switch m {
	case ModeOne:
		return "one"
	case ModeCollection:
		return "collection"
	default:
		return "empty"
	}
}

// Loader performs the remote reads behind a cache.
type Loader[T any] interface {
	LoadOne(ctx context.Context, identity resource.Identity) (T, error)
	LoadCollection(ctx context.Context, query resource.Query) (T, error)
}

// LoaderFuncs adapts plain functions to Loader. A nil function reports ErrUnsupported.
type LoaderFuncs[T any] struct {
	One        func(ctx context.Context, identity resource.Identity) (T, error)
	Collection func(ctx context.Context, query resource.Query) (T, error)
}

// LoadOne calls One.
func (l LoaderFuncs[T]) LoadOne(ctx context.Context, identity resource.Identity) (T, error) {
	if l.One == nil {
		var zero T
		return zero, ErrUnsupported
	}
	return l.One(ctx, identity)
}

// LoadCollection calls Collection.
func (l LoaderFuncs[T]) LoadCollection(ctx context.Context, query resource.Query) (T, error) {
	if l.Collection == nil {
		var zero T
		return zero, ErrUnsupported
	}
	return l.Collection(ctx, query)
}

// Snapshot is an immutable view of a cache after one completed fetch.
type Snapshot[T any] struct {
	Value     T
	Identity  resource.Identity
	Query     resource.Query
	Mode      Mode
	Version   uint64
	FetchedAt time.Time
}

// Loaded reports whether any fetch has completed.
func (s Snapshot[T]) Loaded() bool {
	return s.Mode != ModeEmpty
}

// Config describes one cache instance.
type Config[T any] struct {
	// Name is the unique key the cache is registered under.
	Name   string
	Kind   resource.Kind
	Loader Loader[T]
	Logger *zap.Logger
	Clock  func() time.Time
	// FenceResponses discards responses to requests older than the newest
	// applied response. Disabled by default: the cache then holds whichever
	// response completed last.
	FenceResponses bool
}

// Cache mirrors the last successful server read of one resource kind. It is
// only ever replaced by fetch responses; local edits never touch it.
type Cache[T any] struct {
	name   string
	kind   resource.Kind
	loader Loader[T]
	logger *zap.Logger
	clock  func() time.Time
	fence  bool

	mu         sync.RWMutex
	snapshot   Snapshot[T]
	issued     uint64
	appliedSeq uint64

	watchMu     sync.Mutex
	watchers    map[int64]chan Snapshot[T]
	nextWatcher int64
}

// New constructs a cache from cfg.
func New[T any](cfg Config[T]) (*Cache[T], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("cache: name required")
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("cache %s: %w", cfg.Name, resource.ErrUnknownKind)
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("cache %s: loader required", cfg.Name)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache[T]{
		name:     cfg.Name,
		kind:     cfg.Kind,
		loader:   cfg.Loader,
		logger:   logger.With(zap.String("cache", cfg.Name)),
		clock:    clock,
		fence:    cfg.FenceResponses,
		watchers: make(map[int64]chan Snapshot[T]),
	}, nil
}

// Name returns the registration key of the cache.
func (c *Cache[T]) Name() string {
	return c.name
}

// Kind returns the resource kind the cache mirrors.
func (c *Cache[T]) Kind() resource.Kind {
	return c.kind
}

// Snapshot returns the current cached state.
func (c *Cache[T]) Snapshot() Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LoadedIdentity returns the identity of the last completed single-resource fetch.
func (c *Cache[T]) LoadedIdentity() (resource.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot.Mode != ModeOne {
		return resource.Identity{}, false
	}
	return c.snapshot.Identity, true
}

// LastQuery returns the parameters of the last completed collection fetch.
func (c *Cache[T]) LastQuery() (resource.Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot.Mode != ModeCollection {
		return resource.Query{}, false
	}
	return c.snapshot.Query.Clone(), true
}

// FetchOne reads a single resource and, on success, replaces the cache. On
// failure the previous state is kept and the error returned.
func (c *Cache[T]) FetchOne(ctx context.Context, identity resource.Identity) (Snapshot[T], error) {
	seq := c.nextSequence()
	value, err := c.loader.LoadOne(ctx, identity)
	if err != nil {
		c.logger.Warn("fetch failed",
			zap.String("identity", identity.String()),
			zap.Error(err))
		return c.Snapshot(), fmt.Errorf("cache %s: fetch %s: %w", c.name, identity, err)
	}
	return c.replace(seq, Snapshot[T]{Value: value, Identity: identity, Mode: ModeOne})
}

// FetchCollection reads a collection slice and, on success, replaces the cache.
func (c *Cache[T]) FetchCollection(ctx context.Context, query resource.Query) (Snapshot[T], error) {
	seq := c.nextSequence()
	retained := query.Clone()
	value, err := c.loader.LoadCollection(ctx, retained)
	if err != nil {
		c.logger.Warn("collection fetch failed",
			zap.Int("page", query.Page),
			zap.String("sort_by", query.SortBy),
			zap.Error(err))
		return c.Snapshot(), fmt.Errorf("cache %s: fetch collection: %w", c.name, err)
	}
	return c.replace(seq, Snapshot[T]{Value: value, Query: retained, Mode: ModeCollection})
}

// Refetch reissues the last completed read with identical parameters.
func (c *Cache[T]) Refetch(ctx context.Context) (Snapshot[T], error) {
	current := c.Snapshot()
	switch current.Mode {
	case ModeOne:
		return c.FetchOne(ctx, current.Identity)
	case ModeCollection:
		return c.FetchCollection(ctx, current.Query)
	default:
		return current, fmt.Errorf("cache %s: %w", c.name, ErrNotLoaded)
	}
}

// Watch streams snapshots after each replacement until ctx is cancelled.
// Watchers that fall behind miss intermediate snapshots.
func (c *Cache[T]) Watch(ctx context.Context) <-chan Snapshot[T] {
	stream := make(chan Snapshot[T], watcherBufferSize)

	c.watchMu.Lock()
	c.nextWatcher++
	id := c.nextWatcher
	c.watchers[id] = stream
	c.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		c.watchMu.Lock()
		delete(c.watchers, id)
		close(stream)
		c.watchMu.Unlock()
	}()
	return stream
}

func (c *Cache[T]) nextSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	return c.issued
}

func (c *Cache[T]) replace(seq uint64, next Snapshot[T]) (Snapshot[T], error) {
	c.mu.Lock()
	if c.fence && seq < c.appliedSeq {
		current := c.snapshot
		applied := c.appliedSeq
		c.mu.Unlock()
		c.logger.Debug("discarding superseded response",
			zap.Uint64("sequence", seq),
			zap.Uint64("applied_sequence", applied))
		return current, fmt.Errorf("cache %s: %w", c.name, ErrSuperseded)
	}
	c.appliedSeq = seq
	next.Version = c.snapshot.Version + 1
	next.FetchedAt = c.clock()
	c.snapshot = next
	c.mu.Unlock()

	c.publish(next)
	return next, nil
}

func (c *Cache[T]) publish(snapshot Snapshot[T]) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, stream := range c.watchers {
		select {
		case stream <- snapshot:
		default:
		}
	}
}
