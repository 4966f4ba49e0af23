package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by a Remote when the key is absent.
var ErrMiss = errors.New("cache: miss")

const remoteTimeout = 250 * time.Millisecond

// Remote is a shared second tier holding encoded values.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Reset(ctx context.Context) error
}

// Invalidation is a set of keys another replica dropped. Reset covers every
// key.
type Invalidation struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys,omitempty"`
	Reset  bool     `json:"reset,omitempty"`
}

// Notifier is implemented by remotes that broadcast invalidations to other
// replicas. Listen blocks until ctx is done.
type Notifier interface {
	Listen(ctx context.Context, fn func(Invalidation)) error
}

// LayerStats extends the local counters with the remote tier's.
type LayerStats struct {
	Stats
	RemoteHits   uint64
	RemoteErrors uint64
}

// Layer is the cache handle handed to services: a local LRU, an optional
// Remote, and a singleflight group for read-through loads.
type Layer struct {
	local  *LRU[any]
	remote Remote
	group  singleflight.Group
	logger *slog.Logger

	// mu orders local writes against invalidation. fences holds a write
	// generation for keys with a load in flight; epoch counts resets.
	mu     sync.Mutex
	fences map[string]*fence
	epoch  uint64

	remoteHits   atomic.Uint64
	remoteErrors atomic.Uint64
}

// NewLayer wraps local. remote may be nil.
func NewLayer(local *LRU[any], remote Remote, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Layer{local: local, remote: remote, logger: logger, fences: make(map[string]*fence)}
}

type fence struct {
	gen   uint64
	loads int
}

type stamp struct {
	gen, epoch uint64
}

// begin registers a load of key and returns the generation it started at.
func (l *Layer) begin(key string) stamp {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.fences[key]
	if !ok {
		f = &fence{}
		l.fences[key] = f
	}
	f.loads++
	return stamp{gen: f.gen, epoch: l.epoch}
}

// end releases a load of key.
func (l *Layer) end(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.fences[key]; ok {
		f.loads--
		if f.loads <= 0 {
			delete(l.fences, key)
		}
	}
}

func (l *Layer) currentLocked(key string, at stamp) bool {
	f, ok := l.fences[key]
	return ok && f.gen == at.gen && l.epoch == at.epoch
}

// storeIfCurrent caches value locally unless key was written or invalidated
// since at.
func (l *Layer) storeIfCurrent(key string, value any, ttl time.Duration, at stamp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.currentLocked(key, at) {
		return false
	}
	l.local.SetWithTTL(key, value, ttl)
	return true
}

func (l *Layer) stillCurrent(key string, at stamp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLocked(key, at)
}

// bumpLocked fences off in-flight loads of key.
func (l *Layer) bumpLocked(key string) {
	if f, ok := l.fences[key]; ok {
		f.gen++
	}
	l.group.Forget(key)
}

// Get returns the locally cached value for key.
func (l *Layer) Get(key string) (any, bool) {
	v, ok := l.local.Get(key)
	l.logger.Debug("cache get", "key", key, "hit", ok)
	return v, ok
}

// Set caches value under key in both tiers. ttl <= 0 selects the default TTL.
func (l *Layer) Set(key string, value any, ttl time.Duration) {
	l.mu.Lock()
	l.bumpLocked(key)
	l.local.SetWithTTL(key, value, ttl)
	l.mu.Unlock()
	l.logger.Debug("cache set", "key", key, "ttl", ttl)
	l.setRemote(key, value, ttl)
}

func (l *Layer) setRemote(key string, value any, ttl time.Duration) {
	if l.remote == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		l.remoteFailed("encode", key, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	if err := l.remote.Set(ctx, key, payload, l.remoteTTL(ttl)); err != nil {
		l.remoteFailed("set", key, err)
	}
}

// Delete invalidates keys in both tiers. Loads of those keys already in
// flight are not cached.
func (l *Layer) Delete(keys ...string) {
	l.drop(keys...)
	if l.remote == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	if err := l.remote.Delete(ctx, keys...); err != nil {
		l.remoteFailed("delete", fmt.Sprint(keys), err)
	}
}

// Has reports whether key is cached locally, without promoting it.
func (l *Layer) Has(key string) bool {
	return l.local.Has(key)
}

// Reset clears both tiers.
func (l *Layer) Reset() {
	l.dropAll()
	l.logger.Info("cache reset")
	if l.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.remote.Reset(ctx); err != nil {
		l.remoteFailed("reset", "*", err)
	}
}

// drop invalidates keys in the local tier only.
func (l *Layer) drop(keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		l.bumpLocked(key)
		l.local.Delete(key)
		l.logger.Debug("cache delete", "key", key)
	}
}

func (l *Layer) dropAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++
	for key := range l.fences {
		l.group.Forget(key)
	}
	l.local.Reset()
}

// Listen applies invalidations published by other replicas to the local
// tier until ctx is done. It returns nil at once when the remote does not
// broadcast.
func (l *Layer) Listen(ctx context.Context) error {
	notifier, ok := l.remote.(Notifier)
	if !ok {
		return nil
	}
	l.logger.Info("cache invalidation listener started")
	return notifier.Listen(ctx, func(inv Invalidation) {
		if inv.Reset {
			l.dropAll()
			l.logger.Info("cache reset by peer", "origin", inv.Origin)
			return
		}
		l.drop(inv.Keys...)
	})
}

// Keys lists local keys, most recently used first.
func (l *Layer) Keys() []string { return l.local.Keys() }

// Len is the local entry count.
func (l *Layer) Len() int { return l.local.Len() }

// Stats snapshots local and remote counters.
func (l *Layer) Stats() LayerStats {
	return LayerStats{
		Stats:        l.local.Stats(),
		RemoteHits:   l.remoteHits.Load(),
		RemoteErrors: l.remoteErrors.Load(),
	}
}

func (l *Layer) remoteTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if l.local.defaultTTL > 0 {
		return l.local.defaultTTL
	}
	return 0
}

func (l *Layer) remoteFailed(op, key string, err error) {
	l.remoteErrors.Add(1)
	l.logger.Warn("cache remote unavailable", "op", op, "key", key, "error", err)
}

// Fetch returns the cached T under key, loading and caching it on a miss.
// Concurrent misses for the same key share one call to load. Load errors are
// returned and nothing is cached; cache failures only cost a reload. A value
// loaded across a Set, Delete or Reset of key is returned to its callers but
// never cached.
func Fetch[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok := l.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		l.logger.Warn("cache value has unexpected type", "key", key, "type", fmt.Sprintf("%T", v))
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		at := l.begin(key)
		defer l.end(key)
		if v, ok := l.local.peek(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
		if typed, ok := fetchRemote[T](ctx, l, key); ok {
			l.storeIfCurrent(key, typed, ttl, at)
			return typed, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if !l.storeIfCurrent(key, loaded, ttl, at) {
			l.logger.Debug("cache load superseded", "key", key)
			return loaded, nil
		}
		l.setRemote(key, loaded, ttl)
		if !l.stillCurrent(key, at) {
			l.deleteRemote(key)
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// deleteRemote withdraws a remote copy written by a load that was
// invalidated meanwhile.
func (l *Layer) deleteRemote(key string) {
	if l.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	if err := l.remote.Delete(ctx, key); err != nil {
		l.remoteFailed("delete", key, err)
	}
}

func fetchRemote[T any](ctx context.Context, l *Layer, key string) (T, bool) {
	var zero T
	if l.remote == nil {
		return zero, false
	}
	rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	raw, err := l.remote.Get(rctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			l.remoteFailed("get", key, err)
		}
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		l.remoteFailed("decode", key, err)
		return zero, false
	}
	l.remoteHits.Add(1)
	return out, true
}
