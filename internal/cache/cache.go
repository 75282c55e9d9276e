// Package cache provides the named TTL caches shared by the scanner, the
// cache warmer and the API layer.
//
// A Manager owns one TTL per named cache and stores JSON-encoded entries in
// a pluggable Store (in-memory or Redis). Expiry is decided by the Manager
// against its own clock, so a Store may keep stale entries around: an
// entry written at T is a hit strictly before T+ttl and a miss from T+ttl
// on. Store failures never reach callers; they count as misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Name identifies one independent cache.
type Name string

const (
	Universe     Name = "universe"      // exchange symbol list
	FullAnalysis Name = "full_analysis" // per-ticker CandidateStock
	Lightweight  Name = "lightweight"   // per-ticker QuickStock
	Endpoint     Name = "endpoint"      // whole endpoint responses
)

// Names lists every cache the Manager knows, in a stable order.
var Names = []Name{Universe, FullAnalysis, Lightweight, Endpoint}

// DefaultTTLs mirrors the dashboard's freshness targets.
var DefaultTTLs = map[Name]time.Duration{
	Universe:     30 * time.Minute,
	FullAnalysis: 30 * time.Minute,
	Lightweight:  10 * time.Minute,
	Endpoint:     30 * time.Minute,
}

// ErrUnknownCache is returned by Clear for a name the Manager was not
// configured with.
var ErrUnknownCache = errors.New("unknown cache")

// Entry is one stored value. Writes always replace a whole entry.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt time.Time       `json:"written_at"`
}

// Store is the backing key/value store.
type Store interface {
	// Get returns the entry for key in cache, found=false when absent.
	Get(ctx context.Context, cache Name, key string) (e Entry, found bool, err error)
	// Set replaces the entry. ttl is a hint the store may use for its own
	// eviction; it must not evict before ttl has elapsed.
	Set(ctx context.Context, cache Name, key string, e Entry, ttl time.Duration) error
	// Clear removes every entry of one cache.
	Clear(ctx context.Context, cache Name) error
}

// Observer receives cache outcomes (metrics).
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheError(cache, op string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)           {}
func (nopObserver) CacheMiss(string)          {}
func (nopObserver) CacheError(string, string) {}

// Manager is the cache service handed to the scanner and warmer.
type Manager struct {
	store Store
	ttls  map[Name]time.Duration
	now   func() time.Time
	obs   Observer
	log   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now; tests use it to step past a TTL.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.obs = o }
}

// WithLogger sets the logger used for degraded store operations.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a Manager. Caches missing from ttls use DefaultTTLs.
func NewManager(store Store, ttls map[Name]time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		ttls:  make(map[Name]time.Duration, len(DefaultTTLs)),
		now:   time.Now,
		obs:   nopObserver{},
		log:   slog.Default(),
	}
	for name, ttl := range DefaultTTLs {
		m.ttls[name] = ttl
	}
	for name, ttl := range ttls {
		if ttl > 0 {
			m.ttls[name] = ttl
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns the configured TTL of a cache.
func (m *Manager) TTL(name Name) time.Duration { return m.ttls[name] }

// Get decodes the live entry for key into dst and reports whether it hit.
// Expired, undecodable or unreadable entries are misses.
func (m *Manager) Get(ctx context.Context, name Name, key string, dst any) bool {
	ttl, ok := m.ttls[name]
	if !ok {
		return false
	}
	e, found, err := m.store.Get(ctx, name, key)
	if err != nil {
		m.degraded(name, "get", key, err)
		return false
	}
	if !found || m.now().Sub(e.WrittenAt) >= ttl {
		m.obs.CacheMiss(string(name))
		return false
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		m.degraded(name, "decode", key, err)
		return false
	}
	m.obs.CacheHit(string(name))
	return true
}

// Set stores value under key, stamped with the current time.
func (m *Manager) Set(ctx context.Context, name Name, key string, value any) {
	ttl, ok := m.ttls[name]
	if !ok {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		m.degraded(name, "encode", key, err)
		return
	}
	e := Entry{Value: raw, WrittenAt: m.now()}
	if err := m.store.Set(ctx, name, key, e, ttl); err != nil {
		m.degraded(name, "set", key, err)
	}
}

// Clear empties one cache and leaves the others untouched.
func (m *Manager) Clear(ctx context.Context, name Name) error {
	if _, ok := m.ttls[name]; !ok {
		return ErrUnknownCache
	}
	if err := m.store.Clear(ctx, name); err != nil {
		m.degraded(name, "clear", "", err)
	}
	return nil
}

// ClearAll empties every cache.
func (m *Manager) ClearAll(ctx context.Context) {
	for _, name := range Names {
		_ = m.Clear(ctx, name)
	}
}

func (m *Manager) degraded(name Name, op, key string, err error) {
	m.obs.CacheError(string(name), op)
	m.log.Debug("cache degraded to miss",
		slog.String("component", "cache"),
		slog.String("cache", string(name)),
		slog.String("op", op),
		slog.String("key", key),
		slog.String("err", err.Error()),
	)
}

// Typed is a Manager view bound to one cache and value type.
type Typed[T any] struct {
	m    *Manager
	name Name
}

// For binds a typed view of one cache.
func For[T any](m *Manager, name Name) Typed[T] {
	return Typed[T]{m: m, name: name}
}

// Get returns the live value for key.
func (t Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var v T
	ok := t.m.Get(ctx, t.name, key, &v)
	return v, ok
}

// Set stores v under key.
func (t Typed[T]) Set(ctx context.Context, key string, v T) {
	t.m.Set(ctx, t.name, key, v)
}
