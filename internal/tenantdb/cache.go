package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/endovel/clinic-platform/internal/observability/metrics"
	"github.com/endovel/clinic-platform/pkg/logging"
)

const (
	DefaultCapacity    = 50
	DefaultIdleTimeout = 10 * time.Minute

	defaultWarmupTimeout  = 5 * time.Second
	defaultReleaseTimeout = 10 * time.Second
)

// Handle is a live connection to one tenant database.
type Handle interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Opener builds a handle for a connection string. It must not block on network I/O;
// connectivity is checked by the cache's background warm-up.
type Opener func(ctx context.Context, connString string) (Handle, error)

// Stats is a snapshot of the cache for operational endpoints.
type Stats struct {
	Capacity    int           `json:"capacity"`
	IdleTimeout time.Duration `json:"idle_timeout"`
	Resident    int           `json:"resident"`
	Entries     []EntryStats  `json:"entries"`
}

// EntryStats describes one resident handle. Label never carries credentials.
type EntryStats struct {
	Label        string    `json:"label"`
	LastUsed     time.Time `json:"last_used"`
	WarmupFailed bool      `json:"warmup_failed"`
}

type entry struct {
	key      string
	label    string
	handle   Handle
	lastUsed time.Time
	failed   atomic.Bool
	// reason is reported when the LRU evicts the entry; detached entries are
	// closed by the caller instead of the eviction callback.
	reason   string
	detached bool
}

// ErrClosed is returned by Get once DisconnectAll has started.
var ErrClosed = errors.New("tenantdb: cache closed")

// Cache is a bounded LRU of tenant database handles keyed by connection string.
// It is safe for concurrent use; concurrent Gets for the same key share one handle.
type Cache struct {
	open           Opener
	capacity       int
	idleTimeout    time.Duration
	warmupTimeout  time.Duration
	releaseTimeout time.Duration
	logger         *logging.Logger
	metrics        *metrics.TenantCacheMetrics
	now            func() time.Time

	// mu serializes open-or-reuse so one key never gets two handles. The
	// eviction callback runs on the goroutine holding mu.
	mu     sync.Mutex
	lru    *lru.Cache[string, *entry]
	closed bool

	pending sync.WaitGroup
}

// Option customizes a Cache.
type Option func(*Cache)

// WithCapacity bounds the number of resident handles.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithIdleTimeout sets how long a handle may go unused before SweepIdle releases it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithReleaseTimeout bounds how long a single asynchronous release may take.
func WithReleaseTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.releaseTimeout = d
		}
	}
}

// WithWarmupTimeout bounds the background connectivity check after a handle is opened.
func WithWarmupTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.warmupTimeout = d
		}
	}
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(m *metrics.TenantCacheMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates an empty cache that opens handles with open.
func NewCache(open Opener, logger *logging.Logger, opts ...Option) *Cache {
	if open == nil {
		panic("tenantdb: opener cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Cache{
		open:           open,
		capacity:       DefaultCapacity,
		idleTimeout:    DefaultIdleTimeout,
		warmupTimeout:  defaultWarmupTimeout,
		releaseTimeout: defaultReleaseTimeout,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	store, err := lru.NewWithEvict(c.capacity, c.evicted)
	if err != nil {
		panic(fmt.Sprintf("tenantdb: create lru: %v", err))
	}
	c.lru = store
	return c
}

// evicted is the LRU eviction hook. It only schedules the release.
func (c *Cache) evicted(_ string, e *entry) {
	if e.detached {
		return
	}
	c.releaseAsync(e, e.reason)
}

// Get returns the handle for connString, opening one if none is resident.
// It never waits for the database: a failed background warm-up is logged and the
// entry is replaced on the next Get for the same key.
func (c *Cache) Get(ctx context.Context, connString string) (Handle, error) {
	return c.GetLabeled(ctx, connString, "")
}

// GetLabeled is Get with a human-readable label used in logs and Stats.
func (c *Cache) GetLabeled(ctx context.Context, connString, label string) (Handle, error) {
	if connString == "" {
		return nil, errors.New("tenantdb: connection string required")
	}
	if label == "" {
		label = redact(connString)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if e, ok := c.lru.Get(connString); ok {
		if !e.failed.Load() {
			e.lastUsed = c.now()
			return e.handle, nil
		}
		e.reason = "warmup_failed"
		c.lru.Remove(connString)
	}

	handle, err := c.open(ctx, connString)
	if err != nil {
		c.metrics.SetResident(c.lru.Len())
		return nil, fmt.Errorf("tenantdb: open %s: %w", label, err)
	}
	e := &entry{key: connString, label: label, handle: handle, lastUsed: c.now(), reason: "capacity"}
	c.lru.Add(connString, e)
	c.metrics.ObserveOpen()
	c.metrics.SetResident(c.lru.Len())

	c.logger.Info("tenant database handle opened", "tenant", label)
	c.warmup(e)
	return handle, nil
}

// SweepIdle releases every handle unused for longer than the idle timeout and
// returns how many were removed.
func (c *Cache) SweepIdle(_ context.Context) int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok || now.Sub(e.lastUsed) <= c.idleTimeout {
			continue
		}
		e.reason = "idle"
		if c.lru.Remove(key) {
			removed++
		}
	}
	c.metrics.SetResident(c.lru.Len())
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Info("idle tenant database handles swept", "count", removed)
	}
	return removed
}

// DisconnectAll releases every resident handle concurrently and empties the cache.
// Later Gets fail with ErrClosed. It waits for in-flight asynchronous releases
// too. Failures are joined.
func (c *Cache) DisconnectAll(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	all := make([]*entry, 0, c.lru.Len())
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok {
			e.detached = true
			all = append(all, e)
		}
	}
	c.lru.Purge()
	c.metrics.SetResident(0)
	c.mu.Unlock()

	errs := make([]error, len(all))
	var wg sync.WaitGroup
	for i, e := range all {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			if err := e.handle.Close(ctx); err != nil {
				errs[i] = fmt.Errorf("tenantdb: close %s: %w", e.label, err)
				return
			}
			c.metrics.ObserveEviction("shutdown")
		}(i, e)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("tenantdb: waiting for pending releases: %w", ctx.Err()))
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("tenant database disconnect finished with errors", "count", len(all), "error", err)
	} else {
		c.logger.Info("tenant database handles disconnected", "count", len(all))
	}
	return err
}

// Len reports the number of resident handles.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot ordered most recently used first.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys()
	out := Stats{
		Capacity:    c.capacity,
		IdleTimeout: c.idleTimeout,
		Resident:    len(keys),
		Entries:     make([]EntryStats, 0, len(keys)),
	}
	for i := len(keys) - 1; i >= 0; i-- {
		e, ok := c.lru.Peek(keys[i])
		if !ok {
			continue
		}
		out.Entries = append(out.Entries, EntryStats{
			Label:        e.label,
			LastUsed:     e.lastUsed,
			WarmupFailed: e.failed.Load(),
		})
	}
	return out
}

// warmup and releaseAsync are only called with mu held and the cache open, so
// pending never grows once DisconnectAll is waiting on it.
func (c *Cache) warmup(e *entry) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.warmupTimeout)
		defer cancel()
		if err := e.handle.Ping(ctx); err != nil {
			e.failed.Store(true)
			c.logger.Error("tenant database warm-up failed", "tenant", e.label, "error", err)
		}
	}()
}

func (c *Cache) releaseAsync(e *entry, reason string) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.releaseTimeout)
		defer cancel()
		if err := e.handle.Close(ctx); err != nil {
			c.logger.Error("tenant database release failed", "tenant", e.label, "reason", reason, "error", err)
			return
		}
		c.metrics.ObserveEviction(reason)
		c.logger.Info("tenant database handle released", "tenant", e.label, "reason", reason)
	}()
}
