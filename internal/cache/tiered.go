package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/logging"
)

// Tier names a cache level.
type Tier string

const (
	TierL1 Tier = "l1"
	TierL2 Tier = "l2"
	TierL3 Tier = "l3"
)

// TierFor resolves the memory tier serving a depth: L0/L1 use L1, deeper
// queries use L2.
func TierFor(depth knowledge.Depth) Tier {
	if depth.Deep() {
		return TierL2
	}
	return TierL1
}

// Config sizes the cache tiers.
type Config struct {
	L1TTL                time.Duration
	L1Size               int
	L2TTL                time.Duration
	L2Size               int
	PersistentEnabled    bool
	PersistentMaxEntries int
	PersistentMaxAge     time.Duration
}

// DefaultConfig returns the default tier sizes.
func DefaultConfig() Config {
	return Config{
		L1TTL:                5 * time.Minute,
		L1Size:               128,
		L2TTL:                30 * time.Minute,
		L2Size:               512,
		PersistentEnabled:    true,
		PersistentMaxEntries: 2000,
		PersistentMaxAge:     24 * time.Hour,
	}
}

// Store is the persistent tier backend.
type Store interface {
	GetCachedQuery(ctx context.Context, key string) (*knowledge.CacheRecord, error)
	UpsertCachedQuery(ctx context.Context, rec knowledge.CacheRecord) error
	PruneCachedQueries(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error)
}

// Metrics receives cache hit/miss counts per tier.
type Metrics interface {
	CacheRequest(tier string, hit bool)
}

// memEntry is a memory-tier value. The LRU evicts by insertion time;
// expiresAt also bounds entries promoted from the persistent tier by their
// original write time.
type memEntry struct {
	entry     knowledge.CachedResponse
	expiresAt time.Time
}

// Tiered is the query cache shared by concurrent queries.
type Tiered struct {
	cfg     Config
	l1      *expirable.LRU[string, memEntry]
	l2      *expirable.LRU[string, memEntry]
	store   Store
	logger  *logging.Logger
	metrics Metrics
	now     func() time.Time

	pruning atomic.Bool
	wg      sync.WaitGroup
}

// Option configures a Tiered cache.
type Option func(*Tiered)

// WithStore enables the persistent tier.
func WithStore(s Store) Option {
	return func(c *Tiered) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Tiered) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Tiered) { c.metrics = m }
}

// WithClock overrides the clock used for persistent-tier freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Tiered) { c.now = now }
}

// New creates a tiered cache.
func New(cfg Config, opts ...Option) *Tiered {
	c := &Tiered{
		cfg: cfg,
		l1:  expirable.NewLRU[string, memEntry](cfg.L1Size, nil, cfg.L1TTL),
		l2:  expirable.NewLRU[string, memEntry](cfg.L2Size, nil, cfg.L2TTL),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Tiered) memory(t Tier) *expirable.LRU[string, memEntry] {
	if t == TierL2 {
		return c.l2
	}
	return c.l1
}

func (c *Tiered) ttl(t Tier) time.Duration {
	if t == TierL2 {
		return c.cfg.L2TTL
	}
	return c.cfg.L1TTL
}

func (c *Tiered) persistent() bool {
	return c.cfg.PersistentEnabled && c.store != nil
}

func (c *Tiered) record(t Tier, hit bool) {
	if c.metrics != nil {
		c.metrics.CacheRequest(string(t), hit)
	}
}

// Get looks up key in the memory tier for depth, then in the persistent tier.
// Persistent hits are promoted to memory. The returned entry is a copy.
func (c *Tiered) Get(ctx context.Context, key string, depth knowledge.Depth) (*knowledge.CachedResponse, Tier, bool) {
	tier := TierFor(depth)
	mem := c.memory(tier)
	if m, ok := mem.Get(key); ok {
		if c.now().Before(m.expiresAt) {
			c.record(tier, true)
			return cloneEntry(m.entry), tier, true
		}
		mem.Remove(key)
	}
	c.record(tier, false)

	if !c.persistent() {
		return nil, "", false
	}

	rec, err := c.store.GetCachedQuery(ctx, key)
	if err != nil {
		c.logger.Warn("Persistent cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		c.record(TierL3, false)
		return nil, "", false
	}
	if rec == nil {
		c.record(TierL3, false)
		return nil, "", false
	}

	if c.now().Sub(rec.CreatedAt) > c.ttl(tier) {
		c.record(TierL3, false)
		c.pruneAsync()
		return nil, "", false
	}

	entry, err := Decode(rec.Payload)
	if err != nil {
		c.logger.Warn("Discarding corrupt cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		c.record(TierL3, false)
		return nil, "", false
	}

	c.record(TierL3, true)
	// The promoted copy expires when the persistent entry would.
	mem.Add(key, memEntry{entry: *cloneEntry(*entry), expiresAt: rec.CreatedAt.Add(c.ttl(tier))})
	return entry, TierL3, true
}

// Set stores entry under key in the memory tier for depth and writes it
// through to the persistent tier. Entries are replaced, never merged.
func (c *Tiered) Set(ctx context.Context, key string, depth knowledge.Depth, entry knowledge.CachedResponse) error {
	tier := TierFor(depth)
	c.memory(tier).Add(key, memEntry{entry: *cloneEntry(entry), expiresAt: c.now().Add(c.ttl(tier))})

	if !c.persistent() {
		return nil
	}

	payload, err := Encode(entry)
	if err != nil {
		return err
	}
	createdAt := entry.CachedAt
	if createdAt.IsZero() {
		createdAt = c.now()
	}
	return c.store.UpsertCachedQuery(ctx, knowledge.CacheRecord{
		Key:       key,
		Payload:   payload,
		CreatedAt: createdAt,
	})
}

// Prune bounds the persistent tier by entry count and age.
func (c *Tiered) Prune(ctx context.Context) (int, error) {
	if !c.persistent() {
		return 0, nil
	}
	return c.store.PruneCachedQueries(ctx, c.cfg.PersistentMaxEntries, c.cfg.PersistentMaxAge)
}

// pruneAsync starts a background prune unless one is already running.
func (c *Tiered) pruneAsync() {
	if !c.pruning.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.pruning.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := c.Prune(ctx)
		if err != nil {
			c.logger.Warn("Persistent cache prune failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		c.logger.Debug("Pruned persistent cache", map[string]interface{}{
			"removed": removed,
		})
	}()
}

// Wait blocks until any background prune finishes.
func (c *Tiered) Wait() {
	c.wg.Wait()
}

func cloneEntry(entry knowledge.CachedResponse) *knowledge.CachedResponse {
	out := entry
	out.Response = entry.Response.Clone()
	out.Evidence = append([]knowledge.EvidenceRef(nil), entry.Evidence...)
	return &out
}
