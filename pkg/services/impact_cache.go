package services

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// Impact cache defaults.
const (
	DefaultImpactCacheTTL        = 30 * time.Second
	DefaultImpactCacheMaxEntries = 1000
)

// ImpactCache holds impact radius results per (org, start node, options) for a short TTL.
// Expired entries are evicted only when the cache grows past its size threshold.
// Cached results are shared and must not be mutated by callers.
type ImpactCache struct {
	mu         sync.Mutex
	entries    map[string]impactCacheEntry
	flight     singleflight.Group
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type impactCacheEntry struct {
	result    *models.ImpactRadiusResult
	expiresAt time.Time
}

// NewImpactCache creates an ImpactCache. Non-positive arguments take the defaults.
func NewImpactCache(ttl time.Duration, maxEntries int) *ImpactCache {
	if ttl <= 0 {
		ttl = DefaultImpactCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultImpactCacheMaxEntries
	}
	return &ImpactCache{
		entries:    make(map[string]impactCacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// impactCacheKey renders a key from already-normalized options.
func impactCacheKey(orgID, startNodeID uuid.UUID, opts models.ImpactRadiusOptions) string {
	var b strings.Builder
	b.WriteString(orgID.String())
	b.WriteByte('|')
	b.WriteString(startNodeID.String())
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(opts.MaxDepth))
	b.WriteByte('|')
	b.WriteString(string(opts.Direction))
	b.WriteByte('|')
	for i, t := range opts.EdgeTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(t))
	}
	b.WriteByte('|')
	for i, t := range opts.IncludeTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(t))
	}
	return b.String()
}

// Get returns a live entry.
func (c *ImpactCache) Get(key string) (*models.ImpactRadiusResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.result, true
}

// Set stores a result, pruning expired entries once the cache is over its threshold.
func (c *ImpactCache) Set(key string, result *models.ImpactRadiusResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = impactCacheEntry{result: result, expiresAt: now.Add(c.ttl)}

	if len(c.entries) > c.maxEntries {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}

// Len returns the number of stored entries, live or expired.
func (c *ImpactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrCompute serves key from the cache or runs compute once for all concurrent
// callers of the same key. Errors are never cached.
func (c *ImpactCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (*models.ImpactRadiusResult, error)) (*models.ImpactRadiusResult, error) {
	if result, ok := c.Get(key); ok {
		metrics.ImpactCacheTotal.WithLabelValues(metrics.ResultHit).Inc()
		return result, nil
	}
	metrics.ImpactCacheTotal.WithLabelValues(metrics.ResultMiss).Inc()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if result, ok := c.Get(key); ok {
			return result, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ImpactRadiusResult), nil
}

// normalizeImpactOptions applies defaults and bounds, and sorts the type filters
// so equivalent requests share a cache key.
func normalizeImpactOptions(opts models.ImpactRadiusOptions) models.ImpactRadiusOptions {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultImpactDepth
	}
	opts.MaxDepth = min(opts.MaxDepth, MaxImpactDepth)

	switch opts.Direction {
	case models.DirectionOut, models.DirectionIn, models.DirectionBoth:
	default:
		opts.Direction = models.DirectionBoth
	}

	opts.EdgeTypes = sortedUnique(opts.EdgeTypes)
	opts.IncludeTypes = sortedUnique(opts.IncludeTypes)
	return opts
}

func sortedUnique[T ~string](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
