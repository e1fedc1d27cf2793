package orgs

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/roster/pkg/observability"
)

const cacheName = "organizations"

// CachedService wraps a Service with an expiring LRU of organizations.
// Writes made through it invalidate the affected entries; writes made
// elsewhere become visible after the TTL.
type CachedService struct {
	Service
	cache   *lru.LRU[string, Organization]
	metrics *observability.Metrics
}

// NewCachedService creates a cache holding up to size organizations for ttl.
func NewCachedService(svc Service, size int, ttl time.Duration, metrics *observability.Metrics) *CachedService {
	if size <= 0 {
		size = 1024
	}
	return &CachedService{
		Service: svc,
		cache:   lru.NewLRU[string, Organization](size, nil, ttl),
		metrics: metrics,
	}
}

// GetOrganization returns a copy of the cached organization, loading it on a miss.
func (c *CachedService) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	if org, ok := c.cache.Get(id); ok {
		c.metrics.RecordCacheHit(cacheName)
		return cloneOrganization(org), nil
	}
	c.metrics.RecordCacheMiss(cacheName)

	org, err := c.Service.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *cloneOrganization(*org))
	return org, nil
}

// FetchOrganization implements the role resolver's organization source.
func (c *CachedService) FetchOrganization(ctx context.Context, id string) (*Organization, error) {
	return c.GetOrganization(ctx, id)
}

func (c *CachedService) CreateOrganization(ctx context.Context, org *Organization) error {
	if err := c.Service.CreateOrganization(ctx, org); err != nil {
		return err
	}
	c.Invalidate(org.ID)
	return nil
}

func (c *CachedService) UpdateParent(ctx context.Context, id string, parentID *string) error {
	defer c.Invalidate(id)
	return c.Service.UpdateParent(ctx, id, parentID)
}

func (c *CachedService) DeactivateOrganization(ctx context.Context, id string) error {
	defer c.Invalidate(id)
	return c.Service.DeactivateOrganization(ctx, id)
}

// Invalidate drops ids from the cache.
func (c *CachedService) Invalidate(ids ...string) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Purge empties the cache.
func (c *CachedService) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached organizations.
func (c *CachedService) Len() int {
	return c.cache.Len()
}

func cloneOrganization(org Organization) *Organization {
	if org.ParentID != nil {
		p := *org.ParentID
		org.ParentID = &p
	}
	return &org
}
