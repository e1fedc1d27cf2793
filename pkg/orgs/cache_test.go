package orgs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roster/pkg/observability"
)

// countingService is an in-memory Service that counts lookups.
type countingService struct {
	mu   sync.Mutex
	orgs map[string]*Organization
	gets int
}

func newCountingService(orgs ...*Organization) *countingService {
	s := &countingService{orgs: make(map[string]*Organization)}
	for _, o := range orgs {
		s.orgs[o.ID] = o
	}
	return s
}

func (s *countingService) CreateOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
	return nil
}

func (s *countingService) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	org, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *org
	return &copied, nil
}

func (s *countingService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return nil, ErrNotFound
}

func (s *countingService) ListChildren(ctx context.Context, parentID string) ([]*Organization, error) {
	return nil, nil
}

func (s *countingService) UpdateParent(ctx context.Context, id string, parentID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[id].ParentID = parentID
	return nil
}

func (s *countingService) DeactivateOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[id].IsActive = false
	return nil
}

func TestCachedServiceHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	backend := newCountingService(&Organization{ID: "hq", Type: OrgTypeFranchiseHQ, IsActive: true})
	cache := NewCachedService(backend, 10, time.Minute, metrics)

	for i := 0; i < 3; i++ {
		org, err := cache.FetchOrganization(ctx, "hq")
		require.NoError(t, err)
		assert.Equal(t, OrgTypeFranchiseHQ, org.Type)
	}

	assert.Equal(t, 1, backend.gets)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues(cacheName)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues(cacheName)))
}

func TestCachedServiceDoesNotCacheMisses(t *testing.T) {
	backend := newCountingService()
	cache := NewCachedService(backend, 10, time.Minute, nil)

	_, err := cache.GetOrganization(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cache.GetOrganization(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, backend.gets)
}

func TestCachedServiceInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	backend := newCountingService(
		&Organization{ID: "hq", Type: OrgTypeFranchiseHQ, IsActive: true},
		&Organization{ID: "store", Type: OrgTypeFranchiseStore, IsActive: true},
	)
	cache := NewCachedService(backend, 10, time.Minute, nil)

	org, err := cache.GetOrganization(ctx, "hq")
	require.NoError(t, err)
	assert.True(t, org.IsActive)

	require.NoError(t, cache.DeactivateOrganization(ctx, "hq"))
	org, err = cache.GetOrganization(ctx, "hq")
	require.NoError(t, err)
	assert.False(t, org.IsActive)

	parent := "hq"
	_, err = cache.GetOrganization(ctx, "store")
	require.NoError(t, err)
	require.NoError(t, cache.UpdateParent(ctx, "store", &parent))
	org, err = cache.GetOrganization(ctx, "store")
	require.NoError(t, err)
	require.NotNil(t, org.ParentID)
	assert.Equal(t, "hq", *org.ParentID)
}

func TestCachedServiceReturnsCopies(t *testing.T) {
	ctx := context.Background()
	parent := "hq"
	backend := newCountingService(&Organization{ID: "store", Type: OrgTypeFranchiseStore, ParentID: &parent, IsActive: true})
	cache := NewCachedService(backend, 10, time.Minute, nil)

	first, err := cache.GetOrganization(ctx, "store")
	require.NoError(t, err)
	*first.ParentID = "tampered"
	first.Name = "tampered"

	second, err := cache.GetOrganization(ctx, "store")
	require.NoError(t, err)
	assert.Equal(t, "hq", *second.ParentID)
	assert.Empty(t, second.Name)
}

func TestCachedServiceExpires(t *testing.T) {
	backend := newCountingService(&Organization{ID: "hq", Type: OrgTypeFranchiseHQ})
	cache := NewCachedService(backend, 10, 20*time.Millisecond, nil)

	_, err := cache.GetOrganization(context.Background(), "hq")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := cache.GetOrganization(context.Background(), "hq")
		return err == nil && backend.getCount() >= 2
	}, time.Second, 10*time.Millisecond)
}

func (s *countingService) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}
