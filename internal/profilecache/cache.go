// Package profilecache puts a short-lived LRU in front of a
// domain.ProfileRepository. Ingestion lists every profile for every post, so
// the snapshot cache is what keeps the store out of the hot path.
package profilecache

import (
	"context"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const listKey = "all"

// Repository decorates a domain.ProfileRepository with expiring caches.
type Repository struct {
	inner    domain.ProfileRepository
	profiles *expirable.LRU[string, domain.Profile]
	snapshot *expirable.LRU[string, []domain.Profile]
}

// New wraps inner. Cached entries live for ttl; capacity bounds the number of
// individually cached profiles.
func New(inner domain.ProfileRepository, capacity int, ttl time.Duration) *Repository {
	return &Repository{
		inner:    inner,
		profiles: expirable.NewLRU[string, domain.Profile](capacity, nil, ttl),
		snapshot: expirable.NewLRU[string, []domain.Profile](1, nil, ttl),
	}
}

// GetProfile returns the profile of did. Misses, including ErrNotFound, are
// not cached so a freshly created profile is visible on the next request.
func (r *Repository) GetProfile(ctx context.Context, did string) (*domain.Profile, error) {
	if p, ok := r.profiles.Get(did); ok {
		cacheLookups.WithLabelValues("profile", "hit").Inc()
		return &p, nil
	}
	cacheLookups.WithLabelValues("profile", "miss").Inc()

	p, err := r.inner.GetProfile(ctx, did)
	if err != nil {
		return nil, err
	}
	r.profiles.Add(did, *p)
	return p, nil
}

// ListProfiles returns every profile, served from a cached snapshot when one
// is fresh.
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	if all, ok := r.snapshot.Get(listKey); ok {
		cacheLookups.WithLabelValues("list", "hit").Inc()
		return all, nil
	}
	cacheLookups.WithLabelValues("list", "miss").Inc()

	all, err := r.inner.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	r.snapshot.Add(listKey, all)
	return all, nil
}

// UpsertProfileList writes through and drops cached state for did.
func (r *Repository) UpsertProfileList(ctx context.Context, did string, kind domain.ListKind, list domain.ProfileList, modifiedAt time.Time) error {
	defer r.invalidate(did)
	return r.inner.UpsertProfileList(ctx, did, kind, list, modifiedAt)
}

func (r *Repository) invalidate(did string) {
	r.profiles.Remove(did)
	r.snapshot.Purge()
}
