package identity

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// CachedDirectory memoizes user lookups for display purposes. Only user
// profiles are cached; consultations and messages always hit the store.
type CachedDirectory struct {
	next  interfaces.UserDirectory
	cache *cache.Cache
}

var _ interfaces.UserDirectory = (*CachedDirectory)(nil)

func NewCachedDirectory(next interfaces.UserDirectory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// GetUser returns a copy of the user, from cache when fresh.
func (d *CachedDirectory) GetUser(ctx context.Context, id string) (*types.User, error) {
	if cached, ok := d.cache.Get(id); ok {
		u := cached.(types.User)
		return &u, nil
	}

	u, err := d.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Set(id, *u, cache.DefaultExpiration)
	out := *u
	return &out, nil
}

// Invalidate drops a cached profile, e.g. after an admin review.
func (d *CachedDirectory) Invalidate(id string) {
	d.cache.Delete(id)
}
