// Package profiles holds the in-memory public-profile cache used by the
// feed aggregator. The cache is scoped to its owning session: it is created
// with the session's context and dies with it, so no profile data survives a
// signed-out session.
package profiles

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
	"github.com/knockme-app/knockme-backend/internal/set"
)

// Fetcher loads a public profile from the document store. A (nil, nil)
// return means the profile simply does not exist.
type Fetcher interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Cache maps user IDs to their last-known public profile. Entries are added
// or replaced, never removed. The first Observe call for an id triggers
// exactly one fetch; later calls are no-ops, so feed churn cannot cause a
// fetch storm. Fetch failures leave the entry absent with no automatic
// retry: profile display is cosmetic and stale-tolerant.
type Cache struct {
	ctx     context.Context
	fetcher Fetcher

	mu       sync.Mutex
	profiles map[string]domain.Profile
	observed *set.Set[string]
	subs     map[int]chan map[string]domain.Profile
	nextSub  int
}

// NewCache creates a cache whose fetches are bounded by ctx.
func NewCache(ctx context.Context, fetcher Fetcher) *Cache {
	return &Cache{
		ctx:      ctx,
		fetcher:  fetcher,
		profiles: make(map[string]domain.Profile),
		observed: set.New[string](),
		subs:     make(map[int]chan map[string]domain.Profile),
	}
}

// Observe starts tracking userID. Deduplicated: only the first call per id
// issues a fetch.
func (c *Cache) Observe(userID string) {
	c.mu.Lock()
	fresh := c.observed.Add(userID)
	c.mu.Unlock()

	if !fresh {
		return
	}

	go func() {
		profile, err := c.fetcher.GetProfile(c.ctx, userID)
		if err != nil {
			log.Debug().Err(err).Str("userId", userID).Msg("profile fetch failed")
			return
		}
		if profile == nil {
			return
		}

		c.mu.Lock()
		c.profiles[userID] = *profile
		snapshot := c.snapshotLocked()
		c.publishLocked(snapshot)
		c.mu.Unlock()
	}()
}

// Snapshot returns a copy of the current id-to-profile map.
func (c *Cache) Snapshot() map[string]domain.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Watch returns a conflated channel of full map snapshots. The current
// snapshot is delivered immediately.
func (c *Cache) Watch() (<-chan map[string]domain.Profile, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++

	ch := make(chan map[string]domain.Profile, 1)
	ch <- c.snapshotLocked()
	c.subs[id] = ch

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	return ch, stop
}

func (c *Cache) snapshotLocked() map[string]domain.Profile {
	out := make(map[string]domain.Profile, len(c.profiles))
	for k, v := range c.profiles {
		out[k] = v
	}
	return out
}

func (c *Cache) publishLocked(snapshot map[string]domain.Profile) {
	for _, ch := range c.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
