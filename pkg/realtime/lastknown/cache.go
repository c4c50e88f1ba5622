package lastknown

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/ctdf"
)

const cacheKeyPrefix = "bustracker:lastknown:"

type Backend interface {
	Reader
	Writer
}

// CachedStore keeps recent durable lookups in redis. Writes go to the backend first and then
// drop the cached copy.
type CachedStore struct {
	backend Backend
	cache   *cache.Cache[string]
}

func NewCachedStore(backend Backend, client *redis.Client, ttl time.Duration) *CachedStore {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(ttl))

	return &CachedStore{
		backend: backend,
		cache:   cache.New[string](redisStore),
	}
}

func (c *CachedStore) LastKnown(ctx context.Context, busID string) (*ctdf.BusLastKnown, error) {
	cached, err := c.cache.Get(ctx, cacheKey(busID))
	if err == nil && cached != "" {
		var record *ctdf.BusLastKnown
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			return record, nil
		}
	}

	record, err := c.backend.LastKnown(ctx, busID)
	if err != nil {
		return nil, err
	}

	recordJSON, _ := json.Marshal(record)
	if err := c.cache.Set(ctx, cacheKey(busID), string(recordJSON)); err != nil {
		log.Warn().Err(err).Str("bus", busID).Msg("Failed to cache last known location")
	}

	return record, nil
}

func (c *CachedStore) WriteLastKnown(ctx context.Context, update ctdf.BusLastKnownUpdate) error {
	if err := c.backend.WriteLastKnown(ctx, update); err != nil {
		return err
	}

	c.invalidate(ctx, update.BusID)

	return nil
}

func (c *CachedStore) WriteLastKnownBatch(ctx context.Context, updates []ctdf.BusLastKnownUpdate) error {
	if batchWriter, ok := c.backend.(BatchWriter); ok {
		if err := batchWriter.WriteLastKnownBatch(ctx, updates); err != nil {
			return err
		}
	} else {
		for _, update := range updates {
			if err := c.backend.WriteLastKnown(ctx, update); err != nil {
				return err
			}
		}
	}

	for _, update := range updates {
		c.invalidate(ctx, update.BusID)
	}

	return nil
}

func (c *CachedStore) invalidate(ctx context.Context, busID string) {
	if err := c.cache.Delete(ctx, cacheKey(busID)); err != nil {
		log.Debug().Err(err).Str("bus", busID).Msg("Failed to invalidate cached last known location")
	}
}

func cacheKey(busID string) string {
	return cacheKeyPrefix + busID
}
