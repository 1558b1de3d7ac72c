package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/redis"
)

const watermarkCacheScope = "watermark"

// Loader yields the watermark snapshot for a pipeline run.
type Loader interface {
	LoadWatermarkConfig(ctx context.Context) (WatermarkConfig, error)
}

type valueReader interface {
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
}

// CachedLoader serves the raw watermark values from Redis and falls back to the store on a
// miss or a cache failure.
type CachedLoader struct {
	store valueReader
	cache redis.Cache
	ttl   time.Duration
	logg  *logger.Logger
}

func NewCachedLoader(store valueReader, cache redis.Cache, ttl time.Duration, logg *logger.Logger) *CachedLoader {
	return &CachedLoader{store: store, cache: cache, ttl: ttl, logg: logg}
}

func (l *CachedLoader) LoadWatermarkConfig(ctx context.Context) (WatermarkConfig, error) {
	values, err := l.values(ctx)
	if err != nil {
		return WatermarkConfig{}, err
	}
	return ParseWatermarkConfig(values)
}

func (l *CachedLoader) values(ctx context.Context) (map[string]string, error) {
	if l.cache == nil || l.ttl <= 0 {
		return l.store.GetMany(ctx, WatermarkKeys)
	}
	key := l.cache.SettingsCacheKey(watermarkCacheScope)

	raw, err := l.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cached map[string]string
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return cached, nil
		}
		l.warn(ctx, "discarding unreadable cached watermark settings")
	case !redis.IsMiss(err):
		l.warn(ctx, "watermark settings cache read failed: "+err.Error())
	}

	values, err := l.store.GetMany(ctx, WatermarkKeys)
	if err != nil {
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(values); jsonErr == nil {
		if setErr := l.cache.Set(ctx, key, string(encoded), l.ttl); setErr != nil {
			l.warn(ctx, "watermark settings cache write failed: "+setErr.Error())
		}
	}
	return values, nil
}

func (l *CachedLoader) warn(ctx context.Context, msg string) {
	if l.logg != nil {
		l.logg.Warn(ctx, msg)
	}
}
