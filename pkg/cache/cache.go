package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface. Values round-trip through
// JSON so every backend hands back the same shapes.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Close() error
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result for ttl. Load errors are not cached.
func GetOrLoad[T any](ctx context.Context, c Service, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var out T
	// any read failure, miss or not, falls through to load
	if err := c.Get(ctx, key, &out); err == nil {
		return out, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	_ = c.Set(ctx, key, v, ttl)
	return v, nil
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	case *string:
		*d = string(data)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode: %w", err)
	}
	return nil
}
