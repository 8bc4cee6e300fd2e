package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the collection when no key is configured.
const DefaultRedisKey = "doisync:records"

// RedisStore keeps the collection in one Redis hash: field = DOI, value =
// record JSON.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (r *RedisStore) Get(ctx context.Context, doi string) (models.Raw, bool, error) {
	b, err := r.client.HGet(ctx, r.key, doi).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec models.Raw
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record %q: %w", doi, err)
	}
	return rec, true, nil
}

func (r *RedisStore) Put(ctx context.Context, doi string, rec models.Raw) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, doi, b).Err()
}

func (r *RedisStore) All(ctx context.Context) (models.Collection, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	coll := make(models.Collection, len(fields))
	for doi, value := range fields {
		var rec models.Raw
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", doi, err)
		}
		coll[doi] = rec
	}
	return coll, nil
}
