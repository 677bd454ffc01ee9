package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedisStore keeps the checkpoint under one Redis key, so collectors on
// several hosts resume from the same page.
type RedisStore struct {
	redis  *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed checkpoint store. A zero ttl keeps the
// checkpoint until it is reset.
func NewRedisStore(redisClient *redis.Client, key string, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		key:    key,
		ttl:    ttl,
		logger: log.With().Str("component", "checkpoint").Str("key", key).Logger(),
	}
}

// Key returns the Redis key holding the checkpoint.
func (s *RedisStore) Key() string {
	return s.key
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) Checkpoint {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug().Msg("No checkpoint key, starting from page 1")
		} else {
			s.logger.Warn().Err(err).Msg("Checkpoint unreadable, starting from page 1")
		}
		return Default()
	}

	cp, err := decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Checkpoint corrupt, starting from page 1")
		return Default()
	}
	return cp
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, page int) error {
	data, err := encode(page)
	if err == nil {
		err = s.redis.Set(ctx, s.key, data, s.ttl).Err()
	}
	recordSave("redis", err)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	s.logger.Debug().Int("page", page).Msg("Checkpoint saved")
	return nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}

// StreamKey derives a deterministic checkpoint key for one listing stream:
// the resource path plus its filter parameters, sorted. Paging parameters
// are excluded so every page of a stream shares the key.
//
// Example:
//
//	pncp:checkpoint:v1/contratacoes/proposta:codigoModalidadeContratacao=6:dataFinal=20240131
func StreamKey(resource string, query url.Values) string {
	parts := []string{"pncp", "checkpoint"}

	if r := strings.Trim(resource, "/"); r != "" {
		parts = append(parts, r)
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "pagina" || k == "tamanhoPagina" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, query.Get(k)))
	}

	return strings.Join(parts, ":")
}
