package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/repository/redis/converter"
	"github.com/DRSN-tech/template-matcher/pkg/clients"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

// EmbeddingCacheRepo кэширует эмбеддинги шаблонов между перезапусками процесса.
// Ключ включает версию модели и дайджест изображения шаблона.
type EmbeddingCacheRepo struct {
	client *clients.RedisClient
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewEmbeddingCacheRepo(client *clients.RedisClient, cfg *cfg.RedisCfg, logger logger.Logger) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Get возвращает закэшированный вектор. Второе значение false означает промах.
func (c *EmbeddingCacheRepo) Get(ctx context.Context, key domain.EmbeddingCacheKey) (domain.EmbeddingVector, bool, error) {
	redisKey := embeddingKey(key)

	data, err := c.client.Client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return nil, false, nil // cache miss
		}
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	var model converter.EmbeddingRedisModel
	if err := json.Unmarshal(data, &model); err != nil {
		c.logger.Warnf("Redis unmarshal failed for %s: %v", redisKey, e.Wrap(whereami.WhereAmI(), err))
		return nil, false, nil
	}

	if converter.ToCacheKey(&model) != key {
		c.logger.Warnf("Cache key mismatch: key: %s, model: %s/%s/%s", redisKey, model.ModelVersion, model.TemplateName, model.ImageDigest)
		if err := c.client.Client.Del(ctx, redisKey).Err(); err != nil {
			c.logger.Warnf("Redis del failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}
		return nil, false, nil // cache miss
	}

	return converter.ToVector(&model), true, nil
}

// Set сохраняет вектор шаблона с TTL из конфигурации.
func (c *EmbeddingCacheRepo) Set(ctx context.Context, key domain.EmbeddingCacheKey, vector domain.EmbeddingVector) error {
	data, err := json.Marshal(converter.ToRedisModel(key, vector))
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := c.client.Client.Set(ctx, embeddingKey(key), data, c.cfg.EmbeddingTTL).Err(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// embeddingKey возвращает Redis-ключ для эмбеддинга шаблона
func embeddingKey(key domain.EmbeddingCacheKey) string {
	return fmt.Sprintf("template_embedding:%s:%s:%s", key.ModelVersion, key.TemplateName, key.ImageDigest)
}
