package converter

import (
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
)

// ToRedisModel упаковывает вектор шаблона для записи в кэш.
func ToRedisModel(key domain.EmbeddingCacheKey, vector domain.EmbeddingVector) *EmbeddingRedisModel {
	return &EmbeddingRedisModel{
		TemplateName: key.TemplateName,
		ModelVersion: key.ModelVersion,
		ImageDigest:  key.ImageDigest,
		Vector:       []float32(vector.Clone()),
		CachedAt:     time.Now().UTC(),
	}
}

// ToCacheKey восстанавливает ключ, под которым запись была сохранена.
func ToCacheKey(model *EmbeddingRedisModel) domain.EmbeddingCacheKey {
	return domain.NewEmbeddingCacheKey(model.ModelVersion, model.TemplateName, model.ImageDigest)
}

// ToVector возвращает вектор из модели кэша.
func ToVector(model *EmbeddingRedisModel) domain.EmbeddingVector {
	return domain.EmbeddingVector(model.Vector).Clone()
}
