package converter

import "time"

type EmbeddingRedisModel struct {
	TemplateName string    `json:"template_name"`
	ModelVersion string    `json:"model_version"`
	ImageDigest  string    `json:"image_digest"`
	Vector       []float32 `json:"vector"`
	CachedAt     time.Time `json:"cached_at"`
}
