package domain

import "time"

// EmbeddingVector — вектор признаков одного изображения фиксированной размерности.
// После получения не изменяется.
type EmbeddingVector []float32

// Clone возвращает независимую копию вектора.
func (v EmbeddingVector) Clone() EmbeddingVector {
	if v == nil {
		return nil
	}
	out := make(EmbeddingVector, len(v))
	copy(out, v)
	return out
}

// TemplateEmbedding — вычисленный эмбеддинг шаблона.
type TemplateEmbedding struct {
	Template     Template
	Vector       EmbeddingVector
	ModelVersion string
}

func NewTemplateEmbedding(template Template, vector EmbeddingVector, modelVersion string) *TemplateEmbedding {
	return &TemplateEmbedding{
		Template:     template,
		Vector:       vector,
		ModelVersion: modelVersion,
	}
}

// EmbeddingCacheKey идентифицирует эмбеддинг во внешнем кэше. ImageDigest зависит
// от ссылки на изображение и его содержимого: замена изображения даёт новый ключ.
type EmbeddingCacheKey struct {
	ModelVersion string
	TemplateName string
	ImageDigest  string
}

func NewEmbeddingCacheKey(modelVersion, templateName, imageDigest string) EmbeddingCacheKey {
	return EmbeddingCacheKey{
		ModelVersion: modelVersion,
		TemplateName: templateName,
		ImageDigest:  imageDigest,
	}
}

// Payload описывает дополнительную информацию вектора в индексе
type Payload map[string]any

func NewTemplatePayload(template Template, modelVersion string) Payload {
	return Payload{
		"template_name": template.Name,
		"image_ref":     template.ImageRef,
		"indexed_at":    time.Now().UTC().UnixNano(),
		"model_version": modelVersion,
	}
}
