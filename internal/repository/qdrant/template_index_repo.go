package qdrant

import (
	"context"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// TemplateIndexRepo публикует эмбеддинги галереи в коллекцию Qdrant
type TemplateIndexRepo struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewTemplateIndexRepo(client *qdrant.Client, cfg *cfg.QdrantCfg) *TemplateIndexRepo {
	return &TemplateIndexRepo{
		client: client,
		cfg:    cfg,
	}
}

// Upsert сохраняет или обновляет векторы шаблонов.
// Идентификатор точки детерминирован по версии модели и имени шаблона.
func (q *TemplateIndexRepo) Upsert(ctx context.Context, embeddings []domain.TemplateEmbedding) error {
	points := make([]*qdrant.PointStruct, 0, len(embeddings))
	for _, emb := range embeddings {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(emb.ModelVersion, emb.Template.Name)),
			Vectors: qdrant.NewVectors(emb.Vector...),
			Payload: qdrant.NewValueMap(domain.NewTemplatePayload(emb.Template, emb.ModelVersion)),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// PointID возвращает UUID точки шаблона в индексе.
func PointID(modelVersion, templateName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(modelVersion+"/"+templateName)).String()
}
