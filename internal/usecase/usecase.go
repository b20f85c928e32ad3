package usecase

import (
	"context"

	"github.com/DRSN-tech/template-matcher/internal/domain"
)

type MatchUC interface {
	Match(ctx context.Context, input domain.ResourceLocator) (*domain.MatchResult, error)
	Templates() []domain.Template
	ProviderStatus() ProviderStatus
}
