package grpc

import (
	"errors"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func GRPCErrorResponse(err error) error {
	switch {
	case errors.Is(err, e.ErrStatusBadRequest), errors.Is(err, e.ErrNoImages):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, e.ErrFileTooLarge):
		return status.Error(codes.ResourceExhausted, e.ErrFileTooLarge.Error())
	case errors.Is(err, e.ErrNotReady):
		return status.Error(codes.Unavailable, e.ErrNotReady.Error())
	case errors.Is(err, e.ErrDecode):
		return status.Error(codes.InvalidArgument, e.ErrDecode.Error())
	case errors.Is(err, e.ErrUnsupportedFormat):
		return status.Error(codes.InvalidArgument, e.ErrUnsupportedFormat.Error())
	case errors.Is(err, e.ErrMatchFailure):
		return status.Error(codes.InvalidArgument, e.ErrMatchFailure.Error())
	case errors.Is(err, e.ErrNoUsableTemplates):
		return status.Error(codes.FailedPrecondition, e.ErrNoUsableTemplates.Error())
	default:
		return status.Error(codes.Internal, e.ErrInternalServerError.Error())
	}
}

func toGRPCMatchResult(res *domain.MatchResult) (*structpb.Struct, error) {
	candidates := make([]any, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		candidates = append(candidates, map[string]any{
			"template": c.Template.Name,
			"score":    c.Score,
		})
	}

	var template any
	if res.Template != nil {
		template = res.Template.Name
	}

	return structpb.NewStruct(map[string]any{
		"matched":       res.Matched,
		"template":      template,
		"score":         res.Score,
		"display_score": float64(res.DisplayScore),
		"candidates":    candidates,
	})
}

func toGRPCTemplates(templates []domain.Template) (*structpb.Struct, error) {
	list := make([]any, 0, len(templates))
	for _, t := range templates {
		list = append(list, map[string]any{
			"name":  t.Name,
			"image": t.ImageRef,
		})
	}

	return structpb.NewStruct(map[string]any{"templates": list})
}

func toGRPCProviderStatus(s usecase.ProviderStatus) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"provider_id":   s.ProviderID,
		"state":         s.State.String(),
		"model_version": s.ModelVersion,
	})
}
