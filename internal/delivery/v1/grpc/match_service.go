package grpc

import (
	"context"
	"encoding/base64"
	"errors"
	"os"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const matchServiceName = "matcher.v1.MatchService"

// MatchServiceServer — сервис сопоставления. Сообщения передаются как google.protobuf.Struct.
type MatchServiceServer interface {
	Match(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTemplates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ProviderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var matchServiceDesc = grpc.ServiceDesc{
	ServiceName: matchServiceName,
	HandlerType: (*MatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Match", Handler: unaryHandler("Match", MatchServiceServer.Match)},
		{MethodName: "ListTemplates", Handler: unaryHandler("ListTemplates", MatchServiceServer.ListTemplates)},
		{MethodName: "ProviderStatus", Handler: unaryHandler("ProviderStatus", MatchServiceServer.ProviderStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "matcher/v1/match.proto",
}

func unaryHandler(
	method string,
	call func(MatchServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	fullMethod := "/" + matchServiceName + "/" + method

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MatchServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MatchServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type MatchService struct {
	matchUC        usecase.MatchUC
	uploadMaxBytes int64
	logger         logger.Logger
}

func NewMatchService(matchUC usecase.MatchUC, uploadMaxBytes int64, logger logger.Logger) *MatchService {
	return &MatchService{matchUC: matchUC, uploadMaxBytes: uploadMaxBytes, logger: logger}
}

// Match принимает {"image": "<base64>"} и возвращает результат сопоставления.
func (g *MatchService) Match(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	const op = "grpc.Match"

	path, err := g.saveImage(req)
	if err != nil {
		g.logger.Warnf("%s: %v", op, err)
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.logger.Warnf("%s: failed to remove %s: %v", op, path, err)
		}
	}()

	res, err := g.matchUC.Match(ctx, domain.ResourceLocator(path))
	if err != nil {
		g.logger.Errorf(e.Wrap(op, err), "%s", op)
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}

	out, err := toGRPCMatchResult(res)
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}

	return out, nil
}

func (g *MatchService) ListTemplates(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toGRPCTemplates(g.matchUC.Templates())
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap("grpc.ListTemplates", err))
	}

	return out, nil
}

func (g *MatchService) ProviderStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toGRPCProviderStatus(g.matchUC.ProviderStatus())
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap("grpc.ProviderStatus", err))
	}

	return out, nil
}

// saveImage декодирует изображение из запроса во временный файл.
func (g *MatchService) saveImage(req *structpb.Struct) (string, error) {
	encoded := req.GetFields()["image"].GetStringValue()
	if encoded == "" {
		return "", e.ErrNoImages
	}
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > g.uploadMaxBytes+2 {
		return "", e.ErrFileTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", e.Wrap(err.Error(), e.ErrStatusBadRequest)
	}
	if int64(len(data)) > g.uploadMaxBytes {
		return "", e.ErrFileTooLarge
	}

	f, err := os.CreateTemp("", "match-upload-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}
