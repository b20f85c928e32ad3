package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServer — gRPC-интерфейс сопоставления.
type GRPCServer struct {
	server *grpc.Server
	cfg    *cfg.GRPCConfig
	logger logger.Logger
}

func NewGRPCServer(cfg *cfg.GRPCConfig, maxRecvBytes int, logger logger.Logger) *GRPCServer {
	s := &GRPCServer{
		cfg:    cfg,
		logger: logger,
	}
	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxRecvBytes),
		grpc.ChainUnaryInterceptor(s.recoverUnary, s.logUnary),
	)

	return s
}

// logUnary пишет метод, код ответа и длительность каждого вызова.
func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	log := s.logger.With("method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	if err != nil {
		log.Warnf("gRPC call failed: %v", err)
	} else {
		log.Debugf("gRPC call served")
	}

	return resp, err
}

// recoverUnary превращает панику обработчика в codes.Internal.
func (s *GRPCServer) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf(fmt.Errorf("panic: %v", r), "gRPC handler %s panicked", info.FullMethod)
			err = status.Error(codes.Internal, "internal server error")
		}
	}()

	return handler(ctx, req)
}

func (s *GRPCServer) RegisterServices(matchUC usecase.MatchUC, uploadMaxBytes int64) {
	s.server.RegisterService(&matchServiceDesc, NewMatchService(matchUC, uploadMaxBytes, s.logger))
}

func (s *GRPCServer) Start() error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	lis, err := net.Listen(s.cfg.NetworkMode, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(lis)
}

// Serve обслуживает запросы на готовом listener'е.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *GRPCServer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infof("gRPC server stopped gracefully")
		return nil
	case <-ctx.Done():
		s.server.Stop()
		s.logger.Warnf("gRPC server forced to stop after timeout")
		return ctx.Err()
	}
}
