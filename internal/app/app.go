package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/template-matcher/internal/cfg"
	v1Grpc "github.com/DRSN-tech/template-matcher/internal/delivery/v1/grpc"
	v1Http "github.com/DRSN-tech/template-matcher/internal/delivery/v1/http"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

const shutdownTimeout = 10 * time.Second

// App — сервис сопоставления с HTTP и gRPC интерфейсами.
type App struct {
	cfg     *config.Config
	logger  logger.Logger
	core    *Core
	httpSrv *v1Http.Server
	grpcSrv *v1Grpc.GRPCServer
}

func NewApp(cfg *config.Config, logger logger.Logger) (*App, error) {
	core, err := NewCore(cfg, logger)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	r := chi.NewRouter()
	v1Http.NewRouter(r, logger).Init(core.MatchUC, cfg.Matcher.UploadMaxBytes)

	grpcSrv := v1Grpc.NewGRPCServer(cfg.Grpc, grpcMaxRecvBytes(cfg.Matcher.UploadMaxBytes), logger)
	grpcSrv.RegisterServices(core.MatchUC, cfg.Matcher.UploadMaxBytes)

	return &App{
		cfg:     cfg,
		logger:  logger,
		core:    core,
		httpSrv: v1Http.NewServer(r, cfg.Http),
		grpcSrv: grpcSrv,
	}, nil
}

// Run запускает серверы, инициализирует модель в фоне и ждёт сигнала завершения.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Модель загружается в фоне: до Ready сопоставления отвечают 503.
	go a.initializeProvider(ctx)

	if a.core.Outbox != nil {
		a.core.Outbox.Start(ctx)
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		a.logger.Infof("gRPC server starting on %s:%s", a.cfg.Grpc.NetworkMode, a.cfg.Grpc.Port)
		if err := a.grpcSrv.Start(); err != nil {
			a.logger.Errorf(err, "gRPC server failed")
			grpcErrCh <- err
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil {
			a.logger.Errorf(err, "HTTP server failed")
			errCh <- err
		}
	}()

	// === Ожидание сигнала или ошибки ===
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var appErr error
	select {
	case appErr = <-errCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
	case appErr = <-grpcErrCh:
		a.logger.Errorf(appErr, "gRPC server fatal error")
	case <-shutdown:
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	// === Graceful shutdown ===
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := a.httpSrv.Stop(shutdownCtx); err != nil {
		a.logger.Errorf(err, "HTTP server shutdown error")
	} else {
		a.logger.Infof("HTTP server stopped")
	}

	if err := a.grpcSrv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.logger.Errorf(err, "gRPC server shutdown error")
	}

	if a.core.Outbox != nil {
		a.core.Outbox.Stop()
	}

	if err := a.core.Closer.Close(shutdownCtx); err != nil {
		a.logger.Warnf("resource shutdown: %v", err)
	}

	a.logger.Infof("Application shutdown complete")
	return appErr
}

func (a *App) initializeProvider(ctx context.Context) {
	if err := a.core.Provider.Initialize(ctx); err != nil {
		a.logger.Errorf(err, "embedding provider initialization failed")
		return
	}

	if !a.cfg.Matcher.WarmupGallery {
		return
	}

	if _, err := a.core.Gallery.Warmup(ctx, a.core.Provider); err != nil {
		a.logger.Warnf("gallery warmup: %v", err)
	}
}

// grpcMaxRecvBytes учитывает base64 и служебные поля запроса.
func grpcMaxRecvBytes(uploadMaxBytes int64) int {
	return int(uploadMaxBytes*4/3) + 1<<20
}
