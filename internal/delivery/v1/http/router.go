package http

import (
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(matchUC usecase.MatchUC, uploadMaxBytes int64) {
	r.router.Use(middleware.RequestID, middleware.Recoverer)

	r.router.Route("/api/v1", func(v1 chi.Router) {
		handler := NewMatchHandler(matchUC, uploadMaxBytes, r.logger)
		registerMatchRoutes(v1, handler)
	})
}

func registerMatchRoutes(router chi.Router, handler *MatchHandler) {
	router.Post("/matches", handler.match)
	router.Get("/templates", handler.listTemplates)
	router.Get("/provider", handler.providerStatus)
}
