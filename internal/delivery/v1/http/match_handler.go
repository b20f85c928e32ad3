package http

import (
	"net/http"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
)

const imageField = "image"

type MatchHandler struct {
	matchUsecase   usecase.MatchUC
	uploadMaxBytes int64
	logger         logger.Logger
}

func NewMatchHandler(matchUsecase usecase.MatchUC, uploadMaxBytes int64, logger logger.Logger) *MatchHandler {
	return &MatchHandler{matchUsecase: matchUsecase, uploadMaxBytes: uploadMaxBytes, logger: logger}
}

// match сопоставляет загруженное изображение с галереей шаблонов.
// Совпадение и его отсутствие — оба успешные ответы 200.
func (h *MatchHandler) match(w http.ResponseWriter, r *http.Request) {
	const (
		maxMemory         = 8 << 20
		multipartOverhead = 1 << 20
	)

	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes+multipartOverhead)

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		h.logger.Warnf("%d %s: %v", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err)
		WriteError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[imageField]
	if len(files) == 0 {
		h.logger.Warnf("%d %s: no %q field", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), imageField)
		WriteError(w, e.ErrNoImages)
		return
	}

	path, err := saveUpload(files[0], h.uploadMaxBytes)
	if err != nil {
		h.logger.Warnf("failed to store upload: %v", err)
		WriteError(w, err)
		return
	}
	defer removeUpload(path, h.logger)

	res, err := h.matchUsecase.Match(r.Context(), domain.ResourceLocator(path))
	if err != nil {
		code, _ := ToHTTPResponse(err)
		h.logger.Warnf("%d match failed for %s: %v", code, files[0].Filename, err)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, NewMatchResponse(res))
}

// listTemplates возвращает галерею в порядке объявления.
func (h *MatchHandler) listTemplates(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, NewTemplatesResponse(h.matchUsecase.Templates()))
}

// providerStatus возвращает состояние провайдера; 503, пока он не готов.
func (h *MatchHandler) providerStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.matchUsecase.ProviderStatus()

	code := http.StatusOK
	if status.State != domain.ProviderReady {
		code = http.StatusServiceUnavailable
	}

	WriteSuccess(w, code, NewProviderResponse(status))
}
