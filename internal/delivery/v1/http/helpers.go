package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/jimlawless/whereami"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type CandidateResponse struct {
	Template string  `json:"template"`
	Score    float64 `json:"score"`
}

type MatchResponse struct {
	Matched      bool                `json:"matched"`
	Template     *string             `json:"template"`
	Score        float64             `json:"score"`
	DisplayScore int64               `json:"display_score"`
	Candidates   []CandidateResponse `json:"candidates"`
}

type TemplateResponse struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type ProviderResponse struct {
	ProviderID   string `json:"provider_id"`
	State        string `json:"state"`
	ModelVersion string `json:"model_version,omitempty"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

func NewMatchResponse(res *domain.MatchResult) *MatchResponse {
	candidates := make([]CandidateResponse, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		candidates = append(candidates, CandidateResponse{Template: c.Template.Name, Score: c.Score})
	}

	var template *string
	if res.Template != nil {
		name := res.Template.Name
		template = &name
	}

	return &MatchResponse{
		Matched:      res.Matched,
		Template:     template,
		Score:        res.Score,
		DisplayScore: res.DisplayScore,
		Candidates:   candidates,
	}
}

func NewTemplatesResponse(templates []domain.Template) []TemplateResponse {
	out := make([]TemplateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, TemplateResponse{Name: t.Name, Image: t.ImageRef})
	}
	return out
}

func NewProviderResponse(status usecase.ProviderStatus) *ProviderResponse {
	return &ProviderResponse{
		ProviderID:   status.ProviderID,
		State:        status.State.String(),
		ModelVersion: status.ModelVersion,
	}
}

func ToHTTPResponse(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrExpectedMultipart):
		return http.StatusBadRequest, e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrNoImages):
		return http.StatusBadRequest, e.ErrNoImages.Error()
	case errors.Is(err, e.ErrStatusBadRequest):
		return http.StatusBadRequest, e.ErrStatusBadRequest.Error()
	case errors.Is(err, e.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, e.ErrFileTooLarge.Error()
	case errors.Is(err, e.ErrNotReady):
		return http.StatusServiceUnavailable, e.ErrNotReady.Error()
	case errors.Is(err, e.ErrDecode):
		return http.StatusUnprocessableEntity, e.ErrDecode.Error()
	case errors.Is(err, e.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, e.ErrUnsupportedFormat.Error()
	case errors.Is(err, e.ErrMatchFailure):
		return http.StatusUnprocessableEntity, e.ErrMatchFailure.Error()
	case errors.Is(err, e.ErrNoUsableTemplates):
		return http.StatusInternalServerError, e.ErrNoUsableTemplates.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	WriteSuccess(w, code, NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return e.Wrap(whereami.WhereAmI(), e.ErrFileTooLarge)
		}
		return e.Wrap(err.Error(), e.ErrStatusBadRequest)
	}

	return nil
}

// saveUpload сохраняет загруженный файл во временный файл и возвращает его путь.
// Удаление файла — ответственность вызывающего.
func saveUpload(fh *multipart.FileHeader, maxSize int64) (string, error) {
	if fh.Size > maxSize {
		return "", e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "match-upload-*")
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := io.Copy(dst, io.LimitReader(src, maxSize+1)); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return dst.Name(), nil
}

func removeUpload(path string, log logger.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("failed to remove upload %s: %v", path, err)
	}
}
