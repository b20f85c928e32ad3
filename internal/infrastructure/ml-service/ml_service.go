package ml_service

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/jitter"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Методы gRPC-сервиса модели. Сообщения передаются как google.protobuf.Struct.
const (
	loadModelMethod = "/ml.v1.EmbeddingService/LoadModel"
	embedMethod     = "/ml.v1.EmbeddingService/Embed"
)

// MLService клиент для взаимодействия с внешним ML-сервисом, который исполняет модель эмбеддингов
type MLService struct {
	conn         grpc.ClientConnInterface
	modelURL     string
	maxRetries   int
	embedTimeout time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	logger       logger.Logger
}

func NewMLService(conn grpc.ClientConnInterface, cfg *cfg.MLServiceCfg, logger logger.Logger) *MLService {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &MLService{
		conn:         conn,
		modelURL:     cfg.ModelURL,
		maxRetries:   maxRetries,
		embedTimeout: cfg.EmbedTimeout,
		baseBackoff:  1 * time.Second,
		maxBackoff:   30 * time.Second,
		logger:       logger,
	}
}

// Load просит ML-сервис загрузить модель и возвращает её описание.
func (m *MLService) Load(ctx context.Context) (usecase.EmbeddingModel, error) {
	const op = "MLService.Load"

	req, err := structpb.NewStruct(map[string]any{
		"model_url": m.modelURL,
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	res := &structpb.Struct{}
	if err := m.withRetry(ctx, op, func(ctx context.Context) error {
		return m.conn.Invoke(ctx, loadModelMethod, req, res)
	}); err != nil {
		return nil, err
	}

	version := res.GetFields()["model_version"].GetStringValue()
	if version == "" {
		return nil, e.Wrap(op, fmt.Errorf("ml service returned empty model version"))
	}

	dim := int(res.GetFields()["dimension"].GetNumberValue())
	if dim <= 0 {
		return nil, e.Wrap(op, fmt.Errorf("ml service returned invalid dimension %d", dim))
	}

	return &remoteModel{svc: m, version: version, dim: dim}, nil
}

// remoteModel — модель, исполняемая ML-сервисом.
type remoteModel struct {
	svc     *MLService
	version string
	dim     int
}

func (r *remoteModel) Version() string { return r.version }
func (r *remoteModel) Dimension() int  { return r.dim }

// Embed отправляет тензор в ML-сервис и возвращает вектор признаков.
func (r *remoteModel) Embed(ctx context.Context, tensor *domain.Tensor) (domain.EmbeddingVector, error) {
	const op = "MLService.Embed"

	req, err := encodeTensor(r.version, tensor)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	res := &structpb.Struct{}
	if err := r.svc.withRetry(ctx, op, func(ctx context.Context) error {
		if r.svc.embedTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.svc.embedTimeout)
			defer cancel()
		}
		return r.svc.conn.Invoke(ctx, embedMethod, req, res)
	}); err != nil {
		return nil, err
	}

	values := res.GetFields()["vector"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, e.Wrap(op, fmt.Errorf("ml service returned empty vector"))
	}

	vector := make(domain.EmbeddingVector, len(values))
	for i, v := range values {
		vector[i] = float32(v.GetNumberValue())
	}

	return vector, nil
}

// withRetry повторяет вызов с экспоненциальной задержкой и jitter при временных ошибках
func (m *MLService) withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return e.Wrap(op, lastErr)
		}

		if attempt == m.maxRetries-1 {
			break
		}

		sleepTime := jitter.ExponentialBackoff(m.baseBackoff, m.maxBackoff, attempt, jitter.DefaultJitter)
		m.logger.Warnf("%s failed, retrying in %v (attempt %d): %v", op, sleepTime, attempt+1, lastErr)
		if err := jitter.Sleep(ctx, sleepTime); err != nil {
			return e.Wrap(op, err)
		}
	}

	return e.Wrap(op, fmt.Errorf("all %d attempts failed: %w", m.maxRetries, lastErr))
}

func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// encodeTensor упаковывает тензор: форма списком, данные — float32 little-endian в base64.
func encodeTensor(modelVersion string, tensor *domain.Tensor) (*structpb.Struct, error) {
	raw := make([]byte, 4*len(tensor.Data))
	for i, v := range tensor.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	shape := make([]any, len(tensor.Shape))
	for i, d := range tensor.Shape {
		shape[i] = float64(d)
	}

	return structpb.NewStruct(map[string]any{
		"model_version": modelVersion,
		"shape":         shape,
		"dtype":         "float32",
		"data":          base64.StdEncoding.EncodeToString(raw),
	})
}
