package e

import "fmt"

var (
	// Ошибки обработки изображений
	ErrDecode            = fmt.Errorf("image decode failed")
	ErrUnsupportedFormat = fmt.Errorf("unsupported image format")
	ErrInvalidTensor     = fmt.Errorf("invalid tensor")

	// Ошибки провайдера эмбеддингов
	ErrNotReady          = fmt.Errorf("embedding provider is not ready")
	ErrProviderFailed    = fmt.Errorf("embedding provider failed to initialize")
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch")

	// Внутренние ошибки с векторами
	ErrDegenerateVector = fmt.Errorf("degenerate vector: zero norm")

	// Ошибки галереи шаблонов
	ErrTemplateNotFound  = fmt.Errorf("template image not found")
	ErrDuplicateTemplate = fmt.Errorf("duplicate template name")
	ErrInvalidManifest   = fmt.Errorf("invalid template manifest")
	ErrNoUsableTemplates = fmt.Errorf("no usable templates")
	ErrMatchFailure      = fmt.Errorf("match failed")

	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// 400 Bad Request
	ErrStatusBadRequest  = fmt.Errorf("bad request")
	ErrExpectedMultipart = fmt.Errorf("expected multipart/form-data")
	ErrNoImages          = fmt.Errorf("no image provided")
	ErrFileTooLarge      = fmt.Errorf("file too large")

	// 500 Internal Server Error
	ErrInternalServerError = fmt.Errorf("internal server error")

	// Конфигурация
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// MatchFailure оборачивает фатальную ошибку входного изображения.
// errors.Is срабатывает и для ErrMatchFailure, и для исходной ошибки.
func MatchFailure(stage string, err error) error {
	return fmt.Errorf("%w at %s: %w", ErrMatchFailure, stage, err)
}
