package infrastructure

import (
	"bytes"
	"net/http"

	"github.com/DRSN-tech/template-matcher/pkg/e"
)

// GetExtensionFromMIME возвращает расширение файла по MIME-типу изображения.
// Поддерживает jpeg, jpg, png, gif, webp, bmp, tiff. Возвращает ошибку e.ErrUnsupportedFormat для неподдерживаемых типов.
func GetExtensionFromMIME(mime string) (string, error) {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	case "image/gif":
		return "gif", nil
	case "image/webp":
		return "webp", nil
	case "image/bmp":
		return "bmp", nil
	case "image/tiff":
		return "tiff", nil
	default:
		return "bin", e.ErrUnsupportedFormat
	}
}

// DetectMIME определяет MIME-тип по первым байтам содержимого.
// http.DetectContentType не распознаёт TIFF, поэтому он проверяется отдельно.
func DetectMIME(data []byte) string {
	if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
		return "image/tiff"
	}

	return http.DetectContentType(data[:min(len(data), 512)])
}
