package domain

// TemplateImage описывает изображение шаблона, которое загружается в S3
type TemplateImage struct {
	Bucket    string
	ObjectKey string
	Bytes     []byte
	// Передайте значение -1 в Size, если размер потока неизвестен
	// (внимание: при передаче значения -1 будет выделен большой объем памяти).
	Size        int64
	ContentType string // Example: "image/png"
}

func NewTemplateImage(bucket string, objectKey string, bytes []byte, contentType string) *TemplateImage {
	return &TemplateImage{
		Bucket:      bucket,
		ObjectKey:   objectKey,
		Bytes:       bytes,
		Size:        int64(len(bytes)),
		ContentType: contentType,
	}
}
