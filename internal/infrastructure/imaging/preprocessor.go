// Package imaging превращает изображения в нормированные тензоры для функции эмбеддинга.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/infrastructure"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/jimlawless/whereami"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	DefaultInputSize = 224
	channels         = 3
)

// decoders — форматы, которые требуют предварительной конвертации в PNG.
var decoders = map[string]func(r *bytes.Reader) (image.Image, error){
	"image/webp": func(r *bytes.Reader) (image.Image, error) { return webp.Decode(r) },
	"image/bmp":  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
	"image/tiff": func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
}

// Preprocessor декодирует изображение, масштабирует его билинейной интерполяцией
// до size×size, переводит каналы в [0, 1] и добавляет измерение батча.
type Preprocessor struct {
	size   int
	logger logger.Logger
}

func NewPreprocessor(size int, logger logger.Logger) *Preprocessor {
	if size <= 0 {
		size = DefaultInputSize
	}

	return &Preprocessor{
		size:   size,
		logger: logger,
	}
}

// Size возвращает сторону выходного изображения.
func (p *Preprocessor) Size() int {
	return p.size
}

// Preprocess читает ресурс и возвращает тензор формы (1, size, size, 3).
func (p *Preprocessor) Preprocess(ctx context.Context, locator domain.ResourceLocator) (*domain.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(string(locator))
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return p.PreprocessBytes(ctx, data)
}

// PreprocessBytes выполняет те же шаги, что и Preprocess, над уже прочитанными байтами.
func (p *Preprocessor) PreprocessBytes(ctx context.Context, data []byte) (*domain.Tensor, error) {
	log := p.logger.With("stage", "preprocess")

	canonical, err := p.Normalize(data)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debugf("decode start (%d bytes)", len(canonical))
	img, format, err := image.Decode(bytes.NewReader(canonical))
	if err != nil {
		return nil, e.Wrap(err.Error(), e.ErrDecode)
	}
	log.Debugf("decode end: format=%s size=%dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())

	return p.toTensor(p.resize(img))
}

// Normalize — явный шаг нормализации формата перед декодированием.
// JPEG, PNG и GIF возвращаются без изменений, WebP, BMP и TIFF перекодируются в PNG.
// Ошибка конвертации — e.ErrUnsupportedFormat, нераспознанные байты — e.ErrDecode.
func (p *Preprocessor) Normalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, e.Wrap("empty input", e.ErrDecode)
	}

	mime := infrastructure.DetectMIME(data)
	switch mime {
	case "image/jpeg", "image/png", "image/gif":
		return data, nil
	}

	decode, ok := decoders[mime]
	if !ok {
		if strings.HasPrefix(mime, "image/") {
			return nil, e.Wrap(mime, e.ErrUnsupportedFormat)
		}
		return nil, e.Wrap(fmt.Sprintf("not an image (%s)", mime), e.ErrDecode)
	}

	p.logger.Debugf("normalizing %s to png", mime)
	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, e.Wrap(fmt.Sprintf("convert %s: %v", mime, err), e.ErrUnsupportedFormat)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, e.Wrap(fmt.Sprintf("encode %s as png: %v", mime, err), e.ErrUnsupportedFormat)
	}

	return buf.Bytes(), nil
}

// resize масштабирует изображение до size×size билинейной интерполяцией.
// Прозрачность сводится на белый фон: результат всегда непрозрачный.
func (p *Preprocessor) resize(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	return dst
}

// toTensor переводит RGB-каналы из [0, 255] в [0, 1].
func (p *Preprocessor) toTensor(img *image.RGBA) (*domain.Tensor, error) {
	data := make([]float32, 0, p.size*p.size*channels)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			off := img.PixOffset(x, y)
			data = append(data,
				float32(img.Pix[off])/255,
				float32(img.Pix[off+1])/255,
				float32(img.Pix[off+2])/255,
			)
		}
	}

	return domain.NewTensor(p.size, p.size, channels, data)
}
