package domain

import (
	"fmt"

	"github.com/DRSN-tech/template-matcher/pkg/e"
)

// Tensor — числовой массив фиксированной формы (batch, height, width, channels)
// на границе между препроцессором и провайдером эмбеддингов.
// Значения каналов нормированы в диапазон [0, 1].
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// NewTensor проверяет форму и создаёт тензор. Размер батча всегда равен 1.
func NewTensor(height, width, channels int, data []float32) (*Tensor, error) {
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, e.Wrap(fmt.Sprintf("shape %dx%dx%d", height, width, channels), e.ErrInvalidTensor)
	}

	if want := height * width * channels; len(data) != want {
		return nil, e.Wrap(fmt.Sprintf("expected %d values, got %d", want, len(data)), e.ErrInvalidTensor)
	}

	return &Tensor{
		Shape: [4]int{1, height, width, channels},
		Data:  data,
	}, nil
}

func (t *Tensor) Height() int   { return t.Shape[1] }
func (t *Tensor) Width() int    { return t.Shape[2] }
func (t *Tensor) Channels() int { return t.Shape[3] }

// At возвращает значение канала c пикселя (y, x).
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width()+x)*t.Channels()+c]
}
