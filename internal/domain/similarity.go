package domain

import (
	"fmt"
	"math"

	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// NoMatchScore — оценка результата по пустой галерее.
const NoMatchScore = -1.0

// CosineSimilarity вычисляет dot(a,b) / (|a|*|b|).
// Нулевая норма любого из векторов — ошибка ErrDegenerateVector, а не сходство 0.
func CosineSimilarity(a, b EmbeddingVector) (float64, error) {
	if len(a) != len(b) {
		return 0, e.Wrap(fmt.Sprintf("len %d != %d", len(a), len(b)), e.ErrDimensionMismatch)
	}

	va, vb := toFloat64(a), toFloat64(b)

	normA, normB := floats.Norm(va, 2), floats.Norm(vb, 2)
	if normA == 0 || normB == 0 {
		return 0, e.ErrDegenerateVector
	}

	sim := floats.Dot(va, vb) / (normA * normB)

	// погрешность округления может вывести значение за [-1, 1]
	return math.Max(-1, math.Min(1, sim)), nil
}

// MatchScore — оценка, используемая при выборе шаблона: модуль косинусного сходства.
// Сильная отрицательная корреляция считается таким же признаком совпадения, как и положительная.
func MatchScore(a, b EmbeddingVector) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}

	return math.Abs(sim), nil
}

// ValidateVector проверяет, что вектор можно сравнивать.
func ValidateVector(v EmbeddingVector) error {
	if floats.Norm(toFloat64(v), 2) == 0 {
		return e.ErrDegenerateVector
	}

	return nil
}

// SelectBest выбирает шаблон со строго наибольшей оценкой за один проход.
// При равенстве побеждает встреченный первым (порядок объявления в галерее).
// Порог включительный: score >= threshold считается совпадением.
func SelectBest(scored []ScoredTemplate, threshold float64) *MatchResult {
	candidates := make([]ScoredTemplate, len(scored))
	copy(candidates, scored)

	if len(scored) == 0 {
		return &MatchResult{
			Matched:      false,
			Score:        NoMatchScore,
			DisplayScore: DisplayPercent(NoMatchScore),
			Candidates:   candidates,
		}
	}

	best := scored[0]
	for _, s := range scored[1:] {
		if s.Score > best.Score {
			best = s
		}
	}

	res := &MatchResult{
		Score:        best.Score,
		DisplayScore: DisplayPercent(best.Score),
		Candidates:   candidates,
	}
	if best.Score >= threshold {
		tmpl := best.Template
		res.Matched = true
		res.Template = &tmpl
	}

	return res
}

// DisplayPercent переводит оценку в целый процент: floor(score*100 + 0.5).
// Округляется произведение в float64, поэтому 0.285 даёт 28, а не 29.
func DisplayPercent(score float64) int64 {
	return decimal.NewFromFloat(score * 100).Add(halfUp).Floor().IntPart()
}

var halfUp = decimal.New(5, -1)

func toFloat64(v EmbeddingVector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}

	return out
}
