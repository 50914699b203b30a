package similarity

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/docstore/internal/domain"
)

// Metric is the similarity function a store ranks embeddings with.
type Metric string

const (
	// Cosine similarity; embeddings are L2-normalized before writes and queries.
	Cosine Metric = "cosine"
	// DotProduct is the raw inner product.
	DotProduct Metric = "dot_product"
	// L2 is negative Euclidean distance.
	L2 Metric = "l2"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, DotProduct, L2:
		return Metric(s), nil
	}
	return "", fmt.Errorf("similarity %q must be one of cosine, dot_product, l2: %w", s, domain.ErrConfiguration)
}

// NormalizeL2 scales v to unit length in place. A zero vector is left unchanged.
func NormalizeL2(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// NormalizeBatch applies NormalizeL2 to every vector.
func NormalizeBatch(vs [][]float32) {
	for _, v := range vs {
		NormalizeL2(v)
	}
}

// Calibrate maps a raw backend score onto [0,1]: (r+1)/2 for cosine,
// sigmoid(r/100) for every other metric.
func Calibrate(raw float64, m Metric) float64 {
	if m == Cosine {
		return (raw + 1) / 2
	}
	return Sigmoid(raw / 100)
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Score computes the raw similarity between two vectors of equal length,
// as used by in-process backends.
func Score(a, b []float32, m Metric) float64 {
	switch m {
	case L2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -math.Sqrt(sum)
	default:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}
}
