// Package classifier scores embedding frames against a prototype pair.
package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

// Predict returns P(presence) for every embedding.
func Predict(embeddings [][]float64, protos models.PrototypePair) ([]float64, error) {
	presence, _, err := PredictPair(embeddings, protos)
	return presence, err
}

// PredictPair returns P(presence) and P(absence) for every embedding. Dimensions are
// checked before any distance is computed.
func PredictPair(embeddings [][]float64, protos models.PrototypePair) (presence, absence []float64, err error) {
	dim := len(protos.Presence)
	if err := protos.Validate(dim); err != nil {
		return nil, nil, err
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, nil, fmt.Errorf("%w: embedding %d has length %d, prototypes %d",
				models.ErrDimensionMismatch, i, len(e), dim)
		}
	}

	presence = make([]float64, len(embeddings))
	absence = make([]float64, len(embeddings))
	for i, e := range embeddings {
		dp := floats.Distance(e, protos.Presence, 2)
		da := floats.Distance(e, protos.Absence, 2)
		presence[i] = softmaxPresence(-da, -dp)
		absence[i] = 1 - presence[i]
	}
	return presence, absence, nil
}

// softmaxPresence is the second component of a 2-way softmax over [za, zp],
// shifted by the max so the larger logit exponentiates to 1.
func softmaxPresence(za, zp float64) float64 {
	m := math.Max(za, zp)
	ea := math.Exp(za - m)
	ep := math.Exp(zp - m)
	return ep / (ea + ep)
}

// Entropy returns the binary entropy in bits of each probability.
// p == 0 and p == 1 yield exactly 0.
func Entropy(probabilities []float64) []float64 {
	out := make([]float64, len(probabilities))
	for i, p := range probabilities {
		if p <= 0 || p >= 1 {
			continue
		}
		out[i] = -p*math.Log2(p) - (1-p)*math.Log2(1-p)
	}
	return out
}

// MeanEntropy is the average per-frame entropy, or NaN for no frames.
func MeanEntropy(probabilities []float64) float64 {
	return mean(Entropy(probabilities))
}

// MeanProbability is the average per-frame presence probability, or NaN for no frames.
func MeanProbability(probabilities []float64) float64 {
	return mean(probabilities)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}
