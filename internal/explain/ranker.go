// Package explain ranks per-feature attributions for a prediction.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Contributor computes per-feature contributions toward one class.
type Contributor interface {
	Contributions(x domain.EncodedVector, class int) ([]float64, error)
}

// Ranker returns the top contributing features for a prediction.
type Ranker struct {
	model Contributor
	topK  int
}

// NewRanker creates a ranker returning at most topK attributions.
func NewRanker(model Contributor, topK int) *Ranker {
	if topK <= 0 {
		topK = 3
	}
	return &Ranker{model: model, topK: topK}
}

// Rank computes the contribution magnitude of every input feature toward
// the predicted class and returns the top entries sorted by descending
// magnitude. Equal magnitudes order by feature name for reproducibility.
func (r *Ranker) Rank(x domain.EncodedVector, class int) ([]domain.Attribution, error) {
	contrib, err := r.model.Contributions(x, class)
	if err != nil {
		return nil, fmt.Errorf("attribution failed: %w", err)
	}
	if len(contrib) != domain.NumFeatures {
		return nil, fmt.Errorf("attribution returned %d values, want %d", len(contrib), domain.NumFeatures)
	}

	attrs := make([]domain.Attribution, domain.NumFeatures)
	for i, c := range contrib {
		attrs[i] = domain.Attribution{
			Feature:   domain.FeatureNames[i],
			Magnitude: math.Abs(c),
		}
	}

	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i].Magnitude != attrs[j].Magnitude {
			return attrs[i].Magnitude > attrs[j].Magnitude
		}
		return attrs[i].Feature < attrs[j].Feature
	})

	if len(attrs) > r.topK {
		attrs = attrs[:r.topK]
	}
	return attrs, nil
}
