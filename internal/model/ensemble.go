// Package model wraps the pre-trained multiclass classifier. The artifact
// is a gradient-boosted tree ensemble exported offline; inference here is
// an opaque, deterministic function of the encoded feature vector.
package model

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Node is one node of a decision tree. Internal nodes carry the split
// feature and threshold plus the subtree expected value; leaves carry the
// leaf value and Feature == -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a single regression tree stored as a node array rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Ensemble is the loaded classifier: per-class base scores and tree lists,
// plus the class-code → label map. Read-only after load; safe for
// concurrent use.
type Ensemble struct {
	version   string
	baseScore []float64
	trees     [][]Tree // indexed [class][tree]
	classes   map[int]string
}

// New creates an ensemble and validates its shape.
func New(version string, baseScore []float64, trees [][]Tree, classes map[int]string) (*Ensemble, error) {
	if len(baseScore) == 0 {
		return nil, fmt.Errorf("model has no classes")
	}
	if len(trees) != len(baseScore) {
		return nil, fmt.Errorf("model shape mismatch: %d base scores, %d tree groups", len(baseScore), len(trees))
	}
	e := &Ensemble{
		version:   version,
		baseScore: baseScore,
		trees:     trees,
		classes:   classes,
	}
	for class, group := range trees {
		for i, tree := range group {
			if err := validateTree(tree); err != nil {
				return nil, fmt.Errorf("class %d tree %d: %w", class, i, err)
			}
		}
	}
	return e, nil
}

func validateTree(t Tree) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			continue // leaf
		}
		if n.Feature >= domain.NumFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}

// Version returns the artifact version the model was exported with.
func (e *Ensemble) Version() string {
	return e.version
}

// NumClasses returns the number of trained classes.
func (e *Ensemble) NumClasses() int {
	return len(e.baseScore)
}

// Label translates a class code to its human-readable fraud-type label.
// Codes absent from the class map translate to "Unknown".
func (e *Ensemble) Label(code int) string {
	if label, ok := e.classes[code]; ok {
		return label
	}
	return domain.VerdictUnknown
}

// Predict returns the predicted class code for an encoded vector: the
// argmax over per-class margins. Ties resolve to the lowest class code.
func (e *Ensemble) Predict(x domain.EncodedVector) (int, error) {
	if len(e.baseScore) == 0 {
		return 0, fmt.Errorf("%w: model not initialized", domain.ErrInternal)
	}

	best := 0
	bestMargin := e.Margin(x, 0)
	for class := 1; class < len(e.baseScore); class++ {
		if m := e.Margin(x, class); m > bestMargin {
			best = class
			bestMargin = m
		}
	}
	return best, nil
}

// Margin computes the raw additive score for one class.
func (e *Ensemble) Margin(x domain.EncodedVector, class int) float64 {
	margin := e.baseScore[class]
	for _, tree := range e.trees[class] {
		margin += leafValue(tree, x)
	}
	return margin
}

func leafValue(t Tree, x domain.EncodedVector) float64 {
	i := 0
	for t.Nodes[i].Feature >= 0 {
		n := t.Nodes[i]
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// Contributions computes one signed contribution per input feature toward
// the given class, by path attribution: descending each of the class's
// trees root to leaf, the change in expected value at every split is
// credited to the split feature. Deterministic for a fixed artifact and
// vector.
func (e *Ensemble) Contributions(x domain.EncodedVector, class int) ([]float64, error) {
	if class < 0 || class >= len(e.trees) {
		return nil, fmt.Errorf("class code %d out of range", class)
	}

	contrib := make([]float64, domain.NumFeatures)
	for _, tree := range e.trees[class] {
		i := 0
		for tree.Nodes[i].Feature >= 0 {
			n := tree.Nodes[i]
			next := n.Left
			if x[n.Feature] >= n.Threshold {
				next = n.Right
			}
			contrib[n.Feature] += tree.Nodes[next].Value - n.Value
			i = next
		}
	}
	return contrib, nil
}
