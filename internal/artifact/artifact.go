// Package artifact loads the versioned model bundle produced by the
// offline training job: the classifier ensemble and the matching encoder
// tables. Both are loaded once at process start and shared read-only
// across concurrent requests.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/encoder"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Bundle is the loaded, immutable artifact pair.
type Bundle struct {
	Version  string
	Model    *model.Ensemble
	Encoders *encoder.Table
}

type modelFile struct {
	Version   string            `json:"version"`
	Features  []string          `json:"features"`
	BaseScore []float64         `json:"baseScore"`
	Classes   map[string]string `json:"classes"`
	Trees     [][]model.Tree    `json:"trees"`
}

type encodersFile struct {
	Version string                    `json:"version"`
	Fields  map[string]map[string]int `json:"fields"`
}

// Load reads and validates the model and encoder artifacts. The two files
// are versioned together; a version mismatch is an initialization error.
func Load(modelPath, encodersPath string) (*Bundle, error) {
	ens, err := LoadModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}

	table, err := LoadEncoders(encodersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoder artifact: %w", err)
	}

	if ens.Version() != table.Version() {
		return nil, fmt.Errorf("artifact version mismatch: model %q, encoders %q", ens.Version(), table.Version())
	}

	return &Bundle{
		Version:  ens.Version(),
		Model:    ens,
		Encoders: table,
	}, nil
}

// LoadModel reads the classifier ensemble from a JSON artifact.
func LoadModel(path string) (*model.Ensemble, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf modelFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	if mf.Version == "" {
		return nil, fmt.Errorf("model artifact has no version")
	}
	if len(mf.Features) != domain.NumFeatures {
		return nil, fmt.Errorf("model expects %d features, artifact lists %d", domain.NumFeatures, len(mf.Features))
	}
	for i, name := range mf.Features {
		if name != domain.FeatureNames[i] {
			return nil, fmt.Errorf("feature %d: artifact has %q, want %q", i, name, domain.FeatureNames[i])
		}
	}

	classes := make(map[int]string, len(mf.Classes))
	for key, label := range mf.Classes {
		code, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid class code %q", key)
		}
		classes[code] = label
	}

	return model.New(mf.Version, mf.BaseScore, mf.Trees, classes)
}

// LoadEncoders reads the categorical encoder tables from a JSON artifact.
func LoadEncoders(path string) (*encoder.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ef encodersFile
	if err := json.Unmarshal(raw, &ef); err != nil {
		return nil, fmt.Errorf("invalid encoder artifact: %w", err)
	}
	if ef.Version == "" {
		return nil, fmt.Errorf("encoder artifact has no version")
	}

	return encoder.New(ef.Version, ef.Fields)
}
