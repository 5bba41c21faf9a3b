// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forest

import "fmt"

// Model bundles a trained forest with the scaler it was fitted against.
type Model struct {
	forest *Forest
	scaler *Scaler
	Tag    string
}

// Build trains the default model from the synthetic recipe. Deterministic:
// every call returns an identically behaving model.
func Build() (*Model, error) {
	X, y := GenerateTrainingData()

	scaler := FitScaler(X)
	opts := DefaultOptions()
	f, err := Train(scaler.TransformAll(X), y, opts)
	if err != nil {
		return nil, err
	}
	return &Model{
		forest: f,
		scaler: scaler,
		Tag:    fmt.Sprintf("rf-%dx%d-seed%d", opts.NumTrees, opts.MaxDepth, syntheticSeed),
	}, nil
}

// Score classifies one raw (unscaled) feature row.
func (m *Model) Score(row []float64) (bool, float64, error) {
	return m.forest.Score(m.scaler.Transform(row))
}

// ModelTag identifies the trained model in persisted records.
func (m *Model) ModelTag() string { return m.Tag }
