// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(total, video, social, messaging, gaming int) []float64 {
	return featureRow(total, video, social, messaging, gaming)
}

func TestGenerateTrainingData_Deterministic(t *testing.T) {
	x1, y1 := GenerateTrainingData()
	x2, y2 := GenerateTrainingData()

	require.Equal(t, len(x1), len(x2))
	assert.Equal(t, y1, y2)
	assert.Equal(t, x1, x2)
	assert.Len(t, x1, 370)
	assert.Len(t, x1[0], 10)

	// 150 normal, 220 anomalous samples.
	anomalous := 0
	for _, label := range y1 {
		if label == 1 {
			anomalous++
		}
	}
	assert.Equal(t, 220, anomalous)
}

func TestBuild_DeterministicScoring(t *testing.T) {
	m1, err := Build()
	require.NoError(t, err)
	m2, err := Build()
	require.NoError(t, err)
	assert.Equal(t, m1.Tag, m2.Tag)

	probes := [][]float64{
		row(5, 1, 0, 1, 0),
		row(80, 30, 25, 5, 10),
		row(20, 12, 4, 2, 0),
		row(9, 0, 0, 2, 3),
	}
	for _, p := range probes {
		f1, c1, err := m1.Score(p)
		require.NoError(t, err)
		f2, c2, err := m2.Score(p)
		require.NoError(t, err)
		assert.Equal(t, f1, f2)
		assert.Equal(t, c1, c2)
	}
}

func TestModel_SeparatesObviousCases(t *testing.T) {
	m, err := Build()
	require.NoError(t, err)

	t.Run("quiet balanced user is normal", func(t *testing.T) {
		flag, confidence, err := m.Score(row(4, 0, 1, 1, 0))
		require.NoError(t, err)
		assert.False(t, flag)
		assert.Less(t, confidence, 0.5)
	})

	t.Run("heavy mixed entertainment is anomalous", func(t *testing.T) {
		flag, confidence, err := m.Score(row(120, 50, 40, 10, 15))
		require.NoError(t, err)
		assert.True(t, flag)
		assert.Greater(t, confidence, 0.8)
	})

	t.Run("gaming presence is anomalous", func(t *testing.T) {
		flag, confidence, err := m.Score(row(15, 2, 1, 3, 8))
		require.NoError(t, err)
		assert.True(t, flag)
		assert.Greater(t, confidence, 0.5)
	})

	t.Run("video dominated is anomalous", func(t *testing.T) {
		flag, _, err := m.Score(row(30, 20, 2, 5, 0))
		require.NoError(t, err)
		assert.True(t, flag)
	})
}

func TestScore_WidthMismatch(t *testing.T) {
	m, err := Build()
	require.NoError(t, err)
	_, _, err = m.forest.Score([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestTrain_RejectsBadInput(t *testing.T) {
	_, err := Train(nil, nil, DefaultOptions())
	assert.Error(t, err)

	_, err = Train([][]float64{{1, 2}, {1}}, []int{0, 1}, DefaultOptions())
	assert.Error(t, err)
}

func TestFitScaler(t *testing.T) {
	X := [][]float64{{0, 10}, {2, 10}, {4, 10}}
	s := FitScaler(X)

	scaled := s.Transform([]float64{2, 10})
	assert.InDelta(t, 0, scaled[0], 1e-9, "mean maps to zero")
	assert.InDelta(t, 0, scaled[1], 1e-9, "constant feature does not blow up")

	hi := s.Transform([]float64{4, 10})
	lo := s.Transform([]float64{0, 10})
	assert.InDelta(t, -hi[0], lo[0], 1e-9)
}
