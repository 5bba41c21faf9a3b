// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forest

import "math/rand"

// Synthetic training-data recipe. The model learns the threshold policy
// from generated samples in fixed regimes: low and medium activity without
// gaming are normal; high volume, heavy video or social, any gaming, and
// entertainment-dominated traffic are anomalous. Counts per regime and the
// seed are part of the model contract.

const syntheticSeed = 42

// randRange mirrors an integer draw in [lo, hi).
func randRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo)
}

// GenerateTrainingData produces the labelled synthetic matrix in the
// model's feature order. Deterministic: same seed, same data.
func GenerateTrainingData() ([][]float64, []int) {
	rng := rand.New(rand.NewSource(syntheticSeed))

	var X [][]float64
	var y []int
	add := func(total, video, social, messaging, gaming, label int) {
		X = append(X, featureRow(total, video, social, messaging, gaming))
		y = append(y, label)
	}

	// Low activity, balanced, no gaming: normal.
	for i := 0; i < 100; i++ {
		total := randRange(rng, 1, 10)
		video := randRange(rng, 0, max(1, total*2/10))
		social := randRange(rng, 0, max(1, total*2/10))
		messaging := randRange(rng, 0, max(1, total*3/10))
		add(total, video, social, messaging, 0, 0)
	}

	// Medium activity, minimal entertainment: normal.
	for i := 0; i < 50; i++ {
		total := randRange(rng, 10, 50)
		video := randRange(rng, 0, max(1, total*15/100))
		social := randRange(rng, 0, max(1, total*15/100))
		messaging := randRange(rng, 0, max(1, total*2/10))
		add(total, video, social, messaging, 0, 0)
	}

	// High request volume regardless of mix: anomalous.
	for i := 0; i < 40; i++ {
		total := randRange(rng, 50, 200)
		video := randRange(rng, 0, total/3)
		social := randRange(rng, 0, total/3)
		gaming := randRange(rng, 0, total/4)
		messaging := max(0, total-video-social-gaming)
		add(total, video, social, messaging, gaming, 1)
	}

	// Video-dominated: anomalous.
	for i := 0; i < 40; i++ {
		total := randRange(rng, 5, 100)
		video := randRange(rng, total*45/100, total)
		social := randRange(rng, 0, max(1, total-video))
		messaging := max(0, total-video-social)
		add(total, video, social, messaging, 0, 1)
	}

	// Social-dominated: anomalous.
	for i := 0; i < 40; i++ {
		total := randRange(rng, 5, 200)
		social := randRange(rng, total*45/100, total)
		video := randRange(rng, 0, max(1, total-social))
		messaging := max(0, total-video-social)
		add(total, video, social, messaging, 0, 1)
	}

	// Any gaming at all: anomalous.
	for i := 0; i < 60; i++ {
		total := randRange(rng, 3, 100)
		gaming := randRange(rng, 1, total)
		video := randRange(rng, 0, max(1, total-gaming))
		social := randRange(rng, 0, max(1, total-gaming-video))
		messaging := max(0, total-video-social-gaming)
		add(total, video, social, messaging, gaming, 1)
	}

	// Entertainment-dominated mix: anomalous.
	for i := 0; i < 40; i++ {
		total := randRange(rng, 10, 150)
		entertainment := randRange(rng, total*55/100, total)
		video := randRange(rng, 0, max(1, entertainment/2))
		social := randRange(rng, 0, max(1, entertainment-video))
		gaming := max(0, entertainment-video-social)
		messaging := max(0, total-video-social-gaming)
		add(total, video, social, messaging, gaming, 1)
	}

	return X, y
}

func featureRow(total, video, social, messaging, gaming int) []float64 {
	t := float64(total)
	return []float64{
		t,
		float64(video),
		float64(social),
		float64(messaging),
		float64(gaming),
		float64(video) / t,
		float64(social) / t,
		float64(messaging) / t,
		float64(gaming) / t,
		float64(video+social+gaming) / t,
	}
}
