// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package aggregate reduces the detection log into per-user feature
// vectors over a rolling window. The reduction happens in SQL; this package
// derives the ratios and fixes the feature ordering the anomaly model
// expects.
package aggregate

import (
	"time"

	"grimm.is/campusgate/internal/store"
)

// FeatureVector is the per-user activity profile over one window.
// general-category detections are excluded before any count is taken.
type FeatureVector struct {
	UserID   string
	ClientIP string

	Total     int
	Video     int
	Social    int
	Messaging int
	Gaming    int
	Search    int
	System    int

	VideoRatio         float64
	SocialRatio        float64
	MessagingRatio     float64
	GamingRatio        float64
	EntertainmentRatio float64
}

// Values returns the vector in the model's fixed feature order. Changing
// this order invalidates every trained model.
func (v *FeatureVector) Values() []float64 {
	return []float64{
		float64(v.Total),
		float64(v.Video),
		float64(v.Social),
		float64(v.Messaging),
		float64(v.Gaming),
		v.VideoRatio,
		v.SocialRatio,
		v.MessagingRatio,
		v.GamingRatio,
		v.EntertainmentRatio,
	}
}

// FeatureCount is the model input width.
const FeatureCount = 10

// Rows is the slice of the store the aggregator reads.
type Rows interface {
	FeatureRows(since time.Time) ([]store.FeatureRow, error)
}

// Aggregator computes snapshots over a rolling window.
type Aggregator struct {
	rows   Rows
	window time.Duration
}

func New(rows Rows, window time.Duration) *Aggregator {
	return &Aggregator{rows: rows, window: window}
}

// Snapshot returns one FeatureVector per user with activity in
// [now-window, now]. Idempotent for a given log state.
func (a *Aggregator) Snapshot(now time.Time) ([]FeatureVector, error) {
	rows, err := a.rows.FeatureRows(now.Add(-a.window))
	if err != nil {
		return nil, err
	}
	out := make([]FeatureVector, 0, len(rows))
	for _, r := range rows {
		out = append(out, Derive(r))
	}
	return out, nil
}

// Derive turns one aggregated row into a feature vector.
func Derive(r store.FeatureRow) FeatureVector {
	v := FeatureVector{
		UserID:    r.UserID,
		ClientIP:  r.ClientIP,
		Total:     r.Total,
		Video:     r.Video,
		Social:    r.Social,
		Messaging: r.Messaging,
		Gaming:    r.Gaming,
		Search:    r.Search,
		System:    r.System,
	}
	if r.Total > 0 {
		total := float64(r.Total)
		v.VideoRatio = float64(r.Video) / total
		v.SocialRatio = float64(r.Social) / total
		v.MessagingRatio = float64(r.Messaging) / total
		v.GamingRatio = float64(r.Gaming) / total
		v.EntertainmentRatio = float64(r.Video+r.Social+r.Gaming) / total
	}
	return v
}
