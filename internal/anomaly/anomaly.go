// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package anomaly decides bans. Each cycle it takes the aggregator's
// feature snapshot, applies the hard threshold rules and the random-forest
// model, and bans only when both agree. The deny rule is installed before
// the ban record becomes visible, so attribution can never race a ban.
package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"grimm.is/campusgate/internal/aggregate"
	"grimm.is/campusgate/internal/clock"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/policy"
	"grimm.is/campusgate/internal/store"
)

// Confidence bands for the ban decision.
const (
	permanentBanConfidence = 0.95
	temporaryBanConfidence = 0.75
	temporaryBanDuration   = 24 * time.Hour
)

// Denier installs the kernel deny rule for a client IP.
type Denier interface {
	DenyClient(ctx context.Context, ip string) error
}

// Scorer classifies a raw feature row. Satisfied by forest.Model.
type Scorer interface {
	Score(row []float64) (bool, float64, error)
	ModelTag() string
}

// Sessions is the session-manager slice the engine needs.
type Sessions interface {
	IsBanned(userID string) (bool, error)
	InsertBan(b store.Ban) error
}

// Store is the persistence slice for anomaly records.
type Store interface {
	InsertAnomaly(a store.Anomaly) error
}

// Engine evaluates feature snapshots on a fixed cadence.
type Engine struct {
	agg      *aggregate.Aggregator
	model    Scorer // nil when model build failed; rule-only mode
	policy   *policy.Manager
	sessions Sessions
	store    Store
	denier   Denier
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewEngine wires an anomaly engine. Pass a nil model to run in rule-only
// mode after a failed model build.
func NewEngine(agg *aggregate.Aggregator, model Scorer, pm *policy.Manager,
	sessions Sessions, st Store, denier Denier, clk clock.Clock,
	m *metrics.Metrics, logger *logging.Logger) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		agg:      agg,
		model:    model,
		policy:   pm,
		sessions: sessions,
		store:    st,
		denier:   denier,
		clock:    clk,
		logger:   logger.With("component", "anomaly"),
		metrics:  m,
	}
	if model == nil {
		e.logger.Error("no model available, degrading to rule-only decisions")
	}
	return e
}

// Run evaluates on the given cadence until the context is cancelled.
func (e *Engine) Run(ctx context.Context, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Cycle(ctx); err != nil {
				e.logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// Cycle runs one full evaluation over the current window.
func (e *Engine) Cycle(ctx context.Context) error {
	now := e.clock.Now()
	vectors, err := e.agg.Snapshot(now)
	if err != nil {
		return err
	}

	thresholds := e.policy.Snapshot().Thresholds
	for _, v := range vectors {
		if err := e.evaluate(ctx, v, thresholds, now); err != nil {
			e.logger.Error("evaluation failed", "user", v.UserID, "error", err)
		}
	}
	e.metrics.AnomalyCycles.Inc()
	return nil
}

func (e *Engine) evaluate(ctx context.Context, v aggregate.FeatureVector, t policy.Thresholds, now time.Time) error {
	banned, err := e.sessions.IsBanned(v.UserID)
	if err != nil {
		return err
	}
	if banned {
		return nil
	}

	ruleFlag := tripped(v, t) != ""

	mlFlag, confidence := e.score(v, t)
	if !mlFlag {
		return nil
	}

	reason := banReason(v, t)
	e.recordAnomaly(v, confidence, reason, now)

	if !ruleFlag || confidence < temporaryBanConfidence {
		return nil
	}

	kind := store.BanTemporary
	var expires *time.Time
	if confidence >= permanentBanConfidence {
		kind = store.BanPermanent
	} else {
		exp := now.Add(temporaryBanDuration)
		expires = &exp
	}

	// Deny first: once the ban record is visible, no detection may be
	// attributed to this user.
	if err := e.denier.DenyClient(ctx, v.ClientIP); err != nil {
		return err
	}
	if err := e.sessions.InsertBan(store.Ban{
		UserID:     v.UserID,
		Kind:       kind,
		Confidence: confidence,
		Reason:     reason,
		BlockedAt:  now,
		ExpiresAt:  expires,
		Status:     store.BanBlocked,
	}); err != nil {
		return err
	}

	e.metrics.BansTotal.WithLabelValues(string(kind)).Inc()
	e.logger.Warn("user banned",
		"user", v.UserID, "kind", string(kind),
		"confidence", confidence, "reason", reason)
	return nil
}

// score runs the model, or the rule-only fallback when the model failed to
// build: a tripped gaming rule bans at full confidence, anything else only
// records.
func (e *Engine) score(v aggregate.FeatureVector, t policy.Thresholds) (bool, float64) {
	if e.model == nil {
		if v.Gaming >= t.GamingCount && t.GamingCount > 0 {
			return true, 1.0
		}
		if tripped(v, t) != "" {
			return true, temporaryBanConfidence - 0.01
		}
		return false, 0
	}

	flag, confidence, err := e.model.Score(v.Values())
	if err != nil {
		e.logger.Error("model scoring failed", "user", v.UserID, "error", err)
		return false, 0
	}
	return flag, confidence
}

func (e *Engine) recordAnomaly(v aggregate.FeatureVector, confidence float64, reason string, now time.Time) {
	severity := "low"
	switch {
	case confidence >= 0.8:
		severity = "high"
	case confidence >= 0.6:
		severity = "medium"
	}

	features, _ := json.Marshal(map[string]any{
		"total_requests":      v.Total,
		"video_count":         v.Video,
		"social_count":        v.Social,
		"messaging_count":     v.Messaging,
		"gaming_count":        v.Gaming,
		"video_ratio":         round3(v.VideoRatio),
		"social_ratio":        round3(v.SocialRatio),
		"gaming_ratio":        round3(v.GamingRatio),
		"entertainment_ratio": round3(v.EntertainmentRatio),
	})

	modelTag := "rule-only"
	if e.model != nil {
		modelTag = e.model.ModelTag()
	}
	rec := store.Anomaly{
		ID:         uuid.NewString(),
		UserID:     v.UserID,
		TS:         now,
		Confidence: round3(confidence),
		Severity:   severity,
		Reason:     reason,
		Features:   string(features),
		ModelTag:   modelTag,
	}
	if err := e.store.InsertAnomaly(rec); err != nil {
		e.logger.Error("anomaly record failed", "user", v.UserID, "error", err)
	}
}

// tripped returns the name of the first hard rule the vector trips, or "".
func tripped(v aggregate.FeatureVector, t policy.Thresholds) string {
	switch {
	case v.Total >= t.HighActivity:
		return "high_activity"
	case v.VideoRatio >= t.VideoRatio:
		return "video_ratio"
	case v.SocialRatio >= t.SocialRatio:
		return "social_ratio"
	case t.GamingCount > 0 && v.Gaming >= t.GamingCount:
		return "gaming"
	case v.VideoRatio+v.SocialRatio >= t.CombinedRatio:
		return "combined_ratio"
	}
	return ""
}

// banReason assembles the human-readable reason from every tripped rule.
func banReason(v aggregate.FeatureVector, t policy.Thresholds) string {
	var reasons []string
	if t.GamingCount > 0 && v.Gaming >= t.GamingCount {
		reasons = append(reasons, fmt.Sprintf("Gaming detected (%d requests, %.0f%%)",
			v.Gaming, v.GamingRatio*100))
	}
	if v.Total >= t.HighActivity {
		reasons = append(reasons, fmt.Sprintf("High activity (%d requests)", v.Total))
	}
	if v.VideoRatio >= t.VideoRatio {
		reasons = append(reasons, fmt.Sprintf("Excessive video (%.0f%%)", v.VideoRatio*100))
	}
	if v.SocialRatio >= t.SocialRatio {
		reasons = append(reasons, fmt.Sprintf("Excessive social media (%.0f%%)", v.SocialRatio*100))
	}
	if v.EntertainmentRatio >= t.CombinedRatio && v.Gaming == 0 {
		reasons = append(reasons, fmt.Sprintf("High entertainment (%.0f%%)", v.EntertainmentRatio*100))
	}
	if len(reasons) == 0 {
		return "Unusual behavior pattern"
	}
	return strings.Join(reasons, "; ")
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
