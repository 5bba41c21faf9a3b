// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"time"

	"grimm.is/campusgate/internal/classify"
)

// Role is the access level of an account.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// User is a portal account.
type User struct {
	UserID    string    `json:"user_id"`
	PwHash    string    `json:"-"`
	Role      Role      `json:"role"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionActive   SessionState = "active"
	SessionInactive SessionState = "inactive"
)

// Session binds a client IP to a user while authenticated.
type Session struct {
	UserID    string       `json:"user_id"`
	ClientIP  string       `json:"client_ip"`
	State     SessionState `json:"state"`
	LoginTime time.Time    `json:"login_time"`
	LastSeen  time.Time    `json:"last_seen"`
}

// BanKind distinguishes bounded from indefinite bans.
type BanKind string

const (
	BanTemporary BanKind = "temporary"
	BanPermanent BanKind = "permanent"
)

// BanStatus is the lifecycle state of a ban record.
type BanStatus string

const (
	BanBlocked BanStatus = "blocked"
	BanExpired BanStatus = "expired"
	BanLifted  BanStatus = "lifted"
)

// Ban revokes a user's network access. ExpiresAt is nil iff the ban is
// permanent.
type Ban struct {
	UserID     string     `json:"user_id"`
	Kind       BanKind    `json:"kind"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
	BlockedAt  time.Time  `json:"blocked_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Status     BanStatus  `json:"status"`
}

// Active reports whether the ban is in force at the given instant.
func (b *Ban) Active(now time.Time) bool {
	if b.Status != BanBlocked {
		return false
	}
	if b.ExpiresAt == nil {
		return true
	}
	return now.Before(*b.ExpiresAt)
}

// Detection is one observed hostname attributed to an authenticated user.
// Records are immutable once written.
type Detection struct {
	TS       time.Time         `json:"ts"`
	UserID   string            `json:"user_id"`
	ClientIP string            `json:"client_ip"`
	Hostname string            `json:"hostname"`
	App      string            `json:"app"`
	Category classify.Category `json:"category"`
	Score    float64           `json:"score"`
	Reason   string            `json:"reason"`
}

// Anomaly is a persisted anomaly-engine finding, banning or not.
type Anomaly struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TS         time.Time `json:"ts"`
	Confidence float64   `json:"confidence"`
	Severity   string    `json:"severity"`
	Reason     string    `json:"reason"`
	Features   string    `json:"features"` // JSON snapshot of the feature vector
	ModelTag   string    `json:"model_tag"`
}

// FeatureRow is the per-user aggregation over the rolling window, before
// ratio derivation. category=general is excluded at query time.
type FeatureRow struct {
	UserID    string
	ClientIP  string
	Total     int
	Video     int
	Social    int
	Messaging int
	Gaming    int
	Search    int
	System    int
}
