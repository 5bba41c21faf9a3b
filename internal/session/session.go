// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package session implements the authenticated-session lifecycle: login and
// logout, IP to user attribution for the detection pipeline, ban state, and
// the liveness sweep that reaps sessions whose client stopped answering.
package session

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/campusgate/internal/clock"
	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/store"
)

// Prober tests whether a client IP is still reachable on the hotspot link.
type Prober interface {
	Reachable(ip string, timeout time.Duration) bool
}

// Manager runs session operations over the store. All methods are safe for
// concurrent use; the store serialises writes.
type Manager struct {
	store   *store.Store
	clock   clock.Clock
	prober  Prober
	metrics *metrics.Metrics
	logger  *logging.Logger

	probeTimeout time.Duration
}

// NewManager wires a session manager. prober may be nil when the caller
// never runs SweepLiveness (one-shot commands).
func NewManager(st *store.Store, clk clock.Clock, prober Prober, probeTimeout time.Duration, m *metrics.Metrics, logger *logging.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		store:        st,
		clock:        clk,
		prober:       prober,
		metrics:      m,
		logger:       logger.With("component", "session"),
		probeTimeout: probeTimeout,
	}
}

// Login verifies credentials and binds clientIP to the user as its active
// session. A banned account fails with KindBanned; bad credentials fail with
// KindNotAuthenticated regardless of whether the account exists.
func (m *Manager) Login(userID, password, clientIP string) (*store.Session, error) {
	user, err := m.store.GetUser(userID)
	if err != nil {
		if errors.GetKind(err) == errors.KindNotFound {
			return nil, errors.New(errors.KindNotAuthenticated, "invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PwHash), []byte(password)); err != nil {
		return nil, errors.New(errors.KindNotAuthenticated, "invalid credentials")
	}

	now := m.clock.Now()
	ban, err := m.store.ActiveBan(userID, now)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, errors.Errorf(errors.KindBanned, "account banned: %s", ban.Reason)
	}

	sess, err := m.store.UpsertActiveSession(userID, clientIP, now)
	if err != nil {
		return nil, err
	}
	m.logger.Info("session opened", "user", userID, "client_ip", clientIP)
	return sess, nil
}

// Logout deactivates the user's session if one exists.
func (m *Manager) Logout(userID string) error {
	if err := m.store.DeactivateSession(userID); err != nil {
		return err
	}
	m.logger.Info("session closed", "user", userID)
	return nil
}

// LookupUser resolves a client IP to the authenticated user id, or "" when
// the IP has no active session. A banned user resolves to "" even while a
// session record lingers, so no traffic is attributed to a banned identity.
func (m *Manager) LookupUser(clientIP string) (string, error) {
	sess, err := m.store.ActiveSessionByIP(clientIP)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	ban, err := m.store.ActiveBan(sess.UserID, m.clock.Now())
	if err != nil {
		return "", err
	}
	if ban != nil {
		return "", nil
	}
	return sess.UserID, nil
}

// ActiveSessions returns every active session.
func (m *Manager) ActiveSessions() ([]store.Session, error) {
	return m.store.ActiveSessions()
}

// AllActiveIPs returns the client IPs of every active session whose user
// has no ban in force. Callers use this to rebuild the allowed set after a
// restart, so a lingering session of a banned user must never reappear.
func (m *Manager) AllActiveIPs() ([]string, error) {
	sessions, err := m.store.ActiveSessions()
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	ips := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ban, err := m.store.ActiveBan(s.UserID, now)
		if err != nil {
			return nil, err
		}
		if ban != nil {
			continue
		}
		ips = append(ips, s.ClientIP)
	}
	return ips, nil
}

// InsertBan writes a ban record and closes the user's session: a banned
// user holds no binding until a successful re-login. The store refuses to
// downgrade an in-force permanent ban and treats equal-parameter re-inserts
// as no-ops.
func (m *Manager) InsertBan(b store.Ban) error {
	if err := m.store.UpsertBan(b, m.clock.Now()); err != nil {
		return err
	}
	if err := m.store.DeactivateSession(b.UserID); err != nil {
		return err
	}
	m.logger.Warn("ban recorded",
		"user", b.UserID, "kind", string(b.Kind),
		"confidence", b.Confidence, "reason", b.Reason)
	return nil
}

// IsBanned reports whether the user has a ban in force now.
func (m *Manager) IsBanned(userID string) (bool, error) {
	ban, err := m.store.ActiveBan(userID, m.clock.Now())
	if err != nil {
		return false, err
	}
	return ban != nil, nil
}

// ExpireBans flips temporary bans past their expiry to expired and returns
// the affected user ids. Access is not restored; the user logs in again.
func (m *Manager) ExpireBans() ([]string, error) {
	expired, err := m.store.ExpireBans(m.clock.Now())
	if err != nil {
		return nil, err
	}
	for _, id := range expired {
		m.logger.Info("temporary ban expired", "user", id)
	}
	return expired, nil
}

// SweepLiveness probes every active session's client IP and deactivates the
// unreachable ones, calling deny for each reaped IP. Returns the reaped IPs.
func (m *Manager) SweepLiveness(deny func(ip string) error) ([]string, error) {
	if m.prober == nil {
		return nil, errors.New(errors.KindInternal, "no prober configured")
	}
	sessions, err := m.store.ActiveSessions()
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, sess := range sessions {
		if m.prober.Reachable(sess.ClientIP, m.probeTimeout) {
			if err := m.store.TouchSession(sess.UserID, m.clock.Now()); err != nil {
				m.logger.Warn("touch session failed", "user", sess.UserID, "error", err)
			}
			continue
		}
		m.metrics.ProbeFailures.Inc()
		if err := m.store.DeactivateSession(sess.UserID); err != nil {
			m.logger.Error("deactivate session failed", "user", sess.UserID, "error", err)
			continue
		}
		if err := deny(sess.ClientIP); err != nil {
			m.logger.Error("deny after sweep failed", "client_ip", sess.ClientIP, "error", err)
		}
		m.logger.Info("session reaped", "user", sess.UserID, "client_ip", sess.ClientIP)
		reaped = append(reaped, sess.ClientIP)
	}
	return reaped, nil
}

// HashPassword produces a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	if len(password) < 6 {
		return "", errors.New(errors.KindValidation, "password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "hash password")
	}
	return string(hash), nil
}
