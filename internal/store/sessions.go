// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/campusgate/internal/errors"
)

// UpsertActiveSession binds userID to clientIP as the single active session
// for both. Any previous active session of the user, and any active session
// another user holds on the same IP, are deactivated in the same transaction
// so the one-session-per-user and one-session-per-IP invariants hold.
func (s *Store) UpsertActiveSession(userID, clientIP string, now time.Time) (*Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "begin session upsert")
	}
	defer tx.Rollback()

	// Another user on this IP loses the binding: the DHCP lease moved.
	if _, err := tx.Exec(`
		UPDATE sessions SET state = 'inactive'
		WHERE client_ip = ? AND state = 'active' AND user_id != ?`,
		clientIP, userID); err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "displace ip session")
	}

	ts := now.Unix()
	if _, err := tx.Exec(`
		INSERT INTO sessions (user_id, client_ip, state, login_time, last_seen)
		VALUES (?, ?, 'active', ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			client_ip = excluded.client_ip,
			state = 'active',
			login_time = excluded.login_time,
			last_seen = excluded.last_seen`,
		userID, clientIP, ts, ts); err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "upsert session")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "commit session upsert")
	}
	return &Session{
		UserID:    userID,
		ClientIP:  clientIP,
		State:     SessionActive,
		LoginTime: now,
		LastSeen:  now,
	}, nil
}

// DeactivateSession marks the user's session inactive. It is a no-op if the
// user has no session.
func (s *Store) DeactivateSession(userID string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET state = 'inactive' WHERE user_id = ?`, userID)
	return errors.Wrap(err, errors.KindStoreUnavailable, "deactivate session")
}

// ActiveSessionByIP returns the active session bound to clientIP, or nil.
func (s *Store) ActiveSessionByIP(clientIP string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT user_id, client_ip, state, login_time, last_seen
		FROM sessions WHERE client_ip = ? AND state = 'active'`, clientIP)
	return scanSession(row)
}

// ActiveSessionByUser returns the user's active session, or nil.
func (s *Store) ActiveSessionByUser(userID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT user_id, client_ip, state, login_time, last_seen
		FROM sessions WHERE user_id = ? AND state = 'active'`, userID)
	return scanSession(row)
}

// ActiveSessions returns every active session.
func (s *Store) ActiveSessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT user_id, client_ip, state, login_time, last_seen
		FROM sessions WHERE state = 'active' ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var state string
		var login, seen int64
		if err := rows.Scan(&sess.UserID, &sess.ClientIP, &state, &login, &seen); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan session")
		}
		sess.State = SessionState(state)
		sess.LoginTime = time.Unix(login, 0)
		sess.LastSeen = time.Unix(seen, 0)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionByUser returns the user's session record regardless of state, or nil.
func (s *Store) SessionByUser(userID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT user_id, client_ip, state, login_time, last_seen
		FROM sessions WHERE user_id = ?`, userID)
	return scanSession(row)
}

// TouchSession updates last_seen for an active session.
func (s *Store) TouchSession(userID string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET last_seen = ? WHERE user_id = ? AND state = 'active'`,
		now.Unix(), userID)
	return errors.Wrap(err, errors.KindStoreUnavailable, "touch session")
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var state string
	var login, seen int64
	if err := row.Scan(&sess.UserID, &sess.ClientIP, &state, &login, &seen); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan session")
	}
	sess.State = SessionState(state)
	sess.LoginTime = time.Unix(login, 0)
	sess.LastSeen = time.Unix(seen, 0)
	return &sess, nil
}
