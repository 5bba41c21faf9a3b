// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/campusgate/internal/errors"
)

// UpsertBan writes or replaces the user's ban record. A permanent ban is
// never downgraded: writing a temporary ban over an in-force permanent one
// is a no-op. Re-inserting a ban with equal parameters is also a no-op, so
// the anomaly engine can re-run over the same window safely.
func (s *Store) UpsertBan(b Ban, now time.Time) error {
	existing, err := s.GetBan(b.UserID)
	if err != nil && errors.GetKind(err) != errors.KindNotFound {
		return err
	}

	if existing != nil && existing.Active(now) {
		if existing.Kind == BanPermanent && b.Kind == BanTemporary {
			return nil
		}
		if existing.Kind == b.Kind && existing.Reason == b.Reason &&
			existing.Confidence == b.Confidence {
			return nil
		}
	}

	var expires any
	if b.ExpiresAt != nil {
		expires = b.ExpiresAt.Unix()
	}
	_, err = s.db.Exec(`
		INSERT INTO bans (user_id, kind, confidence, reason, blocked_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			kind = excluded.kind,
			confidence = excluded.confidence,
			reason = excluded.reason,
			blocked_at = excluded.blocked_at,
			expires_at = excluded.expires_at,
			status = excluded.status`,
		b.UserID, string(b.Kind), b.Confidence, b.Reason,
		b.BlockedAt.Unix(), expires, string(b.Status),
	)
	return errors.Wrap(err, errors.KindStoreUnavailable, "upsert ban")
}

// GetBan returns the user's ban record.
func (s *Store) GetBan(userID string) (*Ban, error) {
	row := s.db.QueryRow(`
		SELECT user_id, kind, confidence, reason, blocked_at, expires_at, status
		FROM bans WHERE user_id = ?`, userID)

	var b Ban
	var kind, status string
	var blocked int64
	var expires sql.NullInt64
	if err := row.Scan(&b.UserID, &kind, &b.Confidence, &b.Reason, &blocked, &expires, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Errorf(errors.KindNotFound, "no ban for %s", userID)
		}
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "get ban")
	}
	b.Kind = BanKind(kind)
	b.Status = BanStatus(status)
	b.BlockedAt = time.Unix(blocked, 0)
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		b.ExpiresAt = &t
	}
	return &b, nil
}

// ActiveBan returns the user's ban iff it is in force at now.
func (s *Store) ActiveBan(userID string, now time.Time) (*Ban, error) {
	b, err := s.GetBan(userID)
	if err != nil {
		if errors.GetKind(err) == errors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !b.Active(now) {
		return nil, nil
	}
	return b, nil
}

// LiftBan removes the ban from force by admin action.
func (s *Store) LiftBan(userID string) error {
	res, err := s.db.Exec(`
		UPDATE bans SET status = ? WHERE user_id = ? AND status = ?`,
		string(BanLifted), userID, string(BanBlocked))
	if err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "lift ban")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "no active ban for %s", userID)
	}
	return nil
}

// ExpireBans transitions every temporary ban whose expiry has passed to
// status=expired and returns the affected user ids. Access is not restored
// here: the user must log in again.
func (s *Store) ExpireBans(now time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT user_id FROM bans
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(BanBlocked), now.Unix())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "query expirable bans")
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan ban")
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "iterate bans")
	}

	if len(expired) > 0 {
		_, err = s.db.Exec(`
			UPDATE bans SET status = ?
			WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
			string(BanExpired), string(BanBlocked), now.Unix())
		if err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "expire bans")
		}
	}
	return expired, nil
}

// ActiveBannedUsers returns the ids of every user with a ban in force.
func (s *Store) ActiveBannedUsers(now time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT user_id FROM bans
		WHERE status = ? AND (expires_at IS NULL OR expires_at > ?)`,
		string(BanBlocked), now.Unix())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "query banned users")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan banned user")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
