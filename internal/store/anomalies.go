// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/campusgate/internal/errors"
)

// InsertAnomaly persists an anomaly-engine finding.
func (s *Store) InsertAnomaly(a Anomaly) error {
	_, err := s.db.Exec(`
		INSERT INTO anomalies (id, user_id, ts, confidence, severity, reason, features, model_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.TS.Unix(), a.Confidence, a.Severity, a.Reason, a.Features, a.ModelTag,
	)
	return errors.Wrap(err, errors.KindStoreUnavailable, "insert anomaly")
}

// AnomaliesByUser returns a user's findings newest-first.
func (s *Store) AnomaliesByUser(userID string, limit int) ([]Anomaly, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, ts, confidence, severity, reason, features, model_tag
		FROM anomalies WHERE user_id = ?
		ORDER BY ts DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "query anomalies")
	}
	defer rows.Close()
	return scanAnomalies(rows)
}

// RecentAnomalies returns findings since the cutoff, newest-first.
func (s *Store) RecentAnomalies(since time.Time, limit int) ([]Anomaly, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, ts, confidence, severity, reason, features, model_tag
		FROM anomalies WHERE ts >= ?
		ORDER BY ts DESC LIMIT ?`, since.Unix(), limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "query anomalies")
	}
	defer rows.Close()
	return scanAnomalies(rows)
}

func scanAnomalies(rows *sql.Rows) ([]Anomaly, error) {
	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		var ts int64
		if err := rows.Scan(&a.ID, &a.UserID, &ts, &a.Confidence, &a.Severity, &a.Reason, &a.Features, &a.ModelTag); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan anomaly")
		}
		a.TS = time.Unix(ts, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}
