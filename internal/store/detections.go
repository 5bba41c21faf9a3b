// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"time"

	"grimm.is/campusgate/internal/classify"
	"grimm.is/campusgate/internal/errors"
)

// InsertDetections appends a batch of detection records. Within the batch,
// only the first record per (user_id, hostname) pair is kept; bursty
// resolutions of one hostname must not dominate the aggregates. Returns the
// number of rows written.
func (s *Store) InsertDetections(batch []Detection) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	type key struct{ user, hostname string }
	seen := make(map[key]bool, len(batch))

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "begin detection batch")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (ts, user_id, client_ip, hostname, app, category, score, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "prepare detection insert")
	}
	defer stmt.Close()

	written := 0
	for _, d := range batch {
		k := key{d.UserID, d.Hostname}
		if seen[k] {
			continue
		}
		seen[k] = true

		if _, err := stmt.Exec(
			d.TS.Unix(), d.UserID, d.ClientIP, d.Hostname,
			d.App, string(d.Category), d.Score, d.Reason,
		); err != nil {
			return 0, errors.Wrap(err, errors.KindStoreUnavailable, "insert detection")
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "commit detection batch")
	}
	return written, nil
}

// RecentDetections returns detections for a user newest-first.
func (s *Store) RecentDetections(userID string, limit int) ([]Detection, error) {
	rows, err := s.db.Query(`
		SELECT ts, user_id, client_ip, hostname, app, category, score, reason
		FROM detections WHERE user_id = ?
		ORDER BY ts DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "query detections")
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var ts int64
		var cat string
		if err := rows.Scan(&ts, &d.UserID, &d.ClientIP, &d.Hostname, &d.App, &cat, &d.Score, &d.Reason); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan detection")
		}
		d.TS = time.Unix(ts, 0)
		d.Category = classify.Category(cat)
		out = append(out, d)
	}
	return out, rows.Err()
}

// FeatureRows aggregates per-user category counts over [since, now],
// excluding category=general, the background noise bucket. Only users with
// an active session appear; the reported client_ip is the session's current
// binding, which is where a deny rule would land.
func (s *Store) FeatureRows(since time.Time) ([]FeatureRow, error) {
	rows, err := s.db.Query(`
		SELECT d.user_id,
		       sess.client_ip,
		       COUNT(*) AS total,
		       SUM(CASE WHEN d.category = 'video' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN d.category = 'social' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN d.category = 'messaging' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN d.category = 'gaming' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN d.category = 'search' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN d.category = 'system' THEN 1 ELSE 0 END)
		FROM detections d
		JOIN sessions sess ON sess.user_id = d.user_id AND sess.state = 'active'
		WHERE d.ts >= ? AND d.category != 'general' AND d.user_id != ''
		GROUP BY d.user_id, sess.client_ip`, since.Unix())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "aggregate detections")
	}
	defer rows.Close()

	var out []FeatureRow
	for rows.Next() {
		var r FeatureRow
		if err := rows.Scan(&r.UserID, &r.ClientIP, &r.Total,
			&r.Video, &r.Social, &r.Messaging, &r.Gaming, &r.Search, &r.System); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan feature row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneDetections deletes records older than the cutoff and returns the
// number removed.
func (s *Store) PruneDetections(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM detections WHERE ts < ?`, before.Unix())
	if err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "prune detections")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DetectionCount returns the total number of stored detections.
func (s *Store) DetectionCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n)
	return n, errors.Wrap(err, errors.KindStoreUnavailable, "count detections")
}
