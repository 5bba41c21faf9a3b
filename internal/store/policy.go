// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"

	"grimm.is/campusgate/internal/errors"
)

// GetPolicyJSON returns the persisted policy snapshot, or KindNotFound if
// none has been saved yet.
func (s *Store) GetPolicyJSON() ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM policy WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.KindNotFound, "no policy saved")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "get policy")
	}
	return data, nil
}

// SavePolicyJSON replaces the persisted policy snapshot.
func (s *Store) SavePolicyJSON(data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO policy (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, data)
	return errors.Wrap(err, errors.KindStoreUnavailable, "save policy")
}
