// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/campusgate/internal/errors"
)

// UpsertDeviceName records the hostname a client announced over DHCP.
func (s *Store) UpsertDeviceName(clientIP, name string, now time.Time) error {
	if name == "" {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO device_names (client_ip, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(client_ip) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		clientIP, name, now.Unix())
	return errors.Wrap(err, errors.KindStoreUnavailable, "upsert device name")
}

// DeviceName returns the last announced hostname for a client IP, or "".
func (s *Store) DeviceName(clientIP string) (string, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM device_names WHERE client_ip = ?`, clientIP).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.Wrap(err, errors.KindStoreUnavailable, "get device name")
	}
	return name, nil
}

// DeviceNames returns every recorded client hostname keyed by IP.
func (s *Store) DeviceNames() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT client_ip, name FROM device_names`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "list device names")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var ip, name string
		if err := rows.Scan(&ip, &name); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan device name")
		}
		out[ip] = name
	}
	return out, rows.Err()
}
