// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"strings"
	"time"

	"grimm.is/campusgate/internal/errors"
)

// CreateUser inserts a new account. Fails with KindConflict if the user_id
// already exists.
func (s *Store) CreateUser(u User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, pw_hash, role, tier, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.UserID, u.PwHash, string(u.Role), u.Tier, u.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Errorf(errors.KindConflict, "user %s already exists", u.UserID)
		}
		return errors.Wrap(err, errors.KindStoreUnavailable, "create user")
	}
	return nil
}

// GetUser fetches an account by id.
func (s *Store) GetUser(userID string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT user_id, pw_hash, role, tier, created_at
		FROM users WHERE user_id = ?`, userID)

	var u User
	var role string
	var created int64
	if err := row.Scan(&u.UserID, &u.PwHash, &role, &u.Tier, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Errorf(errors.KindNotFound, "user %s not found", userID)
		}
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "get user")
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(created, 0)
	return &u, nil
}

// ListUsers returns all accounts ordered by id.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT user_id, pw_hash, role, tier, created_at
		FROM users ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var role string
		var created int64
		if err := rows.Scan(&u.UserID, &u.PwHash, &role, &u.Tier, &created); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan user")
		}
		u.Role = Role(role)
		u.CreatedAt = time.Unix(created, 0)
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserTier changes the bandwidth tier of an account.
func (s *Store) UpdateUserTier(userID, tier string) error {
	res, err := s.db.Exec(`UPDATE users SET tier = ? WHERE user_id = ?`, tier, userID)
	if err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "update tier")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "user %s not found", userID)
	}
	return nil
}

// DeleteUser removes an account and its session record.
func (s *Store) DeleteUser(userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "begin delete user")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "delete session")
	}
	res, err := tx.Exec(`DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "delete user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "user %s not found", userID)
	}
	return errors.Wrap(tx.Commit(), errors.KindStoreUnavailable, "commit delete user")
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text;
	// there is no exported errno to match on.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
