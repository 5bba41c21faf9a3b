// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/campusgate/internal/classify"
	"grimm.is/campusgate/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "campusgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsers_CreateGetConflict(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	u := User{UserID: "alice", PwHash: "$2a$10$x", Role: RoleStudent, Tier: "standard", CreatedAt: now}
	require.NoError(t, s.CreateUser(u))

	got, err := s.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, RoleStudent, got.Role)
	assert.True(t, got.CreatedAt.Equal(now))

	err = s.CreateUser(u)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))

	_, err = s.GetUser("nobody")
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestSessions_OneActivePerUserAndIP(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	require.NoError(t, s.CreateUser(User{UserID: "alice", Role: RoleStudent, CreatedAt: now}))
	require.NoError(t, s.CreateUser(User{UserID: "bob", Role: RoleStudent, CreatedAt: now}))

	_, err := s.UpsertActiveSession("alice", "192.168.50.10", now)
	require.NoError(t, err)

	t.Run("relogin moves the user's binding", func(t *testing.T) {
		_, err := s.UpsertActiveSession("alice", "192.168.50.11", now.Add(time.Minute))
		require.NoError(t, err)

		sess, err := s.ActiveSessionByUser("alice")
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "192.168.50.11", sess.ClientIP)

		old, err := s.ActiveSessionByIP("192.168.50.10")
		require.NoError(t, err)
		assert.Nil(t, old)
	})

	t.Run("new user on a reused lease displaces the old one", func(t *testing.T) {
		_, err := s.UpsertActiveSession("bob", "192.168.50.11", now.Add(2*time.Minute))
		require.NoError(t, err)

		sess, err := s.ActiveSessionByIP("192.168.50.11")
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "bob", sess.UserID)

		alice, err := s.ActiveSessionByUser("alice")
		require.NoError(t, err)
		assert.Nil(t, alice)
	})

	t.Run("deactivate then list", func(t *testing.T) {
		require.NoError(t, s.DeactivateSession("bob"))
		active, err := s.ActiveSessions()
		require.NoError(t, err)
		assert.Empty(t, active)

		rec, err := s.SessionByUser("bob")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, SessionInactive, rec.State)
	})
}

func TestBans_PermanentNotDowngraded(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	perm := Ban{
		UserID: "mallory", Kind: BanPermanent, Confidence: 0.97,
		Reason: "sustained entertainment traffic", BlockedAt: now, Status: BanBlocked,
	}
	require.NoError(t, s.UpsertBan(perm, now))

	exp := now.Add(24 * time.Hour)
	temp := Ban{
		UserID: "mallory", Kind: BanTemporary, Confidence: 0.80,
		Reason: "repeat offense", BlockedAt: now.Add(time.Hour), ExpiresAt: &exp, Status: BanBlocked,
	}
	require.NoError(t, s.UpsertBan(temp, now.Add(time.Hour)))

	got, err := s.GetBan("mallory")
	require.NoError(t, err)
	assert.Equal(t, BanPermanent, got.Kind)
	assert.Nil(t, got.ExpiresAt)
}

func TestBans_ExpiryAndLift(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)
	exp := now.Add(24 * time.Hour)

	require.NoError(t, s.UpsertBan(Ban{
		UserID: "carol", Kind: BanTemporary, Confidence: 0.8,
		Reason: "heavy streaming", BlockedAt: now, ExpiresAt: &exp, Status: BanBlocked,
	}, now))

	t.Run("in force before expiry", func(t *testing.T) {
		b, err := s.ActiveBan("carol", now.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, b)
	})

	t.Run("sweep past expiry", func(t *testing.T) {
		expired, err := s.ExpireBans(exp.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, []string{"carol"}, expired)

		b, err := s.ActiveBan("carol", exp.Add(time.Second))
		require.NoError(t, err)
		assert.Nil(t, b)

		// Second sweep finds nothing.
		expired, err = s.ExpireBans(exp.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("lift requires an active ban", func(t *testing.T) {
		err := s.LiftBan("carol")
		assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

		require.NoError(t, s.UpsertBan(Ban{
			UserID: "dave", Kind: BanPermanent, Confidence: 0.99,
			Reason: "manual", BlockedAt: now, Status: BanBlocked,
		}, now))
		require.NoError(t, s.LiftBan("dave"))

		b, err := s.ActiveBan("dave", now)
		require.NoError(t, err)
		assert.Nil(t, b)
	})
}

func TestDetections_BatchDedupe(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	batch := []Detection{
		{TS: now, UserID: "alice", ClientIP: "192.168.50.10", Hostname: "youtube.com", App: "YouTube", Category: classify.CategoryVideo, Score: 1},
		{TS: now, UserID: "alice", ClientIP: "192.168.50.10", Hostname: "youtube.com", App: "YouTube", Category: classify.CategoryVideo, Score: 1},
		{TS: now, UserID: "bob", ClientIP: "192.168.50.11", Hostname: "youtube.com", App: "YouTube", Category: classify.CategoryVideo, Score: 1},
		{TS: now, UserID: "alice", ClientIP: "192.168.50.10", Hostname: "instagram.com", App: "Instagram", Category: classify.CategorySocial, Score: 1},
	}
	n, err := s.InsertDetections(batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recent, err := s.RecentDetections("alice", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestFeatureRows_ExcludesGeneral(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	var batch []Detection
	add := func(user, ip, host string, cat classify.Category, n int) {
		for i := 0; i < n; i++ {
			batch = append(batch, Detection{
				TS: now, UserID: user, ClientIP: ip,
				Hostname: host + string(rune('a'+i%26)) + ".example", Category: cat,
			})
		}
	}
	add("alice", "192.168.50.10", "vid", classify.CategoryVideo, 5)
	add("alice", "192.168.50.10", "soc", classify.CategorySocial, 3)
	add("alice", "192.168.50.10", "gen", classify.CategoryGeneral, 7)
	add("bob", "192.168.50.11", "game", classify.CategoryGaming, 2)
	add("carol", "192.168.50.12", "vid", classify.CategoryVideo, 4)

	_, err := s.InsertDetections(batch)
	require.NoError(t, err)

	// Only users with an active session are aggregated; carol logged out.
	_, err = s.UpsertActiveSession("alice", "192.168.50.10", now)
	require.NoError(t, err)
	_, err = s.UpsertActiveSession("bob", "192.168.50.11", now)
	require.NoError(t, err)

	rows, err := s.FeatureRows(now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byUser := map[string]FeatureRow{}
	for _, r := range rows {
		byUser[r.UserID] = r
	}
	assert.Equal(t, 8, byUser["alice"].Total)
	assert.Equal(t, 5, byUser["alice"].Video)
	assert.Equal(t, 3, byUser["alice"].Social)
	assert.Equal(t, 2, byUser["bob"].Total)
	assert.Equal(t, 2, byUser["bob"].Gaming)
}

func TestDetections_Prune(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	_, err := s.InsertDetections([]Detection{
		{TS: now.Add(-48 * time.Hour), UserID: "alice", ClientIP: "192.168.50.10", Hostname: "old.example", Category: classify.CategoryGeneral},
		{TS: now, UserID: "alice", ClientIP: "192.168.50.10", Hostname: "new.example", Category: classify.CategoryGeneral},
	})
	require.NoError(t, err)

	removed, err := s.PruneDetections(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := s.DetectionCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPolicy_SingletonRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetPolicyJSON()
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	require.NoError(t, s.SavePolicyJSON([]byte(`{"v":1}`)))
	require.NoError(t, s.SavePolicyJSON([]byte(`{"v":2}`)))

	data, err := s.GetPolicyJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))
}

func TestDeviceNames(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	require.NoError(t, s.UpsertDeviceName("192.168.50.10", "redmi-note-9", now))
	require.NoError(t, s.UpsertDeviceName("192.168.50.10", "alices-laptop", now.Add(time.Hour)))
	require.NoError(t, s.UpsertDeviceName("192.168.50.11", "", now)) // ignored

	name, err := s.DeviceName("192.168.50.10")
	require.NoError(t, err)
	assert.Equal(t, "alices-laptop", name)

	all, err := s.DeviceNames()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
