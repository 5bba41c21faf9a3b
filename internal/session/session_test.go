// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/campusgate/internal/clock"
	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/store"
)

type fakeProber struct {
	alive map[string]bool
}

func (f *fakeProber) Reachable(ip string, _ time.Duration) bool { return f.alive[ip] }

func newTestManager(t *testing.T) (*Manager, *store.Store, *clock.Mock, *fakeProber) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "campusgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewMock(time.Unix(1700000000, 0))
	prober := &fakeProber{alive: map[string]bool{}}
	logger := logging.New(logging.Config{Level: "error"})
	m := NewManager(st, clk, prober, 2*time.Second, metrics.New(), logger)
	return m, st, clk, prober
}

func mustCreateUser(t *testing.T, st *store.Store, id, password string) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(store.User{
		UserID: id, PwHash: hash, Role: store.RoleStudent,
		Tier: "standard", CreatedAt: time.Unix(1700000000, 0),
	}))
}

func TestLogin(t *testing.T) {
	m, st, clk, _ := newTestManager(t)
	mustCreateUser(t, st, "alice", "hunter22")

	t.Run("success binds ip", func(t *testing.T) {
		sess, err := m.Login("alice", "hunter22", "192.168.50.10")
		require.NoError(t, err)
		assert.Equal(t, "192.168.50.10", sess.ClientIP)

		user, err := m.LookupUser("192.168.50.10")
		require.NoError(t, err)
		assert.Equal(t, "alice", user)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := m.Login("alice", "wrong", "192.168.50.10")
		assert.Equal(t, errors.KindNotAuthenticated, errors.GetKind(err))
	})

	t.Run("unknown user looks like bad credentials", func(t *testing.T) {
		_, err := m.Login("nobody", "hunter22", "192.168.50.10")
		assert.Equal(t, errors.KindNotAuthenticated, errors.GetKind(err))
	})

	t.Run("banned account is rejected", func(t *testing.T) {
		exp := clk.Now().Add(24 * time.Hour)
		require.NoError(t, m.InsertBan(store.Ban{
			UserID: "alice", Kind: store.BanTemporary, Confidence: 0.8,
			Reason: "Excessive video (47%)", BlockedAt: clk.Now(),
			ExpiresAt: &exp, Status: store.BanBlocked,
		}))
		_, err := m.Login("alice", "hunter22", "192.168.50.10")
		assert.Equal(t, errors.KindBanned, errors.GetKind(err))
	})

	t.Run("temporary ban lapses with the clock", func(t *testing.T) {
		clk.Advance(25 * time.Hour)
		_, err := m.Login("alice", "hunter22", "192.168.50.10")
		require.NoError(t, err)
	})
}

func TestLookupUser_BannedResolvesToNone(t *testing.T) {
	m, st, clk, _ := newTestManager(t)
	mustCreateUser(t, st, "bob", "hunter22")

	_, err := m.Login("bob", "hunter22", "192.168.50.20")
	require.NoError(t, err)

	// Ban written directly to the store so the session stays active:
	// attribution must fail on the ban alone.
	require.NoError(t, st.UpsertBan(store.Ban{
		UserID: "bob", Kind: store.BanPermanent, Confidence: 0.97,
		Reason: "sustained entertainment traffic", BlockedAt: clk.Now(),
		Status: store.BanBlocked,
	}, clk.Now()))

	user, err := m.LookupUser("192.168.50.20")
	require.NoError(t, err)
	assert.Empty(t, user)

	banned, err := m.IsBanned("bob")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestLogoutAndActiveIPs(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	mustCreateUser(t, st, "alice", "hunter22")
	mustCreateUser(t, st, "bob", "hunter22")

	_, err := m.Login("alice", "hunter22", "192.168.50.10")
	require.NoError(t, err)
	_, err = m.Login("bob", "hunter22", "192.168.50.11")
	require.NoError(t, err)

	ips, err := m.AllActiveIPs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"192.168.50.10", "192.168.50.11"}, ips)

	require.NoError(t, m.Logout("alice"))
	ips, err = m.AllActiveIPs()
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.50.11"}, ips)

	user, err := m.LookupUser("192.168.50.10")
	require.NoError(t, err)
	assert.Empty(t, user)
}

func TestSweepLiveness(t *testing.T) {
	m, st, _, prober := newTestManager(t)
	mustCreateUser(t, st, "alice", "hunter22")
	mustCreateUser(t, st, "bob", "hunter22")

	_, err := m.Login("alice", "hunter22", "192.168.50.10")
	require.NoError(t, err)
	_, err = m.Login("bob", "hunter22", "192.168.50.11")
	require.NoError(t, err)

	prober.alive["192.168.50.10"] = true // alice answers, bob does not

	var denied []string
	reaped, err := m.SweepLiveness(func(ip string) error {
		denied = append(denied, ip)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.50.11"}, reaped)
	assert.Equal(t, []string{"192.168.50.11"}, denied)

	ips, err := m.AllActiveIPs()
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.50.10"}, ips)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.ProbeFailures))
}

func TestInsertBan_ClosesSession(t *testing.T) {
	m, st, clk, _ := newTestManager(t)
	mustCreateUser(t, st, "mallory", "hunter22")

	_, err := m.Login("mallory", "hunter22", "192.168.50.30")
	require.NoError(t, err)

	require.NoError(t, m.InsertBan(store.Ban{
		UserID: "mallory", Kind: store.BanPermanent, Confidence: 0.97,
		Reason: "Gaming detected", BlockedAt: clk.Now(), Status: store.BanBlocked,
	}))

	sessions, err := m.ActiveSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions, "a banned user holds no binding")

	ips, err := m.AllActiveIPs()
	require.NoError(t, err)
	assert.NotContains(t, ips, "192.168.50.30")
}

func TestAllActiveIPs_ExcludesBannedSession(t *testing.T) {
	m, st, clk, _ := newTestManager(t)
	mustCreateUser(t, st, "alice", "hunter22")
	mustCreateUser(t, st, "mallory", "hunter22")

	_, err := m.Login("alice", "hunter22", "192.168.50.10")
	require.NoError(t, err)
	_, err = m.Login("mallory", "hunter22", "192.168.50.30")
	require.NoError(t, err)

	// Ban written directly to the store, session left active: the rebuild
	// path must still refuse to re-allow the banned user's IP.
	require.NoError(t, st.UpsertBan(store.Ban{
		UserID: "mallory", Kind: store.BanPermanent, Confidence: 0.97,
		Reason: "Gaming detected", BlockedAt: clk.Now(), Status: store.BanBlocked,
	}, clk.Now()))

	ips, err := m.AllActiveIPs()
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.50.10"}, ips)
}

func TestExpireBans(t *testing.T) {
	m, st, clk, _ := newTestManager(t)
	mustCreateUser(t, st, "carol", "hunter22")

	exp := clk.Now().Add(24 * time.Hour)
	require.NoError(t, m.InsertBan(store.Ban{
		UserID: "carol", Kind: store.BanTemporary, Confidence: 0.8,
		Reason: "heavy streaming", BlockedAt: clk.Now(),
		ExpiresAt: &exp, Status: store.BanBlocked,
	}))

	expired, err := m.ExpireBans()
	require.NoError(t, err)
	assert.Empty(t, expired)

	clk.Advance(25 * time.Hour)
	expired, err = m.ExpireBans()
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, expired)

	banned, err := m.IsBanned("carol")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short")
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
}
