// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/policy"
)

type fakeRunner struct {
	applied  []string
	failNext int
	deleted  int
}

func (f *fakeRunner) Apply(_ context.Context, script string) error {
	if f.failNext > 0 {
		f.failNext--
		return errors.New(errors.KindFilterInstall, "nft exploded")
	}
	f.applied = append(f.applied, script)
	return nil
}

func (f *fakeRunner) DeleteTable(_ context.Context, _, _ string) error {
	f.deleted++
	return nil
}

func (f *fakeRunner) last() string {
	if len(f.applied) == 0 {
		return ""
	}
	return f.applied[len(f.applied)-1]
}

type fakeResolver struct {
	answers map[string][]string
	fail    map[string]bool
}

func (f *fakeResolver) ResolveIPv4(_ context.Context, host string) ([]string, error) {
	if f.fail[host] {
		return nil, errors.Errorf(errors.KindResolution, "resolve %s", host)
	}
	ips, ok := f.answers[host]
	if !ok || len(ips) == 0 {
		return nil, errors.Errorf(errors.KindResolution, "%s resolved to no IPv4 addresses", host)
	}
	return ips, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRunner, *fakeResolver) {
	t.Helper()
	runner := &fakeRunner{}
	resolver := &fakeResolver{answers: map[string][]string{}, fail: map[string]bool{}}
	cfg := Config{
		HotspotInterface: "wlan0",
		UplinkInterface:  "eth0",
		PortalIP:         "192.168.50.1",
		PortalPort:       8080,
		CommandTimeout:   5 * time.Second,
	}
	logger := logging.New(logging.Config{Level: "error"})
	e := NewEngine(cfg, runner, resolver, metrics.New(), logger)
	return e, runner, resolver
}

func blockingPolicy(hosts ...string) *policy.Config {
	cfg := policy.Default()
	cfg.ManualBlocks = hosts
	for name, rule := range cfg.Categories {
		rule.Active = false
		cfg.Categories[name] = rule
	}
	return cfg
}

func TestInstallBase_Script(t *testing.T) {
	e, runner, _ := newTestEngine(t)
	require.NoError(t, e.InstallBase(context.Background()))

	script := runner.last()
	assert.Contains(t, script, "add table ip campusgate")
	assert.Contains(t, script, "type filter hook forward priority 0; policy drop;")
	assert.Contains(t, script, "ip daddr { 8.8.8.8, 8.8.4.4, 1.1.1.1, 1.0.0.1 } drop")
	assert.Contains(t, script, `tcp dport 80 redirect to :8080`)
	assert.Contains(t, script, `oifname "eth0" masquerade`)
	assert.Contains(t, script, "udp dport { 67, 68 } accept")

	// Re-install applies the same script; the flush-chain prologue makes it
	// a no-op ruleset-wise.
	require.NoError(t, e.InstallBase(context.Background()))
	assert.Equal(t, runner.applied[0], runner.applied[1])
}

func TestForwardOrdering_DenyBeforeAllow(t *testing.T) {
	e, runner, resolver := newTestEngine(t)
	resolver.answers["blocked.example"] = []string{"203.0.113.7"}

	require.NoError(t, e.InstallBase(context.Background()))
	require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("blocked.example")))
	require.NoError(t, e.AllowClient(context.Background(), "192.168.50.10"))

	script := runner.last()
	jump := strings.Index(script, "add rule ip campusgate forward jump global_deny")
	allow := strings.Index(script, "ip saddr 192.168.50.10 accept")
	require.NotEqual(t, -1, jump)
	require.NotEqual(t, -1, allow)
	assert.Less(t, jump, allow, "deny jump must precede client accepts")

	assert.Contains(t, script, "ip daddr @blocked_v4 tcp dport 443 drop")
	assert.Contains(t, script, "ip daddr @blocked_v4 udp dport 443 drop")
	assert.Contains(t, script, "add element ip campusgate blocked_v4 { 203.0.113.7 }")
}

func TestAllowDenyClient_Idempotent(t *testing.T) {
	e, runner, _ := newTestEngine(t)
	require.NoError(t, e.InstallBase(context.Background()))
	applies := len(runner.applied)

	require.NoError(t, e.AllowClient(context.Background(), "192.168.50.10"))
	require.NoError(t, e.AllowClient(context.Background(), "192.168.50.10"))
	assert.Len(t, runner.applied, applies+1, "duplicate allow must not touch the kernel")
	assert.Equal(t, []string{"192.168.50.10"}, e.AllowedClients())

	require.NoError(t, e.DenyClient(context.Background(), "192.168.50.10"))
	require.NoError(t, e.DenyClient(context.Background(), "192.168.50.10"))
	assert.Len(t, runner.applied, applies+2)
	assert.Empty(t, e.AllowedClients())
	assert.NotContains(t, runner.last(), "192.168.50.10")
}

func TestAllowClient_FailureRollsBackState(t *testing.T) {
	e, runner, _ := newTestEngine(t)
	require.NoError(t, e.InstallBase(context.Background()))

	runner.failNext = 2 // first try and the retry
	err := e.AllowClient(context.Background(), "192.168.50.10")
	require.Error(t, err)
	assert.Equal(t, errors.KindFilterInstall, errors.GetKind(err))
	assert.Empty(t, e.AllowedClients())
}

func TestApply_RetriesOnce(t *testing.T) {
	e, runner, _ := newTestEngine(t)
	runner.failNext = 1
	require.NoError(t, e.InstallBase(context.Background()))
	assert.Len(t, runner.applied, 1)
}

func TestSyncPolicy_KeepsLastKnownGoodOnFailure(t *testing.T) {
	e, runner, resolver := newTestEngine(t)
	resolver.answers["blocked.example"] = []string{"203.0.113.7", "203.0.113.8"}

	require.NoError(t, e.InstallBase(context.Background()))
	require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("blocked.example")))

	t.Run("resolution failure retains previous set", func(t *testing.T) {
		resolver.fail["blocked.example"] = true
		require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("blocked.example")))
		assert.Contains(t, runner.last(), "203.0.113.7")
		assert.Contains(t, runner.last(), "203.0.113.8")
	})

	t.Run("fresh smaller set wins", func(t *testing.T) {
		resolver.fail["blocked.example"] = false
		resolver.answers["blocked.example"] = []string{"203.0.113.9"}
		require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("blocked.example")))
		assert.Contains(t, runner.last(), "203.0.113.9")
		assert.NotContains(t, runner.last(), "203.0.113.7")
	})

	t.Run("hostname removed from policy is dropped", func(t *testing.T) {
		require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy()))
		assert.NotContains(t, runner.last(), "203.0.113.9")
		assert.Empty(t, e.BlockedHostIPs())
	})

	t.Run("never-resolved hostname is skipped", func(t *testing.T) {
		require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("ghost.example")))
		assert.NotContains(t, runner.last(), "ghost.example")
	})
}

func TestRefreshIPs(t *testing.T) {
	e, runner, resolver := newTestEngine(t)
	resolver.answers["blocked.example"] = []string{"203.0.113.7"}

	require.NoError(t, e.InstallBase(context.Background()))
	require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("blocked.example")))
	applies := len(runner.applied)

	t.Run("no change, no apply", func(t *testing.T) {
		changed, err := e.RefreshIPs(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Len(t, runner.applied, applies)
	})

	t.Run("changed set rewrites", func(t *testing.T) {
		resolver.answers["blocked.example"] = []string{"203.0.113.20"}
		changed, err := e.RefreshIPs(context.Background())
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Contains(t, runner.last(), "203.0.113.20")
		assert.NotContains(t, runner.last(), "203.0.113.7")
	})

	t.Run("failure keeps previous set", func(t *testing.T) {
		resolver.fail["blocked.example"] = true
		changed, err := e.RefreshIPs(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, map[string][]string{
			"blocked.example": {"203.0.113.20"},
		}, e.BlockedHostIPs())
	})
}

func TestResetAll(t *testing.T) {
	e, runner, resolver := newTestEngine(t)
	resolver.answers["blocked.example"] = []string{"203.0.113.7"}

	require.NoError(t, e.InstallBase(context.Background()))
	require.NoError(t, e.SyncPolicy(context.Background(), blockingPolicy("blocked.example")))
	require.NoError(t, e.AllowClient(context.Background(), "192.168.50.10"))

	require.NoError(t, e.ResetAll(context.Background()))
	assert.Equal(t, 1, runner.deleted)
	assert.Empty(t, e.AllowedClients())
	assert.Empty(t, e.BlockedHostIPs())
	assert.NotContains(t, runner.last(), "192.168.50.10")
	// Baseline still denies by default and blocks DNS bypass.
	assert.Contains(t, runner.last(), "policy drop;")
	assert.Contains(t, runner.last(), "8.8.8.8")
}
