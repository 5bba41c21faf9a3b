// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filter owns the kernel packet-filter state. All mutations go
// through the Engine, which regenerates the full campusgate nftables table
// from its in-memory desired state and applies it as one transaction. The
// forward chain evaluates deny rules before per-client accepts before the
// drop policy; nothing else in the daemon writes to nftables.
package filter

import (
	"context"
	"sync"
	"time"

	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/policy"
)

const (
	tableName = "campusgate"
	family    = "ip"

	chainForward     = "forward"
	chainGlobalDeny  = "global_deny"
	chainPrerouting  = "prerouting"
	chainPostrouting = "postrouting"
	chainInput       = "input"

	setBlocked = "blocked_v4"
)

// Public recursive resolvers clients use to sidestep the local one. Denied
// unconditionally so DNS-level blocking cannot be bypassed.
var publicDNS = []string{"8.8.8.8", "8.8.4.4", "1.1.1.1", "1.0.0.1"}

// Config is the static network shape the engine builds rules for.
type Config struct {
	HotspotInterface string
	UplinkInterface  string
	PortalIP         string
	PortalPort       int
	CommandTimeout   time.Duration
}

// Engine is the single writer of campusgate filter rules. Desired state
// lives in memory; every mutation rebuilds the whole table script and
// applies it atomically, so rule order is fixed by construction and every
// operation is idempotent.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	runner   Runner
	resolver Resolver
	logger   *logging.Logger
	metrics  *metrics.Metrics

	// hostname -> last successfully resolved IPv4 set. Retained across
	// failed re-resolutions so a flaky resolver never fails open.
	resolved map[string][]string
	// client IPs with an allow rule installed.
	allowed map[string]bool
	// whether InstallBase has succeeded.
	installed bool
}

func NewEngine(cfg Config, runner Runner, resolver Resolver, m *metrics.Metrics, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		runner:   runner,
		resolver: resolver,
		logger:   logger.With("component", "filter"),
		metrics:  m,
		resolved: make(map[string][]string),
		allowed:  make(map[string]bool),
	}
}

// InstallBase installs NAT, portal redirection, the deny chain, and the
// drop-by-default forward chain, with no client allows and no blocked IPs.
// Idempotent; must succeed before any other operation.
func (e *Engine) InstallBase(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.apply(ctx); err != nil {
		return err
	}
	e.installed = true
	e.logger.Info("base ruleset installed",
		"hotspot", e.cfg.HotspotInterface, "uplink", e.cfg.UplinkInterface)
	return nil
}

// SyncPolicy resolves every blocked hostname of the given policy and
// rewrites the deny set. Hostnames that fail to resolve keep their previous
// IPs; hostnames dropped from the policy are removed. The swap is atomic
// from a client's perspective.
func (e *Engine) SyncPolicy(ctx context.Context, cfg *policy.Config) error {
	start := time.Now()

	hostnames := cfg.BlockedHostnames()

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string][]string, len(hostnames))
	for _, host := range hostnames {
		ips, err := e.resolver.ResolveIPv4(ctx, host)
		if err != nil {
			if prev, ok := e.resolved[host]; ok {
				e.logger.Warn("resolution failed, keeping previous IPs",
					"hostname", host, "previous", len(prev), "error", err)
				next[host] = prev
			} else {
				e.logger.Warn("resolution failed, hostname skipped", "hostname", host, "error", err)
			}
			continue
		}
		next[host] = ips
	}

	e.resolved = next
	if err := e.apply(ctx); err != nil {
		e.metrics.FilterSyncFailures.Inc()
		return err
	}

	e.metrics.FilterSyncsTotal.Inc()
	e.metrics.FilterSyncDuration.Observe(time.Since(start).Seconds())
	e.metrics.BlockedIPCount.Set(float64(len(e.blockedIPs())))
	e.logger.Info("policy synced",
		"hostnames", len(hostnames), "blocked_ips", len(e.blockedIPs()),
		"elapsed", time.Since(start))
	return nil
}

// AllowClient installs the forward accept for a client IP. Idempotent. A
// failure leaves the client unallowed; the caller must fail the login.
func (e *Engine) AllowClient(ctx context.Context, ip string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.allowed[ip] {
		return nil
	}
	e.allowed[ip] = true
	if err := e.apply(ctx); err != nil {
		delete(e.allowed, ip)
		return errors.Wrapf(err, errors.KindFilterInstall, "allow %s", ip)
	}
	e.logger.Info("client allowed", "client_ip", ip)
	return nil
}

// DenyClient removes a client's accept rule. Idempotent if absent.
func (e *Engine) DenyClient(ctx context.Context, ip string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed[ip] {
		return nil
	}
	delete(e.allowed, ip)
	if err := e.apply(ctx); err != nil {
		e.allowed[ip] = true
		return errors.Wrapf(err, errors.KindFilterInstall, "deny %s", ip)
	}
	e.logger.Info("client denied", "client_ip", ip)
	return nil
}

// RefreshIPs re-resolves every currently blocked hostname and rewrites the
// deny set if any address changed. Fresh resolutions win; failures keep the
// previous set.
func (e *Engine) RefreshIPs(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for host, prev := range e.resolved {
		ips, err := e.resolver.ResolveIPv4(ctx, host)
		if err != nil {
			e.logger.Warn("refresh resolution failed, keeping previous IPs",
				"hostname", host, "error", err)
			continue
		}
		if !equalStrings(prev, ips) {
			e.resolved[host] = ips
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	if err := e.apply(ctx); err != nil {
		return false, err
	}
	e.metrics.BlockedIPCount.Set(float64(len(e.blockedIPs())))
	e.logger.Info("blocked IPs refreshed", "blocked_ips", len(e.blockedIPs()))
	return true, nil
}

// ResetAll tears down the campusgate table and reinstalls the base ruleset
// with no allows and no blocks. Recovery path.
func (e *Engine) ResetAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resolved = make(map[string][]string)
	e.allowed = make(map[string]bool)

	if err := e.runner.DeleteTable(ctx, family, tableName); err != nil {
		return err
	}
	if err := e.apply(ctx); err != nil {
		return err
	}
	e.metrics.BlockedIPCount.Set(0)
	e.logger.Warn("filter state reset")
	return nil
}

// AllowedClients returns the IPs currently holding an allow rule.
func (e *Engine) AllowedClients() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.allowed))
	for ip := range e.allowed {
		out = append(out, ip)
	}
	return out
}

// BlockedHostIPs returns the current hostname to IPv4 mapping of the deny
// set. The result is a copy.
func (e *Engine) BlockedHostIPs() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]string, len(e.resolved))
	for host, ips := range e.resolved {
		out[host] = append([]string(nil), ips...)
	}
	return out
}

// apply regenerates the full table script and feeds it to the runner,
// retrying once. Callers hold e.mu.
func (e *Engine) apply(ctx context.Context) error {
	script := e.buildScript()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	err := e.runner.Apply(runCtx, script)
	cancel()
	if err == nil {
		return nil
	}

	e.logger.Warn("nft apply failed, retrying once", "error", err)
	runCtx, cancel = context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	if err := e.runner.Apply(runCtx, script); err != nil {
		return errors.Wrap(err, errors.KindFilterInstall, "apply ruleset")
	}
	return nil
}

// buildScript emits the whole campusgate table. Forward evaluation order:
// global_deny jump, established return traffic, per-client accepts, then
// the chain's drop policy.
func (e *Engine) buildScript() string {
	sb := newScriptBuilder(tableName, family)
	sb.AddTable()
	sb.AddSet(setBlocked, "ipv4_addr")

	sb.AddChain(chainGlobalDeny, "", "", 0, "")
	sb.AddChain(chainForward, "filter", "forward", 0, "drop")
	sb.AddChain(chainInput, "filter", "input", 0, "accept")
	sb.AddChain(chainPrerouting, "nat", "prerouting", -100, "accept")
	sb.AddChain(chainPostrouting, "nat", "postrouting", 100, "accept")

	// global_deny: hard DNS-bypass drops, then the resolved deny set.
	sb.AddRule(chainGlobalDeny,
		"ip daddr { "+joinIPs(publicDNS)+" } drop", "public DNS bypass")
	sb.AddRule(chainGlobalDeny, "ip daddr @"+setBlocked+" tcp dport 443 drop")
	sb.AddRule(chainGlobalDeny, "ip daddr @"+setBlocked+" udp dport 443 drop", "QUIC")
	sb.AddRule(chainGlobalDeny, "ip daddr @"+setBlocked+" drop")

	// forward: deny first, return traffic, then the allow list.
	sb.AddRule(chainForward, "jump "+chainGlobalDeny)
	sb.AddRule(chainForward,
		"iifname \""+e.cfg.UplinkInterface+"\" oifname \""+e.cfg.HotspotInterface+"\" ct state established,related accept")
	for _, ip := range sortedKeys(e.allowed) {
		sb.AddRule(chainForward,
			"iifname \""+e.cfg.HotspotInterface+"\" oifname \""+e.cfg.UplinkInterface+"\" ip saddr "+ip+" accept")
	}

	// input: hotspot clients may reach DHCP, DNS, and the portal.
	sb.AddRule(chainInput,
		"iifname \""+e.cfg.HotspotInterface+"\" udp dport { 67, 68 } accept", "DHCP")
	sb.AddRule(chainInput,
		"iifname \""+e.cfg.HotspotInterface+"\" udp dport 53 accept", "DNS")
	sb.AddRule(chainInput,
		"iifname \""+e.cfg.HotspotInterface+"\" tcp dport "+itoa(e.cfg.PortalPort)+" accept", "portal")

	// nat: captive redirect for plain HTTP, masquerade everything outbound.
	sb.AddRule(chainPrerouting,
		"iifname \""+e.cfg.HotspotInterface+"\" ip daddr != "+e.cfg.PortalIP+
			" tcp dport 80 redirect to :"+itoa(e.cfg.PortalPort))
	sb.AddRule(chainPostrouting,
		"oifname \""+e.cfg.UplinkInterface+"\" masquerade")

	if ips := e.blockedIPs(); len(ips) > 0 {
		sb.AddSetElements(setBlocked, ips)
	}
	return sb.Build()
}

// blockedIPs flattens the resolved map into a sorted deduplicated IP list.
// Callers hold e.mu.
func (e *Engine) blockedIPs() []string {
	set := make(map[string]bool)
	for _, ips := range e.resolved {
		for _, ip := range ips {
			set[ip] = true
		}
	}
	return sortedKeys(set)
}
