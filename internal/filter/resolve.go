// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"

	"grimm.is/campusgate/internal/errors"
)

// Resolver maps a hostname to its current IPv4 set.
type Resolver interface {
	ResolveIPv4(ctx context.Context, hostname string) ([]string, error)
}

// DualResolver queries both the system resolver and a nameserver directly,
// returning the union. CDN-backed hostnames rotate answers per query, so a
// single method routinely misses addresses a client will be handed moments
// later.
type DualResolver struct {
	// Nameserver is host:port of the resolver to query directly. Empty
	// disables the direct method.
	Nameserver string
	Timeout    time.Duration

	system net.Resolver
}

func NewDualResolver(nameserver string, timeout time.Duration) *DualResolver {
	return &DualResolver{Nameserver: nameserver, Timeout: timeout}
}

// ResolveIPv4 returns the sorted union of both methods, IPv4 only. It fails
// only when both methods fail; an empty answer from one method is tolerated.
func (r *DualResolver) ResolveIPv4(ctx context.Context, hostname string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	set := make(map[string]bool)

	sysIPs, sysErr := r.system.LookupIP(ctx, "ip4", hostname)
	for _, ip := range sysIPs {
		if v4 := ip.To4(); v4 != nil {
			set[v4.String()] = true
		}
	}

	dirIPs, dirErr := r.direct(hostname)
	for _, ip := range dirIPs {
		set[ip] = true
	}

	if len(set) == 0 {
		if sysErr != nil && dirErr != nil {
			return nil, errors.Wrapf(sysErr, errors.KindResolution, "resolve %s", hostname)
		}
		return nil, errors.Errorf(errors.KindResolution, "%s resolved to no IPv4 addresses", hostname)
	}

	out := make([]string, 0, len(set))
	for ip := range set {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out, nil
}

func (r *DualResolver) direct(hostname string) ([]string, error) {
	if r.Nameserver == "" {
		return nil, nil
	}

	c := new(dns.Client)
	c.Timeout = r.Timeout

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), dns.TypeA)
	m.RecursionDesired = true

	resp, _, err := c.Exchange(m, r.Nameserver)
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}
