// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingProber probes clients with a single ICMP echo. Runs unprivileged
// (UDP ping) so the daemon does not need raw-socket capability for the
// sweep alone.
type PingProber struct{}

func (PingProber) Reachable(ip string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
