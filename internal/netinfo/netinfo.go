// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netinfo validates the network shape at startup and flips the
// forwarding sysctls the gateway needs.
package netinfo

import (
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"

	"grimm.is/campusgate/internal/errors"
)

// ValidateInterface checks that the named link exists and is up.
func ValidateInterface(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "interface %s not found", name)
	}
	if link.Attrs().OperState == netlink.OperDown {
		return errors.Errorf(errors.KindValidation, "interface %s is down", name)
	}
	return nil
}

// InterfaceIPv4 returns the first IPv4 address assigned to the link.
func InterfaceIPv4(name string) (net.IP, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "interface %s not found", name)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "list addresses on %s", name)
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf(errors.KindValidation, "interface %s has no IPv4 address", name)
	}
	return addrs[0].IP, nil
}

// EnableForwarding turns on IPv4 forwarding and disables IPv6 on the
// hotspot link. The filter rules are IPv4-only; leaving IPv6 up would give
// clients an unfiltered path.
func EnableForwarding(hotspotIface string) error {
	if err := writeSysctl("/proc/sys/net/ipv4/ip_forward", "1"); err != nil {
		return err
	}
	return writeSysctl(
		filepath.Join("/proc/sys/net/ipv6/conf", hotspotIface, "disable_ipv6"), "1")
}

func writeSysctl(path, value string) error {
	if err := os.WriteFile(path, []byte(strings.TrimSpace(value)+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "sysctl %s", path)
	}
	return nil
}
