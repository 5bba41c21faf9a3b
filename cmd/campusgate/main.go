// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command campusgate runs the captive-portal access controller: a
// long-running gateway daemon plus one-shot maintenance subcommands that
// operate on the same config and database.
//
//	campusgate gateway      run the daemon (default)
//	campusgate policy-sync  rebuild block rules from the stored policy
//	campusgate refresh-ips  re-resolve blocked hostnames
//	campusgate session-sweep probe active clients, reap the unreachable
//	campusgate ban-sweep    expire lapsed temporary bans
package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/campusgate/internal/config"
	"grimm.is/campusgate/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/campusgate/campusgate.hcl", "Path to HCL config file")
	hotspot := flag.String("hotspot", "", "Override hotspot interface")
	uplink := flag.String("uplink", "", "Override uplink interface")
	listen := flag.String("listen", "", "Override gateway listen address")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *hotspot, *uplink, *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "campusgate: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		JSONOutput: cfg.Logging.JSON,
		Timestamps: true,
	})

	subcmd := "gateway"
	if args := flag.Args(); len(args) > 0 {
		subcmd = args[0]
	}

	switch subcmd {
	case "gateway":
		err = runGateway(cfg, logger)
	case "policy-sync":
		err = runPolicySync(cfg, logger)
	case "refresh-ips":
		err = runRefreshIPs(cfg, logger)
	case "session-sweep":
		err = runSessionSweep(cfg, logger)
	case "ban-sweep":
		err = runBanSweep(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "campusgate: unknown command %q\n", subcmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", subcmd, "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when present and applies flag overrides.
// A missing file with both interfaces given on the command line is fine.
func loadConfig(path, hotspot, uplink, listen string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) && hotspot != "" && uplink != "" {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	if hotspot != "" {
		cfg.Network.HotspotInterface = hotspot
	}
	if uplink != "" {
		cfg.Network.UplinkInterface = uplink
	}
	if listen != "" {
		cfg.Network.ListenAddr = listen
	}
	if cfg.Network.ListenAddr == "" {
		cfg.Network.ListenAddr = ":8080"
	}
	if cfg.Network.HotspotInterface == "" || cfg.Network.UplinkInterface == "" {
		return nil, fmt.Errorf("hotspot and uplink interfaces must be configured")
	}
	return cfg, nil
}
