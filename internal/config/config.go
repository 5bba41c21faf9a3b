// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides HCL configuration handling for campusgate.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/campusgate/internal/errors"
)

// Config is the root configuration for the gateway daemon and the one-shot
// subcommands. All durations are HCL strings ("5m", "1h") parsed during
// Validate.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional"`

	Network *NetworkConfig `hcl:"network,block"`
	Storage *StorageConfig `hcl:"storage,block"`
	Capture *CaptureConfig `hcl:"capture,block"`
	Anomaly *AnomalyConfig `hcl:"anomaly,block"`
	Filter  *FilterConfig  `hcl:"filter,block"`
	Session *SessionConfig `hcl:"session,block"`
	Logging *LoggingConfig `hcl:"logging,block"`
}

// NetworkConfig describes the two interfaces the gateway sits between and the
// captive-portal endpoint.
type NetworkConfig struct {
	HotspotInterface string `hcl:"hotspot_interface"`
	UplinkInterface  string `hcl:"uplink_interface"`
	HotspotSubnet    string `hcl:"hotspot_subnet,optional"`
	PortalIP         string `hcl:"portal_ip,optional"`
	PortalPort       int    `hcl:"portal_port,optional"`
	ListenAddr       string `hcl:"listen_addr,optional"`
	LocalResolver    string `hcl:"local_resolver,optional"`
}

type StorageConfig struct {
	StateDir         string `hcl:"state_dir,optional"`
	DatabaseFile     string `hcl:"database,optional"`
	DetectionRetain  string `hcl:"detection_retention,optional"`
	detectionRetainD time.Duration
}

type CaptureConfig struct {
	SnapLen        int    `hcl:"snap_len,optional"`
	BatchSize      int    `hcl:"batch_size,optional"`
	BatchInterval  string `hcl:"batch_interval,optional"`
	BufferBatches  int    `hcl:"buffer_batches,optional"`
	batchIntervalD time.Duration
}

type AnomalyConfig struct {
	Window     string      `hcl:"window,optional"`
	Cadence    string      `hcl:"cadence,optional"`
	Thresholds *Thresholds `hcl:"thresholds,block"`
	windowD    time.Duration
	cadenceD   time.Duration
}

// Thresholds are the hard rule limits the anomaly engine enforces and the
// labelling policy the forest is trained to learn.
type Thresholds struct {
	HighActivity  int     `hcl:"high_activity,optional"`
	VideoRatio    float64 `hcl:"video_ratio,optional"`
	SocialRatio   float64 `hcl:"social_ratio,optional"`
	GamingCount   int     `hcl:"gaming_count,optional"`
	CombinedRatio float64 `hcl:"combined_ratio,optional"`
}

type FilterConfig struct {
	RefreshInterval  string `hcl:"refresh_interval,optional"`
	CommandTimeout   string `hcl:"command_timeout,optional"`
	refreshIntervalD time.Duration
	commandTimeoutD  time.Duration
}

type SessionConfig struct {
	SweepInterval  string `hcl:"sweep_interval,optional"`
	ProbeTimeout   string `hcl:"probe_timeout,optional"`
	TokenTTL       string `hcl:"token_ttl,optional"`
	TokenSecret    string `hcl:"token_secret,optional"`
	sweepIntervalD time.Duration
	probeTimeoutD  time.Duration
	tokenTTLD      time.Duration
}

type LoggingConfig struct {
	Level string `hcl:"level,optional"`
	JSON  bool   `hcl:"json,optional"`
}

// Default returns a fully-populated configuration with the stock values.
func Default() *Config {
	cfg := &Config{
		SchemaVersion: "1.0",
		Network: &NetworkConfig{
			HotspotSubnet: "192.168.50.0/24",
			PortalIP:      "192.168.50.1",
			PortalPort:    8080,
			ListenAddr:    "",
			LocalResolver: "192.168.50.1:53",
		},
		Storage: &StorageConfig{
			StateDir:        "/var/lib/campusgate",
			DatabaseFile:    "campusgate.db",
			DetectionRetain: "168h",
		},
		Capture: &CaptureConfig{
			SnapLen:       1600,
			BatchSize:     10,
			BatchInterval: "5s",
			BufferBatches: 64,
		},
		Anomaly: &AnomalyConfig{
			Window:  "60m",
			Cadence: "5m",
			Thresholds: &Thresholds{
				HighActivity:  10,
				VideoRatio:    0.4,
				SocialRatio:   0.4,
				GamingCount:   1,
				CombinedRatio: 0.5,
			},
		},
		Filter: &FilterConfig{
			RefreshInterval: "1h",
			CommandTimeout:  "5s",
		},
		Session: &SessionConfig{
			SweepInterval: "5m",
			ProbeTimeout:  "2s",
			TokenTTL:      "12h",
		},
		Logging: &LoggingConfig{Level: "info"},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Load reads and validates an HCL config file. Blocks absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "config file %s", path)
	}

	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "parse config")
	}
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults re-populates any block the HCL decode nil'd out because it was
// absent from the file.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Network == nil {
		cfg.Network = def.Network
	}
	if cfg.Storage == nil {
		cfg.Storage = def.Storage
	}
	if cfg.Capture == nil {
		cfg.Capture = def.Capture
	}
	if cfg.Anomaly == nil {
		cfg.Anomaly = def.Anomaly
	}
	if cfg.Anomaly.Thresholds == nil {
		cfg.Anomaly.Thresholds = def.Anomaly.Thresholds
	}
	if cfg.Filter == nil {
		cfg.Filter = def.Filter
	}
	if cfg.Session == nil {
		cfg.Session = def.Session
	}
	if cfg.Logging == nil {
		cfg.Logging = def.Logging
	}
	fillEmpty(&cfg.Storage.DetectionRetain, def.Storage.DetectionRetain)
	fillEmpty(&cfg.Capture.BatchInterval, def.Capture.BatchInterval)
	fillEmpty(&cfg.Anomaly.Window, def.Anomaly.Window)
	fillEmpty(&cfg.Anomaly.Cadence, def.Anomaly.Cadence)
	fillEmpty(&cfg.Filter.RefreshInterval, def.Filter.RefreshInterval)
	fillEmpty(&cfg.Filter.CommandTimeout, def.Filter.CommandTimeout)
	fillEmpty(&cfg.Session.SweepInterval, def.Session.SweepInterval)
	fillEmpty(&cfg.Session.ProbeTimeout, def.Session.ProbeTimeout)
	fillEmpty(&cfg.Session.TokenTTL, def.Session.TokenTTL)
	fillEmpty(&cfg.Network.HotspotSubnet, def.Network.HotspotSubnet)
	fillEmpty(&cfg.Network.PortalIP, def.Network.PortalIP)
	fillEmpty(&cfg.Network.LocalResolver, def.Network.LocalResolver)
	if cfg.Network.PortalPort == 0 {
		cfg.Network.PortalPort = def.Network.PortalPort
	}
	if cfg.Capture.SnapLen == 0 {
		cfg.Capture.SnapLen = def.Capture.SnapLen
	}
	if cfg.Capture.BatchSize == 0 {
		cfg.Capture.BatchSize = def.Capture.BatchSize
	}
	if cfg.Capture.BufferBatches == 0 {
		cfg.Capture.BufferBatches = def.Capture.BufferBatches
	}
}

func fillEmpty(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Validate checks invariants and parses all duration strings.
func (c *Config) Validate() error {
	if c.Network == nil || c.Network.HotspotInterface == "" && c.Network.UplinkInterface == "" {
		// Interfaces may come from flags; only reject a half-configured pair.
	} else if (c.Network.HotspotInterface == "") != (c.Network.UplinkInterface == "") {
		return errors.New(errors.KindValidation, "hotspot_interface and uplink_interface must be set together")
	}

	if c.Network != nil {
		if _, _, err := net.ParseCIDR(c.Network.HotspotSubnet); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "hotspot_subnet %q", c.Network.HotspotSubnet)
		}
		if net.ParseIP(c.Network.PortalIP) == nil {
			return errors.Errorf(errors.KindValidation, "portal_ip %q is not an IP address", c.Network.PortalIP)
		}
		if c.Network.PortalPort <= 0 || c.Network.PortalPort > 65535 {
			return errors.Errorf(errors.KindValidation, "portal_port %d out of range", c.Network.PortalPort)
		}
	}

	var err error
	parse := func(dst *time.Duration, s, field string) {
		if err != nil {
			return
		}
		var d time.Duration
		if d, err = time.ParseDuration(s); err != nil {
			err = errors.Wrapf(err, errors.KindValidation, "%s %q", field, s)
			return
		}
		*dst = d
	}
	parse(&c.Storage.detectionRetainD, c.Storage.DetectionRetain, "detection_retention")
	parse(&c.Capture.batchIntervalD, c.Capture.BatchInterval, "batch_interval")
	parse(&c.Anomaly.windowD, c.Anomaly.Window, "anomaly window")
	parse(&c.Anomaly.cadenceD, c.Anomaly.Cadence, "anomaly cadence")
	parse(&c.Filter.refreshIntervalD, c.Filter.RefreshInterval, "refresh_interval")
	parse(&c.Filter.commandTimeoutD, c.Filter.CommandTimeout, "command_timeout")
	parse(&c.Session.sweepIntervalD, c.Session.SweepInterval, "sweep_interval")
	parse(&c.Session.probeTimeoutD, c.Session.ProbeTimeout, "probe_timeout")
	parse(&c.Session.tokenTTLD, c.Session.TokenTTL, "token_ttl")
	if err != nil {
		return err
	}

	t := c.Anomaly.Thresholds
	if t.VideoRatio < 0 || t.VideoRatio > 1 || t.SocialRatio < 0 || t.SocialRatio > 1 ||
		t.CombinedRatio < 0 || t.CombinedRatio > 1 {
		return errors.New(errors.KindValidation, "threshold ratios must be within [0,1]")
	}
	return nil
}

// Parsed duration accessors.

func (s *StorageConfig) DetectionRetention() time.Duration { return s.detectionRetainD }
func (c *CaptureConfig) BatchIntervalDuration() time.Duration {
	return c.batchIntervalD
}
func (a *AnomalyConfig) WindowDuration() time.Duration  { return a.windowD }
func (a *AnomalyConfig) CadenceDuration() time.Duration { return a.cadenceD }
func (f *FilterConfig) RefreshIntervalDuration() time.Duration {
	return f.refreshIntervalD
}
func (f *FilterConfig) CommandTimeoutDuration() time.Duration { return f.commandTimeoutD }
func (s *SessionConfig) SweepIntervalDuration() time.Duration { return s.sweepIntervalD }
func (s *SessionConfig) ProbeTimeoutDuration() time.Duration  { return s.probeTimeoutD }
func (s *SessionConfig) TokenTTLDuration() time.Duration      { return s.tokenTTLD }
