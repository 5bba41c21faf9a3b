// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campusgate.hcl")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if cfg.Anomaly.WindowDuration() != 60*time.Minute {
		t.Errorf("default window = %v, want 60m", cfg.Anomaly.WindowDuration())
	}
	if cfg.Anomaly.Thresholds.GamingCount != 1 {
		t.Errorf("default gaming threshold = %d, want 1", cfg.Anomaly.Thresholds.GamingCount)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version = "1.0"

network {
  hotspot_interface = "wlan0"
  uplink_interface  = "eth0"
  hotspot_subnet    = "10.0.0.0/24"
  portal_ip         = "10.0.0.1"
  portal_port       = 8081
}

anomaly {
  window  = "30m"
  cadence = "2m"
  thresholds {
    high_activity = 25
    video_ratio   = 0.6
  }
}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.HotspotInterface != "wlan0" {
		t.Errorf("hotspot iface = %q", cfg.Network.HotspotInterface)
	}
	if cfg.Anomaly.WindowDuration() != 30*time.Minute {
		t.Errorf("window = %v, want 30m", cfg.Anomaly.WindowDuration())
	}
	if cfg.Anomaly.Thresholds.HighActivity != 25 {
		t.Errorf("high_activity = %d, want 25", cfg.Anomaly.Thresholds.HighActivity)
	}
	// Unset blocks keep defaults.
	if cfg.Filter.RefreshIntervalDuration() != time.Hour {
		t.Errorf("refresh interval = %v, want 1h", cfg.Filter.RefreshIntervalDuration())
	}
	if cfg.Session.ProbeTimeoutDuration() != 2*time.Second {
		t.Errorf("probe timeout = %v, want 2s", cfg.Session.ProbeTimeoutDuration())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("BadSubnet", func(t *testing.T) {
		path := writeConfig(t, `
network {
  hotspot_interface = "wlan0"
  uplink_interface  = "eth0"
  hotspot_subnet    = "not-a-subnet"
}
`)
		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid subnet")
		}
	})

	t.Run("HalfConfiguredInterfaces", func(t *testing.T) {
		path := writeConfig(t, `
network {
  hotspot_interface = "wlan0"
  uplink_interface  = ""
}
`)
		if _, err := Load(path); err == nil {
			t.Error("expected error when only one interface is set")
		}
	})

	t.Run("BadDuration", func(t *testing.T) {
		path := writeConfig(t, `
anomaly {
  window = "sixty minutes"
}
`)
		if _, err := Load(path); err == nil {
			t.Error("expected error for unparseable duration")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.hcl")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
