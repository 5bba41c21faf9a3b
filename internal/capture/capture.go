// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package capture taps the hotspot interface and emits hostname
// observations. A frame yields at most one observation: the first non-empty
// of DNS query name, HTTP Host header, or TLS SNI. DHCP requests are
// inspected on the side for the client's announced hostname.
package capture

import (
	"context"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
)

// Observation is one hostname seen on the wire, attributed to a source IP.
type Observation struct {
	TS       time.Time
	SrcIP    string
	Hostname string
}

// DeviceInfo is side-channel metadata about a client, gathered from DHCP
// and TLS fingerprints.
type DeviceInfo struct {
	SrcIP string
	Name  string // DHCP option 12
	JA3   string
}

// Only frames that can carry a hostname or a DHCP announcement reach
// userspace.
const bpfFilter = "udp port 53 or tcp port 80 or tcp port 443 or udp port 67 or udp port 68"

// Config controls the live tap.
type Config struct {
	Interface string
	SnapLen   int
	// ReadTimeout bounds each handle read so shutdown is prompt.
	ReadTimeout time.Duration
}

// Tap owns the pcap handle. Observations flow to the channel given to Run;
// the tap never writes to the database.
type Tap struct {
	cfg     Config
	handle  *pcap.Handle
	logger  *logging.Logger
	metrics *metrics.Metrics

	// DeviceFunc, when set, receives DHCP/TLS device metadata.
	DeviceFunc func(DeviceInfo)
}

// Open activates the capture handle. Permission or interface errors are
// fatal: the controller cannot run blind.
func Open(cfg Config, m *metrics.Metrics, logger *logging.Logger) (*Tap, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 1600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindCapture, "open %s", cfg.Interface)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, errors.Wrap(err, errors.KindCapture, "set snaplen")
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, errors.Wrap(err, errors.KindCapture, "set promiscuous")
	}
	if err := inactive.SetTimeout(cfg.ReadTimeout); err != nil {
		return nil, errors.Wrap(err, errors.KindCapture, "set timeout")
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindCapture, "activate capture on %s", cfg.Interface)
	}
	if err := handle.SetBPFFilter(bpfFilter); err != nil {
		handle.Close()
		return nil, errors.Wrap(err, errors.KindCapture, "set BPF filter")
	}

	return &Tap{
		cfg:     cfg,
		handle:  handle,
		logger:  logger.With("component", "capture"),
		metrics: m,
	}, nil
}

// Run reads frames until the context is cancelled. Transient read errors
// are logged and skipped. The out channel send blocks; callers put a
// buffered batcher behind it.
func (t *Tap) Run(ctx context.Context, out chan<- Observation) {
	t.logger.Info("capture started", "interface", t.cfg.Interface, "filter", bpfFilter)
	source := gopacket.NewPacketSource(t.handle, t.handle.LinkType())
	source.NoCopy = true

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("capture stopped")
			return
		default:
		}

		packet, err := source.NextPacket()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			t.logger.Warn("read error", "error", err)
			continue
		}
		t.process(packet, out)
	}
}

// Close releases the pcap handle.
func (t *Tap) Close() { t.handle.Close() }

func (t *Tap) process(packet gopacket.Packet, out chan<- Observation) {
	srcIP := sourceIP(packet)
	if srcIP == "" {
		return
	}

	if t.DeviceFunc != nil {
		if info, ok := ExtractDevice(packet); ok {
			info.SrcIP = srcIP
			t.DeviceFunc(info)
		}
	}

	hostname := ExtractHostname(packet)
	if hostname == "" {
		return
	}

	t.metrics.ObservationsTotal.Inc()
	out <- Observation{TS: time.Now(), SrcIP: srcIP, Hostname: hostname}
}

func sourceIP(packet gopacket.Packet) string {
	layer := packet.Layer(layers.LayerTypeIPv4)
	if layer == nil {
		return ""
	}
	ip, _ := layer.(*layers.IPv4)
	return ip.SrcIP.String()
}
