// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"grimm.is/campusgate/internal/aggregate"
	"grimm.is/campusgate/internal/anomaly"
	"grimm.is/campusgate/internal/capture"
	"grimm.is/campusgate/internal/clock"
	"grimm.is/campusgate/internal/config"
	"grimm.is/campusgate/internal/filter"
	"grimm.is/campusgate/internal/forest"
	"grimm.is/campusgate/internal/gateway"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/netinfo"
	"grimm.is/campusgate/internal/pipeline"
	"grimm.is/campusgate/internal/policy"
	"grimm.is/campusgate/internal/session"
	"grimm.is/campusgate/internal/store"
)

// runGateway is the long-running daemon: capture, attribution, anomaly
// evaluation, the HTTP surface, and the cron-driven maintenance loops.
func runGateway(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := netinfo.ValidateInterface(cfg.Network.HotspotInterface); err != nil {
		return err
	}
	if err := netinfo.ValidateInterface(cfg.Network.UplinkInterface); err != nil {
		return err
	}
	if err := netinfo.EnableForwarding(cfg.Network.HotspotInterface); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pm, err := policy.NewManager(st)
	if err != nil {
		return err
	}

	m := metrics.New()
	sessions := session.NewManager(st, clock.Real{}, session.PingProber{},
		cfg.Session.ProbeTimeoutDuration(), m, logger)
	engine := buildFilter(cfg, m, logger)

	if err := engine.InstallBase(ctx); err != nil {
		return err
	}
	// SyncPolicy skips unresolvable hostnames on its own; an error here
	// means the ruleset itself would not apply.
	if err := engine.SyncPolicy(ctx, pm.Snapshot()); err != nil {
		return err
	}
	restoreSessions(ctx, sessions, engine, logger)

	// Model build is deterministic; a failure here means the recipe
	// itself is broken and we degrade to rule-only decisions.
	var scorer anomaly.Scorer
	if model, err := forest.Build(); err != nil {
		logger.Error("model build failed", "error", err)
	} else {
		scorer = model
		logger.Info("model ready", "tag", model.Tag)
	}

	detector := anomaly.NewEngine(
		aggregate.New(st, cfg.Anomaly.WindowDuration()),
		scorer, pm, sessions, st, engine, clock.Real{}, m, logger)

	tap, err := capture.Open(capture.Config{
		Interface: cfg.Network.HotspotInterface,
		SnapLen:   cfg.Capture.SnapLen,
	}, m, logger)
	if err != nil {
		return err
	}
	defer tap.Close()
	tap.DeviceFunc = func(info capture.DeviceInfo) {
		if info.Name == "" {
			return
		}
		if err := st.UpsertDeviceName(info.SrcIP, info.Name, time.Now()); err != nil {
			logger.Warn("device name write failed", "ip", info.SrcIP, "error", err)
		}
	}

	batcher := pipeline.NewBatcher(pipeline.Config{
		BatchSize:     cfg.Capture.BatchSize,
		BatchInterval: cfg.Capture.BatchIntervalDuration(),
		BufferBatches: cfg.Capture.BufferBatches,
	}, st, sessions.LookupUser, m, logger)

	observations := make(chan capture.Observation, 256)
	go tap.Run(ctx, observations)
	go func() {
		batcher.Run(ctx, observations)
	}()
	go detector.Run(ctx, cfg.Anomaly.CadenceDuration())

	timers, err := startTimers(ctx, cfg, st, pm, sessions, engine, logger)
	if err != nil {
		return err
	}
	defer timers.Stop()

	srv, err := gateway.NewServer(gateway.Options{
		Sessions:    sessions,
		Filter:      engine,
		Policy:      pm,
		Directory:   st,
		Metrics:     m,
		Logger:      logger,
		Clock:       clock.Real{},
		TokenSecret: tokenSecret(cfg, logger),
		TokenTTL:    cfg.Session.TokenTTLDuration(),
	})
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(cfg.Network.ListenAddr) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.Storage.StateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return store.Open(filepath.Join(cfg.Storage.StateDir, cfg.Storage.DatabaseFile))
}

func buildFilter(cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) *filter.Engine {
	resolver := filter.NewDualResolver(cfg.Network.LocalResolver,
		cfg.Filter.CommandTimeoutDuration())
	return filter.NewEngine(filter.Config{
		HotspotInterface: cfg.Network.HotspotInterface,
		UplinkInterface:  cfg.Network.UplinkInterface,
		PortalIP:         cfg.Network.PortalIP,
		PortalPort:       cfg.Network.PortalPort,
		CommandTimeout:   cfg.Filter.CommandTimeoutDuration(),
	}, filter.NftRunner{}, resolver, m, logger)
}

// restoreSessions re-opens access for sessions that survived a restart.
// Per-client failures are logged and skipped; one stale binding must not
// keep everyone else offline.
func restoreSessions(ctx context.Context, sessions *session.Manager, engine *filter.Engine, logger *logging.Logger) {
	ips, err := sessions.AllActiveIPs()
	if err != nil {
		logger.Error("session restore skipped", "error", err)
		return
	}
	for _, ip := range ips {
		if err := engine.AllowClient(ctx, ip); err != nil {
			logger.Error("session restore failed", "ip", ip, "error", err)
		}
	}
	if len(ips) > 0 {
		logger.Info("sessions restored", "count", len(ips))
	}
}

// startTimers schedules the maintenance loops on a cron runner.
func startTimers(ctx context.Context, cfg *config.Config, st *store.Store,
	pm *policy.Manager, sessions *session.Manager, engine *filter.Engine,
	logger *logging.Logger) (*cron.Cron, error) {

	c := cron.New()
	log := logger.With("component", "timers")

	add := func(name string, every time.Duration, fn func() error) error {
		_, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
			if err := fn(); err != nil {
				log.Error("timer failed", "timer", name, "error", err)
			}
		})
		return err
	}

	if err := add("refresh-ips", cfg.Filter.RefreshIntervalDuration(), func() error {
		changed, err := engine.RefreshIPs(ctx)
		if err == nil && changed {
			log.Info("blocklist addresses refreshed")
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := add("session-sweep", cfg.Session.SweepIntervalDuration(), func() error {
		reaped, err := sessions.SweepLiveness(func(ip string) error {
			return engine.DenyClient(ctx, ip)
		})
		if err == nil && len(reaped) > 0 {
			log.Info("sessions reaped", "count", len(reaped))
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := add("ban-sweep", time.Minute, func() error {
		expired, err := sessions.ExpireBans()
		if err == nil && len(expired) > 0 {
			log.Info("bans expired", "users", expired)
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := add("detection-prune", time.Hour, func() error {
		n, err := st.PruneDetections(time.Now().Add(-cfg.Storage.DetectionRetention()))
		if err == nil && n > 0 {
			log.Info("detections pruned", "rows", n)
		}
		return err
	}); err != nil {
		return nil, err
	}

	// Policy may be edited through the API of another instance sharing the
	// database; re-sync keeps the rules converged either way.
	if err := add("policy-sync", cfg.Filter.RefreshIntervalDuration(), func() error {
		return engine.SyncPolicy(ctx, pm.Snapshot())
	}); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

// tokenSecret returns the configured secret, or a random ephemeral one.
// Ephemeral secrets invalidate every token on restart.
func tokenSecret(cfg *config.Config, logger *logging.Logger) string {
	if cfg.Session.TokenSecret != "" {
		return cfg.Session.TokenSecret
	}
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	logger.Warn("no token_secret configured, using an ephemeral secret")
	return hex.EncodeToString(buf)
}
