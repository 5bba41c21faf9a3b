// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"time"

	"grimm.is/campusgate/internal/clock"
	"grimm.is/campusgate/internal/config"
	"grimm.is/campusgate/internal/filter"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/policy"
	"grimm.is/campusgate/internal/session"
	"grimm.is/campusgate/internal/store"
)

// The one-shots share the daemon's config and database but run a single
// maintenance pass and exit non-zero on failure, for use from systemd
// timers or by hand.

// oneShot opens the store and rebuilds the full ruleset from persisted
// state. The engine regenerates the whole table on every apply, so the
// allowed-client set must be primed from the session table before any
// mutation or active clients would be cut off.
func oneShot(cfg *config.Config, logger *logging.Logger,
	fn func(ctx context.Context, st *store.Store, sessions *session.Manager, engine *filter.Engine) error) error {

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	sessions := session.NewManager(st, clock.Real{}, session.PingProber{},
		cfg.Session.ProbeTimeoutDuration(), m, logger)
	engine := buildFilter(cfg, m, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := engine.InstallBase(ctx); err != nil {
		return err
	}
	restoreSessions(ctx, sessions, engine, logger)

	return fn(ctx, st, sessions, engine)
}

func runPolicySync(cfg *config.Config, logger *logging.Logger) error {
	return oneShot(cfg, logger, func(ctx context.Context, st *store.Store, _ *session.Manager, engine *filter.Engine) error {
		pm, err := policy.NewManager(st)
		if err != nil {
			return err
		}
		return engine.SyncPolicy(ctx, pm.Snapshot())
	})
}

func runRefreshIPs(cfg *config.Config, logger *logging.Logger) error {
	return oneShot(cfg, logger, func(ctx context.Context, st *store.Store, _ *session.Manager, engine *filter.Engine) error {
		pm, err := policy.NewManager(st)
		if err != nil {
			return err
		}
		if err := engine.SyncPolicy(ctx, pm.Snapshot()); err != nil {
			return err
		}
		changed, err := engine.RefreshIPs(ctx)
		if err != nil {
			return err
		}
		logger.Info("refresh complete", "changed", changed)
		return nil
	})
}

func runSessionSweep(cfg *config.Config, logger *logging.Logger) error {
	return oneShot(cfg, logger, func(ctx context.Context, _ *store.Store, sessions *session.Manager, engine *filter.Engine) error {
		reaped, err := sessions.SweepLiveness(func(ip string) error {
			return engine.DenyClient(ctx, ip)
		})
		if err != nil {
			return err
		}
		logger.Info("sweep complete", "reaped", len(reaped))
		return nil
	})
}

// runBanSweep needs no filter work: expiry does not restore access, the
// user must log in again.
func runBanSweep(cfg *config.Config, logger *logging.Logger) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions := session.NewManager(st, clock.Real{}, session.PingProber{},
		cfg.Session.ProbeTimeoutDuration(), metrics.New(), logger)
	expired, err := sessions.ExpireBans()
	if err != nil {
		return err
	}
	logger.Info("ban sweep complete", "expired", len(expired))
	return nil
}
