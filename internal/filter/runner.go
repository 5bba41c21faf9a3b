// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"context"
	"os/exec"
	"strings"

	"grimm.is/campusgate/internal/errors"
)

// Runner executes nftables scripts. The engine depends on this interface so
// tests can run against a recorder instead of the kernel.
type Runner interface {
	// Apply feeds the script to the kernel in one transaction: either every
	// statement takes effect or none do.
	Apply(ctx context.Context, script string) error
	// DeleteTable removes the engine's table entirely. Missing-table errors
	// are swallowed so reset is idempotent.
	DeleteTable(ctx context.Context, family, table string) error
}

// NftRunner shells out to nft(8). Scripts go through stdin so rule text
// never hits the argument list.
type NftRunner struct{}

func (NftRunner) Apply(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "nft", "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, errors.KindFilterInstall, "nft apply failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

func (NftRunner) DeleteTable(ctx context.Context, family, table string) error {
	cmd := exec.CommandContext(ctx, "nft", "delete", "table", family, table)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No such file or directory") {
			return nil
		}
		return errors.Wrapf(err, errors.KindFilterInstall, "nft delete table failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}
