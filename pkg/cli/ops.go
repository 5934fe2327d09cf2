// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/github-mirror/pkg/processor"
	"github.com/abcxyz/github-mirror/pkg/syncer"
)

// Operator commands over the delivery queue and sync jobs.

var (
	_ cli.Command = (*ReplayCommand)(nil)
	_ cli.Command = (*RetryFailedCommand)(nil)
	_ cli.Command = (*BootstrapCommand)(nil)
	_ cli.Command = (*ReconcileCommand)(nil)
)

// ReplayCommand resets one delivery to pending.
type ReplayCommand struct {
	cli.BaseCommand

	cfg *Config

	testFlagSetOpts []cli.Option
}

func (c *ReplayCommand) Desc() string {
	return `Replay a webhook delivery by delivery ID`
}

func (c *ReplayCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] DELIVERY_ID

  Reset the given delivery to pending so the worker reprocesses it.
`
}

func (c *ReplayCommand) Flags() *cli.FlagSet {
	c.cfg = &Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ReplayCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one DELIVERY_ID argument")
	}

	db, closer, err := openStore(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer closer()

	proc := processor.New(db, nil)
	if err := proc.ReplayDelivery(ctx, args[0]); err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	c.Outf("replayed delivery %s", args[0])
	return nil
}

// RetryFailedCommand resets failed deliveries to pending.
type RetryFailedCommand struct {
	cli.BaseCommand

	cfg   *Config
	limit int

	testFlagSetOpts []cli.Option
}

func (c *RetryFailedCommand) Desc() string {
	return `Reset failed deliveries to pending`
}

func (c *RetryFailedCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Reset up to -limit failed deliveries to pending.
`
}

func (c *RetryFailedCommand) Flags() *cli.FlagSet {
	c.cfg = &Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	set = c.cfg.ToFlags(set)

	f := set.NewSection("RETRY OPTIONS")
	f.IntVar(&cli.IntVar{
		Name:    "limit",
		Target:  &c.limit,
		Default: 50,
		Usage:   `Maximum number of failed deliveries to reset.`,
	})
	return set
}

func (c *RetryFailedCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	db, closer, err := openStore(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer closer()

	proc := processor.New(db, nil)
	reset, err := proc.RetryAllFailed(ctx, c.limit)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	c.Outf("reset %d failed deliveries", reset)
	return nil
}

// BootstrapCommand schedules and immediately runs a repository bootstrap.
type BootstrapCommand struct {
	cli.BaseCommand

	cfg            *Config
	repositoryID   int64
	installationID int64

	testFlagSetOpts []cli.Option
}

func (c *BootstrapCommand) Desc() string {
	return `Bootstrap a repository into the mirror`
}

func (c *BootstrapCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] OWNER/NAME

  Schedule and run the initial population of the given repository.
`
}

func (c *BootstrapCommand) Flags() *cli.FlagSet {
	c.cfg = &Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	set = c.cfg.ToFlags(set)

	f := set.NewSection("BOOTSTRAP OPTIONS")
	f.Int64Var(&cli.Int64Var{
		Name:   "repository-id",
		Target: &c.repositoryID,
		Usage:  `The GitHub repository ID.`,
	})
	f.Int64Var(&cli.Int64Var{
		Name:   "installation-id",
		Target: &c.installationID,
		Usage:  `The GitHub App installation ID that grants access.`,
	})
	return set
}

func (c *BootstrapCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one OWNER/NAME argument")
	}
	if c.repositoryID == 0 {
		return fmt.Errorf("-repository-id is required")
	}
	if err := c.cfg.validateGitHubAuth(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, closer, err := openStore(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer closer()

	source, err := sourceFactory(c.cfg)
	if err != nil {
		return err
	}
	sync := syncer.New(db, source)

	result, err := sync.ScheduleBootstrap(ctx, c.repositoryID, args[0], c.installationID)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	if !result.Scheduled {
		c.Outf("bootstrap already in flight under %s", result.LockKey)
		return nil
	}
	if err := sync.RunBootstrap(ctx, result.LockKey); err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	c.Outf("bootstrap complete for %s", args[0])
	return nil
}

// ReconcileCommand schedules a reconcile for an already-known repository.
type ReconcileCommand struct {
	cli.BaseCommand

	cfg *Config

	testFlagSetOpts []cli.Option
}

func (c *ReconcileCommand) Desc() string {
	return `Schedule a reconcile for a mirrored repository`
}

func (c *ReconcileCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] OWNER/NAME

  Insert a reconcile sync job for the repository; the worker executes it.
`
}

func (c *ReconcileCommand) Flags() *cli.FlagSet {
	c.cfg = &Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ReconcileCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one OWNER/NAME argument")
	}
	owner, name, err := splitFullName(args[0])
	if err != nil {
		return err
	}

	db, closer, err := openStore(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer closer()

	sync := syncer.New(db, nil)
	result, err := sync.ReconcileRepo(ctx, owner, name)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	c.Outf("scheduled=%s lockKey=%s", strconv.FormatBool(result.Scheduled), result.LockKey)
	return nil
}

func splitFullName(fullName string) (string, string, error) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			if i == 0 || i == len(fullName)-1 {
				break
			}
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed repository name %q, want OWNER/NAME", fullName)
}
