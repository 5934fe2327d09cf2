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

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/processor"
	"github.com/abcxyz/github-mirror/pkg/syncer"
	"github.com/abcxyz/github-mirror/pkg/worker"
)

var _ cli.Command = (*WorkerCommand)(nil)

// WorkerCommand runs the periodic processing loops: pending drain, retry
// promotion, sync jobs, and projection repair.
type WorkerCommand struct {
	cli.BaseCommand

	cfg *Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *WorkerCommand) Desc() string {
	return `Run the github-mirror processing worker`
}

func (c *WorkerCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Run the delivery processor, retry promoter, sync job runner, and
  projection repairer until interrupted.
`
}

func (c *WorkerCommand) Flags() *cli.FlagSet {
	c.cfg = &Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *WorkerCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
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
	proc := processor.New(db, sync)

	logging.FromContext(ctx).InfoContext(ctx, "worker starting")
	worker.New(db, proc, sync).Run(ctx)
	return nil
}
