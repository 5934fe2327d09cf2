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

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/github-mirror/pkg/githubclient"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/store/memory"
	"github.com/abcxyz/github-mirror/pkg/store/postgres"
	"github.com/abcxyz/github-mirror/pkg/syncer"
	"github.com/abcxyz/github-mirror/pkg/tokens"
)

// Config defines the set of environment variables required for running
// the mirror services.
type Config struct {
	Port             string `env:"PORT,default=8080"`
	ProjectID        string `env:"PROJECT_ID"`
	DatabaseURL      string `env:"DATABASE_URL"`
	GitHubAppID      string `env:"GITHUB_APP_ID"`
	GitHubPrivateKey string `env:"GITHUB_PRIVATE_KEY"`
	GitHubToken      string `env:"GITHUB_TOKEN"`
}

// Validate validates the service config after load.
func (cfg *Config) Validate() error {
	if cfg.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	return nil
}

// validateGitHubAuth checks that some credential source exists; the worker
// and sync paths need one, the bare server does not.
func (cfg *Config) validateGitHubAuth() error {
	if cfg.GitHubToken != "" {
		return nil
	}
	if cfg.GitHubAppID != "" && cfg.GitHubPrivateKey != "" {
		return nil
	}
	return fmt.Errorf("either GITHUB_TOKEN or GITHUB_APP_ID and GITHUB_PRIVATE_KEY are required")
}

// NewConfig creates a new Config from environment variables.
func NewConfig(ctx context.Context) (*Config, error) {
	return newConfig(ctx, envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := cfgloader.Load(ctx, &cfg, cfgloader.WithLookuper(lu)); err != nil {
		return nil, fmt.Errorf("failed to parse mirror config: %w", err)
	}
	return &cfg, nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("COMMON SERVER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "port",
		Target:  &cfg.Port,
		EnvVar:  "PORT",
		Default: "8080",
		Usage:   `The port the server listens to.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "project-id",
		Target: &cfg.ProjectID,
		EnvVar: "PROJECT_ID",
		Usage:  `Project ID used for request log correlation.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "database-url",
		Target: &cfg.DatabaseURL,
		EnvVar: "DATABASE_URL",
		Usage:  `PostgreSQL connection string; empty selects the in-memory store.`,
	})

	g := set.NewSection("GITHUB OPTIONS")

	g.StringVar(&cli.StringVar{
		Name:   "github-app-id",
		Target: &cfg.GitHubAppID,
		EnvVar: "GITHUB_APP_ID",
		Usage:  `The GitHub App ID used to mint installation tokens.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-private-key",
		Target: &cfg.GitHubPrivateKey,
		EnvVar: "GITHUB_PRIVATE_KEY",
		Usage:  `PEM encoded private key of the GitHub App.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-token",
		Target: &cfg.GitHubToken,
		EnvVar: "GITHUB_TOKEN",
		Usage:  `Static GitHub token; overrides App authentication.`,
	})

	return set
}

// openStore connects the configured store: PostgreSQL when DATABASE_URL is
// set, in-memory otherwise.
func openStore(ctx context.Context, cfg *Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logging.FromContext(ctx).WarnContext(ctx, "DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, db.Close, nil
}

// sourceFactory builds the per-installation GitHub client factory from the
// configured credentials.
func sourceFactory(cfg *Config) (syncer.SourceFactory, error) {
	if cfg.GitHubToken != "" {
		supplier := tokens.NewStaticSupplier(cfg.GitHubToken)
		return func(ctx context.Context, installationID int64) (syncer.GitHubSource, error) {
			token, err := supplier.GitHubToken(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to get github token: %w", err)
			}
			return githubclient.New(ctx, token), nil
		}, nil
	}

	key, err := tokens.ParsePrivateKeyPEM(cfg.GitHubPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid GITHUB_PRIVATE_KEY: %w", err)
	}
	oracle := tokens.NewOracle(cfg.GitHubAppID, key)
	return func(ctx context.Context, installationID int64) (syncer.GitHubSource, error) {
		token, err := oracle.InstallationToken(ctx, installationID)
		if err != nil {
			return nil, fmt.Errorf("failed to get installation token: %w", err)
		}
		return githubclient.New(ctx, token), nil
	}, nil
}
