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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name: "all_values",
			env: map[string]string{
				"PORT":               "9090",
				"PROJECT_ID":         "proj",
				"DATABASE_URL":       "postgres://localhost:5432/mirror",
				"GITHUB_APP_ID":      "1234",
				"GITHUB_PRIVATE_KEY": "pem",
				"GITHUB_TOKEN":       "tok",
			},
			want: &Config{
				Port:             "9090",
				ProjectID:        "proj",
				DatabaseURL:      "postgres://localhost:5432/mirror",
				GitHubAppID:      "1234",
				GitHubPrivateKey: "pem",
				GitHubToken:      "tok",
			},
		},
		{
			name: "defaults",
			env:  map[string]string{},
			want: &Config{Port: "8080"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := newConfig(context.Background(), envconfig.MapLookuper(tc.env))
			if tc.wantErr {
				if err == nil {
					t.Errorf("newConfig succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newConfig: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigValidateGitHubAuth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "static_token", cfg: &Config{GitHubToken: "tok"}},
		{name: "app_credentials", cfg: &Config{GitHubAppID: "1", GitHubPrivateKey: "pem"}},
		{name: "app_id_without_key", cfg: &Config{GitHubAppID: "1"}, wantErr: true},
		{name: "nothing", cfg: &Config{}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.cfg.validateGitHubAuth()
			if (err != nil) != tc.wantErr {
				t.Errorf("validateGitHubAuth() err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}
