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

package tokens

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestOracle_CachesPerInstallation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)

	var mints int
	o := NewOracle("app-1", nil)
	o.Now = func() time.Time { return now }
	o.mintFunc = func(ctx context.Context, installationID int64) (string, error) {
		mints++
		return fmt.Sprintf("tok-%d-%d", installationID, mints), nil
	}

	tok, err := o.InstallationToken(ctx, 1)
	if err != nil {
		t.Fatalf("InstallationToken: %v", err)
	}
	if tok != "tok-1-1" {
		t.Errorf("token = %q, want tok-1-1", tok)
	}

	// A second call inside the TTL hits the cache.
	tok, err = o.InstallationToken(ctx, 1)
	if err != nil {
		t.Fatalf("InstallationToken: %v", err)
	}
	if tok != "tok-1-1" || mints != 1 {
		t.Errorf("token = %q mints = %d, want cached token and 1 mint", tok, mints)
	}

	// A different installation mints its own token.
	tok, err = o.InstallationToken(ctx, 2)
	if err != nil {
		t.Fatalf("InstallationToken: %v", err)
	}
	if tok != "tok-2-2" || mints != 2 {
		t.Errorf("token = %q mints = %d, want fresh mint for installation 2", tok, mints)
	}

	// Past expiry the token is re-minted.
	now = now.Add(56 * time.Minute)
	tok, err = o.InstallationToken(ctx, 1)
	if err != nil {
		t.Fatalf("InstallationToken: %v", err)
	}
	if tok != "tok-1-3" || mints != 3 {
		t.Errorf("token = %q mints = %d, want re-mint after TTL", tok, mints)
	}
}

func TestOracle_MintFailure(t *testing.T) {
	t.Parallel()

	o := NewOracle("app-1", nil)
	o.mintFunc = func(ctx context.Context, installationID int64) (string, error) {
		return "", fmt.Errorf("github unavailable")
	}
	if _, err := o.InstallationToken(context.Background(), 1); err == nil {
		t.Errorf("InstallationToken succeeded, want error")
	}
}

func TestParseTokenResponse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "valid", raw: `{"token": "ghs_abc123"}`, want: "ghs_abc123"},
		{name: "empty_token", raw: `{"token": ""}`, wantErr: true},
		{name: "no_token_field", raw: `{"expires_at": "2026-02-18T16:00:00Z"}`, wantErr: true},
		{name: "malformed", raw: `not-json`, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseTokenResponse(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Errorf("parseTokenResponse succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTokenResponse: %v", err)
			}
			if got != tc.want {
				t.Errorf("token = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStaticSupplier(t *testing.T) {
	t.Parallel()

	s := NewStaticSupplier("tok-static")
	tok, err := s.GitHubToken(context.Background())
	if err != nil {
		t.Fatalf("GitHubToken: %v", err)
	}
	if tok != "tok-static" {
		t.Errorf("token = %q, want tok-static", tok)
	}
}
