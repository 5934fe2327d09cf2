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

// Package tokens is the token oracle: it mints and caches GitHub App
// installation tokens and holds static OAuth tokens for the write path.
package tokens

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abcxyz/pkg/githubapp"
)

// ParsePrivateKeyPEM decodes an RSA private key from its PEM encoding,
// accepting both PKCS#1 and PKCS#8 forms.
func ParsePrivateKeyPEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// cacheTTL keeps a minted installation token well inside its one-hour
// GitHub lifetime.
const cacheTTL = 55 * time.Minute

// ghTokenResponse maps the json structure of the response GitHub returns
// when requesting a token.
type ghTokenResponse struct {
	Token string `json:"token"`
}

// Supplier is the interface the sync paths use to obtain a token.
type Supplier interface {
	GitHubToken(ctx context.Context) (string, error)
}

// staticSupplier holds a fixed token (user OAuth).
type staticSupplier struct {
	token string
}

func (s *staticSupplier) GitHubToken(ctx context.Context) (string, error) {
	return s.token, nil
}

// NewStaticSupplier creates a Supplier around a fixed token.
func NewStaticSupplier(token string) Supplier {
	return &staticSupplier{token: token}
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Oracle mints installation tokens for a GitHub App and caches them per
// installation until shortly before expiry.
type Oracle struct {
	appID      string
	privateKey *rsa.PrivateKey

	mu    sync.Mutex
	cache map[int64]cachedToken

	// Now can be overridden in tests.
	Now func() time.Time

	// mintFunc can be overridden in tests.
	mintFunc func(ctx context.Context, installationID int64) (string, error)
}

// NewOracle creates a token oracle for the given App credentials.
func NewOracle(appID string, privateKey *rsa.PrivateKey) *Oracle {
	o := &Oracle{
		appID:      appID,
		privateKey: privateKey,
		cache:      map[int64]cachedToken{},
		Now:        time.Now,
	}
	o.mintFunc = o.mint
	return o
}

// InstallationToken returns a token scoped to the installation, minting a
// fresh one when the cache is empty or near expiry.
func (o *Oracle) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	o.mu.Lock()
	cached, ok := o.cache[installationID]
	o.mu.Unlock()
	if ok && o.Now().Before(cached.expiresAt) {
		return cached.token, nil
	}

	token, err := o.mintFunc(ctx, installationID)
	if err != nil {
		return "", fmt.Errorf("failed to mint installation token: %w", err)
	}

	o.mu.Lock()
	o.cache[installationID] = cachedToken{token: token, expiresAt: o.Now().Add(cacheTTL)}
	o.mu.Unlock()
	return token, nil
}

func (o *Oracle) mint(ctx context.Context, installationID int64) (string, error) {
	cfg := githubapp.NewConfig(o.appID, strconv.FormatInt(installationID, 10), o.privateKey)
	app := githubapp.New(cfg)

	tokenRequest := &githubapp.TokenRequestAllRepos{
		Permissions: map[string]string{
			"contents":      "read",
			"issues":        "read",
			"pull_requests": "read",
			"checks":        "read",
			"actions":       "read",
			"metadata":      "read",
		},
	}
	raw, err := app.AccessTokenAllRepos(ctx, tokenRequest)
	if err != nil {
		return "", fmt.Errorf("error creating GitHub access token: %w", err)
	}
	return parseTokenResponse(raw)
}

// InstallationSupplier binds the oracle to one installation.
func (o *Oracle) InstallationSupplier(installationID int64) Supplier {
	return &installationSupplier{oracle: o, installationID: installationID}
}

type installationSupplier struct {
	oracle         *Oracle
	installationID int64
}

func (s *installationSupplier) GitHubToken(ctx context.Context) (string, error) {
	return s.oracle.InstallationToken(ctx, s.installationID)
}

// parseTokenResponse extracts the token from GitHub's token response
// document.
func parseTokenResponse(raw string) (string, error) {
	var ght ghTokenResponse
	if err := json.NewDecoder(strings.NewReader(raw)).Decode(&ght); err != nil {
		return "", fmt.Errorf("failed to parse github token response: %w", err)
	}
	if ght.Token == "" {
		return "", fmt.Errorf("failed to parse github token response: no token in payload")
	}
	return ght.Token, nil
}
