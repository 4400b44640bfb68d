/***************************************************************
 *
 * Copyright (C) 2025, Morph Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package token

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Source issues fresh bearer tokens for a profile.  Implementations wrap
// whatever credential machinery the host environment provides (an SSO
// token file, a device-code flow, the IDE's credential store).
type Source interface {
	Issue(ctx context.Context, profile string) (string, error)
}

// Provider supplies bearer credentials to API calls.  Bearer returns the
// cached token when one is still valid; Refresh discards the cached token
// and issues a new one.  The status poller calls Refresh when the remote
// service rejects a request as unauthorized.
type Provider interface {
	Bearer(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

const (
	// Tokens are refreshed a bit before their stated expiration so an
	// in-flight request does not straddle the expiry.
	expiryGracePeriod = time.Minute

	// Fallback lifetime for opaque (non-JWT) tokens.
	defaultTokenTTL = 10 * time.Minute
)

// CachingProvider caches issued tokens per profile with a TTL derived
// from the token's own `exp` claim.
type CachingProvider struct {
	profile string
	source  Source
	cache   *ttlcache.Cache[string, string]
}

func NewCachingProvider(profile string, source Source) *CachingProvider {
	return &CachingProvider{
		profile: profile,
		source:  source,
		cache:   ttlcache.New[string, string](),
	}
}

func (p *CachingProvider) Bearer(ctx context.Context) (string, error) {
	if item := p.cache.Get(p.profile); item != nil {
		return item.Value(), nil
	}
	return p.Refresh(ctx)
}

func (p *CachingProvider) Refresh(ctx context.Context) (string, error) {
	p.cache.Delete(p.profile)
	tok, err := p.source.Issue(ctx, p.profile)
	if err != nil {
		return "", errors.Wrapf(err, "failed to issue bearer token for profile %s", p.profile)
	}
	ttl := tokenLifetime(tok)
	p.cache.Set(p.profile, tok, ttl)
	log.Debugf("Issued bearer token for profile %s (cached for %s)", p.profile, ttl)
	return tok, nil
}

// tokenLifetime inspects the token's expiration claim without verifying
// its signature; we only need the expiry, the remote service is the one
// validating the token.
func tokenLifetime(tok string) time.Duration {
	parsed, err := jwt.ParseString(tok, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		// Not a JWT; cache briefly and let the service decide.
		return defaultTokenTTL
	}
	exp := parsed.Expiration()
	if exp.IsZero() {
		return defaultTokenTTL
	}
	ttl := time.Until(exp) - expiryGracePeriod
	if ttl <= 0 {
		// Already (nearly) expired; keep it around just long enough for
		// the caller's immediate request.
		return time.Second
	}
	return ttl
}

// FileSource reads a bearer token from a file on every issue, trimming
// surrounding whitespace.  The file is expected to be rotated externally.
type FileSource struct {
	Path string
}

func (s FileSource) Issue(_ context.Context, _ string) (string, error) {
	contents, err := os.ReadFile(s.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read token file %s", s.Path)
	}
	tok := strings.TrimSpace(string(contents))
	if tok == "" {
		return "", errors.Errorf("token file %s is empty", s.Path)
	}
	return tok, nil
}

// EnvSource reads a bearer token from an environment variable.
type EnvSource struct {
	Name string
}

func (s EnvSource) Issue(_ context.Context, _ string) (string, error) {
	tok := strings.TrimSpace(os.Getenv(s.Name))
	if tok == "" {
		return "", errors.Errorf("environment variable %s does not contain a token", s.Name)
	}
	return tok, nil
}
