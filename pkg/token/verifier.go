/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
)

// VerifierOptions configures hop token verification policy.
type VerifierOptions struct {
	JWKSURL        string
	AllowedIssuers []string
	// AllowedCallers restricts the svc claim; empty means any issuer-
	// approved caller.
	AllowedCallers []string
	ClockSkew      time.Duration
	// JWKSCooldown bounds how often a failed JWKS fetch is retried.
	JWKSCooldown time.Duration
	// RefreshInterval is the background JWKS refresh period.
	RefreshInterval time.Duration
}

// Verifier validates inbound hop tokens against the caller policy of this
// process.
type Verifier struct {
	keyfunc        jwt.Keyfunc
	allowedIssuers map[string]struct{}
	allowedCallers map[string]struct{}
	skew           time.Duration
	logger         *zap.Logger
}

// NewVerifier creates a Verifier that fetches and caches JWKS from the
// configured URL. JWKS is refreshed in the background; fetch failures are
// retried no faster than the cooldown.
func NewVerifier(ctx context.Context, opts VerifierOptions, logger *zap.Logger) (*Verifier, error) {
	if opts.JWKSURL == "" {
		return nil, fmt.Errorf("%w: JWKS URL not configured", ErrVerifierMisconfigured)
	}

	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = 10 * time.Minute
	}
	// The cooldown floors the refresh period so a failing JWKS endpoint is
	// never hammered.
	if opts.JWKSCooldown > refresh {
		refresh = opts.JWKSCooldown
	}

	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Ctx:             ctx,
		RefreshInterval: refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Warn("jwks refresh failed", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create JWKS storage: %v", ErrVerifierMisconfigured, err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("%w: create JWKS provider: %v", ErrVerifierMisconfigured, err)
	}

	return newVerifierWithKeyfunc(kf.Keyfunc, opts, logger), nil
}

// NewVerifierWithKeyfunc creates a Verifier with an injected key lookup.
// Used by tests and by in-process verification against the local signer.
func NewVerifierWithKeyfunc(kf jwt.Keyfunc, opts VerifierOptions, logger *zap.Logger) *Verifier {
	return newVerifierWithKeyfunc(kf, opts, logger)
}

func newVerifierWithKeyfunc(kf jwt.Keyfunc, opts VerifierOptions, logger *zap.Logger) *Verifier {
	v := &Verifier{
		keyfunc:        kf,
		allowedIssuers: make(map[string]struct{}, len(opts.AllowedIssuers)),
		allowedCallers: make(map[string]struct{}, len(opts.AllowedCallers)),
		skew:           opts.ClockSkew,
		logger:         logger,
	}
	if v.skew <= 0 {
		v.skew = time.Minute
	}
	for _, iss := range opts.AllowedIssuers {
		v.allowedIssuers[iss] = struct{}{}
	}
	for _, svc := range opts.AllowedCallers {
		v.allowedCallers[svc] = struct{}{}
	}
	return v
}

// VerifyHop validates a hop token for this process. The audience must
// equal expectedAud exactly; issuer and caller must be on the allow lists.
func (v *Verifier) VerifyHop(tokenString, expectedAud string) (*HopClaims, error) {
	claims, err := v.verifyHop(tokenString, expectedAud)
	if err != nil {
		metrics.TokenVerifiedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.TokenVerifiedTotal.WithLabelValues("accepted").Inc()
	return claims, nil
}

func (v *Verifier) verifyHop(tokenString, expectedAud string) (*HopClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &HopClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.skew),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !claimsContain(claims.Audience, expectedAud) {
		return nil, fmt.Errorf("%w: want %q", ErrBadAudience, expectedAud)
	}
	if len(v.allowedIssuers) > 0 {
		if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadIssuer, claims.Issuer)
		}
	}
	if claims.Svc != "" && len(v.allowedCallers) > 0 {
		if _, ok := v.allowedCallers[claims.Svc]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrCallerNotAllowed, claims.Svc)
		}
	}
	return claims, nil
}

// VerifyContext validates a context token minted at the edge.
func (v *Verifier) VerifyContext(tokenString string) (*ContextClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &ContextClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.skew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func claimsContain(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
