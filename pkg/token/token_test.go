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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(SignerOptions{KeyBits: 1024}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func newTestVerifier(s *Signer, opts VerifierOptions) *Verifier {
	return NewVerifierWithKeyfunc(s.Keyfunc(), opts, zap.NewNop())
}

func authorizedTarget(slug string) models.Target {
	return models.Target{
		BaseURL:      "http://127.0.0.1:4001",
		Slug:         slug,
		MajorVersion: 1,
		IsAuthorized: true,
	}
}

func TestHopRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	minter, err := NewMinter(signer, MinterOptions{CallerSlug: "gateway", HopTTL: time.Minute})
	require.NoError(t, err)

	hop, err := minter.MintHop(authorizedTarget("user"), "req-1", nil)
	require.NoError(t, err)

	verifier := newTestVerifier(signer, VerifierOptions{
		AllowedIssuers: []string{"gateway"},
	})
	claims, err := verifier.VerifyHop(hop, "user")
	require.NoError(t, err)
	assert.Equal(t, "gateway", claims.Issuer)
	assert.Equal(t, "gateway", claims.Svc)
	assert.Equal(t, "req-1", claims.Rid)
}

func TestHopTamperedSignatureRejected(t *testing.T) {
	signer := newTestSigner(t)
	minter, err := NewMinter(signer, MinterOptions{CallerSlug: "gateway"})
	require.NoError(t, err)

	hop, err := minter.MintHop(authorizedTarget("user"), "req-1", nil)
	require.NoError(t, err)

	// Flip one byte of the signature.
	mutated := []byte(hop)
	mutated[len(mutated)-2] ^= 0x01

	verifier := newTestVerifier(signer, VerifierOptions{AllowedIssuers: []string{"gateway"}})
	_, err = verifier.VerifyHop(string(mutated), "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHopAudienceExact(t *testing.T) {
	signer := newTestSigner(t)
	minter, err := NewMinter(signer, MinterOptions{CallerSlug: "gateway"})
	require.NoError(t, err)

	hop, err := minter.MintHop(authorizedTarget("user"), "req-1", nil)
	require.NoError(t, err)

	verifier := newTestVerifier(signer, VerifierOptions{AllowedIssuers: []string{"gateway"}})
	_, err = verifier.VerifyHop(hop, "geo")
	assert.ErrorIs(t, err, ErrBadAudience)
}

func TestHopIssuerAndCallerPolicy(t *testing.T) {
	signer := newTestSigner(t)
	minter, err := NewMinter(signer, MinterOptions{CallerSlug: "rogue"})
	require.NoError(t, err)

	hop, err := minter.MintHop(authorizedTarget("user"), "req-1", nil)
	require.NoError(t, err)

	verifier := newTestVerifier(signer, VerifierOptions{AllowedIssuers: []string{"gateway"}})
	_, err = verifier.VerifyHop(hop, "user")
	assert.ErrorIs(t, err, ErrBadIssuer)

	verifier = newTestVerifier(signer, VerifierOptions{
		AllowedIssuers: []string{"rogue"},
		AllowedCallers: []string{"gateway"},
	})
	_, err = verifier.VerifyHop(hop, "user")
	assert.ErrorIs(t, err, ErrCallerNotAllowed)
}

func TestHopExpiryWithSkew(t *testing.T) {
	signer := newTestSigner(t)
	key, err := signer.current()
	require.NoError(t, err)

	mint := func(exp time.Time) string {
		claims := HopClaims{
			Svc: "gateway",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "gateway",
				Audience:  jwt.ClaimStrings{"user"},
				IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Minute)),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = key.kid
		signed, err := tok.SignedString(key.private)
		require.NoError(t, err)
		return signed
	}

	verifier := newTestVerifier(signer, VerifierOptions{
		AllowedIssuers: []string{"gateway"},
		ClockSkew:      60 * time.Second,
	})

	// Expired 1s ago: inside the 60s skew window, accepted.
	_, err = verifier.VerifyHop(mint(time.Now().Add(-time.Second)), "user")
	assert.NoError(t, err)

	// Expired 61s ago: outside the window, rejected.
	_, err = verifier.VerifyHop(mint(time.Now().Add(-61*time.Second)), "user")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyHopMissingToken(t *testing.T) {
	verifier := newTestVerifier(newTestSigner(t), VerifierOptions{})
	_, err := verifier.VerifyHop("", "user")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestMintHopRequiresAuthorizedTarget(t *testing.T) {
	minter, err := NewMinter(newTestSigner(t), MinterOptions{CallerSlug: "gateway"})
	require.NoError(t, err)

	_, err = minter.MintHop(models.Target{Slug: "user", Reason: models.ReasonDisabled}, "req-1", nil)
	assert.ErrorIs(t, err, ErrTargetNotAuthorized)
}

func TestContextTokenRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	minter, err := NewMinter(signer, MinterOptions{CallerSlug: "gateway", HopBudgetMax: 6})
	require.NoError(t, err)

	deadline := time.Now().Add(30 * time.Second)
	ctxTok, minted, err := minter.MintContext("req-9", deadline, map[string]interface{}{"sub": "u-42"})
	require.NoError(t, err)
	assert.Equal(t, 6, minted.HopBudget)

	verifier := newTestVerifier(signer, VerifierOptions{})
	claims, err := verifier.VerifyContext(ctxTok)
	require.NoError(t, err)
	assert.Equal(t, "req-9", claims.Rid)
	assert.Equal(t, 6, claims.HopBudget)
	assert.Equal(t, deadline.UnixMilli(), claims.DeadlineMS)
	assert.Equal(t, "u-42", claims.Act["sub"])
}

func TestRotationKeepsPreviousKeyVerifiable(t *testing.T) {
	signer := newTestSigner(t)
	minter, err := NewMinter(signer, MinterOptions{CallerSlug: "gateway"})
	require.NoError(t, err)

	hop, err := minter.MintHop(authorizedTarget("user"), "req-1", nil)
	require.NoError(t, err)
	oldKID := signer.CurrentKID()

	require.NoError(t, signer.Rotate(context.Background()))
	assert.NotEqual(t, oldKID, signer.CurrentKID())

	verifier := newTestVerifier(signer, VerifierOptions{AllowedIssuers: []string{"gateway"}})
	_, err = verifier.VerifyHop(hop, "user")
	assert.NoError(t, err)
}

func TestJWKSHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	signer := newTestSigner(t)

	router := gin.New()
	router.GET(JWKSPath, JWKSHandler(signer, 300))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, JWKSPath, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "max-age=300", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("ETag"))

	var body struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	assert.Equal(t, "RSA", body.Keys[0]["kty"])
	assert.Equal(t, "sig", body.Keys[0]["use"])
	assert.Equal(t, "RS256", body.Keys[0]["alg"])
	assert.Equal(t, signer.CurrentKID(), body.Keys[0]["kid"])

	// Conditional request with the current ETag short-circuits.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, JWKSPath, nil)
	req.Header.Set("If-None-Match", `"`+signer.CurrentKID()+`"`)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestJWKSIncludesPreviousKeyDuringOverlap(t *testing.T) {
	signer, err := NewSigner(SignerOptions{
		RotateEvery: time.Hour,
		Overlap:     time.Minute,
		KeyBits:     1024,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, signer.Rotate(context.Background()))

	body, err := signer.JWKS()
	require.NoError(t, err)

	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(body, &set))
	assert.Len(t, set.Keys, 2)
}

func TestSignerStartStop(t *testing.T) {
	signer, err := NewSigner(SignerOptions{
		RotateEvery: 10 * time.Millisecond,
		Overlap:     time.Millisecond,
		KeyBits:     1024,
	}, zap.NewNop())
	require.NoError(t, err)

	first := signer.CurrentKID()
	signer.Start(context.Background())
	assert.Eventually(t, func() bool {
		return signer.CurrentKID() != first
	}, time.Second, 5*time.Millisecond)
	signer.Stop()
}
