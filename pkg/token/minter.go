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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// HopClaims is the claim set of a hop token. One hop token authorizes
// exactly one caller-to-target call; aud is the target slug, exact.
type HopClaims struct {
	Svc string                 `json:"svc,omitempty"`
	Rid string                 `json:"rid,omitempty"`
	Act map[string]interface{} `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// ContextClaims is the claim set of a context token minted at the public
// edge. HopBudget decrements per hop; a call with no remaining budget is
// denied before any network I/O.
type ContextClaims struct {
	Rid        string                 `json:"rid"`
	HopBudget  int                    `json:"hopBudget"`
	DeadlineMS int64                  `json:"deadlineMs"`
	Act        map[string]interface{} `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// MinterOptions configures a Minter.
type MinterOptions struct {
	// CallerSlug identifies this process; it becomes iss and svc on hop
	// tokens.
	CallerSlug string
	HopTTL     time.Duration
	// HopBudgetMax seeds the hop budget of freshly minted context tokens.
	HopBudgetMax int
}

// Minter mints hop and context tokens with the process signer.
type Minter struct {
	signer *Signer
	opts   MinterOptions
}

// NewMinter creates a Minter bound to a signer.
func NewMinter(signer *Signer, opts MinterOptions) (*Minter, error) {
	if opts.CallerSlug == "" {
		return nil, fmt.Errorf("minter requires a caller slug")
	}
	if opts.HopTTL <= 0 || opts.HopTTL > 2*time.Minute {
		opts.HopTTL = 2 * time.Minute
	}
	if opts.HopBudgetMax <= 0 {
		opts.HopBudgetMax = 6
	}
	return &Minter{signer: signer, opts: opts}, nil
}

// MintHop mints a hop token for one call to target. The act projection is
// attached only when the caller decided the target's policy permits it.
func (m *Minter) MintHop(target models.Target, rid string, act map[string]interface{}) (string, error) {
	if !target.IsAuthorized {
		return "", fmt.Errorf("%w: %s", ErrTargetNotAuthorized, target.Reason)
	}

	now := time.Now()
	claims := HopClaims{
		Svc: m.opts.CallerSlug,
		Rid: rid,
		Act: act,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.opts.CallerSlug,
			Audience:  jwt.ClaimStrings{target.Slug},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.opts.HopTTL)),
		},
	}
	signed, err := m.sign(claims)
	if err == nil {
		metrics.HopsMintedTotal.Inc()
	}
	return signed, err
}

// MintContext mints the request-scoped context token at the public edge.
// The returned claims are what went into the token, so the edge can seed
// its own call state without re-parsing.
func (m *Minter) MintContext(rid string, deadline time.Time, act map[string]interface{}) (string, *ContextClaims, error) {
	now := time.Now()
	claims := &ContextClaims{
		Rid:        rid,
		HopBudget:  m.opts.HopBudgetMax,
		DeadlineMS: deadline.UnixMilli(),
		Act:        act,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.opts.CallerSlug,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(deadline),
		},
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (m *Minter) sign(claims jwt.Claims) (string, error) {
	key, err := m.signer.current()
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.kid
	signed, err := tok.SignedString(key.private)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
