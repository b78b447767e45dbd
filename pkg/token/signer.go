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

// Package token implements the two-token model of the fabric: context
// tokens minted once per request at the public edge and hop tokens minted
// per outbound S2S call. Signing uses an ephemeral RSA key whose public
// half is attested by a KMS and rotated on a fixed cadence.
package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
)

// Attestor signs the public half of a freshly generated ephemeral key,
// producing a certificate that roots the key in the platform KMS. The KMS
// provider API itself lives outside this repository.
type Attestor interface {
	Attest(ctx context.Context, publicKeyDER []byte) ([]byte, error)
}

// LocalAttestor is a development attestor that returns the DER bytes
// unchanged. Production deployments plug in a KMS-backed implementation.
type LocalAttestor struct{}

// Attest returns the public key DER as its own attestation.
func (LocalAttestor) Attest(_ context.Context, publicKeyDER []byte) ([]byte, error) {
	return publicKeyDER, nil
}

// signingKey is one ephemeral signing key with its KMS attestation.
type signingKey struct {
	kid         string
	private     *rsa.PrivateKey
	attestation []byte
	createdAt   time.Time
}

// Snapshot is the read-only view of current and previous keys. Rotation
// replaces the whole snapshot atomically; readers never observe a torn
// pair.
type Snapshot struct {
	current  *signingKey
	previous *signingKey
}

// SignerOptions configures a Signer.
type SignerOptions struct {
	RotateEvery time.Duration
	// Overlap is how long the previous key stays published after rotation.
	// It must be shorter than RotateEvery.
	Overlap  time.Duration
	Attestor Attestor
	KeyBits  int
}

// Signer owns the ephemeral signing key material for a process. Mint paths
// read the current key; the JWKS endpoint publishes current plus previous.
type Signer struct {
	opts   SignerOptions
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	startStopMutex sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewSigner creates a Signer and generates the initial key synchronously,
// so a constructed Signer can always mint.
func NewSigner(opts SignerOptions, logger *zap.Logger) (*Signer, error) {
	if opts.Attestor == nil {
		opts.Attestor = LocalAttestor{}
	}
	if opts.RotateEvery <= 0 {
		opts.RotateEvery = 15 * time.Minute
	}
	if opts.Overlap <= 0 || opts.Overlap >= opts.RotateEvery {
		opts.Overlap = opts.RotateEvery / 3
	}
	if opts.KeyBits == 0 {
		opts.KeyBits = 2048
	}

	s := &Signer{opts: opts, logger: logger}
	if err := s.Rotate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Rotate generates a new ephemeral key, attests it, and publishes it as
// current with the old current demoted to previous.
func (s *Signer) Rotate(ctx context.Context) error {
	private, err := rsa.GenerateKey(rand.Reader, s.opts.KeyBits)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	attestation, err := s.opts.Attestor.Attest(ctx, der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttestationFailed, err)
	}

	key := &signingKey{
		kid:         uuid.NewString(),
		private:     private,
		attestation: attestation,
		createdAt:   time.Now(),
	}

	s.mu.Lock()
	s.snapshot = Snapshot{current: key, previous: s.snapshot.current}
	s.mu.Unlock()

	metrics.SigningKeyRotations.Inc()
	if s.logger != nil {
		s.logger.Info("signing key rotated", zap.String("kid", key.kid))
	}
	return nil
}

// current returns the current signing key.
func (s *Signer) current() (*signingKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot.current == nil {
		return nil, ErrSignerNotReady
	}
	return s.snapshot.current, nil
}

// Keyfunc resolves token kids against this signer's current and previous
// keys. It backs verification against the local signer without a JWKS
// fetch.
func (s *Signer) Keyfunc() jwt.Keyfunc {
	return func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, k := range []*signingKey{s.snapshot.current, s.snapshot.previous} {
			if k != nil && k.kid == kid {
				return k.private.Public(), nil
			}
		}
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
}

// CurrentKID returns the key id of the current signing key, or "".
func (s *Signer) CurrentKID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot.current == nil {
		return ""
	}
	return s.snapshot.current.kid
}

// JWKS returns the serialized JWK set of the current key plus the previous
// key while it is still inside the overlap window.
func (s *Signer) JWKS() ([]byte, error) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	var set jwkset.JWKSMarshal
	appendKey := func(k *signingKey) error {
		if k == nil {
			return nil
		}
		jwk, err := jwkset.NewJWKFromKey(k.private.Public(), jwkset.JWKOptions{
			Metadata: jwkset.JWKMetadataOptions{
				ALG: jwkset.AlgRS256,
				KID: k.kid,
				USE: jwkset.UseSig,
			},
		})
		if err != nil {
			return fmt.Errorf("marshal jwk %s: %w", k.kid, err)
		}
		set.Keys = append(set.Keys, jwk.Marshal())
		return nil
	}

	if err := appendKey(snap.current); err != nil {
		return nil, err
	}
	if snap.previous != nil && time.Since(snap.current.createdAt) < s.opts.Overlap {
		if err := appendKey(snap.previous); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}

// Start launches the background rotation loop.
func (s *Signer) Start(ctx context.Context) {
	s.startStopMutex.Lock()
	defer s.startStopMutex.Unlock()
	if s.running {
		return
	}

	rotateCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.rotateLoop(rotateCtx)
}

// Stop halts the rotation loop and waits for it to exit.
func (s *Signer) Stop() {
	s.startStopMutex.Lock()
	defer s.startStopMutex.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
}

func (s *Signer) rotateLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.RotateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Rotate(ctx); err != nil && s.logger != nil {
				// Keep signing with the existing key and retry on the
				// next tick.
				s.logger.Error("signing key rotation failed", zap.Error(err))
			}
		}
	}
}
