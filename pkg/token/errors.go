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

import "errors"

// Verification failure kinds. Receivers map these onto 401 responses with
// safe detail text; the kind itself is only logged.
var (
	ErrMissingToken          = errors.New("missing token")
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrBadAudience           = errors.New("bad audience")
	ErrBadIssuer             = errors.New("bad issuer")
	ErrCallerNotAllowed      = errors.New("caller not allowed")
	ErrVerifierMisconfigured = errors.New("verifier misconfigured")
	ErrTargetNotAuthorized   = errors.New("target not authorized")
	ErrSignerNotReady        = errors.New("signer has no current key")
	ErrAttestationFailed     = errors.New("key attestation failed")
)

// IsMissingToken checks if an error is a missing token error
func IsMissingToken(err error) bool {
	return errors.Is(err, ErrMissingToken)
}

// IsTokenExpired checks if an error is a token expiry error
func IsTokenExpired(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsAuthFailure reports whether an error is any verification failure that
// should surface as 401.
func IsAuthFailure(err error) bool {
	for _, kind := range []error{
		ErrMissingToken, ErrInvalidToken, ErrTokenExpired,
		ErrBadAudience, ErrBadIssuer, ErrCallerNotAllowed,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
