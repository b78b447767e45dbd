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

package s2s

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorizedCall indicates target resolution denied the call
	// before any network I/O.
	ErrUnauthorizedCall = errors.New("unauthorized s2s call")

	// ErrHopBudgetExhausted indicates the request's hop budget reached
	// zero.
	ErrHopBudgetExhausted = errors.New("hop budget exhausted")

	// ErrUpstreamTimeout indicates the call deadline expired in flight.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamNetwork indicates a transport-level failure before any
	// response was received.
	ErrUpstreamNetwork = errors.New("upstream network failure")

	// ErrUpstreamBadJSON indicates a 2xx response whose body could not be
	// decoded as the expected envelope.
	ErrUpstreamBadJSON = errors.New("upstream returned malformed JSON")

	// ErrBadFullPath indicates a raw-passthrough path outside the mounted
	// API prefix.
	ErrBadFullPath = errors.New("full path must begin with the API prefix")
)

// UpstreamError is a structured non-2xx upstream response.
type UpstreamError struct {
	Slug         string
	MajorVersion int
	Status       int
	BodySnippet  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s v%d returned %d: %s",
		e.Slug, e.MajorVersion, e.Status, e.BodySnippet)
}

// IsUnauthorizedCall checks if an error is an unauthorized call error
func IsUnauthorizedCall(err error) bool {
	return errors.Is(err, ErrUnauthorizedCall)
}

// AsUpstreamError extracts an UpstreamError if err carries one.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
