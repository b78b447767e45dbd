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

package mirror

import "errors"

var (
	// ErrDuplicateConfig indicates the config service returned more than one
	// item for a single (env, slug, version) key. This is data corruption.
	ErrDuplicateConfig = errors.New("duplicate service configuration")

	// ErrMalformedResponse indicates the config service response could not
	// be decoded.
	ErrMalformedResponse = errors.New("malformed config service response")

	// ErrLookupFailed indicates the route lookup call failed at the HTTP
	// layer (network error or non-2xx status).
	ErrLookupFailed = errors.New("config service lookup failed")
)

// IsDuplicateConfig checks if an error is a duplicate config error
func IsDuplicateConfig(err error) bool {
	return errors.Is(err, ErrDuplicateConfig)
}

// IsLookupFailed checks if an error is a lookup failure
func IsLookupFailed(err error) bool {
	return errors.Is(err, ErrLookupFailed)
}
