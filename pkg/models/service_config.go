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

package models

import "fmt"

// ServiceConfig is one entry of the service configuration mirror, keyed by
// (env, slug, majorVersion).
type ServiceConfig struct {
	Env               string `json:"env"`
	Slug              string `json:"slug"`
	MajorVersion      int    `json:"majorVersion"`
	BaseURL           string `json:"baseUrl"`
	Enabled           bool   `json:"enabled"`
	IsS2STarget       bool   `json:"isS2STarget"`
	ExposeHealth      bool   `json:"exposeHealth"`
	OutboundAPIPrefix string `json:"outboundApiPrefix"`
	UpdatedAt         int64  `json:"updatedAt"`
	Revision          int64  `json:"revision"`
}

// Key returns the canonical cache key for this configuration.
func (c *ServiceConfig) Key() string {
	return ServiceKey(c.Env, c.Slug, c.MajorVersion)
}

// ServiceKey builds the canonical "env:slug:version" cache key.
func ServiceKey(env, slug string, majorVersion int) string {
	return fmt.Sprintf("%s:%s:%d", env, slug, majorVersion)
}

// Reasons a resolution result is not authorized.
const (
	ReasonNotFound       = "NOT_FOUND"
	ReasonDisabled       = "DISABLED"
	ReasonNotS2STarget   = "NOT_S2S_TARGET"
	ReasonBaseURLMissing = "BASEURL_MISSING"
)

// Target is the result of resolving a service configuration for an outbound
// call. IsAuthorized=true implies a non-empty BaseURL.
type Target struct {
	BaseURL           string `json:"baseUrl"`
	Slug              string `json:"slug"`
	MajorVersion      int    `json:"majorVersion"`
	OutboundAPIPrefix string `json:"outboundApiPrefix"`
	IsAuthorized      bool   `json:"isAuthorized"`
	// Reason carries one of the Reason* codes when IsAuthorized is false.
	Reason string `json:"reasonIfNotAuthorized,omitempty"`
}
