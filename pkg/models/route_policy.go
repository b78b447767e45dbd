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

// UserAssertionMode controls how a route treats the X-User-Assertion header.
type UserAssertionMode string

const (
	UserAssertionRequired  UserAssertionMode = "required"
	UserAssertionOptional  UserAssertionMode = "optional"
	UserAssertionForbidden UserAssertionMode = "forbidden"
)

// Valid reports whether m is one of the recognized modes.
func (m UserAssertionMode) Valid() bool {
	switch m {
	case UserAssertionRequired, UserAssertionOptional, UserAssertionForbidden:
		return true
	}
	return false
}

// Rule is a single route policy rule. Zero values of Public and
// UserAssertion deliberately map to the deny-leaning defaults
// (public=false, userAssertion=required).
type Rule struct {
	Method        string            `json:"method"`
	PathPattern   string            `json:"pathPattern"`
	Public        bool              `json:"public"`
	UserAssertion UserAssertionMode `json:"userAssertion"`
	OpID          string            `json:"opId"`
}

// RoutePolicy is the revisioned rule table for one (slug, majorVersion).
type RoutePolicy struct {
	Slug         string `json:"slug"`
	MajorVersion int    `json:"majorVersion"`
	Revision     int64  `json:"revision"`
	Rules        []Rule `json:"rules"`
}
