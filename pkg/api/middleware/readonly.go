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

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/davidwdraper/EFFV2-sub000/pkg/problem"
)

// mutatingMethods are blocked while read-only mode is on.
var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// ReadOnlyMiddleware blocks mutating methods with 503 when the mode is
// enabled. Exempt prefixes pass through regardless.
func ReadOnlyMiddleware(enabled bool, exemptPrefixes []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled || !mutatingMethods[c.Request.Method] {
			c.Next()
			return
		}
		for _, prefix := range exemptPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		problem.Render(c, http.StatusServiceUnavailable,
			"service is in read-only mode", GetRequestID(c))
	}
}
