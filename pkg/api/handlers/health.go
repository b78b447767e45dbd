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

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadyCheck reports whether the service can take traffic. A nil check
// means always ready.
type ReadyCheck func() error

// RegisterHealthRoutes mounts the open health probes. These stay outside
// every auth and policy gate: an orchestrator must be able to probe a
// service whose signing or journal path is down.
func RegisterHealthRoutes(r gin.IRouter, ready ReadyCheck) {
	live := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	readiness := func(c *gin.Context) {
		if ready != nil {
			if err := ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unavailable",
					"reason": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}

	for _, path := range []string{"/health/live", "/healthz", "/live"} {
		r.GET(path, live)
	}
	for _, path := range []string{"/health/ready", "/readyz", "/ready"} {
		r.GET(path, readiness)
	}
}
