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
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPLogMiddleware creates a Gin middleware for request/response logging.
// Liveness probes are suppressed to keep the log readable.
func HTTPLogMiddleware(logger *zap.Logger, serviceTag string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		if isLivenessPath(path) {
			return
		}

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		clientIP := c.ClientIP()

		logger.Info("HTTP request",
			zap.String("service", serviceTag),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", clientIP),
			zap.String("requestId", GetRequestID(c)),
		)
	}
}

// isLivenessPath reports whether path is one of the open health probes.
func isLivenessPath(path string) bool {
	switch strings.TrimRight(path, "/") {
	case "/health/live", "/health/ready", "/healthz", "/readyz", "/live", "/ready":
		return true
	}
	return false
}
