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
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the canonical request id header, echoed on every
	// response.
	RequestIDHeader = "X-Request-Id"
	// RequestIDKey is the Gin context key for the request id
	RequestIDKey = "request_id"
	// LoggerKey is the Gin context key for the request-aware logger
	LoggerKey = "logger"
)

// acceptedIDHeaders are honored in order when a request arrives with an id
// already assigned upstream.
var acceptedIDHeaders = []string{RequestIDHeader, "X-Correlation-Id", "X-Amzn-Trace-Id"}

// RequestIDMiddleware accepts an inbound request id from any of the known
// headers, mints a UUID when none is present, stores it in the Gin
// context, and unconditionally echoes it as X-Request-Id. A logger tagged
// with the id is stored for downstream handlers.
//
// Header matching is case-insensitive per HTTP/1.1 spec.
func RequestIDMiddleware(baseLogger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var requestID string
		for _, h := range acceptedIDHeaders {
			if requestID = c.GetHeader(h); requestID != "" {
				break
			}
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)

		logger := baseLogger.With(zap.String("requestId", requestID))
		c.Set(LoggerKey, logger)

		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetLogger retrieves the request-aware logger from the Gin context
// If not found, returns the provided fallback logger
func GetLogger(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if logger, exists := c.Get(LoggerKey); exists {
		if l, ok := logger.(*zap.Logger); ok {
			return l
		}
	}
	return fallback
}

// GetRequestID retrieves the request id from the Gin context
// Returns empty string if not found
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
