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
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/problem"
	"github.com/davidwdraper/EFFV2-sub000/pkg/s2s"
)

// RecoveryMiddleware renders panics as problem+json instead of killing
// the connection.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log := GetLogger(c, logger)

				log.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				problem.Render(c, http.StatusInternalServerError,
					"internal server error", GetRequestID(c))
			}
		}()

		c.Next()
	}
}

// ErrorProblemMiddleware renders any error attached to the Gin context as
// problem+json and enqueues an audit error event without blocking the
// response. Handler code records errors with c.Error and aborts; the
// rendering lives here, once.
func ErrorProblemMiddleware(service string, sink s2s.AuditSink, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		requestID := GetRequestID(c)
		log := GetLogger(c, logger)

		status := c.Writer.Status()
		if status < 400 {
			status = http.StatusInternalServerError
		}

		log.Error("request failed",
			zap.Int("status", status),
			zap.Error(err))

		if !c.Writer.Written() {
			problem.Render(c, status, safeDetail(status), requestID)
		}

		if sink != nil {
			blob := models.AuditBlob{
				Meta: models.AuditMeta{
					Service:   service,
					TS:        time.Now().UnixMilli(),
					RequestID: requestID,
				},
				Phase: models.AuditPhaseError,
				Data: map[string]interface{}{
					"status": status,
					"path":   c.Request.URL.Path,
				},
			}
			go func() {
				if err := sink.Append(blob); err != nil {
					logger.Error("audit error event dropped", zap.Error(err))
				}
			}()
		}
	}
}

// safeDetail maps a status onto user-safe detail text; internal causes
// stay in the logs keyed by request id.
func safeDetail(status int) string {
	if status >= 500 {
		return "internal server error"
	}
	return http.StatusText(status)
}

// Trace5xxMiddleware logs the first 5xx origin of a request exactly once,
// with a file:line hint for triage.
func Trace5xxMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		w := &statusOriginWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		if w.status >= 500 && w.origin != "" {
			GetLogger(c, logger).Error("5xx response",
				zap.Int("status", w.status),
				zap.String("origin", w.origin),
				zap.String("path", c.Request.URL.Path))
		}
	}
}

type statusOriginWriter struct {
	gin.ResponseWriter
	status int
	origin string
}

func (w *statusOriginWriter) WriteHeader(status int) {
	if status >= 500 && w.origin == "" {
		w.status = status
		if _, file, line, ok := runtime.Caller(2); ok {
			w.origin = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}
	w.ResponseWriter.WriteHeader(status)
}
