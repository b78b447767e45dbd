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

// Package problem renders errors as RFC 7807 application/problem+json
// documents. Every error response on the fabric uses this shape; the
// instance field always carries the request id.
package problem

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContentType is the media type for problem documents.
const ContentType = "application/problem+json"

// Details is an RFC 7807 problem document.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

// New builds a problem document with type "about:blank" and the default
// title for the status code.
func New(status int, detail, requestID string) Details {
	return Details{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: requestID,
	}
}

// Render writes a problem document on the gin context and aborts the
// remaining handler chain.
func Render(c *gin.Context, status int, detail, requestID string) {
	c.Header("Content-Type", ContentType)
	c.AbortWithStatusJSON(status, New(status, detail, requestID))
}
