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

package token

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JWKSPath is the well-known path the key set is served on.
const JWKSPath = "/.well-known/jwks.json"

// JWKSHandler serves the signer's public key set. The endpoint is always
// open; maxAge bounds downstream caching and the current kid doubles as a
// weak ETag.
func JWKSHandler(signer *Signer, maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := signer.JWKS()
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		etag := fmt.Sprintf("%q", signer.CurrentKID())
		c.Header("Cache-Control", fmt.Sprintf("max-age=%d", maxAgeSeconds))
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}
