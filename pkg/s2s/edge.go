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

package s2s

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/problem"
	"github.com/davidwdraper/EFFV2-sub000/pkg/token"
)

// edgeContextKey is the gin context key the edge middleware stores the
// EdgeContext under.
const edgeContextKey = "s2s.edgeContext"

// EdgeContext is the per-request state minted at the public edge. Its Bag
// seeds every outbound call the edge makes on behalf of the request.
type EdgeContext struct {
	Claims *token.ContextClaims
	Token  string
	Bag    *CallBag
}

// Deadline is the absolute point the whole request tree must finish by.
func (ec *EdgeContext) Deadline() time.Time {
	return time.UnixMilli(ec.Claims.DeadlineMS)
}

// EdgeAuthOptions configures the edge authentication middleware.
type EdgeAuthOptions struct {
	// RequestBudget bounds the whole request tree; it becomes the context
	// token deadline. Zero means 30 seconds.
	RequestBudget time.Duration
}

// EdgeAuth mints the request-scoped context token on every inbound edge
// request. The hop budget and deadline it carries bound the entire call
// tree fanning out from this request; handlers read them back through
// EdgeContextFrom and pass the Bag on outbound calls.
func EdgeAuth(minter *token.Minter, opts EdgeAuthOptions, logger *zap.Logger) gin.HandlerFunc {
	budget := opts.RequestBudget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return func(c *gin.Context) {
		rid := requestID(c)

		// An upstream-validated user assertion is projected into the act
		// claim so downstream policy can require it.
		var act map[string]interface{}
		if assertion := strings.TrimSpace(c.GetHeader(HeaderUserAssertion)); assertion != "" {
			act = map[string]interface{}{"sub": assertion}
		}

		deadline := time.Now().Add(budget)
		ctxToken, claims, err := minter.MintContext(rid, deadline, act)
		if err != nil {
			logger.Error("context token mint failed",
				zap.String("requestId", rid),
				zap.Error(err))
			problem.Render(c, http.StatusInternalServerError, "edge context unavailable", rid)
			return
		}

		c.Set(edgeContextKey, &EdgeContext{
			Claims: claims,
			Token:  ctxToken,
			Bag: &CallBag{
				HopBudget: claims.HopBudget,
				Deadline:  deadline,
				Context:   ctxToken,
			},
		})
		c.Next()
	}
}

// EdgeContextFrom returns the minted edge context, or nil outside the
// edge middleware.
func EdgeContextFrom(c *gin.Context) *EdgeContext {
	if v, ok := c.Get(edgeContextKey); ok {
		if ec, ok := v.(*EdgeContext); ok {
			return ec
		}
	}
	return nil
}
