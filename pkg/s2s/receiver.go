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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/problem"
	"github.com/davidwdraper/EFFV2-sub000/pkg/routepolicy"
	"github.com/davidwdraper/EFFV2-sub000/pkg/token"
)

// AuditSink accepts audit blobs for durable journaling. The WAL engine is
// the production implementation.
type AuditSink interface {
	Append(blob models.AuditBlob) error
}

// requestContextKey is the gin context key the receiver stores the
// RequestContext under.
const requestContextKey = "s2s.requestContext"

// RequestContext is the verified identity and scope of one inbound S2S
// request.
type RequestContext struct {
	RequestID string
	Caller    string
	Act       map[string]interface{}
	Deadline  time.Time
	OpID      string
	// Bag carries the remaining hop budget and deadline for calls this
	// handler makes. Nil when the request arrived without a context token.
	Bag *CallBag
}

// HandlerFunc is a service handler invoked after verification and policy
// enforcement. It returns the response status and payload; the receiver
// wraps both in the canonical envelope.
type HandlerFunc func(c *gin.Context, rc *RequestContext) (int, interface{})

// ReceiverOptions configures a Receiver.
type ReceiverOptions struct {
	Slug         string
	MajorVersion int
	APIPrefix    string
}

// Receiver is the inbound half of the fabric: hop verification, route
// policy enforcement, and audit bracketing for one service.
type Receiver struct {
	opts     ReceiverOptions
	verifier *token.Verifier
	policies *routepolicy.Store
	sink     AuditSink
	logger   *zap.Logger
}

// NewReceiver creates a Receiver.
func NewReceiver(opts ReceiverOptions, verifier *token.Verifier, policies *routepolicy.Store, sink AuditSink, logger *zap.Logger) *Receiver {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	return &Receiver{opts: opts, verifier: verifier, policies: policies, sink: sink, logger: logger}
}

// Middleware verifies the hop token and enforces route policy, then
// stores the RequestContext for handlers. Open routes (health, JWKS) are
// mounted outside this middleware.
func (r *Receiver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := r.authorize(c)
		if !ok {
			return
		}
		c.Set(requestContextKey, rc)
		c.Next()
	}
}

// Fallback is the deny handler for requests under the service mount that
// matched no registered route. Policy enforcement must not depend on the
// route table mirroring the policy table, so the same verification and
// policy checks run here; a request that would have been allowed gets a
// problem 404 instead of the router's bare one.
func (r *Receiver) Fallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := r.authorize(c)
		if !ok {
			return
		}
		problem.Render(c, http.StatusNotFound, "resource not found", rc.RequestID)
	}
}

// authorize runs hop verification, route policy, and context token
// checks for one request. On denial the problem document is already
// rendered and the chain aborted.
func (r *Receiver) authorize(c *gin.Context) (*RequestContext, bool) {
	rid := requestID(c)

	tokenString, ok := bearerToken(c)
	if !ok {
		problem.Render(c, http.StatusUnauthorized, "missing bearer token", rid)
		return nil, false
	}

	claims, err := r.verifier.VerifyHop(tokenString, r.opts.Slug)
	if err != nil {
		r.logger.Warn("hop verification failed",
			zap.String("requestId", rid),
			zap.Error(err))
		problem.Render(c, http.StatusUnauthorized, safeAuthDetail(err), rid)
		return nil, false
	}

	decision := r.policies.Lookup(r.opts.Slug, r.opts.MajorVersion, c.Request.Method, r.policyPath(c))
	if !decision.Matched {
		problem.Render(c, http.StatusForbidden, "no route policy permits this operation", rid)
		return nil, false
	}

	rc := &RequestContext{
		RequestID: rid,
		Caller:    claims.Svc,
		Act:       claims.Act,
		OpID:      decision.Rule.OpID,
	}
	if claims.ExpiresAt != nil {
		rc.Deadline = claims.ExpiresAt.Time
	}

	switch decision.Rule.UserAssertion {
	case models.UserAssertionForbidden:
		c.Request.Header.Del(HeaderUserAssertion)
		rc.Act = nil
	case models.UserAssertionRequired:
		if strings.TrimSpace(c.GetHeader(HeaderUserAssertion)) == "" && rc.Act == nil {
			problem.Render(c, http.StatusUnauthorized, "user assertion required", rid)
			return nil, false
		}
	case models.UserAssertionOptional:
		// Pass through when present.
	}

	if claims.Rid != "" {
		rc.RequestID = claims.Rid
	}

	// The edge-minted context token is authoritative for request id,
	// deadline, and remaining hop budget when present.
	if ctxToken := c.GetHeader(HeaderContext); ctxToken != "" {
		cc, err := r.verifier.VerifyContext(ctxToken)
		if err != nil {
			r.logger.Warn("context token verification failed",
				zap.String("requestId", rid),
				zap.Error(err))
			problem.Render(c, http.StatusUnauthorized, safeAuthDetail(err), rid)
			return nil, false
		}
		if cc.Rid != "" {
			rc.RequestID = cc.Rid
		}
		rc.Deadline = time.UnixMilli(cc.DeadlineMS)
		// The hop that delivered this request spent one budget unit.
		rc.Bag = &CallBag{
			HopBudget: cc.HopBudget - 1,
			Deadline:  rc.Deadline,
			Context:   ctxToken,
		}
	}

	return rc, true
}

// Handle wraps a service handler: a begin record is durably journaled
// before the handler runs, the result is written as an envelope, and an
// end record follows. A request the sink cannot journal is never acked.
func (r *Receiver) Handle(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := RequestContextFrom(c)
		if rc == nil {
			// Handler mounted without the middleware.
			problem.Render(c, http.StatusInternalServerError, "request context missing", requestID(c))
			return
		}

		if err := r.audit(rc, models.AuditPhaseBegin, map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"caller": rc.Caller,
			"opId":   rc.OpID,
		}); err != nil {
			r.logger.Error("audit begin failed, refusing request",
				zap.String("requestId", rc.RequestID),
				zap.Error(err))
			problem.Render(c, http.StatusServiceUnavailable, "audit journal unavailable", rc.RequestID)
			return
		}

		status, body := h(c, rc)

		if status >= 200 && status <= 299 {
			c.JSON(status, models.OKEnvelope(r.opts.Slug, body, rc.RequestID))
		} else {
			detail, _ := body.(string)
			c.JSON(status, models.ErrEnvelope(r.opts.Slug, status, detail, rc.RequestID))
		}

		if err := r.audit(rc, models.AuditPhaseEnd, map[string]interface{}{
			"status": status,
			"opId":   rc.OpID,
		}); err != nil {
			// The response is already on the wire; the failure is logged
			// and surfaces through journal metrics.
			r.logger.Error("audit end failed",
				zap.String("requestId", rc.RequestID),
				zap.Error(err))
		}
	}
}

func (r *Receiver) audit(rc *RequestContext, phase string, data map[string]interface{}) error {
	return r.sink.Append(models.AuditBlob{
		Meta: models.AuditMeta{
			Service:   r.opts.Slug,
			TS:        time.Now().UnixMilli(),
			RequestID: rc.RequestID,
		},
		Phase: phase,
		Data:  data,
	})
}

// policyPath strips the service mount so policy rules are written
// service-relative, e.g. "/v1/users/:id".
func (r *Receiver) policyPath(c *gin.Context) string {
	mount := r.opts.APIPrefix + "/" + r.opts.Slug
	path := c.Request.URL.Path
	if strings.HasPrefix(path, mount) {
		return strings.TrimPrefix(path, mount)
	}
	return path
}

// RequestContextFrom returns the verified request context, or nil outside
// the receiver middleware.
func RequestContextFrom(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(*RequestContext); ok {
			return rc
		}
	}
	return nil
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

func requestID(c *gin.Context) string {
	for _, h := range []string{HeaderRequestID, "X-Correlation-Id", "X-Amzn-Trace-Id"} {
		if rid := c.GetHeader(h); rid != "" {
			return rid
		}
	}
	return uuid.NewString()
}

// safeAuthDetail maps verification failures onto operator-safe detail
// text; the precise kind is only logged.
func safeAuthDetail(err error) string {
	switch {
	case token.IsMissingToken(err):
		return "missing bearer token"
	case token.IsTokenExpired(err):
		return "token expired"
	default:
		return "token verification failed"
	}
}
