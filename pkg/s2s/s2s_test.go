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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/mirror"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/routepolicy"
	"github.com/davidwdraper/EFFV2-sub000/pkg/token"
)

// memorySink buffers audit blobs in memory.
type memorySink struct {
	blobs []models.AuditBlob
	fail  bool
}

func (s *memorySink) Append(blob models.AuditBlob) error {
	if s.fail {
		return assert.AnError
	}
	s.blobs = append(s.blobs, blob)
	return nil
}

func newTestSigner(t *testing.T) *token.Signer {
	t.Helper()
	signer, err := token.NewSigner(token.SignerOptions{KeyBits: 1024}, zap.NewNop())
	require.NoError(t, err)
	return signer
}

// warmedMirror returns a mirror preloaded with one authorized target.
func warmedMirror(t *testing.T, baseURL string) *mirror.Mirror {
	t.Helper()
	m, err := mirror.New(mirror.Options{ConfigServiceURL: "http://config.internal:4000"}, zap.NewNop())
	require.NoError(t, err)
	m.Put(models.ServiceConfig{
		Env:               "dev",
		Slug:              "user",
		MajorVersion:      1,
		BaseURL:           baseURL,
		Enabled:           true,
		IsS2STarget:       true,
		OutboundAPIPrefix: "/api",
	})
	return m
}

func newTestClient(t *testing.T, m *mirror.Mirror, signer *token.Signer) *Client {
	t.Helper()
	minter, err := token.NewMinter(signer, token.MinterOptions{CallerSlug: "gateway", HopTTL: time.Minute})
	require.NoError(t, err)
	return NewClient(ClientOptions{
		Env:           "dev",
		CallerSlug:    "gateway",
		CallerVersion: 1,
	}, m, minter, zap.NewNop())
}

func TestClientCallAttachesHopAndHeaders(t *testing.T) {
	signer := newTestSigner(t)
	verifier := token.NewVerifierWithKeyfunc(signer.Keyfunc(), token.VerifierOptions{
		AllowedIssuers: []string{"gateway"},
	}, zap.NewNop())

	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "req-1", r.Header.Get(HeaderRequestID))
		assert.Equal(t, "gateway", r.Header.Get(HeaderServiceName))
		assert.Equal(t, "1", r.Header.Get(HeaderAPIVersion))

		hop := r.Header.Get("Authorization")
		require.NotEmpty(t, hop)
		claims, err := verifier.VerifyHop(hop[len("Bearer "):], "user")
		require.NoError(t, err)
		assert.Equal(t, "req-1", claims.Rid)

		_ = json.NewEncoder(w).Encode(models.OKEnvelope("user", map[string]string{"id": "42"}, "req-1"))
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), signer)
	res, err := client.Call(context.Background(), CallParams{
		Slug:      "user",
		Version:   1,
		Method:    "GET",
		Path:      "users/get",
		RequestID: "req-1",
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "/api/user/v1/users/get", gotPath)
	assert.Equal(t, http.StatusOK, res.Status)
	require.NotNil(t, res.Envelope)
	assert.True(t, res.Envelope.OK)
	assert.Equal(t, "user", res.Envelope.Service)
}

func TestClientCallUnauthorizedTarget(t *testing.T) {
	m, err := mirror.New(mirror.Options{ConfigServiceURL: "http://config.internal:4000"}, zap.NewNop())
	require.NoError(t, err)
	m.Put(models.ServiceConfig{
		Env: "dev", Slug: "user", MajorVersion: 1,
		BaseURL: "http://127.0.0.1:1", Enabled: false, IsS2STarget: true,
	})

	client := newTestClient(t, m, newTestSigner(t))
	_, err = client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "users/get", RequestID: "req-1",
	}, false)
	require.Error(t, err)
	assert.True(t, IsUnauthorizedCall(err))
	assert.Contains(t, err.Error(), models.ReasonDisabled)
}

func TestClientCallNon2xx(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))
	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "users/get", RequestID: "req-1",
	}, false)
	require.Error(t, err)

	ue, ok := AsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, ue.Status)
	assert.Equal(t, "user", ue.Slug)
	assert.Contains(t, ue.BodySnippet, "boom")
}

func TestClientCallTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))
	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "users/get",
		RequestID: "req-1", TimeoutMS: 20,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestClientCallBadJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))
	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "users/get", RequestID: "req-1",
	}, true)
	assert.ErrorIs(t, err, ErrUpstreamBadJSON)
}

func TestClientRawPassthrough(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))

	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET",
		FullPath: "/api/user/v1/users/42", RequestID: "req-1",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "/api/user/v1/users/42", gotPath)

	// Paths outside the API prefix are rejected without any I/O.
	_, err = client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET",
		FullPath: "/admin/users", RequestID: "req-1",
	}, false)
	assert.ErrorIs(t, err, ErrBadFullPath)
}

func TestClientHopBudget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))

	bag := &CallBag{HopBudget: 1}
	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "x", RequestID: "req-1", Bag: bag,
	}, false)
	require.NoError(t, err)
	assert.Zero(t, bag.HopBudget)

	_, err = client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "x", RequestID: "req-1", Bag: bag,
	}, false)
	assert.ErrorIs(t, err, ErrHopBudgetExhausted)
}

func TestClientPropagatesContextToken(t *testing.T) {
	var gotContext string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContext = r.Header.Get(HeaderContext)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))

	bag := &CallBag{HopBudget: 3, Deadline: time.Now().Add(time.Minute), Context: "ctx-token"}
	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "x", RequestID: "req-1", Bag: bag,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "ctx-token", gotContext)
}

func TestClientExhaustedBagDeadlineFailsBeforeIO(t *testing.T) {
	var called bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer upstream.Close()

	client := newTestClient(t, warmedMirror(t, upstream.URL), newTestSigner(t))

	bag := &CallBag{HopBudget: 3, Deadline: time.Now().Add(-time.Second)}
	_, err := client.Call(context.Background(), CallParams{
		Slug: "user", Version: 1, Method: "GET", Path: "x", RequestID: "req-1", Bag: bag,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.False(t, called)
}

// receiverFixture wires a full inbound stack against a local signer.
type receiverFixture struct {
	router *gin.Engine
	signer *token.Signer
	minter *token.Minter
	sink   *memorySink
}

func newReceiverFixture(t *testing.T, rules ...models.Rule) *receiverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer := newTestSigner(t)
	minter, err := token.NewMinter(signer, token.MinterOptions{CallerSlug: "gateway", HopTTL: time.Minute})
	require.NoError(t, err)

	verifier := token.NewVerifierWithKeyfunc(signer.Keyfunc(), token.VerifierOptions{
		AllowedIssuers: []string{"gateway"},
	}, zap.NewNop())

	policies := routepolicy.NewStore()
	require.NoError(t, policies.Load(models.RoutePolicy{
		Slug: "user", MajorVersion: 1, Revision: 1, Rules: rules,
	}))

	sink := &memorySink{}
	receiver := NewReceiver(ReceiverOptions{Slug: "user", MajorVersion: 1}, verifier, policies, sink, zap.NewNop())

	router := gin.New()
	api := router.Group("/api/user", receiver.Middleware())
	api.GET("/v1/users/:id", receiver.Handle(func(c *gin.Context, rc *RequestContext) (int, interface{}) {
		return http.StatusOK, map[string]string{"id": c.Param("id"), "caller": rc.Caller}
	}))
	// Unregistered paths still face the receiver's policy checks.
	router.NoRoute(receiver.Fallback())

	return &receiverFixture{router: router, signer: signer, minter: minter, sink: sink}
}

func (f *receiverFixture) hop(t *testing.T, act map[string]interface{}) string {
	t.Helper()
	hop, err := f.minter.MintHop(models.Target{
		Slug: "user", MajorVersion: 1, BaseURL: "http://x", IsAuthorized: true,
	}, "req-1", act)
	require.NoError(t, err)
	return hop
}

func TestReceiverMissingTokenIs401Problem(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{Method: "GET", PathPattern: "/v1/users/:id"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set(HeaderRequestID, "req-edge-1")
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "about:blank", doc["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), doc["status"])
	assert.Equal(t, "req-edge-1", doc["instance"])
}

func TestReceiverHappyPathWithAudit(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{
		Method: "GET", PathPattern: "/v1/users/:id",
		UserAssertion: models.UserAssertionOptional,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.OK)
	assert.Equal(t, "user", env.Service)
	assert.Equal(t, "req-1", env.RequestID)

	require.Len(t, f.sink.blobs, 2)
	assert.Equal(t, models.AuditPhaseBegin, f.sink.blobs[0].Phase)
	assert.Equal(t, models.AuditPhaseEnd, f.sink.blobs[1].Phase)
	assert.Equal(t, "req-1", f.sink.blobs[0].Meta.RequestID)
	assert.Equal(t, "user", f.sink.blobs[0].Meta.Service)
}

func TestReceiverDefaultDeny(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{
		Method: "GET", PathPattern: "/v1/users/:id",
		UserAssertion: models.UserAssertionOptional,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func TestReceiverFallbackPolicyAllowedIs404Problem(t *testing.T) {
	f := newReceiverFixture(t,
		models.Rule{Method: "GET", PathPattern: "/v1/users/:id", UserAssertion: models.UserAssertionOptional},
		models.Rule{Method: "GET", PathPattern: "/v1/profiles/:id", UserAssertion: models.UserAssertionOptional},
	)

	// Policy permits the operation but no handler is mounted for it.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/profiles/7", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func TestReceiverUserAssertionRequired(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{
		Method: "GET", PathPattern: "/v1/users/:id",
		UserAssertion: models.UserAssertionRequired,
	})

	// No assertion header and no act claim: denied.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// An act projection in the hop token satisfies the requirement.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, map[string]interface{}{"sub": "u-9"}))
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceiverUserAssertionForbiddenStripsHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newReceiverFixture(t) // fixture routes replaced below

	signer := f.signer
	verifier := token.NewVerifierWithKeyfunc(signer.Keyfunc(), token.VerifierOptions{
		AllowedIssuers: []string{"gateway"},
	}, zap.NewNop())
	policies := routepolicy.NewStore()
	require.NoError(t, policies.Load(models.RoutePolicy{
		Slug: "user", MajorVersion: 1, Revision: 1,
		Rules: []models.Rule{{
			Method: "GET", PathPattern: "/v1/internal/sweep",
			UserAssertion: models.UserAssertionForbidden,
		}},
	}))
	sink := &memorySink{}
	receiver := NewReceiver(ReceiverOptions{Slug: "user", MajorVersion: 1}, verifier, policies, sink, zap.NewNop())

	var sawAssertion string
	var sawAct map[string]interface{}
	router := gin.New()
	api := router.Group("/api/user", receiver.Middleware())
	api.GET("/v1/internal/sweep", receiver.Handle(func(c *gin.Context, rc *RequestContext) (int, interface{}) {
		sawAssertion = c.GetHeader(HeaderUserAssertion)
		sawAct = rc.Act
		return http.StatusOK, nil
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/internal/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, map[string]interface{}{"sub": "u-9"}))
	req.Header.Set(HeaderUserAssertion, "some-user-cred")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sawAssertion)
	assert.Nil(t, sawAct)
}

func TestReceiverRefusesWhenAuditSinkDown(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{
		Method: "GET", PathPattern: "/v1/users/:id",
		UserAssertion: models.UserAssertionOptional,
	})
	f.sink.fail = true

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func TestReceiverRejectsWrongAudience(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{
		Method: "GET", PathPattern: "/v1/users/:id",
		UserAssertion: models.UserAssertionOptional,
	})

	// A hop minted for a different target service.
	hop, err := f.minter.MintHop(models.Target{
		Slug: "geo", MajorVersion: 1, BaseURL: "http://x", IsAuthorized: true,
	}, "req-1", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+hop)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEdgeAuthMintsContextAndSeedsBag(t *testing.T) {
	gin.SetMode(gin.TestMode)

	signer := newTestSigner(t)
	minter, err := token.NewMinter(signer, token.MinterOptions{CallerSlug: "gateway", HopBudgetMax: 4})
	require.NoError(t, err)
	verifier := token.NewVerifierWithKeyfunc(signer.Keyfunc(), token.VerifierOptions{}, zap.NewNop())

	var ec *EdgeContext
	router := gin.New()
	router.Use(EdgeAuth(minter, EdgeAuthOptions{RequestBudget: 5 * time.Second}, zap.NewNop()))
	router.GET("/api/gateway/v1/users/:id", func(c *gin.Context) {
		ec = EdgeContextFrom(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/gateway/v1/users/42", nil)
	req.Header.Set(HeaderRequestID, "req-edge-7")
	req.Header.Set(HeaderUserAssertion, "user-cred")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, ec)
	require.NotNil(t, ec.Bag)
	assert.Equal(t, 4, ec.Bag.HopBudget)
	assert.Equal(t, ec.Token, ec.Bag.Context)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), ec.Bag.Deadline, time.Second)

	claims, err := verifier.VerifyContext(ec.Token)
	require.NoError(t, err)
	assert.Equal(t, "req-edge-7", claims.Rid)
	assert.Equal(t, 4, claims.HopBudget)
	assert.Equal(t, "user-cred", claims.Act["sub"])
	assert.Equal(t, ec.Deadline().UnixMilli(), claims.DeadlineMS)
}

func TestReceiverSeedsBagFromContextToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newReceiverFixture(t) // fixture routes replaced below

	verifier := token.NewVerifierWithKeyfunc(f.signer.Keyfunc(), token.VerifierOptions{
		AllowedIssuers: []string{"gateway"},
	}, zap.NewNop())
	policies := routepolicy.NewStore()
	require.NoError(t, policies.Load(models.RoutePolicy{
		Slug: "user", MajorVersion: 1, Revision: 1,
		Rules: []models.Rule{{
			Method: "GET", PathPattern: "/v1/users/:id",
			UserAssertion: models.UserAssertionOptional,
		}},
	}))
	receiver := NewReceiver(ReceiverOptions{Slug: "user", MajorVersion: 1}, verifier, policies, &memorySink{}, zap.NewNop())

	var got *RequestContext
	router := gin.New()
	api := router.Group("/api/user", receiver.Middleware())
	api.GET("/v1/users/:id", receiver.Handle(func(c *gin.Context, rc *RequestContext) (int, interface{}) {
		got = rc
		return http.StatusOK, nil
	}))

	deadline := time.Now().Add(10 * time.Second)
	ctxToken, minted, err := f.minter.MintContext("req-ctx-1", deadline, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	req.Header.Set(HeaderContext, ctxToken)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	require.NotNil(t, got.Bag)

	// The context token governs request id, deadline, and budget; the
	// hop that delivered the request already spent one unit.
	assert.Equal(t, "req-ctx-1", got.RequestID)
	assert.Equal(t, minted.HopBudget-1, got.Bag.HopBudget)
	assert.Equal(t, deadline.UnixMilli(), got.Deadline.UnixMilli())
	assert.Equal(t, got.Deadline, got.Bag.Deadline)
	assert.Equal(t, ctxToken, got.Bag.Context)
}

func TestReceiverRejectsBadContextToken(t *testing.T) {
	f := newReceiverFixture(t, models.Rule{
		Method: "GET", PathPattern: "/v1/users/:id",
		UserAssertion: models.UserAssertionOptional,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user/v1/users/42", nil)
	req.Header.Set("Authorization", "Bearer "+f.hop(t, nil))
	req.Header.Set(HeaderContext, "not-a-token")
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}
