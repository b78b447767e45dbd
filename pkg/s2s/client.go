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

// Package s2s implements the service-to-service call fabric: an outbound
// client that resolves targets through the config mirror and mints one hop
// token per call, and an inbound receiver that verifies hop tokens and
// enforces route policy.
package s2s

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
	"github.com/davidwdraper/EFFV2-sub000/pkg/mirror"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/token"
)

// Propagated header names.
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderServiceName   = "X-Service-Name"
	HeaderAPIVersion    = "X-Api-Version"
	HeaderUserAssertion = "X-User-Assertion"
	HeaderContract      = "X-NV-Contract"
	HeaderContext       = "X-NV-Context"
)

// CallBag carries per-request state across hops. HopBudget is decremented
// on each successful mint; a call with no remaining budget is denied
// before any network I/O.
type CallBag struct {
	HopBudget int
	// Deadline bounds every call made under this bag; the per-call
	// timeout is clamped to it.
	Deadline time.Time
	// Context is the edge-minted context token, propagated on each hop.
	Context string
}

// CallParams describes one outbound S2S call.
type CallParams struct {
	Env     string
	Slug    string
	Version int
	Method  string
	// Path is the structured route below the target's API mount,
	// e.g. "users/get". Ignored when FullPath is set.
	Path string
	// FullPath switches to raw passthrough: it is appended to the target
	// base URL bit-for-bit and must begin with the API prefix.
	FullPath  string
	Body      []byte
	Headers   map[string]string
	RequestID string
	TimeoutMS int
	// ContractID is attached as X-NV-Contract on body-carrying calls.
	ContractID string
	// Act is the user projection to embed in the hop token, already
	// filtered by the caller against the target's assertion policy.
	Act map[string]interface{}
	Bag *CallBag
}

// CallResult is the structured response of a successful call.
type CallResult struct {
	Status   int
	Body     []byte
	Envelope *models.Envelope
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Env        string
	CallerSlug string
	// CallerVersion is propagated as X-Api-Version.
	CallerVersion int
	// APIPrefix guards raw passthrough paths.
	APIPrefix      string
	DefaultTimeout time.Duration
	HTTPClient     *http.Client
}

// Client is the outbound half of the fabric. One Client serves all targets
// of a process; per-call state lives in CallParams.
type Client struct {
	opts   ClientOptions
	mirror *mirror.Mirror
	minter *token.Minter
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOptions, m *mirror.Mirror, minter *token.Minter, logger *zap.Logger) *Client {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{opts: opts, mirror: m, minter: minter, client: httpClient, logger: logger}
}

// Call resolves the target, mints a hop token, executes the request under
// a hard deadline, and surfaces the upstream response. There are no
// retries at this layer.
func (c *Client) Call(ctx context.Context, params CallParams, expectJSON bool) (*CallResult, error) {
	res, err := c.call(ctx, params, expectJSON)
	metrics.S2SCallsTotal.WithLabelValues(params.Slug, callOutcome(err)).Inc()
	return res, err
}

// callOutcome maps a call error onto a small metric label set.
func callOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUnauthorizedCall):
		return "denied"
	case errors.Is(err, ErrHopBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func (c *Client) call(ctx context.Context, params CallParams, expectJSON bool) (*CallResult, error) {
	if params.Bag != nil {
		if params.Bag.HopBudget <= 0 {
			return nil, ErrHopBudgetExhausted
		}
		params.Bag.HopBudget--
	}

	env := params.Env
	if env == "" {
		env = c.opts.Env
	}

	target, err := c.mirror.Resolve(ctx, env, params.Slug, params.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamNetwork, err)
	}
	if !target.IsAuthorized {
		c.logger.Warn("s2s call denied",
			zap.String("slug", params.Slug),
			zap.Int("version", params.Version),
			zap.String("reason", target.Reason))
		return nil, fmt.Errorf("%w: %s v%d: %s",
			ErrUnauthorizedCall, params.Slug, params.Version, target.Reason)
	}

	url, err := c.buildURL(target, params)
	if err != nil {
		return nil, err
	}

	hop, err := c.minter.MintHop(target, params.RequestID, params.Act)
	if err != nil {
		return nil, err
	}

	timeout := c.opts.DefaultTimeout
	if params.TimeoutMS > 0 {
		timeout = time.Duration(params.TimeoutMS) * time.Millisecond
	}
	if params.Bag != nil && !params.Bag.Deadline.IsZero() {
		remain := time.Until(params.Bag.Deadline)
		if remain <= 0 {
			return nil, fmt.Errorf("%w: request deadline exhausted before %s v%d",
				ErrUpstreamTimeout, params.Slug, params.Version)
		}
		if remain < timeout {
			timeout = remain
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(params.Body) > 0 {
		body = bytes.NewReader(params.Body)
	}
	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(params.Method), url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamNetwork, err)
	}

	// Caller extras first so they can never override auth or identity.
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+hop)
	req.Header.Set(HeaderRequestID, params.RequestID)
	req.Header.Set(HeaderServiceName, c.opts.CallerSlug)
	req.Header.Set(HeaderAPIVersion, strconv.Itoa(c.opts.CallerVersion))
	if params.Bag != nil && params.Bag.Context != "" {
		req.Header.Set(HeaderContext, params.Bag.Context)
	}
	if len(params.Body) > 0 {
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if params.ContractID != "" {
			req.Header.Set(HeaderContract, params.ContractID)
		}
	}

	c.logger.Debug("s2s call begin",
		zap.String("method", req.Method),
		zap.String("url", url),
		zap.String("requestId", params.RequestID))

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %s", ErrUpstreamTimeout, url, timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstreamNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("s2s call non-2xx",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.String("requestId", params.RequestID))
		return nil, &UpstreamError{
			Slug:         params.Slug,
			MajorVersion: params.Version,
			Status:       resp.StatusCode,
			BodySnippet:  snippet(raw),
		}
	}

	result := &CallResult{Status: resp.StatusCode, Body: raw}
	if expectJSON {
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamBadJSON, err)
		}
		result.Envelope = &env
	}

	c.logger.Debug("s2s call success",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.String("requestId", params.RequestID))
	return result, nil
}

// buildURL assembles the structured route or validates the raw
// passthrough path.
func (c *Client) buildURL(target models.Target, params CallParams) (string, error) {
	if params.FullPath != "" {
		if !strings.HasPrefix(params.FullPath, c.opts.APIPrefix+"/") &&
			params.FullPath != c.opts.APIPrefix {
			return "", fmt.Errorf("%w: %q", ErrBadFullPath, params.FullPath)
		}
		return target.BaseURL + params.FullPath, nil
	}

	prefix := target.OutboundAPIPrefix
	if prefix == "" {
		prefix = c.opts.APIPrefix
	}
	return fmt.Sprintf("%s%s/%s/v%d/%s",
		target.BaseURL, prefix, target.Slug, target.MajorVersion,
		strings.TrimPrefix(params.Path, "/")), nil
}

func snippet(body []byte) string {
	const max = 256
	s := string(body)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
