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

// Package mirror maintains an in-process TTL cache of service configuration
// entries fetched from the configuration service. The mirror is the single
// source of routing truth for outbound S2S calls.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// Options configures a Mirror.
type Options struct {
	// ConfigServiceURL is the bootstrapped absolute base URL of the config
	// service. It is returned directly for the config service slug and never
	// resolved through the cache.
	ConfigServiceURL string
	// ConfigServiceSlug names the config service (default "config").
	ConfigServiceSlug string
	// ConfigServiceAPIPrefix is the API mount the config service serves
	// under (default "/api").
	ConfigServiceAPIPrefix string
	TTL                    time.Duration
	FetchTimeout           time.Duration
	HTTPClient             *http.Client
}

type cacheEntry struct {
	config    models.ServiceConfig
	expiresAt time.Time
}

// Mirror is a TTL-cached view of (env, slug, majorVersion) -> ServiceConfig.
// Reads are concurrent; cache mutations are serialized by a single lock.
type Mirror struct {
	configURL    string
	configSlug   string
	configPrefix string
	ttl          time.Duration
	client       *http.Client
	logger       *zap.Logger

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// New creates a Mirror. The bootstrap URL must be an absolute http or https
// URL; anything else is a construction error.
func New(opts Options, logger *zap.Logger) (*Mirror, error) {
	u, err := url.Parse(opts.ConfigServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("config service URL must be absolute http(s), got %q", opts.ConfigServiceURL)
	}
	slug := opts.ConfigServiceSlug
	if slug == "" {
		slug = "config"
	}
	prefix := opts.ConfigServiceAPIPrefix
	if prefix == "" {
		prefix = "/api"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.FetchTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Mirror{
		configURL:    strings.TrimRight(opts.ConfigServiceURL, "/"),
		configSlug:   slug,
		configPrefix: prefix,
		ttl:          ttl,
		client:       client,
		logger:       logger,
		entries:      make(map[string]*cacheEntry),
	}, nil
}

// Resolve returns the routing target for (env, slug, version). The config
// service itself always resolves to the bootstrap URL. A cache miss issues
// one lookup call; lookup failures bubble up so callers surface them as
// upstream errors.
func (m *Mirror) Resolve(ctx context.Context, env, slug string, version int) (models.Target, error) {
	if slug == m.configSlug {
		return models.Target{
			BaseURL:           m.configURL,
			Slug:              slug,
			MajorVersion:      version,
			OutboundAPIPrefix: m.configPrefix,
			IsAuthorized:      true,
		}, nil
	}

	key := models.ServiceKey(env, slug, version)

	m.mu.RLock()
	entry, ok := m.entries[key]
	fresh := ok && time.Now().Before(entry.expiresAt)
	m.mu.RUnlock()

	if fresh {
		// Touch to reset TTL.
		m.mu.Lock()
		if e, ok := m.entries[key]; ok {
			e.expiresAt = time.Now().Add(m.ttl)
		}
		m.mu.Unlock()
		metrics.MirrorLookupsTotal.WithLabelValues("hit").Inc()
		return toTarget(entry.config), nil
	}

	cfg, found, err := m.fetch(ctx, env, slug, version)
	if err != nil {
		metrics.MirrorLookupsTotal.WithLabelValues("error").Inc()
		return models.Target{}, err
	}
	if !found {
		metrics.MirrorLookupsTotal.WithLabelValues("not_found").Inc()
		return models.Target{
			Slug:         slug,
			MajorVersion: version,
			IsAuthorized: false,
			Reason:       models.ReasonNotFound,
		}, nil
	}

	m.Put(cfg)
	metrics.MirrorLookupsTotal.WithLabelValues("miss").Inc()
	return toTarget(cfg), nil
}

// Put stores a configuration entry under its canonical key with a fresh TTL.
func (m *Mirror) Put(cfg models.ServiceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cfg.Key()] = &cacheEntry{config: cfg, expiresAt: time.Now().Add(m.ttl)}
}

// Len returns the number of cached entries, expired or not.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Warm prepopulates the cache from the config service's bulk listing
// endpoint. Warm is called at boot only, never from the resolve path.
func (m *Mirror) Warm(ctx context.Context, env string) (int, error) {
	u := m.configURL + "/config/listAll?env=" + url.QueryEscape(env)
	items, err := m.get(ctx, u)
	if err != nil {
		return 0, err
	}
	for _, cfg := range items {
		m.Put(cfg)
	}
	m.logger.Info("config mirror warmed",
		zap.String("env", env),
		zap.Int("entries", len(items)))
	return len(items), nil
}

// fetch looks up a single (env, slug, version) key. Exactly one item is
// expected; zero means not found and more than one is data corruption.
func (m *Mirror) fetch(ctx context.Context, env, slug string, version int) (models.ServiceConfig, bool, error) {
	q := url.Values{}
	q.Set("env", env)
	q.Set("slug", slug)
	q.Set("majorVersion", strconv.Itoa(version))
	u := m.configURL + "/config/s2s-route?" + q.Encode()

	items, err := m.get(ctx, u)
	if err != nil {
		return models.ServiceConfig{}, false, err
	}
	switch len(items) {
	case 0:
		return models.ServiceConfig{}, false, nil
	case 1:
		return items[0], true, nil
	default:
		return models.ServiceConfig{}, false, fmt.Errorf("%w: %d items for %s",
			ErrDuplicateConfig, len(items), models.ServiceKey(env, slug, version))
	}
}

type lookupResponse struct {
	Items []models.ServiceConfig `json:"items"`
}

func (m *Mirror) get(ctx context.Context, u string) ([]models.ServiceConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrLookupFailed, resp.StatusCode, string(body))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out.Items, nil
}

// toTarget maps a cached configuration onto an authorization decision.
func toTarget(cfg models.ServiceConfig) models.Target {
	t := models.Target{
		Slug:              cfg.Slug,
		MajorVersion:      cfg.MajorVersion,
		OutboundAPIPrefix: cfg.OutboundAPIPrefix,
	}
	switch {
	case !cfg.Enabled:
		t.Reason = models.ReasonDisabled
	case !cfg.IsS2STarget:
		t.Reason = models.ReasonNotS2STarget
	case strings.TrimSpace(cfg.BaseURL) == "":
		t.Reason = models.ReasonBaseURLMissing
	default:
		t.IsAuthorized = true
		t.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return t
}
