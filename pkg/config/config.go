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

package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variables used to configure the fabric
const EnvPrefix = "NV_"

// Config holds all configuration for a fabric service process
type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Mirror   MirrorConfig   `koanf:"mirror"`
	WAL      WALConfig      `koanf:"wal"`
	S2S      S2SConfig      `koanf:"s2s"`
	Identity IdentityConfig `koanf:"identity"`
	ReadOnly ReadOnlyConfig `koanf:"read_only"`
}

// ServiceConfig identifies this process on the fabric
type ServiceConfig struct {
	Slug         string `koanf:"slug"`
	Env          string `koanf:"env"`
	MajorVersion int    `koanf:"major_version"`
	// Role is "edge" for the public gateway or "internal" for workers.
	// Internal services verify hop tokens; the edge validates external
	// user credentials and mints context tokens.
	Role      string `koanf:"role"`
	APIPrefix string `koanf:"api_prefix"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" (default) or "text"
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`
}

// MirrorConfig holds service configuration mirror settings
type MirrorConfig struct {
	// ConfigServiceURL is the bootstrapped absolute base URL of the
	// configuration service. It is never resolved through the mirror.
	ConfigServiceURL       string        `koanf:"config_service_url"`
	ConfigServiceSlug      string        `koanf:"config_service_slug"`
	ConfigServiceAPIPrefix string        `koanf:"config_service_api_prefix"`
	TTL                    time.Duration `koanf:"ttl"`
	WarmOnBoot             bool          `koanf:"warm_on_boot"`
	FetchTimeout           time.Duration `koanf:"fetch_timeout"`
}

// WALConfig holds audit write-ahead log configuration
type WALConfig struct {
	Dir              string `koanf:"dir"`
	FsyncMS          int    `koanf:"fsync_ms"` // 0 means fsync on every append
	RotateBytes      int64  `koanf:"rotate_bytes"`
	RotateMS         int    `koanf:"rotate_ms"`
	CursorFile       string `koanf:"cursor_file"`
	ReplayBatchLines int    `koanf:"replay_batch_lines"`
	ReplayBatchBytes int    `koanf:"replay_batch_bytes"`
	ReplayTickMS     int    `koanf:"replay_tick_ms"`

	// Writer selects the audit destination by registry name ("db",
	// "http", "mock"). Selection is an explicit bootstrap decision.
	Writer            string `koanf:"writer"`
	DBPath            string `koanf:"db_path"`
	HTTPTargetSlug    string `koanf:"http_target_slug"`
	HTTPTargetVersion int    `koanf:"http_target_version"`
	HTTPTargetPath    string `koanf:"http_target_path"`
}

// S2SConfig holds hop-token verifier and client policy
type S2SConfig struct {
	Audience       string   `koanf:"jwt_audience"`
	AllowedIssuers []string `koanf:"allowed_issuers"`
	AllowedCallers []string `koanf:"allowed_callers"`
	JWKSURL        string   `koanf:"jwks_url"`
	ClockSkewSec   int      `koanf:"clock_skew_sec"`
	JWKSCooldownMS int      `koanf:"jwks_cooldown_ms"`
	HopTTLSec      int      `koanf:"hop_ttl_sec"`
	HopBudgetMax   int      `koanf:"hop_budget_max"`
	CallTimeoutMS  int      `koanf:"call_timeout_ms"`
	// RequestBudgetMS bounds a whole edge request tree; it becomes the
	// context token deadline.
	RequestBudgetMS int `koanf:"request_budget_ms"`
}

// IdentityConfig holds ephemeral signing key rotation settings
type IdentityConfig struct {
	RotateEvery time.Duration `koanf:"rotate_every"`
	Overlap     time.Duration `koanf:"overlap"`
	JWKSMaxAge  time.Duration `koanf:"jwks_max_age"`
}

// ReadOnlyConfig gates mutating methods when enabled
type ReadOnlyConfig struct {
	Enabled        bool     `koanf:"enabled"`
	ExemptPrefixes []string `koanf:"exempt_prefixes"`
}

// operationalEnvVars maps the bare operational variable names honored for
// parity with the rest of the platform onto koanf paths. Anything not listed
// here must use the NV_ prefix.
var operationalEnvVars = map[string]string{
	"WAL_DIR":                   "wal.dir",
	"WAL_FSYNC_MS":              "wal.fsync_ms",
	"WAL_ROTATE_BYTES":          "wal.rotate_bytes",
	"WAL_ROTATE_MS":             "wal.rotate_ms",
	"WAL_CURSOR_FILE":           "wal.cursor_file",
	"WAL_REPLAY_BATCH_LINES":    "wal.replay_batch_lines",
	"WAL_REPLAY_BATCH_BYTES":    "wal.replay_batch_bytes",
	"WAL_REPLAY_TICK_MS":        "wal.replay_tick_ms",
	"WAL_WRITER":                "wal.writer",
	"CONFIG_SERVICE_URL":        "mirror.config_service_url",
	"S2S_JWT_AUDIENCE":          "s2s.jwt_audience",
	"S2S_ALLOWED_ISSUERS":       "s2s.allowed_issuers",
	"S2S_ALLOWED_CALLERS":       "s2s.allowed_callers",
	"S2S_JWKS_URL":              "s2s.jwks_url",
	"S2S_CLOCK_SKEW_SEC":        "s2s.clock_skew_sec",
	"S2S_JWKS_COOLDOWN_MS":      "s2s.jwks_cooldown_ms",
	"READ_ONLY_MODE":            "read_only.enabled",
	"READ_ONLY_EXEMPT_PREFIXES": "read_only.exempt_prefixes",
	"API_PREFIX":                "service.api_prefix",
}

// LoadConfig loads configuration from file, environment variables, and defaults
// Priority: Environment variables > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	// Load config file if a path is provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load NV_-prefixed environment variables with standard mapping
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)

		// Step 1: Convert double underscore "__" into a temporary placeholder
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		// Step 2: Convert single "_" into "."
		s = strings.ReplaceAll(s, "_", ".")
		// Step 3: Convert placeholder back into literal "_"
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Load the bare operational variables; unknown names are skipped by
	// returning an empty key from the callback.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return operationalEnvVars[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct with DecodeHooks for duration strings
	// and comma-separated lists
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Env:          "dev",
			MajorVersion: 1,
			Role:         "internal",
			APIPrefix:    "/api",
		},
		Server: ServerConfig{
			Port:            4000,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9091,
		},
		Mirror: MirrorConfig{
			ConfigServiceSlug:      "config",
			ConfigServiceAPIPrefix: "/api",
			TTL:                    5 * time.Minute,
			WarmOnBoot:             false,
			FetchTimeout:           5 * time.Second,
		},
		WAL: WALConfig{
			FsyncMS:          0,
			RotateBytes:      64 << 20,
			RotateMS:         3600_000,
			ReplayBatchLines: 500,
			ReplayBatchBytes: 1 << 20,
			ReplayTickMS:     1000,
			Writer:           "db",
		},
		S2S: S2SConfig{
			ClockSkewSec:    60,
			JWKSCooldownMS:  5000,
			HopTTLSec:       120,
			HopBudgetMax:    6,
			CallTimeoutMS:   30_000,
			RequestBudgetMS: 30_000,
		},
		Identity: IdentityConfig{
			RotateEvery: 15 * time.Minute,
			Overlap:     5 * time.Minute,
			JWKSMaxAge:  5 * time.Minute,
		},
		ReadOnly: ReadOnlyConfig{
			Enabled:        false,
			ExemptPrefixes: []string{},
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.Slug) == "" {
		return fmt.Errorf("service.slug is required")
	}
	if strings.TrimSpace(c.Service.Env) == "" {
		return fmt.Errorf("service.env is required")
	}
	if c.Service.MajorVersion < 1 {
		return fmt.Errorf("service.major_version must be >= 1, got: %d", c.Service.MajorVersion)
	}
	if c.Service.Role != "edge" && c.Service.Role != "internal" {
		return fmt.Errorf("service.role must be either 'edge' or 'internal', got: %s", c.Service.Role)
	}
	if !strings.HasPrefix(c.Service.APIPrefix, "/") {
		return fmt.Errorf("service.api_prefix must begin with '/', got: %s", c.Service.APIPrefix)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got: %d", c.Server.MaxBodyBytes)
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	isValidLevel := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be either 'json' or 'text', got: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics.port cannot be same as server.port")
		}
	}

	if err := c.validateMirrorConfig(); err != nil {
		return err
	}
	if err := c.validateWALConfig(); err != nil {
		return err
	}
	if err := c.validateS2SConfig(); err != nil {
		return err
	}
	if err := c.validateIdentityConfig(); err != nil {
		return err
	}

	return nil
}

// validateMirrorConfig validates the configuration mirror settings
func (c *Config) validateMirrorConfig() error {
	if c.Mirror.ConfigServiceURL == "" {
		return fmt.Errorf("mirror.config_service_url is required")
	}
	u, err := url.Parse(c.Mirror.ConfigServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("mirror.config_service_url must be an absolute http or https URL, got: %s",
			c.Mirror.ConfigServiceURL)
	}
	if strings.TrimSpace(c.Mirror.ConfigServiceSlug) == "" {
		return fmt.Errorf("mirror.config_service_slug is required")
	}
	if c.Mirror.TTL <= 0 {
		return fmt.Errorf("mirror.ttl must be positive, got: %s", c.Mirror.TTL)
	}
	if c.Mirror.FetchTimeout <= 0 {
		return fmt.Errorf("mirror.fetch_timeout must be positive, got: %s", c.Mirror.FetchTimeout)
	}
	return nil
}

// validateWALConfig validates the write-ahead log settings
func (c *Config) validateWALConfig() error {
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	if !filepath.IsAbs(c.WAL.Dir) {
		return fmt.Errorf("wal.dir must be an absolute path, got: %s", c.WAL.Dir)
	}
	if c.WAL.CursorFile == "" {
		return fmt.Errorf("wal.cursor_file is required")
	}
	if !filepath.IsAbs(c.WAL.CursorFile) {
		return fmt.Errorf("wal.cursor_file must be an absolute path, got: %s", c.WAL.CursorFile)
	}
	if c.WAL.FsyncMS < 0 {
		return fmt.Errorf("wal.fsync_ms must be >= 0, got: %d", c.WAL.FsyncMS)
	}
	if c.WAL.RotateBytes <= 0 {
		return fmt.Errorf("wal.rotate_bytes must be positive, got: %d", c.WAL.RotateBytes)
	}
	if c.WAL.RotateMS <= 0 {
		return fmt.Errorf("wal.rotate_ms must be positive, got: %d", c.WAL.RotateMS)
	}
	if c.WAL.ReplayBatchLines <= 0 {
		return fmt.Errorf("wal.replay_batch_lines must be positive, got: %d", c.WAL.ReplayBatchLines)
	}
	if c.WAL.ReplayBatchBytes <= 0 {
		return fmt.Errorf("wal.replay_batch_bytes must be positive, got: %d", c.WAL.ReplayBatchBytes)
	}
	if c.WAL.ReplayTickMS <= 0 {
		return fmt.Errorf("wal.replay_tick_ms must be positive, got: %d", c.WAL.ReplayTickMS)
	}
	if strings.TrimSpace(c.WAL.Writer) == "" {
		return fmt.Errorf("wal.writer is required")
	}
	if c.WAL.Writer == "db" && c.WAL.DBPath == "" {
		return fmt.Errorf("wal.db_path is required when wal.writer is 'db'")
	}
	if c.WAL.Writer == "http" {
		if c.WAL.HTTPTargetSlug == "" || c.WAL.HTTPTargetPath == "" {
			return fmt.Errorf("wal.http_target_slug and wal.http_target_path are required when wal.writer is 'http'")
		}
		if c.WAL.HTTPTargetVersion < 1 {
			return fmt.Errorf("wal.http_target_version must be >= 1, got: %d", c.WAL.HTTPTargetVersion)
		}
	}
	return nil
}

// validateS2SConfig validates the hop token settings
func (c *Config) validateS2SConfig() error {
	if c.S2S.ClockSkewSec < 0 {
		return fmt.Errorf("s2s.clock_skew_sec must be >= 0, got: %d", c.S2S.ClockSkewSec)
	}
	if c.S2S.JWKSCooldownMS < 0 {
		return fmt.Errorf("s2s.jwks_cooldown_ms must be >= 0, got: %d", c.S2S.JWKSCooldownMS)
	}
	if c.S2S.HopTTLSec < 1 || c.S2S.HopTTLSec > 120 {
		return fmt.Errorf("s2s.hop_ttl_sec must be between 1 and 120, got: %d", c.S2S.HopTTLSec)
	}
	if c.S2S.HopBudgetMax < 1 {
		return fmt.Errorf("s2s.hop_budget_max must be >= 1, got: %d", c.S2S.HopBudgetMax)
	}
	if c.S2S.CallTimeoutMS <= 0 {
		return fmt.Errorf("s2s.call_timeout_ms must be positive, got: %d", c.S2S.CallTimeoutMS)
	}
	if c.S2S.RequestBudgetMS <= 0 {
		return fmt.Errorf("s2s.request_budget_ms must be positive, got: %d", c.S2S.RequestBudgetMS)
	}
	if c.S2S.JWKSURL != "" {
		u, err := url.Parse(c.S2S.JWKSURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("s2s.jwks_url must be an absolute http or https URL, got: %s", c.S2S.JWKSURL)
		}
	}
	return nil
}

// validateIdentityConfig validates signing key rotation settings
func (c *Config) validateIdentityConfig() error {
	if c.Identity.RotateEvery <= 0 {
		return fmt.Errorf("identity.rotate_every must be positive, got: %s", c.Identity.RotateEvery)
	}
	if c.Identity.Overlap <= 0 {
		return fmt.Errorf("identity.overlap must be positive, got: %s", c.Identity.Overlap)
	}
	if c.Identity.Overlap >= c.Identity.RotateEvery {
		return fmt.Errorf("identity.overlap (%s) must be less than identity.rotate_every (%s)",
			c.Identity.Overlap, c.Identity.RotateEvery)
	}
	if c.Identity.JWKSMaxAge <= 0 {
		return fmt.Errorf("identity.jwks_max_age must be positive, got: %s", c.Identity.JWKSMaxAge)
	}
	return nil
}

// IsEdge returns true if this process runs the public gateway role
func (c *Config) IsEdge() bool {
	return c.Service.Role == "edge"
}

// FsyncEachAppend returns true when the journal must fsync on every append
func (c *Config) FsyncEachAppend() bool {
	return c.WAL.FsyncMS == 0
}
