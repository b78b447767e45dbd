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

// Package writers provides the pluggable audit destinations of the WAL
// pipeline. A writer is an idempotent batch sink; the registry maps
// stable short names to factories so destination selection is an explicit
// bootstrap decision.
package writers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/davidwdraper/EFFV2-sub000/pkg/wal"
)

// Factory builds a writer from its bootstrap configuration.
type Factory func(cfg Config) (wal.Writer, error)

// Config is the bootstrap configuration a factory receives.
type Config struct {
	// DBPath is the SQLite database file for the db writer.
	DBPath string
	// Target* describe the ingestion endpoint for the http writer.
	TargetSlug    string
	TargetVersion int
	TargetPath    string
	// Caller executes outbound calls for writers that deliver over the
	// fabric.
	Caller HTTPCaller
}

// Registry maps writer names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the reference writers registered.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		"mock": func(Config) (wal.Writer, error) {
			return NewMockWriter(), nil
		},
		"db": func(cfg Config) (wal.Writer, error) {
			return NewDBWriter(cfg.DBPath)
		},
		"http": func(cfg Config) (wal.Writer, error) {
			return NewHTTPWriter(cfg)
		},
	}}
}

// Register installs a factory under a stable name. A duplicate name is
// rejected; destination names are load-bearing bootstrap configuration
// and must never be silently rebound.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("audit writer %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Build constructs the named writer.
func (r *Registry) Build(name string, cfg Config) (wal.Writer, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown audit writer %q (registered: %v)", name, r.Names())
	}
	return f(cfg)
}

// Names returns the registered writer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
