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

// Package routepolicy holds revisioned per-service route rule tables and
// answers allow/deny decisions for inbound S2S requests. No matching rule
// means deny.
package routepolicy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

// ErrAmbiguousRules indicates two rules in the same precedence tier would
// both match the same request. Ambiguity is rejected at load time, never
// resolved at lookup time.
var ErrAmbiguousRules = errors.New("ambiguous route policy rules")

// Decision is the result of a policy lookup.
type Decision struct {
	Matched  bool
	Rule     *models.Rule
	Revision int64
}

// Precedence tiers, most specific first.
const (
	tierExact = iota
	tierParametric
	tierWildcard
	tierCount
)

type compiledRule struct {
	rule     models.Rule
	method   string
	segments []string
	// shape is the pattern with parameter names erased, used for the
	// load-time ambiguity check.
	shape string
}

type compiledPolicy struct {
	revision int64
	tiers    [tierCount][]compiledRule
}

// Store holds compiled route policies keyed by (slug, majorVersion).
// Lookups are concurrent; Load replaces a whole policy atomically.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{policies: make(map[string]*compiledPolicy)}
}

// Load compiles and installs the policy for its (slug, majorVersion),
// replacing any previous revision. Ambiguous rules are rejected.
func (s *Store) Load(policy models.RoutePolicy) error {
	compiled := &compiledPolicy{revision: policy.Revision}
	seen := make(map[string]string)

	for _, rule := range policy.Rules {
		mode := rule.UserAssertion
		if mode == "" {
			mode = models.UserAssertionRequired
		}
		if !mode.Valid() {
			return fmt.Errorf("rule %s %s: unknown userAssertion mode %q",
				rule.Method, rule.PathPattern, rule.UserAssertion)
		}
		rule.UserAssertion = mode

		cr, err := compileRule(rule)
		if err != nil {
			return err
		}

		key := cr.method + " " + cr.shape
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: %q overlaps %q", ErrAmbiguousRules, rule.PathPattern, prev)
		}
		seen[key] = rule.PathPattern

		compiled.tiers[tierOf(cr)] = append(compiled.tiers[tierOf(cr)], cr)
	}

	s.mu.Lock()
	s.policies[policyKey(policy.Slug, policy.MajorVersion)] = compiled
	s.mu.Unlock()
	return nil
}

// Lookup finds the rule governing (method, path) for a service. Precedence
// is exact over parametric over wildcard; the first match within a tier
// wins. No policy or no match yields an unmatched decision.
func (s *Store) Lookup(slug string, majorVersion int, method, path string) Decision {
	s.mu.RLock()
	policy, ok := s.policies[policyKey(slug, majorVersion)]
	s.mu.RUnlock()
	if !ok {
		return Decision{}
	}

	method = strings.ToUpper(method)
	segments := splitPath(normalizePath(path))

	for tier := tierExact; tier < tierCount; tier++ {
		for i := range policy.tiers[tier] {
			cr := &policy.tiers[tier][i]
			if cr.method != method {
				continue
			}
			if matchSegments(cr.segments, segments) {
				rule := cr.rule
				return Decision{Matched: true, Rule: &rule, Revision: policy.revision}
			}
		}
	}
	return Decision{Revision: policy.revision}
}

// Revision returns the installed revision for a service, or 0 when no
// policy is loaded.
func (s *Store) Revision(slug string, majorVersion int) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[policyKey(slug, majorVersion)]; ok {
		return p.revision
	}
	return 0
}

func policyKey(slug string, majorVersion int) string {
	return fmt.Sprintf("%s:%d", slug, majorVersion)
}

func compileRule(rule models.Rule) (compiledRule, error) {
	method := strings.ToUpper(strings.TrimSpace(rule.Method))
	if method == "" {
		return compiledRule{}, fmt.Errorf("rule %q: method is required", rule.PathPattern)
	}
	pattern := normalizePath(rule.PathPattern)
	if !strings.HasPrefix(pattern, "/") {
		return compiledRule{}, fmt.Errorf("rule %q: path pattern must begin with '/'", rule.PathPattern)
	}
	segments := splitPath(pattern)

	shapeParts := make([]string, len(segments))
	for i, seg := range segments {
		switch {
		case seg == "*":
			if i != len(segments)-1 {
				return compiledRule{}, fmt.Errorf("rule %q: '*' is only valid as the final segment", rule.PathPattern)
			}
			shapeParts[i] = "*"
		case strings.HasPrefix(seg, ":"):
			if len(seg) == 1 {
				return compiledRule{}, fmt.Errorf("rule %q: empty parameter name", rule.PathPattern)
			}
			shapeParts[i] = ":"
		default:
			shapeParts[i] = seg
		}
	}

	return compiledRule{
		rule:     rule,
		method:   method,
		segments: segments,
		shape:    "/" + strings.Join(shapeParts, "/"),
	}, nil
}

func tierOf(cr compiledRule) int {
	for _, seg := range cr.segments {
		if seg == "*" {
			return tierWildcard
		}
	}
	for _, seg := range cr.segments {
		if strings.HasPrefix(seg, ":") {
			return tierParametric
		}
	}
	return tierExact
}

// normalizePath collapses duplicate slashes and trims the trailing slash
// except at root.
func normalizePath(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

func splitPath(path string) []string {
	if path == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// matchSegments matches request segments against pattern segments. A ":"
// parameter consumes exactly one segment; a trailing "*" consumes one or
// more remaining segments.
func matchSegments(pattern, request []string) bool {
	for i, seg := range pattern {
		if seg == "*" {
			return len(request) > i
		}
		if i >= len(request) {
			return false
		}
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if seg != request[i] {
			return false
		}
	}
	return len(pattern) == len(request)
}
