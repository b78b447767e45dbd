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

// Package api assembles the service HTTP pipeline: request identity,
// logging, panic recovery, hop verification, operational gates, service
// routes, and problem+json error rendering, in that order.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/api/handlers"
	"github.com/davidwdraper/EFFV2-sub000/pkg/api/middleware"
	"github.com/davidwdraper/EFFV2-sub000/pkg/config"
	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
	"github.com/davidwdraper/EFFV2-sub000/pkg/problem"
	"github.com/davidwdraper/EFFV2-sub000/pkg/s2s"
	"github.com/davidwdraper/EFFV2-sub000/pkg/token"
)

// Options wires the server's collaborators.
type Options struct {
	Config *config.Config
	Logger *zap.Logger

	// Signer publishes the JWKS endpoint when set.
	Signer *token.Signer

	// Receiver guards the API group on internal services. Edge services
	// leave it nil and install Auth instead.
	Receiver *s2s.Receiver

	// Auth is the edge authentication hook mounted in the receiver's
	// position when the role is edge.
	Auth gin.HandlerFunc

	// Sink receives async audit error events from the error renderer.
	Sink s2s.AuditSink

	// Ready gates the readiness probes.
	Ready handlers.ReadyCheck

	// Routes mounts the service's operations on the guarded API group.
	Routes func(r gin.IRouter)
}

// Server is the service HTTP server.
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds the router. Middleware order is fixed: identity and
// logging first so every later stage can tag its output, recovery and the
// error renderer before any gate, auth before the operational gates, and
// the gates before service routes.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	log := opts.Logger

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestIDMiddleware(log))
	router.Use(middleware.HTTPLogMiddleware(log, cfg.Service.Slug))
	router.Use(metrics.Middleware())
	router.Use(middleware.Trace5xxMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorProblemMiddleware(cfg.Service.Slug, opts.Sink, log))

	// Health probes stay open; a service whose journal is down must still
	// answer its orchestrator.
	handlers.RegisterHealthRoutes(router, opts.Ready)

	if opts.Signer != nil {
		maxAge := int(cfg.Identity.JWKSMaxAge.Seconds())
		router.GET(token.JWKSPath, token.JWKSHandler(opts.Signer, maxAge))
	}

	mount := cfg.Service.APIPrefix + "/" + cfg.Service.Slug
	grp := router.Group(mount)
	if cfg.IsEdge() {
		if opts.Auth != nil {
			grp.Use(opts.Auth)
		}
	} else if opts.Receiver != nil {
		grp.Use(opts.Receiver.Middleware())
	}
	grp.Use(middleware.ReadOnlyMiddleware(cfg.ReadOnly.Enabled, cfg.ReadOnly.ExemptPrefixes))
	grp.Use(middleware.BodyLimitMiddleware(cfg.Server.MaxBodyBytes))
	if opts.Routes != nil {
		opts.Routes(grp)
	}

	// Requests under the guarded mount that match no registered route
	// still go through the receiver so policy default-deny holds even
	// when the route table and the policy table disagree.
	var fallback gin.HandlerFunc
	if !cfg.IsEdge() && opts.Receiver != nil {
		fallback = opts.Receiver.Fallback()
	}
	apiPrefix := cfg.Service.APIPrefix + "/"
	router.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if fallback != nil && (path == mount || strings.HasPrefix(path, mount+"/")) {
			fallback(c)
			return
		}
		if strings.HasPrefix(path, apiPrefix) {
			problem.Render(c, http.StatusNotFound, "resource not found",
				middleware.GetRequestID(c))
			return
		}
		c.Status(http.StatusNotFound)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	return &Server{cfg: cfg, router: router, httpServer: httpServer, log: log}
}

// Router exposes the assembled engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start binds the listener and serves in the background. A bind failure
// is returned synchronously so bootstrap can fail fast.
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
		zap.String("service", s.cfg.Service.Slug),
		zap.String("role", s.cfg.Service.Role))

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("http server failed to bind: %w", err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests within ctx and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
