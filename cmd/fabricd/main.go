package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidwdraper/EFFV2-sub000/pkg/api"
	"github.com/davidwdraper/EFFV2-sub000/pkg/config"
	"github.com/davidwdraper/EFFV2-sub000/pkg/logger"
	"github.com/davidwdraper/EFFV2-sub000/pkg/metrics"
	"github.com/davidwdraper/EFFV2-sub000/pkg/mirror"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
	"github.com/davidwdraper/EFFV2-sub000/pkg/routepolicy"
	"github.com/davidwdraper/EFFV2-sub000/pkg/s2s"
	"github.com/davidwdraper/EFFV2-sub000/pkg/token"
	"github.com/davidwdraper/EFFV2-sub000/pkg/wal"
	"github.com/davidwdraper/EFFV2-sub000/pkg/writers"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.toml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with config
	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting fabric service",
		zap.String("config_file", *configPath),
		zap.String("slug", cfg.Service.Slug),
		zap.String("env", cfg.Service.Env),
		zap.String("role", cfg.Service.Role),
		zap.String("wal_writer", cfg.WAL.Writer),
	)

	// Start the metrics server if enabled
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics, log)
		if err := metricsServer.Start(); err != nil {
			log.Fatal("Failed to start metrics server", zap.Error(err))
		}
	} else {
		metrics.Init()
	}

	// Config mirror for outbound target resolution
	m, err := mirror.New(mirror.Options{
		ConfigServiceURL:       cfg.Mirror.ConfigServiceURL,
		ConfigServiceSlug:      cfg.Mirror.ConfigServiceSlug,
		ConfigServiceAPIPrefix: cfg.Mirror.ConfigServiceAPIPrefix,
		TTL:                    cfg.Mirror.TTL,
		FetchTimeout:           cfg.Mirror.FetchTimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize config mirror", zap.Error(err))
	}
	if cfg.Mirror.WarmOnBoot {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if count, err := m.Warm(ctx, cfg.Service.Env); err != nil {
			// Warming is best-effort; cache misses fall back to lookups.
			log.Warn("Mirror warm-up failed", zap.Error(err))
		} else {
			log.Info("Mirror warmed", zap.Int("entries", count))
		}
		cancel()
	}

	// Ephemeral signing identity with background rotation
	signer, err := token.NewSigner(token.SignerOptions{
		RotateEvery: cfg.Identity.RotateEvery,
		Overlap:     cfg.Identity.Overlap,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize signer", zap.Error(err))
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	signer.Start(rootCtx)

	minter, err := token.NewMinter(signer, token.MinterOptions{
		CallerSlug:   cfg.Service.Slug,
		HopTTL:       time.Duration(cfg.S2S.HopTTLSec) * time.Second,
		HopBudgetMax: cfg.S2S.HopBudgetMax,
	})
	if err != nil {
		log.Fatal("Failed to initialize token minter", zap.Error(err))
	}

	// Inbound verification: a configured JWKS URL points at the callers'
	// published keys; without one the process trusts its own signer, which
	// is the single-issuer deployment shape.
	var verifier *token.Verifier
	verifierOpts := token.VerifierOptions{
		JWKSURL:        cfg.S2S.JWKSURL,
		AllowedIssuers: cfg.S2S.AllowedIssuers,
		AllowedCallers: cfg.S2S.AllowedCallers,
		ClockSkew:      time.Duration(cfg.S2S.ClockSkewSec) * time.Second,
		JWKSCooldown:   time.Duration(cfg.S2S.JWKSCooldownMS) * time.Millisecond,
	}
	if cfg.S2S.JWKSURL != "" {
		verifier, err = token.NewVerifier(rootCtx, verifierOpts, log)
		if err != nil {
			log.Fatal("Failed to initialize token verifier", zap.Error(err))
		}
	} else {
		verifier = token.NewVerifierWithKeyfunc(signer.Keyfunc(), verifierOpts, log)
	}

	// Route policy; default deny until the config service hands one out.
	policies := routepolicy.NewStore()
	if policy, err := fetchRoutePolicy(cfg); err != nil {
		log.Warn("Route policy fetch failed, starting with default deny", zap.Error(err))
	} else if err := policies.Load(policy); err != nil {
		log.Fatal("Route policy rejected", zap.Error(err))
	} else {
		log.Info("Route policy loaded",
			zap.Int64("revision", policy.Revision),
			zap.Int("rules", len(policy.Rules)))
	}

	// Durable audit journal
	journal, err := wal.OpenJournal(wal.JournalOptions{
		Dir:         cfg.WAL.Dir,
		FsyncEvery:  time.Duration(cfg.WAL.FsyncMS) * time.Millisecond,
		RotateBytes: cfg.WAL.RotateBytes,
		RotateAfter: time.Duration(cfg.WAL.RotateMS) * time.Millisecond,
	}, log)
	if err != nil {
		log.Fatal("Failed to open WAL journal", zap.Error(err))
	}
	defer journal.Close()

	// Outbound S2S client, shared by handlers and the http audit writer
	client := s2s.NewClient(s2s.ClientOptions{
		Env:            cfg.Service.Env,
		CallerSlug:     cfg.Service.Slug,
		CallerVersion:  cfg.Service.MajorVersion,
		APIPrefix:      cfg.Service.APIPrefix,
		DefaultTimeout: time.Duration(cfg.S2S.CallTimeoutMS) * time.Millisecond,
	}, m, minter, log)

	// Audit writer selection is an explicit bootstrap decision.
	registry := writers.NewRegistry()
	writer, err := registry.Build(cfg.WAL.Writer, writers.Config{
		DBPath:        cfg.WAL.DBPath,
		TargetSlug:    cfg.WAL.HTTPTargetSlug,
		TargetVersion: cfg.WAL.HTTPTargetVersion,
		TargetPath:    cfg.WAL.HTTPTargetPath,
		Caller:        client,
	})
	if err != nil {
		log.Fatal("Failed to build audit writer", zap.Error(err))
	}

	engine := wal.NewEngine(journal, writer, log)

	replayer, err := wal.NewReplayer(wal.ReplayerOptions{
		Dir:        cfg.WAL.Dir,
		CursorPath: cfg.WAL.CursorFile,
		BatchLines: cfg.WAL.ReplayBatchLines,
		BatchBytes: cfg.WAL.ReplayBatchBytes,
		Tick:       time.Duration(cfg.WAL.ReplayTickMS) * time.Millisecond,
	}, writer, log)
	if err != nil {
		log.Fatal("Failed to initialize WAL replayer", zap.Error(err))
	}
	replayer.Start(rootCtx)

	receiver := s2s.NewReceiver(s2s.ReceiverOptions{
		Slug:         cfg.Service.Slug,
		MajorVersion: cfg.Service.MajorVersion,
		APIPrefix:    cfg.Service.APIPrefix,
	}, verifier, policies, engine, log)

	// Edge processes mint the request-scoped context token; its hop
	// budget and deadline bound the whole downstream call tree.
	var edgeAuth gin.HandlerFunc
	if cfg.IsEdge() {
		edgeAuth = s2s.EdgeAuth(minter, s2s.EdgeAuthOptions{
			RequestBudget: time.Duration(cfg.S2S.RequestBudgetMS) * time.Millisecond,
		}, log)
	}

	server := api.NewServer(api.Options{
		Config:   cfg,
		Logger:   log,
		Signer:   signer,
		Receiver: receiver,
		Auth:     edgeAuth,
		Sink:     engine,
		Ready: func() error {
			if _, err := os.Stat(cfg.WAL.Dir); err != nil {
				return fmt.Errorf("wal directory unavailable: %w", err)
			}
			return nil
		},
		Routes: func(r gin.IRouter) {
			registerFabricRoutes(r, receiver, engine, journal)
		},
	})
	if err := server.Start(); err != nil {
		log.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down fabric service")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Ordering matters: stop taking requests, let the replayer finish its
	// in-flight batch, flush the queue, then close the journal.
	if err := server.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	replayer.Stop()
	signer.Stop()

	if _, err := engine.Flush(ctx); err != nil {
		log.Error("Final WAL flush failed", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			log.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("Fabric service stopped")
}

// registerFabricRoutes mounts the operations every fabric process serves:
// audit ingestion (the http writer's target) and a journal status view.
func registerFabricRoutes(r gin.IRouter, receiver *s2s.Receiver, engine *wal.Engine, journal *wal.Journal) {
	r.POST("/v1/audit/ingest", receiver.Handle(func(c *gin.Context, rc *s2s.RequestContext) (int, interface{}) {
		var req struct {
			Events []models.AuditBlob `json:"events"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return http.StatusBadRequest, "malformed ingestion payload"
		}
		accepted, err := engine.AppendBatch(req.Events)
		if err != nil {
			return http.StatusServiceUnavailable, err.Error()
		}
		return http.StatusOK, map[string]interface{}{"accepted": accepted}
	}))

	r.GET("/v1/audit/status", receiver.Handle(func(c *gin.Context, rc *s2s.RequestContext) (int, interface{}) {
		return http.StatusOK, map[string]interface{}{
			"segment":  journal.Segment(),
			"queueLen": engine.QueueLen(),
		}
	}))
}

// fetchRoutePolicy pulls this service's route policy from the config
// service during bootstrap. The mirror is bypassed on purpose: policy
// belongs to this process, not to an outbound target.
func fetchRoutePolicy(cfg *config.Config) (models.RoutePolicy, error) {
	url := cfg.Mirror.ConfigServiceURL + "/config/route-policy?slug=" + cfg.Service.Slug +
		"&majorVersion=" + strconv.Itoa(cfg.Service.MajorVersion)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(url)
	if err != nil {
		return models.RoutePolicy{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.RoutePolicy{}, fmt.Errorf("config service returned status %d", resp.StatusCode)
	}

	var policy models.RoutePolicy
	if err := json.NewDecoder(resp.Body).Decode(&policy); err != nil {
		return models.RoutePolicy{}, fmt.Errorf("malformed route policy document: %w", err)
	}
	return policy, nil
}
