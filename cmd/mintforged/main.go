package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"mintforge/audit"
	"mintforge/authority"
	"mintforge/cmd/internal/passphrase"
	"mintforge/config"
	"mintforge/crypto"
	"mintforge/events"
	"mintforge/gateway/middleware"
	"mintforge/observability"
	"mintforge/observability/logging"
	telemetry "mintforge/observability/otel"
	"mintforge/rpc"
	"mintforge/storage"
	"mintforge/watcher"
)

const (
	envSignerKey      = "MINTFORGE_SIGNER_KEY"
	envRPCToken       = "MINTFORGE_RPC_TOKEN"
	envAdminJWTSecret = "MINTFORGE_ADMIN_JWT_SECRET"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mintforged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to mintforged configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupWithRotation("mintforged", cfg.Environment, logging.FileRotation{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("mintforged", cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	key, err := loadSignerKey(cfg)
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}

	journal, err := storage.OpenJournal(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	state, err := journal.Load()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	auth, err := authority.New(key, policy)
	if err != nil {
		return fmt.Errorf("init authority: %w", err)
	}
	// Hydrate first, then wire the journal, so boot does not rewrite the
	// journal with its own contents.
	if err := auth.LoadState(state); err != nil {
		return fmt.Errorf("hydrate state: %w", err)
	}
	auth.SetJournal(journal)
	logger.Info("authority ready",
		"address", auth.Address().String(),
		"players", len(state.Nonces),
		"instances", len(state.Instances))

	auditStore, err := audit.Open(cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	hub := rpc.NewEventHub(0)
	auth.SetEmitter(events.Fanout{
		hub,
		audit.NewRecorder(auditStore, logger),
		observability.EventCounter{},
	})

	idempotency, err := rpc.OpenIdempotencyStore(filepath.Join(cfg.DataDir, "idempotency.db"))
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer func() { _ = idempotency.Close() }()

	adminAuth := middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret: os.Getenv(envAdminJWTSecret),
		Issuer:     cfg.RPC.JWTIssuer,
		Audience:   cfg.RPC.JWTAudience,
	}, logger)

	server := rpc.NewServer(auth, rpc.ServerConfig{
		AuthToken:   os.Getenv(envRPCToken),
		AdminAuth:   adminAuth,
		Idempotency: idempotency,
		Hub:         hub,
		Logger:      logger,
	})

	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
	})

	router := chi.NewRouter()
	router.Use(limiter.Middleware())
	router.Post("/", server.ServeHTTP)
	router.Get("/ws/events", server.HandleEventsWS)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	router.Handle("/metrics", promhttp.Handler())

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Watcher.Enabled {
		node, err := watcher.NewHTTPNodeClient(cfg.Watcher.NodeURL)
		if err != nil {
			return fmt.Errorf("init node client: %w", err)
		}
		watcherStore, err := watcher.OpenStore(cfg.WatcherStorePath())
		if err != nil {
			return fmt.Errorf("open watcher store: %w", err)
		}
		defer func() { _ = watcherStore.Close() }()
		burnWatcher, err := watcher.New(node, watcherStore, auth, watcher.Config{
			PollInterval:  cfg.Watcher.PollInterval.Duration,
			BatchSize:     cfg.Watcher.BatchSize,
			Confirmations: cfg.Watcher.Confirmations,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("init watcher: %w", err)
		}
		go burnWatcher.Run(stopCtx)
		logger.Info("burn watcher started", "node", cfg.Watcher.NodeURL)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.RPC.MaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.RPC.MaxConns)
	}

	httpServer := &http.Server{
		Handler:      otelhttp.NewHandler(router, "mintforged"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("mintforged listening", "address", cfg.ListenAddress)
		errs <- httpServer.Serve(listener)
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	if err := storage.WriteSnapshot(cfg.SnapshotPath, auth.ExportState()); err != nil {
		logger.Error("final snapshot failed", "path", cfg.SnapshotPath, "error", err)
		return err
	}
	logger.Info("state snapshot written", "path", cfg.SnapshotPath)
	return nil
}

// loadSignerKey resolves key material from the environment or the configured
// keystore. An unset passphrase falls back to an empty one, which covers the
// generated development keystore.
func loadSignerKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if raw := strings.TrimSpace(os.Getenv(envSignerKey)); raw != "" {
		material, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envSignerKey, err)
		}
		return crypto.PrivateKeyFromBytes(material)
	}

	key, err := crypto.LoadFromKeystore(cfg.SignerKeystorePath, "")
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, crypto.ErrKeystorePassphrase) {
		return nil, err
	}
	secret, err := passphrase.NewSource(passphrase.DefaultEnvVar).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(cfg.SignerKeystorePath, secret)
}
