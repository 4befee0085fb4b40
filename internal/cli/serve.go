package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modelgate/internal/cache"
	"modelgate/internal/completion"
	"modelgate/internal/config"
	"modelgate/internal/handlers"
	"modelgate/internal/httpserver"
	"modelgate/internal/hub"
	"modelgate/internal/metrics"
	"modelgate/internal/runtime"
	"modelgate/pkg/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Download the model if needed, start the runtime and serve the API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "bind address (overrides HOST)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides PORT)")
	serveCmd.Flags().String("model-repo", "", "Hugging Face repo to serve (overrides MODEL_REPO)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if repo, _ := cmd.Flags().GetString("model-repo"); repo != "" {
		cfg.Model.Repo = repo
	}

	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("addr", cfg.Addr()),
		zap.String("model_repo", cfg.Model.Repo),
		zap.String("model_revision", cfg.Model.Revision),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Model weights -----
	hubClient := hub.New(hub.Options{
		Endpoint: cfg.Hub.Endpoint,
		Token:    cfg.Hub.Token,
	}, logger)

	modelDir := cfg.ModelDir()
	if err := hubClient.EnsureLocal(ctx, cfg.Model.Repo, cfg.Model.Revision, modelDir, cfg.Model.File); err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}

	weights, err := runtime.FindWeights(modelDir, cfg.Model.File)
	if err != nil {
		return err
	}

	// ----- Model runtime -----
	engine, err := runtime.NewLlama(runtime.Options{
		Binary:        cfg.Runtime.Binary,
		ModelPath:     weights,
		CtxSize:       cfg.Runtime.CtxSize,
		Threads:       cfg.Runtime.Threads,
		HealthTimeout: cfg.Runtime.HealthTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer engine.Stop()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.Cache.RedisAddr),
		)
	}

	// ----- Reply cache -----
	replyCache := cache.New(cache.Config{
		Backend: cfg.Cache.Backend,
		TTL:     cfg.Cache.TTL,
		Prefix:  "modelgate",
	}, redisClient)

	// ----- Handlers + router -----
	svc := completion.NewService(engine, cfg.Model.Repo)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, httpserver.Handlers{
		Chat:   handlers.NewChatHandler(svc, replyCache, cfg.Cache.TTL),
		Health: handlers.NewHealthHandler(cfg.Model.Repo),
		Models: handlers.NewModelsHandler(cfg.Model.Repo),
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout stays zero: greedy decoding on CPU can outlive
		// any fixed write budget.
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("gateway listening",
		zap.String("addr", srv.Addr),
		zap.String("model_repo", cfg.Model.Repo),
		zap.String("weights", weights),
		zap.String("runtime_url", engine.BaseURL()),
	)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		runErr = err
	case <-engine.Done():
		logger.Error("model runtime exited unexpectedly")
		runErr = errors.New("model runtime exited unexpectedly")
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("server shutdown complete")
	return runErr
}
