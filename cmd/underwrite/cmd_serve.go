package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/underwriting/internal/api"
	"github.com/gyaneshwarpardhi/underwriting/internal/cases"
	"github.com/gyaneshwarpardhi/underwriting/internal/config"
	"github.com/gyaneshwarpardhi/underwriting/internal/engine"
	"github.com/gyaneshwarpardhi/underwriting/internal/events"
	"github.com/gyaneshwarpardhi/underwriting/internal/platform/lock"
	"github.com/gyaneshwarpardhi/underwriting/internal/platform/settings"
	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
)

var serveFlags settings.Server

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decisioning HTTP API",
	Long: `Serves the case API. Storage, locking and event delivery default to
in-process implementations; setting a database URL, Redis address or Kafka
brokers switches each to its shared backend. The policy file is watched and
hot-reloaded.`,
	RunE: runServe,
}

func init() {
	env := settings.FromEnv()
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", env.Addr, "HTTP listen address")
	f.StringVar(&serveFlags.ConfigPath, "config", env.ConfigPath, "Path to the policy YAML file")
	f.StringVar(&serveFlags.DatabaseURL, "database-url", env.DatabaseURL, "Postgres DSN; empty keeps cases in memory")
	f.StringVar(&serveFlags.RedisAddr, "redis-addr", env.RedisAddr, "Redis address for cross-instance case locks")
	f.StringSliceVar(&serveFlags.KafkaBrokers, "kafka-brokers", env.KafkaBrokers, "Kafka seed brokers for transition events")
	f.StringVar(&serveFlags.KafkaTopic, "kafka-topic", env.KafkaTopic, "Kafka topic for transition events")
	f.StringVar(&serveFlags.JWTSigningKey, "jwt-signing-key", env.JWTSigningKey, "HS256 key for bearer tokens; empty trusts the X-Actor header")
	f.StringVar(&serveFlags.JWTIssuer, "jwt-issuer", env.JWTIssuer, "Required token issuer")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(os.Stdout)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewLoader(serveFlags.ConfigPath, logger)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	src, err := policy.NewSource(loader, logger)
	if err != nil {
		return fmt.Errorf("compile policy: %w", err)
	}
	logger.Info("policy loaded", "version", src.Policy().Version, "path", serveFlags.ConfigPath)

	opts := engine.Options{Logger: logger}
	closers, err := wireBackends(ctx, logger, &opts)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()
	if err != nil {
		return err
	}

	engCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	eng := engine.New(engCtx, src.Policy(), opts)
	src.OnApply(func(p *policy.Policy) {
		eng.SwapPolicy(p)
		logger.Info("policy applied", "version", p.Version, "generation", src.Generation())
	})

	stopWatch, err := src.Watch()
	if err != nil {
		logger.Warn("policy watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	handlerOpts := []api.Option{api.WithLogger(logger), api.WithPolicyReloader(src)}
	if serveFlags.AuthEnabled() {
		handlerOpts = append(handlerOpts, api.WithAuthenticator(api.NewAuthenticator(serveFlags.JWTSigningKey, serveFlags.JWTIssuer)))
	} else {
		logger.Warn("bearer token auth disabled; actors are taken from the " + api.ActorHeader + " header")
	}

	srv := &http.Server{
		Addr:         serveFlags.Addr,
		Handler:      api.New(eng, handlerOpts...).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", serveFlags.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	if serr := eng.Shutdown(); serr != nil {
		logger.Error("engine shutdown", "err", serr)
	}
	logger.Info("goodbye")
	return err
}

// wireBackends selects the repository, case lock and event sink from the
// serve flags. Closers run in reverse order on exit, even after an error.
func wireBackends(ctx context.Context, logger *slog.Logger, opts *engine.Options) ([]func(), error) {
	var closers []func()

	if serveFlags.DatabaseURL != "" {
		pool, err := cases.NewPool(ctx, serveFlags.DatabaseURL)
		if err != nil {
			return closers, err
		}
		closers = append(closers, pool.Close)
		if err := cases.Migrate(ctx, pool); err != nil {
			return closers, err
		}
		opts.Repository = cases.NewPostgres(pool)
		logger.Info("case repository: postgres")
	} else {
		opts.Repository = cases.NewMemory()
		logger.Info("case repository: memory")
	}

	if serveFlags.RedisAddr != "" {
		client, err := lock.NewRedisClient(ctx, serveFlags.RedisAddr)
		if err != nil {
			return closers, err
		}
		closers = append(closers, func() { _ = client.Close() })
		opts.Locker = lock.NewRedis(client)
		logger.Info("case lock: redis", "addr", serveFlags.RedisAddr)
	} else {
		opts.Locker = lock.NewLocal()
	}

	if len(serveFlags.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(serveFlags.KafkaBrokers, serveFlags.KafkaTopic)
		if err != nil {
			return closers, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pub.Ping(pingCtx); err != nil {
			logger.Warn("kafka unreachable at startup", "err", err)
		}
		opts.Publisher = pub
		logger.Info("transition events: kafka", "topic", serveFlags.KafkaTopic)
	} else {
		opts.Publisher = events.NewLogPublisher(logger)
	}
	return closers, nil
}
