// Command hybridauth serves the hybridAuth HTTP API.
//
// Configuration comes from the environment (and .env); see internal/config.
// Run with -migrate=up to apply the Postgres schema and exit.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/internal/config"
	"github.com/MrEthical07/hybridAuth/internal/httpapi"
	"github.com/MrEthical07/hybridAuth/internal/logger"
	promexport "github.com/MrEthical07/hybridAuth/metrics/export/prometheus"
	"github.com/MrEthical07/hybridAuth/store/postgres"
)

func main() {
	migrate := flag.String("migrate", "", "apply migrations (up or down) and exit")
	flag.Parse()

	if err := run(*migrate); err != nil {
		fmt.Fprintln(os.Stderr, "hybridauth:", err)
		os.Exit(1)
	}
}

func run(migrate string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	if migrate != "" {
		if settings.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for -migrate")
		}
		return postgres.Migrate(settings.DatabaseURL, migrate)
	}

	log, err := logger.New(settings.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var (
		db       *sql.DB
		accounts account.Store
		sink     hybridAuth.AuditSink = hybridAuth.NewZapSink(log)
	)
	if settings.DatabaseURL != "" {
		db, err = postgres.Open(settings.DatabaseURL, postgres.DefaultPoolConfig())
		if err != nil {
			return err
		}
		defer db.Close()
		accounts = postgres.NewAccounts(db)
		sink = hybridAuth.MultiSink{sink, postgres.NewAuditSink(db)}
	} else {
		log.Warn("DATABASE_URL not set; accounts are kept in memory and lost on restart")
		accounts = account.NewMemoryStore()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	defer rdb.Close()

	engine, err := hybridAuth.New().
		WithConfig(settings.Auth).
		WithRedis(rdb).
		WithAccountStore(accounts).
		WithAuditSink(sink).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	api := httpapi.New(engine, httpapi.Options{
		Logger:            log,
		Registry:          reg,
		TrustProxyHeaders: settings.TrustProxyHeaders,
		Ready: func(ctx context.Context) error {
			if db != nil {
				if err := db.PingContext(ctx); err != nil {
					return err
				}
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("mode", string(engine.Mode())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
