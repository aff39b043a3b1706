// Praxis Reaper — фоновая уборка checkpoint'ов.
//
// Reaper:
//   - Переводит просроченные PENDING checkpoints в TIMEOUT
//   - Проваливает удержанные шаги и их tasks
//   - По cron-расписанию чистит давно не используемые preferences
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/preference"
	"github.com/ivolkov/Praxis/internal/reaper"
	"github.com/ivolkov/Praxis/internal/repo"
	"github.com/ivolkov/Praxis/internal/store"
	"github.com/ivolkov/Praxis/internal/telemetry"
)

// reaperLockKey — advisory lock для leader election: тикает только
// один инстанс.
const reaperLockKey int64 = 271828

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting praxis-reaper")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	st := store.New(pool, logger)

	pruneSpec := os.Getenv("REAPER_PRUNE_SPEC")
	if pruneSpec == "" {
		pruneSpec = reaper.DefaultPruneSpec
	}
	if err := reaper.ValidatePruneSpec(pruneSpec); err != nil {
		logger.Error("invalid prune spec", "error", err)
		os.Exit(1)
	}

	r := reaper.New(reaper.Config{
		Machine:     engine.NewMachine(st, logger),
		Graph:       engine.NewGraph(st),
		Checkpoints: checkpoint.NewStore(st, logger),
		Preferences: preference.NewMatcher(st),
		Logger:      logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// reaper loop
	go func() {
		tk := time.NewTicker(30 * time.Second)
		defer tk.Stop()

		nextPrune, _ := reaper.NextPruneAfter(pruneSpec, time.Now())
		logger.Info("prune scheduled", "spec", pruneSpec, "next", nextPrune)

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", reaperLockKey)
			}
		}()

		for {
			select {
			case <-tk.C:
				// пытаемся стать лидером (или подтвердить лидерство)
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", reaperLockKey).Scan(&ok); err != nil {
						logger.Error("advisory lock failed", "error", err)
						continue
					}
					hasLock = ok
				}

				if !hasLock {
					// не лидер — пропускаем тик
					continue
				}

				if err := r.Tick(ctx); err != nil {
					logger.Error("reaper tick failed", "error", err)
				}

				if now := time.Now(); !now.Before(nextPrune) {
					if err := r.PrunePreferences(ctx); err != nil {
						logger.Error("preference prune failed", "error", err)
					}
					nextPrune, _ = reaper.NextPruneAfter(pruneSpec, now)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	port := ":8084"
	if v := os.Getenv("REAPER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("praxis-reaper stopped")
}
