// Praxis Engine — движок выполнения задач.
//
// Engine:
//   - Получает новые tasks из RabbitMQ (tasks.planned)
//   - Валидирует план и ведёт task через конечный автомат
//   - Оценивает риск шагов и создаёт checkpoints
//   - Отправляет готовые шаги агентам (steps.ready)
//   - Применяет решения по checkpoints и финализирует tasks
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/mq"
	"github.com/ivolkov/Praxis/internal/orchestrator"
	"github.com/ivolkov/Praxis/internal/preference"
	"github.com/ivolkov/Praxis/internal/repo"
	"github.com/ivolkov/Praxis/internal/risk"
	"github.com/ivolkov/Praxis/internal/store"
	"github.com/ivolkov/Praxis/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting praxis-engine")

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

	// Двухуровневое хранилище: Postgres + in-process кеш
	st := store.New(pool, logger)

	cfg := orchestrator.Config{
		Store:       st,
		Machine:     engine.NewMachine(st, logger),
		Graph:       engine.NewGraph(st),
		Checkpoints: checkpoint.NewStore(st, logger),
		Preferences: preference.NewMatcher(st),
		Risk:        risk.NewDetector(risk.DefaultConfig()),
		Logger:      logger,
	}

	// RabbitMQ
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		cfg.Publisher = mq.NewPublisher(mqConn, logger)
		cfg.Conn = mqConn
	}

	// Создаём orchestrator
	orch := orchestrator.New(cfg)

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем orchestrator
	orch.Stop()
	logger.Info("praxis-engine stopped")
}
