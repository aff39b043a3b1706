// Praxis CLI — операторский инструмент командной строки.
//
// Работает in-process со store (прямое подключение к Postgres);
// решения по checkpoint'ам публикует в RabbitMQ.
//
// Использование:
//
//	praxis [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task        Управление задачами
//	checkpoint  Просмотр и решение checkpoints
//	preference  Просмотр выученных preferences
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivolkov/Praxis/internal/cli"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/mq"
	"github.com/ivolkov/Praxis/internal/repo"
	"github.com/ivolkov/Praxis/internal/store"
	"github.com/ivolkov/Praxis/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "praxis",
		Short:         "Praxis CLI — task execution engine operator tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Ленивая инициализация: подключаемся к БД только когда команда
	// действительно выполняется
	clientFn := func() *cli.Client { return mustClient(rootCmd.Context()) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewCheckpointCmd(clientFn, outputFn),
		cli.NewPreferenceCmd(clientFn, outputFn),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// mustClient собирает in-process клиент или завершает процесс.
func mustClient(ctx context.Context) *cli.Client {
	logger := telemetry.SetupLogger()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to connect to database:", err)
		os.Exit(1)
	}

	st := store.New(pool, logger)

	cfg := cli.Config{
		Store:   st,
		Machine: engine.NewMachine(st, logger),
		Graph:   engine.NewGraph(st),
		Logger:  logger,
	}

	// RabbitMQ опционален: без него недоступны только решения по
	// checkpoint'ам
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL
	}
	if conn, err := mq.NewConnection(mqURL, logger); err == nil {
		cfg.Publisher = mq.NewPublisher(conn, logger)
	}

	return cli.NewClient(cfg)
}
