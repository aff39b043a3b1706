package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTasks       Exchange = "praxis.tasks"
	ExchangeSteps       Exchange = "praxis.steps"
	ExchangeCheckpoints Exchange = "praxis.checkpoints"
	ExchangeDLQ         Exchange = "praxis.dlq"
)

// Queues — имена очередей.
const (
	QueueTasksPlanned       Queue = "tasks.planned"
	QueueStepsReady         Queue = "steps.ready"
	QueueStepsCompleted     Queue = "steps.completed"
	QueueCheckpointsDecided Queue = "checkpoints.decided"
	QueueDLQSteps           Queue = "dlq.steps"
)

// Routing keys.
const (
	RoutingKeyPlanned   RoutingKey = "planned"
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDecided   RoutingKey = "decided"
	RoutingKeyDLQSteps  RoutingKey = "steps"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeSteps, "direct"},
		{ExchangeCheckpoints, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQSteps),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// tasks.planned — без DLQ (polling-цикл подстрахует)
		{QueueTasksPlanned, nil},

		// steps.ready — с DLQ (шаг может отравить очередь worker'ов)
		{QueueStepsReady, dlqArgs},

		// steps.completed — без DLQ (события завершения)
		{QueueStepsCompleted, nil},

		// checkpoints.decided — без DLQ (решение идемпотентно через CAS)
		{QueueCheckpointsDecided, nil},

		// dlq.steps — сама DLQ очередь
		{QueueDLQSteps, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueTasksPlanned, RoutingKeyPlanned, ExchangeTasks},
		{QueueStepsReady, RoutingKeyReady, ExchangeSteps},
		{QueueStepsCompleted, RoutingKeyCompleted, ExchangeSteps},
		{QueueCheckpointsDecided, RoutingKeyDecided, ExchangeCheckpoints},
		{QueueDLQSteps, RoutingKeyDLQSteps, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Praxis RabbitMQ Topology:

    praxis.tasks (direct)
    └── tasks.planned [routing: planned]
            Consumer: Engine (orchestrator)

    praxis.steps (direct)
    ├── steps.ready [routing: ready]
    │       Consumer: Agent workers
    │       DLQ: dlq.steps
    └── steps.completed [routing: completed]
            Consumer: Engine (orchestrator)

    praxis.checkpoints (direct)
    └── checkpoints.decided [routing: decided]
            Consumer: Engine (orchestrator)

    praxis.dlq (direct)
    └── dlq.steps [routing: steps]
            Manual processing
  `
}
