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
	ExchangeTasks  Exchange = "netomata.tasks"
	ExchangeEvents Exchange = "netomata.events"
	ExchangeDLQ    Exchange = "netomata.dlq"
)

// Queues — имена очередей.
const (
	QueueTasksDeploy   Queue = "tasks.deploy"
	QueueTasksRollback Queue = "tasks.rollback"
	QueueOTPRequired   Queue = "otp.required"
	QueueDLQTasks      Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyDeploy      RoutingKey = "deploy"
	RoutingKeyRollback    RoutingKey = "rollback"
	RoutingKeyOTPRequired RoutingKey = "otp.required"
	RoutingKeyDLQTasks    RoutingKey = "tasks"
)

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeEvents, "direct"},
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
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// tasks.* — с DLQ (задача уходит в DLQ после повторной неудачи)
		{QueueTasksDeploy, dlqArgs},
		{QueueTasksRollback, dlqArgs},

		// otp.required — без DLQ (уведомления операторам)
		{QueueOTPRequired, nil},

		// dlq.tasks — сама DLQ очередь
		{QueueDLQTasks, nil},
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
		{QueueTasksDeploy, RoutingKeyDeploy, ExchangeTasks},
		{QueueTasksRollback, RoutingKeyRollback, ExchangeTasks},
		{QueueOTPRequired, RoutingKeyOTPRequired, ExchangeEvents},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
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
  Netomata RabbitMQ Topology:

    netomata.tasks (direct)
    ├── tasks.deploy [routing: deploy]
    │       Consumer: Orchestrator (Deploy)
    │       DLQ: dlq.tasks
    └── tasks.rollback [routing: rollback]
            Consumer: Orchestrator (Rollback)
            DLQ: dlq.tasks

    netomata.events (direct)
    └── otp.required [routing: otp.required]
            Consumer: operator notification bridge

    netomata.dlq (direct)
    └── dlq.tasks [routing: tasks]
            Manual processing
  `
}
