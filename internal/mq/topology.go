package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRequests  Exchange = "hivemind.requests"
	ExchangeTasks     Exchange = "hivemind.tasks"
	ExchangeProposals Exchange = "hivemind.proposals"
	ExchangeDLQ       Exchange = "hivemind.dlq"
)

// Queues — имена очередей.
const (
	QueueRequestsSubmitted Queue = "requests.submitted"
	QueueTaskResults       Queue = "tasks.results"
	QueueProposalsApproved Queue = "proposals.approved"
	QueueDLQ               Queue = "dlq.messages"
)

// Routing keys.
const (
	RoutingKeySubmitted RoutingKey = "submitted"
	RoutingKeyResult    RoutingKey = "result"
	RoutingKeyApproved  RoutingKey = "approved"
	RoutingKeyDLQ       RoutingKey = "messages"
)

// DepartmentQueue возвращает имя очереди department.
// Каждый department потребляет свою очередь независимым пулом supervisor'ов.
func DepartmentQueue(dept domain.Department) Queue {
	return Queue("tasks." + string(dept))
}

// DepartmentRoutingKey возвращает ключ маршрутизации для задач department.
func DepartmentRoutingKey(dept domain.Department) RoutingKey {
	return RoutingKey(string(dept))
}

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
		{ExchangeRequests, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeProposals, "direct"},
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
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// requests.submitted — с DLQ (некорректные сообщения не requeue'ятся)
		{QueueRequestsSubmitted, dlqArgs},

		// tasks.results — события завершения задач
		{QueueTaskResults, dlqArgs},

		// proposals.approved — одобренные действия
		{QueueProposalsApproved, dlqArgs},

		// dlq.messages — сама DLQ очередь
		{QueueDLQ, nil},
	}

	// По очереди на department, все с DLQ
	for _, dept := range domain.AllDepartments {
		queues = append(queues, struct {
			name Queue
			args amqp.Table
		}{DepartmentQueue(dept), dlqArgs})
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
		{QueueRequestsSubmitted, RoutingKeySubmitted, ExchangeRequests},
		{QueueTaskResults, RoutingKeyResult, ExchangeTasks},
		{QueueProposalsApproved, RoutingKeyApproved, ExchangeProposals},
		{QueueDLQ, RoutingKeyDLQ, ExchangeDLQ},
	}

	for _, dept := range domain.AllDepartments {
		bindings = append(bindings, struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
		}{DepartmentQueue(dept), DepartmentRoutingKey(dept), ExchangeTasks})
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
  Hivemind RabbitMQ Topology:

    hivemind.requests (direct)
    └── requests.submitted [routing: submitted]
            Consumer: Orchestrator

    hivemind.tasks (direct)
    ├── tasks.<department> [routing: <department>]
    │       Consumer: Department Supervisor
    │       DLQ: dlq.messages
    └── tasks.results [routing: result]
            Consumer: Orchestrator

    hivemind.proposals (direct)
    └── proposals.approved [routing: approved]
            Consumer: Orchestrator

    hivemind.dlq (direct)
    └── dlq.messages [routing: messages]
            Manual processing
  `
}
