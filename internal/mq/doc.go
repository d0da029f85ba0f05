// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - request.submitted — новый request ожидает оркестрации
//   - task.dispatch     — задача направлена department'у
//   - task.result       — задача достигла терминального статуса
//   - proposal.approved — предложенное действие одобрено
//
// Exchanges:
//   - hivemind.requests  — события requests
//   - hivemind.tasks     — задачи departments и их результаты
//   - hivemind.proposals — события approval workflow
//   - hivemind.dlq       — dead letter queue
//
// Семантика доставки — at-least-once: ack только после durable
// персистенции результата, некорректные и неприменимые сообщения
// уходят в DLQ (ErrDrop), инфраструктурные ошибки — requeue.
package mq
