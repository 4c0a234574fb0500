// Package mq — транспорт Harvest поверх RabbitMQ.
//
//   - connection.go — соединение с reconnect
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация решений, итогов и несохранённых агрегатов
//   - consumer.go   — потребление с ack / requeue / DLQ
//
// Сообщения:
//   - workflow.decision     — решение на выполнение (workflows.decisions)
//   - workflow.completed    — итог выполнения решения (workflows.completed)
//   - execution.unpersisted — агрегат для повторной записи (executions.unpersisted)
package mq
