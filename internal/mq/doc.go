// Package mq — обвязка над RabbitMQ: устойчивое к обрывам соединение,
// декларация топологии, публикация и потребление сообщений.
//
// Exchanges conveyor.jobs и conveyor.dlq (оба direct); очереди:
//   - jobs.available — подсказка роботам, что появился job
//   - jobs.lifecycle — терминальные статусы jobs (с DLQ dlq.jobs)
//
// MQ здесь — канал доставки событий, а не источник истины. Владение jobs
// передаётся исключительно атомарным claim'ом в Postgres; подсказки могут
// теряться и дублироваться без последствий для корректности.
package mq
