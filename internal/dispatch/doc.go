// Package dispatch содержит фоновые циклы очереди на стороне сервиса.
//
// Dispatcher выполняет две обязанности:
//   - анонс: PENDING jobs продвигаются в QUEUED и публикуются в
//     jobs.available, чтобы роботы просыпались мгновенно
//   - уборка: RUNNING jobs с пройденным дедлайном уходят в TIMEOUT,
//     jobs с истёкшим lease возвращаются в PENDING без инкремента
//     retry_count
//
// Dispatcher живёт внутри процесса conveyor-api. Несколько инстансов
// безопасны: оба прохода работают через SKIP LOCKED / идемпотентные
// UPDATE'ы, а анонс — только подсказка, не источник владения.
package dispatch
