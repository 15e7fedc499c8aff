// Package engine содержит движок выполнения workflow-графа.
//
// Движок обходит граф очередью: entry node кладётся в очередь, дальше
// выполняется голова, а приёмники её exec-рёбер встают в хвост. Data-рёбра
// на порядок выполнения не влияют — они переносят outputs одного node во
// inputs другого.
//
// Ключевые механики:
//   - executed-guard: node выполняется не более раза за запуск;
//     control-flow nodes (циклы, итераторы) из guard'а исключены;
//   - пауза без busy-poll'а (Pause/Resume) и кооперативная остановка (Stop);
//   - параллельные ветви с join-барьером (ParallelStrategy);
//   - checkpoint после каждого node для возобновления с места обрыва;
//   - рендеринг Go templates в конфигурации nodes ({{ .Inputs.x }}).
//
// Движок ничего не знает про очередь jobs, MQ и БД: все внешние эффекты
// проходят через интерфейсы contracts.go.
package engine
