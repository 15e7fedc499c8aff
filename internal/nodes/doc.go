// Package nodes содержит встроенные типы nodes для выполнения workflow.
//
// # Обзор
//
// Node — исполнитель одного типа вершины графа. Каждая node:
//   - Получает конфигурацию (уже отрендеренную движком через шаблоны)
//   - Получает Inputs (данные, пришедшие по data-рёбрам) и Prior
//     (собственные outputs предыдущей итерации)
//   - Выполняет действие и возвращает outputs и exec-порты для маршрутизации
//
// # Интерфейс Node
//
// Все nodes реализуют интерфейс Node:
//
//	type Node interface {
//	    engine.NodeExecutor
//	    Type() string
//	}
//
// # Registry
//
// Registry — реестр nodes по типу. DefaultRegistry(logger) создаёт
// реестр со всеми встроенными типами:
//
//	registry := nodes.DefaultRegistry(logger)
//	exec, err := registry.Executor("http")
//	if err != nil {
//	    // неизвестный тип — фатальная ошибка конфигурации
//	}
//
// # Типы nodes
//
// Данные:
//   - start     — входная точка: defaults из config + input job
//   - set       — выставляет значения переменных
//   - transform — pass-through отрендеренного config
//   - merge     — точка слияния: передаёт Inputs дальше
//
// Управление потоком:
//   - if        — условие, порты "true"/"false"
//   - switch    — выбор порта по таблице cases
//   - forloop   — числовой счётчик, порты "loop"/"completed"
//   - foreach   — итератор по списку (последовательный или parallel fan-out)
//   - parallel  — параллельный fan-out веток
//   - subflow   — запуск вложенного workflow
//
// Действия:
//   - http      — HTTP-запрос
//   - delay     — задержка
//   - log       — запись в журнал
//   - fail      — принудительная логическая ошибка
//
// Nodes циклов (forloop, foreach) хранят позицию итерации в
// собственных outputs и читают её из Prior при повторном входе.
// Такие nodes и nodes тела цикла объявляют в графе capability
// "control-flow" — движок пропускает их через guard повторного
// выполнения.
//
// # Обработка ошибок
//
// Пакет различает два уровня ошибок:
//   - Инфраструктурные (error от Execute) — сеть упала, неверный config
//   - Логические (Result.Error) — HTTP 500, fail node
//
// Логическая ошибка маршрутизируется через error-порт node, если граф
// его подключил; иначе завершает run.
//
// ErrUnknownNodeType возвращается реестром до начала выполнения и
// означает фатальную ошибку конфигурации: retry бессмыслен.
package nodes
