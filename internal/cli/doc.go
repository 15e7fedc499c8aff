// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI разговаривает с Conveyor API только по HTTP и не импортирует
// внутренние пакеты системы: всё, что умеет утилита, доступно любому
// другому клиенту API. Через неё управляют workflows, jobs, schedules
// и наблюдают за парком роботов.
//
// # Ключевые компоненты
//
// ## Client
//
// Тонкий HTTP-клиент: один метод на операцию API. Прячет сборку
// запросов, разбор конвертов ответов (DataResponse, ListResponse,
// ErrorResponse) и перевод ошибок API в error.
//
//	client := cli.NewClient("http://localhost:8080")
//	workflows, err := client.ListWorkflows()
//
// ## WorkflowDefinition
//
// Workflow описывается файлом определения (YAML или JSON): имя, граф,
// среда и число повторов. LoadWorkflowDefinition читает файл, формат
// выбирается по расширению. Граф не валидируется локально — это делает
// сервер при создании.
//
// ## Output
//
// Два режима вывода: таблицы через text/tabwriter (по умолчанию)
// и JSON через json.MarshalIndent (флаг --json). Данные идут в stdout,
// служебные сообщения Success/Error — в stderr, поэтому вывод можно
// отдавать в pipe: conveyor job list --json | jq .
//
// ## Commands
//
// Cobra-команды сгруппированы по ресурсам:
//   - workflow: list, create, show, update, delete, export
//   - job: list, submit, show, result, cancel, stats
//   - schedule: list, create, show, update, delete, enable, disable
//   - robot: list
//
// Фабрика каждой группы (NewWorkflowCmd и т.д.) принимает clientFn
// и outputFn — замыкания, создающие Client и Output лениво, уже после
// разбора PersistentFlags.
package cli
