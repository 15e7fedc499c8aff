// Package robot — агент-исполнитель jobs платформы Conveyor.
//
// # Обзор
//
// Robot — расходный компонент системы: он конкурирует с другими роботами
// за jobs из центральной очереди и выполняет их графы движком engine.
// Робот отвечает за:
//
//   - Регистрацию на сервисе и heartbeat
//   - Атомарный claim batch'а jobs (MQ-подсказка + polling fallback)
//   - Выполнение графа с checkpoint'ами в локальный Badger
//   - Продление lease выполняемых jobs и приём сигнала отмены
//   - Доставку терминальных отчётов at-least-once через offline-очередь
//   - Возобновление прерванных jobs после рестарта
//
// Роботы масштабируются горизонтально: атомарность claim'а на стороне
// сервиса гарантирует, что каждый job достанется ровно одному роботу.
//
// # Ключевые компоненты
//
// ## Agent
//
// Основная структура, управляющая жизненным циклом. Создаётся через
// New(cfg Config) и запускается методом Start(ctx):
//
//	agent := robot.New(robot.Config{
//	    Client:   robot.NewClient(apiURL, breakers),
//	    Conn:     robot.NewConnManager(client, logger, robot.ConnConfig{}),
//	    Store:    store,
//	    Registry: nodes.DefaultRegistry(nil),
//	    RobotID:  "robot-1",
//	    Slots:    4,
//	    Logger:   logger,
//	})
//
//	if err := agent.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer agent.Stop()
//
// ## Client
//
// HTTP-клиент Conveyor API под circuit breaker'ом: транспортные сбои и
// 5xx открывают breaker, а 4xx — это семантические ответы сервиса
// (ErrOwnershipLost, ErrNotFound) и breaker не трогают.
//
// ## ConnManager
//
// Следит за доступностью сервиса: health-пробы с exponential backoff в
// offline и редкие контрольные пробы в online. Восстановление связи
// будит claim и доставку отчётов через ReconnectNotify.
//
// # Жизненный цикл job
//
//  1. Claim — job приходит вместе с графом и входом
//  2. CacheJob — durable-кэш в Badger до запуска движка
//  3. Run — движок выполняет граф, пишет checkpoints в Badger
//  4. Renewal — lease продлевается каждые visibility/3; отказ сервиса
//     означает потерю владения, движок останавливается
//  5. Отчёт — терминальный исход встаёт в durable-очередь и доставляется
//     до подтверждения сервисом; только после этого кэш удаляется
//
// # Отказы
//
// Потеря связи не убивает выполняемые jobs: движок работает, checkpoints
// и отчёты копятся локально, lease на сервисе со временем истекает.
// Если к моменту восстановления связи сервис уже переназначил job,
// робот узнаёт об этом по 409 на renewal или отчёт и молча выбрасывает
// локальное состояние: результат доставит новый владелец.
//
// Рестарт робота тоже не теряет работу: закэшированные jobs
// возобновляются с последнего checkpoint'а после ре-валидации lease.
package robot
