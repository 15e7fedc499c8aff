// Package scheduler ставит jobs по расписаниям.
//
// Каждый Tick планировщик выбирает schedules с истекшим next_due_at,
// снимает снапшот графа workflow, создаёт job в очереди и сдвигает
// next_due_at вперёд (cron-выражение или фиксированный интервал,
// см. cron.go).
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Workflows: workflowRepo,
//	    Jobs:      jobRepo,
//	    Publisher: publisher, // опционально
//	    Logger:    logger,
//	})
//	err := sched.Tick(ctx)
//
// Пакет не занимается leader election: бинарь scheduler берёт
// pg_try_advisory_lock и зовёт Tick, только пока держит лок.
package scheduler
