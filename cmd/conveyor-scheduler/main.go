// Conveyor Scheduler — превращает расписания в jobs.
//
// Каждый тик лидер выбирает due schedules и ставит jobs в очередь.
// Лидерство разыгрывается через pg_try_advisory_lock: инстансов может
// быть много, тикает только один, failover происходит сам собой при
// падении лидера (Postgres отпускает lock вместе с сессией).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	scheduleRepo := repo.NewScheduleRepo(pool)
	workflowRepo := repo.NewWorkflowRepo(pool)
	jobRepo := repo.NewJobRepo(pool)

	// RabbitMQ для подсказок о новых jobs (опционально)
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	sched := scheduler.New(scheduler.Config{
		Schedules: scheduleRepo,
		Workflows: workflowRepo,
		Jobs:      jobRepo,
		Publisher: publisher,
		Logger:    logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// scheduler loop
	go func() {
		tk := time.NewTicker(1 * time.Second)
		defer tk.Stop()

		// Advisory lock живёт, пока жива сессия Postgres, поэтому
		// держим его на выделенном соединении, а не на пуле: пул
		// переиспользует соединения, и lock уехал бы с чужой сессией.
		var lockConn *pgxpool.Conn
		var hasLock bool

		dropLock := func() {
			if lockConn != nil {
				if hasLock {
					_, _ = lockConn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
				}
				lockConn.Release()
				lockConn = nil
			}
			hasLock = false
		}
		defer dropLock()

		for {
			select {
			case <-tk.C:
				if lockConn == nil {
					conn, err := pool.Acquire(ctx)
					if err != nil {
						logger.Warn("failed to acquire lock connection", "error", err)
						continue
					}
					lockConn = conn
				}

				// Пытаемся стать лидером; сбой запроса означает,
				// что сессия умерла — вместе с ней и лидерство
				if !hasLock {
					var ok bool
					if err := lockConn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Warn("leader lock attempt failed", "error", err)
						dropLock()
						continue
					}
					hasLock = ok
					if ok {
						logger.Info("became scheduler leader")
					}
				}

				if !hasLock {
					// не лидер — пропускаем тик
					continue
				}

				if err := sched.Tick(ctx); err != nil {
					logger.Error("tick failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// serve
	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("conveyor-scheduler stopped")
}
