// Conveyor Robot — исполнитель workflow-графов.
//
// Робот:
//   - Забирает jobs атомарным claim'ом у Conveyor API
//   - Выполняет граф port-routed движком (ветвления, циклы, parallel)
//   - Переживает обрывы связи: кэш jobs и checkpoint'ы в Badger,
//     отчёты доставляются at-least-once после восстановления
//   - Продлевает lease выполняемых jobs и реагирует на сигнал отмены
//
// Роботы масштабируются горизонтально; среда (ROBOT_ENV) определяет,
// какие jobs робот имеет право забирать.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/breaker"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/nodes"
	"github.com/shaiso/Conveyor/internal/offline"
	"github.com/shaiso/Conveyor/internal/robot"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-robot")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	robotID := os.Getenv("ROBOT_ID")
	if robotID == "" {
		host, err := os.Hostname()
		if err != nil {
			logger.Error("ROBOT_ID not set and hostname unavailable", "error", err)
			os.Exit(1)
		}
		robotID = host
	}

	apiURL := os.Getenv("CONVEYOR_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	environment := os.Getenv("ROBOT_ENV")

	slots := 0
	if v := os.Getenv("ROBOT_SLOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Error("invalid ROBOT_SLOTS", "value", v)
			os.Exit(1)
		}
		slots = n
	}

	// Offline-хранилище: кэш jobs, checkpoint'ы, очередь отчётов
	dataDir := os.Getenv("ROBOT_DATA_DIR")
	if dataDir == "" {
		dataDir = "./conveyor-robot-data"
	}

	store, err := offline.Open(dataDir, logger)
	if err != nil {
		logger.Error("failed to open offline store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("offline store opened", "dir", dataDir)

	// Circuit breakers на внешние зависимости
	breakers := breaker.NewRegistry(breaker.Config{})

	// HTTP-клиент API и менеджер соединения
	client := robot.NewClient(apiURL, breakers)
	conn := robot.NewConnManager(client, logger, robot.ConnConfig{})

	// RabbitMQ для подсказок jobs.available (опционально)
	var mqConn *mq.Connection
	if mqURL := os.Getenv("RABBITMQ_URL"); mqURL != "" {
		mqConn, err = mq.NewConnection(mqURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")
		}
	}

	// Реестр типов nodes
	registry := nodes.DefaultRegistry(logger)

	// Создаём агента
	agent := robot.New(robot.Config{
		Client:      client,
		Conn:        conn,
		Store:       store,
		Registry:    registry,
		MQConn:      mqConn,
		RobotID:     robotID,
		Environment: environment,
		Version:     version,
		Slots:       slots,
		Logger:      logger,
	})

	// Запускаем агента (блокируется до первого контакта с сервисом)
	if err := agent.Start(ctx); err != nil {
		logger.Error("failed to start robot", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("ROBOT_PORT"); v != "" {
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

	// Останавливаем агента
	agent.Stop()
	logger.Info("conveyor-robot stopped")
}

// version задаётся через ldflags при сборке.
var version = "dev"
