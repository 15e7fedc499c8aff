package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Префиксы ключей в Badger.
const (
	keyPrefixJob        = "job:"
	keyPrefixCheckpoint = "checkpoint:"
	keyPrefixReport     = "report:"
)

// Store — локальное durable хранилище робота.
//
// Переживает потерю связи и рестарт процесса:
//   - job:<id>        — снимок захваченного job (graph + input)
//   - checkpoint:<id> — последний checkpoint выполнения (ровно один на job)
//   - report:<id>     — отложенный терминальный отчёт, не доставленный сервису
//
// Записи job и checkpoint удаляются только после того, как сервис durable
// подтвердил терминальный статус. Все записи сериализованы одним mutex:
// удаление и checkpoint одного job не гонятся друг с другом.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	writeMu sync.Mutex
}

// Open открывает хранилище в каталоге dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger шумит в свой логгер, глушим

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "offline-store"),
	}, nil
}

// Close закрывает хранилище.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Jobs ---

// CacheJob сохраняет снимок захваченного job.
// Вызывается сразу после claim, до начала выполнения.
func (s *Store) CacheJob(job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), data)
	})
	if err != nil {
		return fmt.Errorf("cache job: %w", err)
	}

	s.logger.Debug("job cached", "job_id", job.ID)
	return nil
}

// CachedJobs возвращает все закэшированные jobs.
// Используется при старте робота для восстановления после рестарта.
func (s *Store) CachedJobs() ([]domain.Job, error) {
	var jobs []domain.Job

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefixJob)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var job domain.Job
				if err := json.Unmarshal(val, &job); err != nil {
					s.logger.Warn("skipping malformed cached job",
						"key", string(item.Key()), "error", err)
					return nil
				}
				jobs = append(jobs, job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cached jobs: %w", err)
	}
	return jobs, nil
}

// RemoveJob удаляет job и его checkpoint.
// Вызывается ТОЛЬКО после durable подтверждения терминального отчёта
// сервисом (или после молчаливого отказа от job при потере владения).
func (s *Store) RemoveJob(jobID uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(jobKey(jobID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(checkpointKey(jobID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove job: %w", err)
	}

	s.logger.Debug("job removed from cache", "job_id", jobID)
	return nil
}

// --- Checkpoints ---

// SaveCheckpoint сохраняет checkpoint job.
//
// Latest-wins: снимок с Seq не выше уже сохранённого молча игнорируется.
// На job хранится ровно один checkpoint — новый затирает старый.
func (s *Store) SaveCheckpoint(cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		key := checkpointKey(cp.JobID)

		item, err := txn.Get(key)
		if err == nil {
			var existing domain.Checkpoint
			verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			})
			if verr == nil && existing.Seq >= cp.Seq {
				// Уже есть более свежий снимок.
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		"job_id", cp.JobID, "seq", cp.Seq, "node_id", cp.NodeID)
	return nil
}

// LatestCheckpoint возвращает последний checkpoint job.
// Возвращает ErrNotFound, если снимков нет.
func (s *Store) LatestCheckpoint(jobID uuid.UUID) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(jobID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}

// --- Reports ---

// Report — отложенный терминальный отчёт о job.
//
// Ставится в очередь, когда сервис недоступен, и доставляется повторно
// после восстановления связи (at-least-once: сервис обязан переносить
// дубликаты, ownership-проверка делает повтор no-op'ом).
type Report struct {
	// JobID — job, о котором отчитываемся.
	JobID uuid.UUID `json:"job_id"`

	// Status — терминальный статус: COMPLETED, FAILED или CANCELLED.
	Status domain.JobStatus `json:"status"`

	// Result — outputs выполнения (для COMPLETED).
	Result map[string]any `json:"result,omitempty"`

	// Error — текст ошибки (для FAILED).
	Error string `json:"error,omitempty"`

	// Fatal — сбой без повторов (ошибка конфигурации графа).
	Fatal bool `json:"fatal,omitempty"`

	// QueuedAt — когда отчёт встал в очередь.
	QueuedAt time.Time `json:"queued_at"`

	// Attempts — сколько раз доставка уже не удалась.
	Attempts int `json:"attempts"`
}

// EnqueueReport ставит терминальный отчёт в очередь доставки.
// Повторный вызов для того же job затирает предыдущий отчёт:
// терминальный исход у job один.
func (s *Store) EnqueueReport(rep *Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(reportKey(rep.JobID), data)
	})
	if err != nil {
		return fmt.Errorf("enqueue report: %w", err)
	}

	s.logger.Debug("report queued", "job_id", rep.JobID, "status", rep.Status)
	return nil
}

// PendingReports возвращает все недоставленные отчёты.
func (s *Store) PendingReports() ([]Report, error) {
	var reports []Report

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefixReport)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rep Report
				if err := json.Unmarshal(val, &rep); err != nil {
					s.logger.Warn("skipping malformed report",
						"key", string(item.Key()), "error", err)
					return nil
				}
				reports = append(reports, rep)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	return reports, nil
}

// MarkReportAttempt увеличивает счётчик неудачных доставок отчёта.
func (s *Store) MarkReportAttempt(jobID uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(reportKey(jobID))
		if err != nil {
			return err
		}
		var rep Report
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rep)
		}); err != nil {
			return err
		}
		rep.Attempts++
		data, err := json.Marshal(&rep)
		if err != nil {
			return err
		}
		return txn.Set(reportKey(jobID), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark report attempt: %w", err)
	}
	return nil
}

// RemoveReport удаляет доставленный отчёт.
// Вызывается после подтверждения доставки сервисом.
func (s *Store) RemoveReport(jobID uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(reportKey(jobID))
	})
	if err != nil {
		return fmt.Errorf("remove report: %w", err)
	}
	return nil
}

// --- Helpers ---

func jobKey(id uuid.UUID) []byte {
	return []byte(keyPrefixJob + id.String())
}

func checkpointKey(id uuid.UUID) []byte {
	return []byte(keyPrefixCheckpoint + id.String())
}

func reportKey(id uuid.UUID) []byte {
	return []byte(keyPrefixReport + id.String())
}
