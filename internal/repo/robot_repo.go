package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// RobotRepo — репозиторий реестра роботов.
//
// Реестр справочный: владение jobs определяется таблицей jobs,
// а не этими записями.
type RobotRepo struct {
	pool *pgxpool.Pool
}

// NewRobotRepo создаёт новый RobotRepo.
func NewRobotRepo(pool *pgxpool.Pool) *RobotRepo {
	return &RobotRepo{pool: pool}
}

// Upsert регистрирует робота или обновляет существующую запись.
// Повторная регистрация с тем же ID — штатный рестарт робота.
func (r *RobotRepo) Upsert(ctx context.Context, robot *domain.Robot) error {
	query := `
		INSERT INTO robots (id, environment, slots, version, last_seen_at, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET environment = EXCLUDED.environment,
		    slots = EXCLUDED.slots,
		    version = EXCLUDED.version,
		    last_seen_at = EXCLUDED.last_seen_at
	`
	_, err := r.pool.Exec(ctx, query,
		robot.ID,
		robot.Environment,
		robot.Slots,
		nullString(robot.Version),
		robot.LastSeenAt,
		robot.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert robot: %w", err)
	}
	return nil
}

// Touch обновляет отметку последнего обращения робота.
// Отсутствие записи не считается ошибкой: робот мог быть удалён из реестра.
func (r *RobotRepo) Touch(ctx context.Context, robotID string, seenAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE robots SET last_seen_at = $2 WHERE id = $1
	`, robotID, seenAt)
	if err != nil {
		return fmt.Errorf("touch robot: %w", err)
	}
	return nil
}

// GetByID возвращает робота по ID.
func (r *RobotRepo) GetByID(ctx context.Context, robotID string) (*domain.Robot, error) {
	query := `
		SELECT id, environment, slots, version, last_seen_at, registered_at
		FROM robots
		WHERE id = $1
	`
	var robot domain.Robot
	var version *string
	err := r.pool.QueryRow(ctx, query, robotID).Scan(
		&robot.ID,
		&robot.Environment,
		&robot.Slots,
		&version,
		&robot.LastSeenAt,
		&robot.RegisteredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get robot by id: %w", err)
	}
	if version != nil {
		robot.Version = *version
	}
	return &robot, nil
}

// List возвращает всех зарегистрированных роботов.
func (r *RobotRepo) List(ctx context.Context) ([]domain.Robot, error) {
	query := `
		SELECT id, environment, slots, version, last_seen_at, registered_at
		FROM robots
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list robots: %w", err)
	}
	defer rows.Close()

	var robots []domain.Robot
	for rows.Next() {
		var robot domain.Robot
		var version *string
		if err := rows.Scan(
			&robot.ID,
			&robot.Environment,
			&robot.Slots,
			&version,
			&robot.LastSeenAt,
			&robot.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("scan robot: %w", err)
		}
		if version != nil {
			robot.Version = *version
		}
		robots = append(robots, robot)
	}
	return robots, rows.Err()
}
