package robot

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// handleJobAvailable — обработчик MQ-подсказки "появился job".
//
// Подсказка лишь будит claim-цикл: сам job достаётся только атомарным
// claim'ом через API, поэтому потерянная или лишняя подсказка ни на что
// не влияет.
func (a *Agent) handleJobAvailable(_ context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobAvailablePayload](&d.Message)
	if err != nil {
		return fmt.Errorf("parse job available payload: %w", err)
	}

	if !domain.EnvironmentMatches(payload.Environment, a.environment) {
		// Подсказка для другой среды
		return nil
	}

	a.logger.Debug("job available hint", "job_id", payload.JobID)
	a.wakeClaim()
	return nil
}
