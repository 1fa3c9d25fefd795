package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
)

// InsertValidation queues a candle validation, ignoring a duplicate for the
// same (exchange, market, datetime, duration) that is still unresolved.
func (s *Store) InsertValidation(ctx context.Context, v *models.CandleValidation) error {
	const query = `
		INSERT INTO candle_validations (exchange_name, market_id, datetime, duration,
			validation_type, created_ts, validation_status, notes)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8
		WHERE NOT EXISTS (
			SELECT 1 FROM candle_validations
			WHERE exchange_name = $1 AND market_id = $2 AND datetime = $3
				AND duration = $4 AND validation_status IN ($9, $10)
		)`
	_, err := s.db.ExecContext(ctx, query,
		v.ExchangeName, v.MarketID, v.Datetime, v.Duration,
		string(v.Type), time.Now().UTC(), string(models.EventNew), v.Notes,
		string(models.EventNew), string(models.EventOpen))
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

// ClaimValidation takes the oldest unresolved validation for one exchange.
// Nil means none are pending.
func (s *Store) ClaimValidation(ctx context.Context, exchangeName string) (*models.CandleValidation, error) {
	const query = `
		UPDATE candle_validations SET validation_status = $1
		WHERE (exchange_name, market_id, datetime, duration) = (
			SELECT exchange_name, market_id, datetime, duration
			FROM candle_validations
			WHERE validation_status = $2 AND exchange_name = $3
			ORDER BY created_ts
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING exchange_name, market_id, datetime, duration, validation_type,
			created_ts, processed_ts, validation_status, notes`
	var (
		v      models.CandleValidation
		vType  string
		status string
	)
	err := s.db.QueryRowContext(ctx, query,
		string(models.EventOpen), string(models.EventNew), exchangeName).
		Scan(&v.ExchangeName, &v.MarketID, &v.Datetime, &v.Duration, &vType,
			&v.CreatedTs, &v.ProcessedTs, &status, &v.Notes)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("claim validation: %w", err)
	}
	v.Datetime = v.Datetime.UTC()
	v.Type = models.ValidationType(vType)
	v.Status = models.EventStatus(status)
	return &v, nil
}

// CompleteValidation resolves a claimed validation and updates v to the
// resolved state.
func (s *Store) CompleteValidation(ctx context.Context, v *models.CandleValidation, status models.EventStatus, notes *string) error {
	// Only the claimed row resolves; the same bucket's earlier resolved rows
	// are history and must keep their outcome.
	const query = `
		UPDATE candle_validations
		SET validation_status = $5, processed_ts = $6, notes = COALESCE($7, notes)
		WHERE exchange_name = $1 AND market_id = $2 AND datetime = $3 AND duration = $4
			AND validation_status = $8`
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		v.ExchangeName, v.MarketID, v.Datetime, v.Duration,
		string(status), now, notes, string(models.EventOpen))
	if err != nil {
		return fmt.Errorf("complete validation: %w", err)
	}
	v.Status = status
	v.ProcessedTs = &now
	if notes != nil {
		v.Notes = notes
	}
	return nil
}

// CountValidationFailures returns how many times this bucket has already
// resolved as error, used to escalate a repeated repair failure to manual.
func (s *Store) CountValidationFailures(ctx context.Context, marketID uuid.UUID, datetime time.Time, duration int64) (int, error) {
	const query = `
		SELECT count(*) FROM candle_validations
		WHERE market_id = $1 AND datetime = $2 AND duration = $3 AND validation_status = $4`
	var n int
	err := s.db.QueryRowContext(ctx, query, marketID, datetime, duration, string(models.EventError)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count validation failures: %w", err)
	}
	return n, nil
}
