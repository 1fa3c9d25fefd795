package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
)

const eventColumns = `event_id, droplet, event_type, exchange_name, market_id,
	start_ts, end_ts, created_ts, processed_ts, event_status, notes`

// InsertEvent queues a new work item. The id is generated server side so
// concurrent writers never collide.
func (s *Store) InsertEvent(ctx context.Context, e *models.Event) error {
	const query = `
		INSERT INTO events (droplet, event_type, exchange_name, market_id,
			start_ts, end_ts, created_ts, event_status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING event_id`
	err := s.db.QueryRowContext(ctx, query,
		e.Droplet, string(e.EventType), e.ExchangeName, e.MarketID,
		e.StartTs, e.EndTs, time.Now().UTC(), string(models.EventNew), e.Notes).
		Scan(&e.EventID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ClaimEvent atomically takes the oldest new event addressed to droplet or
// to nobody in particular, marks it open, and returns it. SKIP LOCKED keeps
// concurrent claimers from blocking on each other; nil means the queue is
// empty. Delivery is at least once: a claimer that dies leaves the row open
// and ReopenStaleEvents recycles it.
func (s *Store) ClaimEvent(ctx context.Context, droplet, exchangeName string) (*models.Event, error) {
	query := fmt.Sprintf(`
		UPDATE events SET event_status = $1, processed_ts = NULL
		WHERE event_id = (
			SELECT event_id FROM events
			WHERE event_status = $2
				AND exchange_name = $3
				AND (droplet IS NULL OR droplet = $4)
			ORDER BY created_ts
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, eventColumns)
	var (
		e         models.Event
		eventType string
		status    string
	)
	err := s.db.QueryRowContext(ctx, query,
		string(models.EventOpen), string(models.EventNew), exchangeName, droplet).
		Scan(&e.EventID, &e.Droplet, &eventType, &e.ExchangeName, &e.MarketID,
			&e.StartTs, &e.EndTs, &e.CreatedTs, &e.ProcessedTs, &status, &e.Notes)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("claim event: %w", err)
	}
	parsed, err := models.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	e.EventType = parsed
	e.Status = models.EventStatus(status)
	return &e, nil
}

// CompleteEvent resolves a claimed event as done or error. Notes carry the
// failure detail on the error path.
func (s *Store) CompleteEvent(ctx context.Context, eventID uuid.UUID, status models.EventStatus, notes *string) error {
	const query = `
		UPDATE events SET event_status = $2, processed_ts = $3, notes = COALESCE($4, notes)
		WHERE event_id = $1`
	if _, err := s.db.ExecContext(ctx, query, eventID, string(status), time.Now().UTC(), notes); err != nil {
		return fmt.Errorf("complete event %s: %w", eventID, err)
	}
	return nil
}

// ReopenStaleEvents returns open events older than cutoff to new so another
// instance can claim them. Returns the number recycled.
func (s *Store) ReopenStaleEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE events SET event_status = $1
		WHERE event_status = $2 AND created_ts < $3`
	res, err := s.db.ExecContext(ctx, query, string(models.EventNew), string(models.EventOpen), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reopen stale events: %w", err)
	}
	return res.RowsAffected()
}

// SelectOpenEvents lists unresolved events for observability.
func (s *Store) SelectOpenEvents(ctx context.Context, exchangeName string) ([]models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE exchange_name = $1 AND event_status IN ($2, $3)
		ORDER BY created_ts`, eventColumns)
	rows, err := s.db.QueryContext(ctx, query, exchangeName, string(models.EventNew), string(models.EventOpen))
	if err != nil {
		return nil, fmt.Errorf("select open events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e         models.Event
			eventType string
			status    string
		)
		if err := rows.Scan(&e.EventID, &e.Droplet, &eventType, &e.ExchangeName, &e.MarketID,
			&e.StartTs, &e.EndTs, &e.CreatedTs, &e.ProcessedTs, &status, &e.Notes); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := models.ParseEventType(eventType)
		if err != nil {
			return nil, err
		}
		e.EventType = parsed
		e.Status = models.EventStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}
