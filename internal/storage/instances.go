package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"almejal/eldorado/internal/models"
)

const instanceColumns = `instance_type, droplet, exchange_name, instance_status,
	restart, last_restart_ts, restart_count, num_markets, last_update_ts, last_message_ts`

// UpsertInstance registers or refreshes this process's lease row, keyed by
// (droplet, exchange_name). Taking over an expired lease is the same write.
func (s *Store) UpsertInstance(ctx context.Context, i *models.Instance) error {
	const query = `
		INSERT INTO instances (instance_type, droplet, exchange_name, instance_status,
			restart, last_restart_ts, restart_count, num_markets, last_update_ts, last_message_ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (droplet, exchange_name) DO UPDATE SET
			instance_type = EXCLUDED.instance_type,
			instance_status = EXCLUDED.instance_status,
			restart = EXCLUDED.restart,
			last_restart_ts = EXCLUDED.last_restart_ts,
			restart_count = EXCLUDED.restart_count,
			num_markets = EXCLUDED.num_markets,
			last_update_ts = EXCLUDED.last_update_ts,
			last_message_ts = EXCLUDED.last_message_ts`
	_, err := s.db.ExecContext(ctx, query,
		string(i.Type), i.Droplet, i.ExchangeName, string(i.Status),
		i.Restart, i.LastRestartTs, i.RestartCount, i.NumMarkets, i.LastUpdateTs, i.LastMessageTs)
	if err != nil {
		return fmt.Errorf("upsert instance %s: %w", i.Droplet, err)
	}
	return nil
}

// HeartbeatInstance advances the lease clock. lastMessage is the time of the
// newest websocket message, nil when nothing arrived since the last beat.
func (s *Store) HeartbeatInstance(ctx context.Context, droplet string, exchangeName *string, lastMessage *time.Time) error {
	const query = `
		UPDATE instances
		SET last_update_ts = $3, last_message_ts = COALESCE($4, last_message_ts)
		WHERE droplet = $1 AND exchange_name IS NOT DISTINCT FROM $2`
	if _, err := s.db.ExecContext(ctx, query, droplet, exchangeName, time.Now().UTC(), lastMessage); err != nil {
		return fmt.Errorf("heartbeat instance %s: %w", droplet, err)
	}
	return nil
}

// UpdateInstanceStatus persists a status transition for this process's row.
func (s *Store) UpdateInstanceStatus(ctx context.Context, droplet string, exchangeName *string, status models.InstanceStatus) error {
	const query = `
		UPDATE instances SET instance_status = $3, last_update_ts = $4
		WHERE droplet = $1 AND exchange_name IS NOT DISTINCT FROM $2`
	if _, err := s.db.ExecContext(ctx, query, droplet, exchangeName, string(status), time.Now().UTC()); err != nil {
		return fmt.Errorf("update instance %s status: %w", droplet, err)
	}
	return nil
}

// SelectInstance returns one lease row, or nil when absent.
func (s *Store) SelectInstance(ctx context.Context, droplet string, exchangeName *string) (*models.Instance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM instances
		WHERE droplet = $1 AND exchange_name IS NOT DISTINCT FROM $2`, instanceColumns)
	row := s.db.QueryRowContext(ctx, query, droplet, exchangeName)
	i, err := scanInstance(row.Scan)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select instance %s: %w", droplet, err)
	}
	return i, nil
}

// SelectInstances returns every lease row, newest heartbeat first.
func (s *Store) SelectInstances(ctx context.Context) ([]models.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM instances ORDER BY last_update_ts DESC`, instanceColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select instances: %w", err)
	}
	defer rows.Close()

	var instances []models.Instance
	for rows.Next() {
		i, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *i)
	}
	return instances, rows.Err()
}

func scanInstance(scan func(...any) error) (*models.Instance, error) {
	var (
		i            models.Instance
		instanceType string
		status       string
	)
	if err := scan(&instanceType, &i.Droplet, &i.ExchangeName, &status,
		&i.Restart, &i.LastRestartTs, &i.RestartCount, &i.NumMarkets,
		&i.LastUpdateTs, &i.LastMessageTs); err != nil {
		return nil, err
	}
	i.Type = models.InstanceType(instanceType)
	i.Status = models.InstanceStatus(status)
	i.LastUpdateTs = i.LastUpdateTs.UTC()
	return &i, nil
}
