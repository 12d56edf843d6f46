package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// GetLatestStates returns the most recent recorded value per device field.
func (db *Database) GetLatestStates(ctx context.Context) ([]StateRecord, error) {
	const query = `
	SELECT DISTINCT ON (device_id, field) id, time_stamp, device_id, device_name, field, value
	FROM device_states
	ORDER BY device_id, field, time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		var record StateRecord
		if err := rows.Scan(&record.ID, &record.TimeStamp, &record.DeviceID, &record.DeviceName, &record.Field, &record.Value); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		if err == pgx.ErrNoRows {
			return records, nil
		}
		return nil, err
	}

	return records, nil
}

// GetDeviceHistory returns recorded transitions for one device, newest first.
func (db *Database) GetDeviceHistory(ctx context.Context, deviceID string, limit int) ([]StateRecord, error) {
	const query = `
	SELECT id, time_stamp, device_id, device_name, field, value
	FROM device_states
	WHERE device_id = $1
	ORDER BY time_stamp DESC
	LIMIT $2;
	`

	rows, err := db.conn.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		var record StateRecord
		if err := rows.Scan(&record.ID, &record.TimeStamp, &record.DeviceID, &record.DeviceName, &record.Field, &record.Value); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
