package database

import (
	"context"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
	"github.com/anicoll/homehub-integration/internal/pkg/publisher"
)

func (db *Database) Write(ctx context.Context, updates []publisher.StateUpdate) error {
	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, update := range updates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO device_states (time_stamp, device_id, device_name, field, value)
			VALUES ($1, $2, $3, $4, $5)
		`, update.Timestamp, update.DeviceID, update.DeviceName, update.Field, update.Value); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (db *Database) RegisterDevice(device model.Device) error {
	kinds := make([]string, 0, len(device.Kinds))
	for _, k := range device.Kinds {
		kinds = append(kinds, k.String())
	}
	_, err := db.conn.Exec(context.Background(), `
		INSERT INTO devices (id, name, kinds)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kinds = EXCLUDED.kinds
	`, device.ID, device.Name, kinds)
	return err
}
