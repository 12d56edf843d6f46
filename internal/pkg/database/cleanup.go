package database

import (
	"context"
	"time"
)

// Cleanup removes state history older than a week.
func (db *Database) Cleanup(ctx context.Context) error {
	if _, err := db.conn.Exec(ctx, "DELETE FROM device_states WHERE time_stamp < $1", time.Now().AddDate(0, 0, -8)); err != nil {
		return err
	}
	return nil
}
