package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Database records device state history locally so the daemon can serve the
// history view without a round-trip to the hub.
type Database struct {
	conn *pgx.Conn
}

func NewDatabase(conn *pgx.Conn) *Database {
	return &Database{
		conn: conn,
	}
}

func (db *Database) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close(context.Background())
}

type StateRecord struct {
	ID         int64     `json:"id"`
	TimeStamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Field      string    `json:"field"`
	Value      string    `json:"value"`
}
