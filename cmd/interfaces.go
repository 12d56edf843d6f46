package cmd

import (
	"context"
)

// SessionService defines what cmd.run expects from the session lifecycle.
type SessionService interface {
	Start(ctx context.Context) error
	Stop()
	Refresh(ctx context.Context)
}

// StreamService is the connection-state surface of the event channel used by
// the error drain loop to decide on reattachment.
type StreamService interface {
	IsConnected() bool
}
