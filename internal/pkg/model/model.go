package model

import (
	"encoding/json"
	"time"
)

// Setting is the automation configuration of a device. Server-authoritative,
// replaced as a whole by settings_updated events or successful settings
// commands, never merged field by field.
type Setting struct {
	AutoModeEnabled bool `json:"autoModeEnabled"`
	ScheduleEnabled bool `json:"scheduleEnabled"`
}

// Device is one controllable unit. ID is the primary key within the fleet;
// Setting and OperationalStatus update independently of each other.
type Device struct {
	ID                string             `json:"id"`
	Name              string             `json:"deviceName"`
	Kinds             []DeviceKind       `json:"deviceTypes"`
	Connectivity      Connectivity       `json:"status"`
	Setting           Setting            `json:"setting"`
	OperationalStatus *OperationalStatus `json:"operationalStatus,omitempty"`
}

// HasKind reports whether the device carries the given capability tag.
func (d Device) HasKind(kind DeviceKind) bool {
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ################################
// EventName.SettingsUpdated

type SettingsPatch struct {
	DeviceID        string `json:"deviceId"`
	AutoModeEnabled bool   `json:"autoModeEnabled"`
	ScheduleEnabled bool   `json:"scheduleEnabled"`
}

func (p SettingsPatch) Setting() Setting {
	return Setting{
		AutoModeEnabled: p.AutoModeEnabled,
		ScheduleEnabled: p.ScheduleEnabled,
	}
}

// ################################

// ################################
// EventName.StatusUpdated

type StatusPatch struct {
	DeviceID          string            `json:"deviceId"`
	OperationalStatus OperationalStatus `json:"operationalStatus"`
}

// ################################

// Event is the wire envelope carried by the stream. Data stays raw until a
// subscriber decodes it against the payload type for the event name.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Notification is one pushed alert, as listed by the notifications endpoint.
type Notification struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Type     string    `json:"type"`
	DeviceID string    `json:"deviceId"`
	SentAt   time.Time `json:"sentAt"`
	Read     bool      `json:"read"`
}

// SensorEntry is one row of the server-side sensor history for a device.
type SensorEntry struct {
	ID        string            `json:"id"`
	DeviceID  string            `json:"deviceId"`
	Status    OperationalStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}
