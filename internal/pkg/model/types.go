package model

// DeviceKind is a capability tag attached to a device. A device carries at
// least one kind and the set determines which control surface applies.
type DeviceKind string

func (k DeviceKind) String() string {
	return string(k)
}

const (
	DeviceKindLamp DeviceKind = "lamp"
	DeviceKindFan  DeviceKind = "fan"
)

var DeviceKinds = []DeviceKind{
	DeviceKindLamp,
	DeviceKindFan,
}

// Connectivity is the server-authoritative reachability of a device.
type Connectivity string

const (
	ConnectivityOnline  Connectivity = "online"
	ConnectivityOffline Connectivity = "offline"
)

// OperationalStatus is the actuation state of a device. It is absent until the
// first status event for the device arrives.
type OperationalStatus string

func (o OperationalStatus) String() string {
	return string(o)
}

const (
	OperationalStatusOn  OperationalStatus = "on"
	OperationalStatusOff OperationalStatus = "off"
)

// ControlAction is the command verb accepted by the device action endpoint.
type ControlAction string

func (a ControlAction) String() string {
	return string(a)
}

const (
	ActionTurnOn  ControlAction = "turn_on"
	ActionTurnOff ControlAction = "turn_off"
)

// EventName identifies a pushed event on the stream.
type EventName string

func (e EventName) String() string {
	return string(e)
}

const (
	EventDevicesUpdated  EventName = "devices_updated"
	EventDeviceAdded     EventName = "device_added"
	EventSettingsUpdated EventName = "settings_updated"
	EventStatusUpdated   EventName = "device_operational_status_updated"
	EventNewNotification EventName = "new_notification"
)
