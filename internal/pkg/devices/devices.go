package devices

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
	"github.com/anicoll/homehub-integration/internal/pkg/publisher"
	"github.com/anicoll/homehub-integration/internal/pkg/rest"
	"github.com/anicoll/homehub-integration/internal/pkg/stream"
)

const subscriberOwner = "devices"

type restClient interface {
	Devices(ctx context.Context) ([]model.Device, error)
	DeviceSettings(ctx context.Context, deviceID string) (*rest.SettingsResponse, error)
	ControlDevice(ctx context.Context, deviceID string, action model.ControlAction) error
	UpdateDeviceSettings(ctx context.Context, deviceID string, update rest.SettingsUpdate) error
}

// Store owns the canonical in-memory device collection. It is populated by an
// initial REST fetch and kept current by pushed events; consumers only ever
// read through Snapshot and GetByID.
type Store struct {
	mu      sync.RWMutex
	devices map[string]model.Device
	loading bool
	gen     uint64

	rest     restClient
	registry *publisher.Registry
	logger   *zap.Logger
}

func New(restClient restClient, registry *publisher.Registry) *Store {
	return &Store{
		devices:  make(map[string]model.Device),
		rest:     restClient,
		registry: registry,
		logger:   zap.L(),
	}
}

// Generation returns the current session generation. Results produced under an
// older generation are discarded at write time.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Initialize fetches the authoritative baseline and attaches the stream
// handlers. Fails soft: a failed fetch leaves the collection as it was and
// still clears the loading flag, so "loaded but empty" is a valid terminal
// state rather than an error.
func (s *Store) Initialize(ctx context.Context, ch stream.Subscriber, gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale device initialize", zap.Uint64("initialize_generation", gen))
		return
	}
	s.loading = true
	s.mu.Unlock()

	fetched, err := s.rest.Devices(ctx)
	if err != nil {
		s.logger.Error("device fetch failed, keeping prior state", zap.Error(err))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale device fetch", zap.Uint64("fetch_generation", gen))
		return
	}
	if err == nil {
		// Full replace: the fetch is the authoritative baseline.
		s.devices = make(map[string]model.Device, len(fetched))
		for _, d := range fetched {
			s.devices[d.ID] = d
		}
	}
	s.loading = false
	s.subscribeLocked(ch, gen)
	s.mu.Unlock()

	if err == nil && s.registry != nil {
		for _, d := range fetched {
			s.registry.RegisterDevice(d)
			s.publishDevice(ctx, d)
		}
	}
}

// subscribeLocked registers the stream handlers. Must be called with s.mu held
// and the generation check passed: registration in the same critical section
// as the check keeps a stale initialize from replacing the live session's
// handlers after a Reset.
func (s *Store) subscribeLocked(ch stream.Subscriber, gen uint64) {
	ch.Subscribe(model.EventDevicesUpdated, subscriberOwner, func(data json.RawMessage) {
		var updated []model.Device
		if err := json.Unmarshal(data, &updated); err != nil {
			s.logger.Warn("dropping undecodable devices_updated payload", zap.Error(err))
			return
		}
		s.ApplyBulkUpdate(gen, updated)
	})
	ch.Subscribe(model.EventDeviceAdded, subscriberOwner, func(data json.RawMessage) {
		var added model.Device
		if err := json.Unmarshal(data, &added); err != nil {
			s.logger.Warn("dropping undecodable device_added payload", zap.Error(err))
			return
		}
		s.ApplyAdded(gen, added)
	})
	ch.Subscribe(model.EventSettingsUpdated, subscriberOwner, func(data json.RawMessage) {
		var patch model.SettingsPatch
		if err := json.Unmarshal(data, &patch); err != nil {
			s.logger.Warn("dropping undecodable settings_updated payload", zap.Error(err))
			return
		}
		s.ApplySettingsUpdate(gen, patch)
	})
	ch.Subscribe(model.EventStatusUpdated, subscriberOwner, func(data json.RawMessage) {
		var patch model.StatusPatch
		if err := json.Unmarshal(data, &patch); err != nil {
			s.logger.Warn("dropping undecodable status payload", zap.Error(err))
			return
		}
		s.ApplyOperationalStatusUpdate(gen, patch)
	})
}

// Loading reports whether the initial fetch is still in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// GetByID looks a device up by id. The second return is false when the device
// is not part of the current session scope.
func (s *Store) GetByID(deviceID string) (model.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	return d, ok
}

// Snapshot returns a copy of the current collection, ordered by id.
func (s *Store) Snapshot() []model.Device {
	s.mu.RLock()
	snapshot := lo.Values(s.devices)
	s.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

// ApplyBulkUpdate replaces, entry by entry, the devices named in the update.
// Ids not present locally are ignored and ids not named stay untouched: the
// event says "here is the latest state of these N devices", not "here is the
// full fleet".
func (s *Store) ApplyBulkUpdate(gen uint64, updated []model.Device) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	applied := updated[:0]
	for _, d := range updated {
		if _, ok := s.devices[d.ID]; !ok {
			continue
		}
		s.devices[d.ID] = d
		applied = append(applied, d)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, d := range applied {
		s.publishDevice(ctx, d)
	}
}

// ApplyAdded inserts a newly observed device. A duplicate delivery overwrites
// the existing entry, so the merge is idempotent under at-least-once delivery.
func (s *Store) ApplyAdded(gen uint64, device model.Device) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.devices[device.ID] = device
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.RegisterDevice(device)
	}
	s.publishDevice(context.Background(), device)
}

// ApplySettingsUpdate replaces only the setting sub-record of the named
// device. Unknown ids are dropped: a device is never fabricated from a
// partial patch.
func (s *Store) ApplySettingsUpdate(gen uint64, patch model.SettingsPatch) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	d, ok := s.devices[patch.DeviceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("settings update for unknown device dropped", zap.String("device", patch.DeviceID))
		return
	}
	d.Setting = patch.Setting()
	s.devices[patch.DeviceID] = d
	s.mu.Unlock()

	s.publishDevice(context.Background(), d)
}

// ApplyOperationalStatusUpdate replaces only the operational status of the
// named device. Unknown ids are dropped.
func (s *Store) ApplyOperationalStatusUpdate(gen uint64, patch model.StatusPatch) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	d, ok := s.devices[patch.DeviceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("status update for unknown device dropped", zap.String("device", patch.DeviceID))
		return
	}
	status := patch.OperationalStatus
	d.OperationalStatus = &status
	s.devices[patch.DeviceID] = d
	s.mu.Unlock()

	s.publishDevice(context.Background(), d)
}

// IssueControl sends a turn_on/turn_off command. Local state is not mutated
// here: the device_operational_status_updated event echoed by the server is
// the sole path by which the change lands in the collection.
func (s *Store) IssueControl(ctx context.Context, deviceID string, action model.ControlAction) error {
	if _, ok := s.GetByID(deviceID); !ok {
		s.logger.Warn("control issued for unknown device", zap.String("device", deviceID))
	}
	return s.rest.ControlDevice(ctx, deviceID, action)
}

// IssueSettingsUpdate sends a settings PATCH, same send-and-wait-for-echo
// pattern as IssueControl.
func (s *Store) IssueSettingsUpdate(ctx context.Context, deviceID string, update rest.SettingsUpdate) error {
	return s.rest.UpdateDeviceSettings(ctx, deviceID, update)
}

// Settings fetches the full settings document for a device, schedules
// included. Pass-through; only the embedded Setting lives on the cached
// device record.
func (s *Store) Settings(ctx context.Context, deviceID string) (*rest.SettingsResponse, error) {
	return s.rest.DeviceSettings(ctx, deviceID)
}

// Reset clears the collection and bumps the session generation so any
// in-flight result from the previous session is discarded at write time.
// Called by the session layer on teardown.
func (s *Store) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = make(map[string]model.Device)
	s.loading = false
	s.gen++
	return s.gen
}

func (s *Store) publishDevice(ctx context.Context, d model.Device) {
	if s.registry == nil {
		return
	}
	fields := map[string]string{
		"connectivity":     string(d.Connectivity),
		"auto_mode":        boolString(d.Setting.AutoModeEnabled),
		"schedule_enabled": boolString(d.Setting.ScheduleEnabled),
	}
	if d.OperationalStatus != nil {
		fields["operational_status"] = d.OperationalStatus.String()
	}
	s.registry.PublishState(ctx, d, fields)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
