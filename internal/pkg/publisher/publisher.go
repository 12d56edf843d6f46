package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("sink already registered")

// Sink receives device state transitions. Implementations exist for MQTT and
// Postgres; failures in one sink never block the others.
type Sink interface {
	Write(ctx context.Context, updates []StateUpdate) error
	RegisterDevice(device model.Device) error
}

// StateUpdate is one observed field transition on a device.
type StateUpdate struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Field      string    `json:"field"`
	Value      string    `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Registry fans device state transitions out to registered sinks, suppressing
// repeats of values already published.
type Registry struct {
	mu    sync.Mutex
	sinks map[string]Sink
	seen  sync.Map
}

func NewRegistry() *Registry {
	return &Registry{
		sinks: make(map[string]Sink),
	}
}

func (r *Registry) Register(name string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[name]; ok {
		return errAlreadyRegistered
	}
	r.sinks[name] = sink
	return nil
}

// RegisterDevice announces a device to every sink, so discovery-style sinks
// can configure it before state arrives.
func (r *Registry) RegisterDevice(device model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, sink := range r.sinks {
		if err := sink.RegisterDevice(device); err != nil {
			zap.L().Error("failed to register device with sink", zap.Error(err), zap.String("sink", name), zap.String("device", device.ID))
			continue
		}
		zap.L().Debug("registered device with sink", zap.String("device", device.ID), zap.String("sink", name))
	}
}

// PublishState forwards the changed fields of a device to all sinks. Fields
// whose value matches the last published one are skipped.
func (r *Registry) PublishState(ctx context.Context, device model.Device, fields map[string]string) {
	updates := make([]StateUpdate, 0, len(fields))
	for field, value := range fields {
		if !r.shouldUpdate(device.ID, field, value) {
			continue
		}
		updates = append(updates, StateUpdate{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Field:      field,
			Value:      value,
			Timestamp:  time.Now(),
		})
	}
	if len(updates) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, sink := range r.sinks {
		if err := sink.Write(ctx, updates); err != nil {
			zap.L().Error("failed to publish state", zap.Error(err), zap.String("sink", name))
			continue
		}
		zap.L().Debug("published state updates", zap.Int("count", len(updates)), zap.String("sink", name))
	}
}

func (r *Registry) shouldUpdate(deviceID, field, newValue string) bool {
	key := fmt.Sprintf("%s_%s", deviceID, field)
	oldValue, exists := r.seen.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	r.seen.Store(key, newValue)
	return true
}
