package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosimple/slug"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
	"github.com/anicoll/homehub-integration/internal/pkg/publisher"
)

// Write publishes each state transition to its per-field state topic.
func (s *service) Write(ctx context.Context, updates []publisher.StateUpdate) error {
	for _, update := range updates {
		if err := s.publishUpdate(update); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDevice announces the device to Home Assistant over MQTT discovery.
// Registration happens once per device per process.
func (s *service) RegisterDevice(device model.Device) error {
	s.mu.Lock()
	if _, exists := s.configuredDevices[device.ID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	registerMessage := defaultRegisterMsg(device)
	topic := fmt.Sprintf("homeassistant/sensor/%s/config", slugIdentifier(device))

	payload, err := json.Marshal(registerMessage)
	if err != nil {
		return err
	}
	token := s.client.Publish(topic, 1, true, payload)
	if err := token.Error(); err != nil {
		return err
	}
	if res := token.WaitTimeout(time.Second * 5); res {
		s.mu.Lock()
		s.configuredDevices[device.ID] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

func (s *service) publishUpdate(update publisher.StateUpdate) error {
	topic := fmt.Sprintf("homeassistant/sensor/%s_%s/%s/state",
		slug.Make(update.DeviceName), update.DeviceID, update.Field)

	payload, err := json.Marshal(map[string]string{
		"value": update.Value,
	})
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 0, false, payload)
	res := token.WaitTimeout(time.Second * 10)
	if res {
		return nil
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

type registerDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

type registerMessage struct {
	Tilda      string         `json:"~"`
	Name       string         `json:"name"`
	ID         string         `json:"unique_id"`
	StateTopic string         `json:"state_topic"`
	Device     registerDevice `json:"device"`
}

func slugIdentifier(device model.Device) string {
	return fmt.Sprintf("%s_%s", slug.Make(device.Name), device.ID)
}

func defaultRegisterMsg(device model.Device) registerMessage {
	identifier := slugIdentifier(device)
	deviceModel := "controller"
	if len(device.Kinds) > 0 {
		deviceModel = device.Kinds[0].String()
	}

	return registerMessage{
		Tilda:      fmt.Sprintf("homeassistant/sensor/%s", identifier),
		Name:       device.Name,
		ID:         identifier,
		StateTopic: "~/state",
		Device: registerDevice{
			Name:         device.Name,
			Identifiers:  []string{identifier},
			Model:        deviceModel,
			Manufacturer: "HomeHub",
		},
	}
}
