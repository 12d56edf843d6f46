package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
)

// mockSink is a mock implementation of Sink.
type mockSink struct {
	WriteFunc  func(ctx context.Context, updates []StateUpdate) error
	written    [][]StateUpdate
	registered []model.Device
}

func (m *mockSink) Write(ctx context.Context, updates []StateUpdate) error {
	m.written = append(m.written, updates)
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, updates)
	}
	return nil
}

func (m *mockSink) RegisterDevice(device model.Device) error {
	m.registered = append(m.registered, device)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	originalLogger := zap.L()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(func() {
		zap.ReplaceGlobals(originalLogger)
	})
	return NewRegistry()
}

func device() model.Device {
	return model.Device{ID: "d1", Name: "bedroom lamp", Kinds: []model.DeviceKind{model.DeviceKindLamp}}
}

func TestRegister_DuplicateNameRejected(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	require.NoError(t, r.Register("mqtt", &mockSink{}))
	assert.Error(t, r.Register("mqtt", &mockSink{}))
}

func TestPublishState_FanOut(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	first := &mockSink{}
	second := &mockSink{}
	require.NoError(t, r.Register("mqtt", first))
	require.NoError(t, r.Register("postgres", second))

	r.PublishState(context.Background(), device(), map[string]string{"operational_status": "on"})

	require.Len(t, first.written, 1)
	require.Len(t, second.written, 1)
	assert.Equal(t, "operational_status", first.written[0][0].Field)
	assert.Equal(t, "on", first.written[0][0].Value)
}

func TestPublishState_UnchangedValueSuppressed(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	sink := &mockSink{}
	require.NoError(t, r.Register("mqtt", sink))

	r.PublishState(context.Background(), device(), map[string]string{"operational_status": "on"})
	r.PublishState(context.Background(), device(), map[string]string{"operational_status": "on"})
	r.PublishState(context.Background(), device(), map[string]string{"operational_status": "off"})

	require.Len(t, sink.written, 2)
	assert.Equal(t, "on", sink.written[0][0].Value)
	assert.Equal(t, "off", sink.written[1][0].Value)
}

func TestPublishState_SinkFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	failing := &mockSink{
		WriteFunc: func(ctx context.Context, updates []StateUpdate) error {
			return errors.New("sink down")
		},
	}
	healthy := &mockSink{}
	require.NoError(t, r.Register("failing", failing))
	require.NoError(t, r.Register("healthy", healthy))

	r.PublishState(context.Background(), device(), map[string]string{"connectivity": "online"})

	assert.Len(t, healthy.written, 1)
}

func TestRegisterDevice_ReachesAllSinks(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	sink := &mockSink{}
	require.NoError(t, r.Register("mqtt", sink))

	r.RegisterDevice(device())

	require.Len(t, sink.registered, 1)
	assert.Equal(t, "d1", sink.registered[0].ID)
}
