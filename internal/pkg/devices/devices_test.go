package devices

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
	"github.com/anicoll/homehub-integration/internal/pkg/rest"
	"github.com/anicoll/homehub-integration/internal/pkg/stream"
)

// mockRestClient is a mock implementation of restClient.
type mockRestClient struct {
	DevicesFunc        func(ctx context.Context) ([]model.Device, error)
	ControlDeviceFunc  func(ctx context.Context, deviceID string, action model.ControlAction) error
	UpdateSettingsFunc func(ctx context.Context, deviceID string, update rest.SettingsUpdate) error
}

func (m *mockRestClient) Devices(ctx context.Context) ([]model.Device, error) {
	if m.DevicesFunc != nil {
		return m.DevicesFunc(ctx)
	}
	return nil, nil
}

func (m *mockRestClient) DeviceSettings(ctx context.Context, deviceID string) (*rest.SettingsResponse, error) {
	return &rest.SettingsResponse{DeviceID: deviceID}, nil
}

func (m *mockRestClient) ControlDevice(ctx context.Context, deviceID string, action model.ControlAction) error {
	if m.ControlDeviceFunc != nil {
		return m.ControlDeviceFunc(ctx, deviceID, action)
	}
	return nil
}

func (m *mockRestClient) UpdateDeviceSettings(ctx context.Context, deviceID string, update rest.SettingsUpdate) error {
	if m.UpdateSettingsFunc != nil {
		return m.UpdateSettingsFunc(ctx, deviceID, update)
	}
	return nil
}

// fakeChannel records the latest handler per event, keyed like the real
// channel registry.
type fakeChannel struct {
	handlers map[model.EventName]stream.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[model.EventName]stream.Handler)}
}

func (f *fakeChannel) Subscribe(event model.EventName, owner string, handler stream.Handler) stream.Disposer {
	f.handlers[event] = handler
	return func() {
		delete(f.handlers, event)
	}
}

func (f *fakeChannel) push(t *testing.T, event model.EventName, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	handler, ok := f.handlers[event]
	require.True(t, ok, "no handler registered for %s", event)
	handler(data)
}

func newTestStore(t *testing.T, restClient restClient) *Store {
	t.Helper()
	originalLogger := zap.L()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(func() {
		zap.ReplaceGlobals(originalLogger)
	})
	return New(restClient, nil)
}

func testDevice(id, name string) model.Device {
	return model.Device{
		ID:           id,
		Name:         name,
		Kinds:        []model.DeviceKind{model.DeviceKindLamp},
		Connectivity: model.ConnectivityOnline,
		Setting: model.Setting{
			AutoModeEnabled: false,
			ScheduleEnabled: true,
		},
	}
}

func TestApplyAdded_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	gen := s.Reset()

	d := testDevice("d1", "bedroom lamp")
	s.ApplyAdded(gen, d)
	once := s.Snapshot()

	s.ApplyAdded(gen, d)
	twice := s.Snapshot()

	assert.Equal(t, once, twice)
	assert.Len(t, twice, 1)
}

func TestApplySettingsUpdate_FieldIsolation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	gen := s.Reset()

	d := testDevice("d1", "bedroom lamp")
	on := model.OperationalStatusOn
	d.OperationalStatus = &on
	s.ApplyAdded(gen, d)

	s.ApplySettingsUpdate(gen, model.SettingsPatch{
		DeviceID:        "d1",
		AutoModeEnabled: true,
		ScheduleEnabled: false,
	})

	got, ok := s.GetByID("d1")
	require.True(t, ok)
	assert.True(t, got.Setting.AutoModeEnabled)
	assert.False(t, got.Setting.ScheduleEnabled)
	require.NotNil(t, got.OperationalStatus)
	assert.Equal(t, model.OperationalStatusOn, *got.OperationalStatus)
	assert.Equal(t, "bedroom lamp", got.Name)
	assert.Equal(t, model.ConnectivityOnline, got.Connectivity)
}

func TestApplyUpdates_UnknownIDDropped(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	gen := s.Reset()
	s.ApplyAdded(gen, testDevice("d1", "bedroom lamp"))

	before := s.Snapshot()

	s.ApplySettingsUpdate(gen, model.SettingsPatch{DeviceID: "ghost", AutoModeEnabled: true})
	s.ApplyOperationalStatusUpdate(gen, model.StatusPatch{DeviceID: "ghost", OperationalStatus: model.OperationalStatusOn})

	assert.Equal(t, before, s.Snapshot())
}

func TestApplyBulkUpdate_PartialSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	gen := s.Reset()

	a := testDevice("a", "lamp a")
	b := testDevice("b", "lamp b")
	c := testDevice("c", "fan c")
	s.ApplyAdded(gen, a)
	s.ApplyAdded(gen, b)
	s.ApplyAdded(gen, c)

	aPrime := a
	aPrime.Name = "renamed lamp a"
	aPrime.Connectivity = model.ConnectivityOffline
	unknown := testDevice("z", "never seen")

	s.ApplyBulkUpdate(gen, []model.Device{aPrime, unknown})

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 3)

	got, ok := s.GetByID("a")
	require.True(t, ok)
	assert.Equal(t, "renamed lamp a", got.Name)
	assert.Equal(t, model.ConnectivityOffline, got.Connectivity)

	gotB, _ := s.GetByID("b")
	assert.Equal(t, b, gotB)
	gotC, _ := s.GetByID("c")
	assert.Equal(t, c, gotC)

	_, ok = s.GetByID("z")
	assert.False(t, ok)
}

func TestInitialize_EndToEnd(t *testing.T) {
	t.Parallel()
	restClient := &mockRestClient{
		DevicesFunc: func(ctx context.Context) ([]model.Device, error) {
			return []model.Device{testDevice("d1", "bedroom lamp")}, nil
		},
	}
	s := newTestStore(t, restClient)
	gen := s.Reset()
	ch := newFakeChannel()

	s.Initialize(context.Background(), ch, gen)
	assert.False(t, s.Loading())

	got, ok := s.GetByID("d1")
	require.True(t, ok)
	assert.Nil(t, got.OperationalStatus)
	assert.False(t, got.Setting.AutoModeEnabled)

	ch.push(t, model.EventStatusUpdated, model.StatusPatch{
		DeviceID:          "d1",
		OperationalStatus: model.OperationalStatusOn,
	})

	got, ok = s.GetByID("d1")
	require.True(t, ok)
	require.NotNil(t, got.OperationalStatus)
	assert.Equal(t, model.OperationalStatusOn, *got.OperationalStatus)
	assert.False(t, got.Setting.AutoModeEnabled)
}

func TestInitialize_FetchFailureKeepsPriorState(t *testing.T) {
	t.Parallel()
	restClient := &mockRestClient{
		DevicesFunc: func(ctx context.Context) ([]model.Device, error) {
			return nil, errors.New("network down")
		},
	}
	s := newTestStore(t, restClient)
	gen := s.Reset()
	s.ApplyAdded(gen, testDevice("d1", "bedroom lamp"))

	s.Initialize(context.Background(), newFakeChannel(), gen)

	assert.False(t, s.Loading())
	_, ok := s.GetByID("d1")
	assert.True(t, ok)
}

func TestInitialize_StaleGenerationDiscarded(t *testing.T) {
	t.Parallel()
	restClient := &mockRestClient{
		DevicesFunc: func(ctx context.Context) ([]model.Device, error) {
			return []model.Device{testDevice("d1", "bedroom lamp")}, nil
		},
	}
	s := newTestStore(t, restClient)
	staleGen := s.Reset()
	s.Reset() // simulates logout/login racing ahead of the fetch

	s.Initialize(context.Background(), newFakeChannel(), staleGen)

	assert.Empty(t, s.Snapshot())
}

func TestInitialize_StaleRebindKeepsLiveHandlers(t *testing.T) {
	t.Parallel()
	restClient := &mockRestClient{
		DevicesFunc: func(ctx context.Context) ([]model.Device, error) {
			return []model.Device{testDevice("d1", "bedroom lamp")}, nil
		},
	}
	s := newTestStore(t, restClient)
	staleGen := s.Reset()
	gen := s.Reset()
	ch := newFakeChannel()

	s.Initialize(context.Background(), ch, gen)
	// A straggler initialize from the previous session must not replace the
	// live handlers with ones bound to its dead generation.
	s.Initialize(context.Background(), ch, staleGen)

	ch.push(t, model.EventDeviceAdded, testDevice("d2", "hallway lamp"))

	_, ok := s.GetByID("d2")
	assert.True(t, ok)
}

func TestInitialize_StaleCallDoesNotSetLoading(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	staleGen := s.Reset()
	s.Reset()

	s.Initialize(context.Background(), newFakeChannel(), staleGen)

	assert.False(t, s.Loading())
}

func TestApply_StaleGenerationDiscarded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	staleGen := s.Reset()
	gen := s.Reset()
	s.ApplyAdded(gen, testDevice("d1", "bedroom lamp"))

	s.ApplyAdded(staleGen, testDevice("d2", "revived fan"))
	s.ApplySettingsUpdate(staleGen, model.SettingsPatch{DeviceID: "d1", AutoModeEnabled: true})

	_, ok := s.GetByID("d2")
	assert.False(t, ok)
	got, _ := s.GetByID("d1")
	assert.False(t, got.Setting.AutoModeEnabled)
}

func TestReset_ClearsDevices(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &mockRestClient{})
	gen := s.Reset()
	s.ApplyAdded(gen, testDevice("d1", "bedroom lamp"))
	s.ApplyAdded(gen, testDevice("d2", "ceiling fan"))

	s.Reset()

	assert.Empty(t, s.Snapshot())
}

func TestIssueControl_NoLocalMutation(t *testing.T) {
	t.Parallel()
	var issued []string
	restClient := &mockRestClient{
		ControlDeviceFunc: func(ctx context.Context, deviceID string, action model.ControlAction) error {
			issued = append(issued, deviceID+":"+action.String())
			return nil
		},
	}
	s := newTestStore(t, restClient)
	gen := s.Reset()
	s.ApplyAdded(gen, testDevice("d1", "bedroom lamp"))

	err := s.IssueControl(context.Background(), "d1", model.ActionTurnOn)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1:turn_on"}, issued)

	// State only changes once the server echoes the status event.
	got, _ := s.GetByID("d1")
	assert.Nil(t, got.OperationalStatus)
}

func TestIssueControl_CommandFailureSurfaces(t *testing.T) {
	t.Parallel()
	restClient := &mockRestClient{
		ControlDeviceFunc: func(ctx context.Context, deviceID string, action model.ControlAction) error {
			return errors.New("hub rejected command")
		},
	}
	s := newTestStore(t, restClient)
	gen := s.Reset()
	s.ApplyAdded(gen, testDevice("d1", "bedroom lamp"))

	err := s.IssueControl(context.Background(), "d1", model.ActionTurnOff)
	assert.Error(t, err)
}
