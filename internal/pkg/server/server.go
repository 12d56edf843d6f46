package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/database"
	"github.com/anicoll/homehub-integration/internal/pkg/model"
	"github.com/anicoll/homehub-integration/internal/pkg/rest"
)

type deviceStore interface {
	Snapshot() []model.Device
	GetByID(deviceID string) (model.Device, bool)
	Loading() bool
	IssueControl(ctx context.Context, deviceID string, action model.ControlAction) error
	IssueSettingsUpdate(ctx context.Context, deviceID string, update rest.SettingsUpdate) error
	Settings(ctx context.Context, deviceID string) (*rest.SettingsResponse, error)
}

type notificationStore interface {
	UnreadCount() int
	MarkAllAsRead(ctx context.Context) error
	List(ctx context.Context) ([]model.Notification, error)
	Delete(ctx context.Context, notificationID string) error
}

type sessionManager interface {
	Start(ctx context.Context) error
	Logout() error
}

type historyReader interface {
	GetDeviceHistory(ctx context.Context, deviceID string, limit int) ([]database.StateRecord, error)
}

type server struct {
	devices       deviceStore
	notifications notificationStore
	session       sessionManager
	history       historyReader
	logger        *zap.Logger
}

// New builds the local API router. history may be nil when no database is
// configured; the history endpoint then answers 503.
func New(devices deviceStore, notifications notificationStore, session sessionManager, history historyReader) http.Handler {
	s := &server{
		devices:       devices,
		notifications: notifications,
		session:       session,
		history:       history,
		logger:        zap.L(),
	}

	r := chi.NewRouter()
	r.Use(LoggingMiddleware)

	r.Get("/devices", s.getDevices)
	r.Get("/devices/{deviceID}", s.getDevice)
	r.Post("/devices/{deviceID}/action", s.postDeviceAction)
	r.Get("/devices/{deviceID}/settings", s.getDeviceSettings)
	r.Patch("/devices/{deviceID}/settings", s.patchDeviceSettings)
	r.Get("/devices/{deviceID}/history", s.getDeviceHistory)

	r.Get("/notifications", s.getNotifications)
	r.Get("/notifications/unread-count", s.getUnreadCount)
	r.Post("/notifications/mark-all-as-read", s.postMarkAllAsRead)
	r.Delete("/notifications/{notificationID}", s.deleteNotification)

	r.Post("/session/resume", s.postSessionResume)
	r.Post("/session/logout", s.postSessionLogout)

	return r
}

type devicesResponse struct {
	Devices []model.Device `json:"devices"`
	Loading bool           `json:"loading"`
}

func (s *server) getDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, devicesResponse{
		Devices: s.devices.Snapshot(),
		Loading: s.devices.Loading(),
	})
}

func (s *server) getDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	device, ok := s.devices.GetByID(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("device not found"))
		return
	}
	writeJSON(w, http.StatusOK, device)
}

type actionRequest struct {
	Action model.ControlAction `json:"action"`
}

func (s *server) postDeviceAction(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	req, err := unmarshalPayload[actionRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Action != model.ActionTurnOn && req.Action != model.ActionTurnOff {
		writeError(w, http.StatusBadRequest, errors.New("unknown action"))
		return
	}
	if err := s.devices.IssueControl(r.Context(), deviceID, req.Action); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.logger.Info("control command issued", zap.String("device", deviceID), zap.String("action", req.Action.String()))
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("accepted"))
}

func (s *server) getDeviceSettings(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	settings, err := s.devices.Settings(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *server) patchDeviceSettings(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	update, err := unmarshalPayload[rest.SettingsUpdate](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.devices.IssueSettingsUpdate(r.Context(), deviceID, *update); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("accepted"))
}

func (s *server) getDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history storage not configured"))
		return
	}
	deviceID := chi.URLParam(r, "deviceID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = parsed
	}
	records, err := s.history.GetDeviceHistory(r.Context(), deviceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *server) getNotifications(w http.ResponseWriter, r *http.Request) {
	notifs, err := s.notifications.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifs})
}

func (s *server) getUnreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": s.notifications.UnreadCount()})
}

func (s *server) postMarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	if err := s.notifications.MarkAllAsRead(r.Context()); err != nil {
		// The optimistic zero already landed; report the failed command.
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

func (s *server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")
	if err := s.notifications.Delete(r.Context(), notificationID); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

func (s *server) postSessionResume(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

func (s *server) postSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	payload := new(T)
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
