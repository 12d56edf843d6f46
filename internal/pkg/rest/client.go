package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
)

var ErrNoCredential = errors.New("authentication token not found")

// APIError is the decoded non-2xx response body of the hub API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hub api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("hub api: %s (status %d)", e.Message, e.StatusCode)
}

// TokenSource supplies the bearer credential for protected endpoints.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the hub HTTP API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

const requestTimeout = 10 * time.Second

func NewClient(baseURL string, tokens TokenSource) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub url %q: %w", baseURL, err)
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		tokens: tokens,
		logger: zap.L(),
	}, nil
}

type devicesResponse struct {
	Devices []model.Device `json:"devices"`
}

// Devices fetches the full fleet snapshot.
func (c *Client) Devices(ctx context.Context) ([]model.Device, error) {
	var payload devicesResponse
	if err := c.do(ctx, http.MethodGet, "/api/device", nil, &payload, true); err != nil {
		return nil, err
	}
	return payload.Devices, nil
}

// SettingsResponse is the per-device settings document, schedules included.
type SettingsResponse struct {
	DeviceID  string         `json:"deviceId"`
	Setting   model.Setting  `json:"setting"`
	Schedules []ScheduleSlot `json:"schedules"`
}

type ScheduleSlot struct {
	ID      string `json:"id"`
	StartAt string `json:"startAt"`
	EndAt   string `json:"endAt"`
	Enabled bool   `json:"enabled"`
}

func (c *Client) DeviceSettings(ctx context.Context, deviceID string) (*SettingsResponse, error) {
	var payload SettingsResponse
	if err := c.do(ctx, http.MethodGet, "/api/settings/"+url.PathEscape(deviceID), nil, &payload, true); err != nil {
		return nil, err
	}
	return &payload, nil
}

type controlRequest struct {
	Action model.ControlAction `json:"action"`
}

// ControlDevice issues a turn_on/turn_off command. State is not mutated here;
// the server echoes the result back as a device_operational_status_updated
// event on the stream.
func (c *Client) ControlDevice(ctx context.Context, deviceID string, action model.ControlAction) error {
	return c.do(ctx, http.MethodPost, "/api/device/"+url.PathEscape(deviceID)+"/action", controlRequest{Action: action}, nil, true)
}

// SettingsUpdate carries the optional fields of a settings PATCH. Nil fields
// are omitted and left unchanged server-side.
type SettingsUpdate struct {
	AutoModeEnabled *bool `json:"autoModeEnabled,omitempty"`
	ScheduleEnabled *bool `json:"scheduleEnabled,omitempty"`
}

func (c *Client) UpdateDeviceSettings(ctx context.Context, deviceID string, update SettingsUpdate) error {
	return c.do(ctx, http.MethodPatch, "/api/settings/"+url.PathEscape(deviceID), update, nil, true)
}

type notificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
}

func (c *Client) Notifications(ctx context.Context) ([]model.Notification, error) {
	var payload notificationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &payload, true); err != nil {
		return nil, err
	}
	return payload.Notifications, nil
}

type unreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var payload unreadCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &payload, true); err != nil {
		return 0, err
	}
	return payload.UnreadCount, nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/mark-all-as-read", nil, nil, true)
}

func (c *Client) DeleteNotification(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(notificationID), nil, nil, true)
}

// HistoryQuery configures /api/sensorHistory requests.
type HistoryQuery struct {
	DeviceID  string
	Limit     int
	SortBy    string
	SortOrder string
}

type historyResponse struct {
	History []model.SensorEntry `json:"history"`
}

func (c *Client) SensorHistory(ctx context.Context, query HistoryQuery) ([]model.SensorEntry, error) {
	values := url.Values{}
	if query.DeviceID != "" {
		values.Set("deviceId", query.DeviceID)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.SortBy != "" {
		values.Set("sortBy", query.SortBy)
	}
	if query.SortOrder != "" {
		values.Set("sortOrder", query.SortOrder)
	}
	var payload historyResponse
	if err := c.do(ctx, http.MethodGet, "/api/sensorHistory?"+values.Encode(), nil, &payload, true); err != nil {
		return nil, err
	}
	return payload.History, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token. Unprotected endpoint.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var payload loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: password}, &payload, false); err != nil {
		return "", err
	}
	return payload.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, protected bool) error {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	target := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if protected {
		token, err := c.tokens.Token()
		if err != nil {
			return err
		}
		if token == "" {
			return ErrNoCredential
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	requestID := uuid.NewString()
	res, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("hub api request failed",
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		c.logger.Error("hub api error response",
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", res.StatusCode),
			zap.String("error", apiErr.Message))
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
