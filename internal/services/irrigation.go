package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
	"golang.org/x/oauth2"
)

// IrrigationService exposes the irrigation backend endpoints as typed calls.
type IrrigationService struct {
	client *Client
}

// NewIrrigationService wraps client.
func NewIrrigationService(client *Client) *IrrigationService {
	return &IrrigationService{client: client}
}

// Client returns the underlying pipeline.
func (s *IrrigationService) Client() *Client { return s.client }

// Login exchanges email and password for an access token.
func (s *IrrigationService) Login(ctx context.Context, email, password string) (*oauth2.Token, error) {
	body := map[string]string{"email": email, "password": password}

	var token oauth2.Token
	if err := s.client.Do(ctx, http.MethodPost, "/api/auth/login", body, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response has no access token", shared.ErrAuthFailed)
	}
	return &token, nil
}

// Me fetches the profile for token, or for the session credential when token is empty.
func (s *IrrigationService) Me(ctx context.Context, token string) (*models.UserProfile, error) {
	var opts []RequestOption
	if token != "" {
		opts = append(opts, WithBearer(token))
	}

	var profile models.UserProfile
	if err := s.client.Do(ctx, http.MethodGet, "/api/auth/me", nil, &profile, opts...); err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return &profile, nil
}

// Register creates an account. It does not log in.
func (s *IrrigationService) Register(ctx context.Context, username, email, password string) (*models.Message, error) {
	body := map[string]string{"username": username, "email": email, "password": password}

	var msg models.Message
	if err := s.client.Do(ctx, http.MethodPost, "/api/auth/register", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Devices lists the user's devices in backend order.
func (s *IrrigationService) Devices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := s.client.Do(ctx, http.MethodGet, "/api/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Device fetches a single device.
func (s *IrrigationService) Device(ctx context.Context, id models.ID) (*models.Device, error) {
	var device models.Device
	if err := s.client.Do(ctx, http.MethodGet, "/api/devices/"+escape(id), nil, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// CreateDevice registers a device and returns the acknowledgement carrying its id.
func (s *IrrigationService) CreateDevice(ctx context.Context, input models.DeviceInput) (*models.Message, error) {
	var msg models.Message
	if err := s.client.Do(ctx, http.MethodPost, "/api/devices", input, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateDevice applies a partial update.
func (s *IrrigationService) UpdateDevice(ctx context.Context, id models.ID, update models.DeviceUpdate) (*models.Message, error) {
	if update.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", shared.ErrMissingArgument)
	}

	var msg models.Message
	if err := s.client.Do(ctx, http.MethodPut, "/api/devices/"+escape(id), update, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteDevice removes a device.
func (s *IrrigationService) DeleteDevice(ctx context.Context, id models.ID) (*models.Message, error) {
	var msg models.Message
	if err := s.client.Do(ctx, http.MethodDelete, "/api/devices/"+escape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeviceReadings returns up to limit readings for a device, newest first.
func (s *IrrigationService) DeviceReadings(ctx context.Context, id models.ID, limit int) ([]models.SensorReading, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var readings []models.SensorReading
	if err := s.client.Do(ctx, http.MethodGet, "/api/sensors/readings/device/"+escape(id), nil, &readings, WithQuery(q)); err != nil {
		return nil, err
	}
	return readings, nil
}

// LatestReading returns the newest reading for a device, or nil when it has none.
func (s *IrrigationService) LatestReading(ctx context.Context, id models.ID) (*models.SensorReading, error) {
	readings, err := s.DeviceReadings(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

// ReadingHistory returns readings from the last days days, optionally for one device.
func (s *IrrigationService) ReadingHistory(ctx context.Context, id models.ID, days int) ([]models.SensorReading, error) {
	q := url.Values{}
	if id != "" {
		q.Set("device_id", id.String())
	}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}

	var readings []models.SensorReading
	if err := s.client.Do(ctx, http.MethodGet, "/api/sensors/readings/history", nil, &readings, WithQuery(q)); err != nil {
		return nil, err
	}
	return readings, nil
}

// SubmitReading records a reading for a device.
func (s *IrrigationService) SubmitReading(ctx context.Context, input models.ReadingInput) (*models.Message, error) {
	var msg models.Message
	if err := s.client.Do(ctx, http.MethodPost, "/api/sensors/readings", input, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PumpStatus returns the current pump state of a device.
func (s *IrrigationService) PumpStatus(ctx context.Context, id models.ID) (*models.PumpStatus, error) {
	var status models.PumpStatus
	if err := s.client.Do(ctx, http.MethodGet, "/api/pump/status/"+escape(id), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ControlPump switches a pump on or off manually.
func (s *IrrigationService) ControlPump(ctx context.Context, id models.ID, action models.PumpState) (*models.ControlResult, error) {
	body := struct {
		DeviceID models.ID        `json:"device_id"`
		Action   models.PumpState `json:"action"`
		Manual   bool             `json:"manual"`
	}{id, action, true}

	var result models.ControlResult
	if err := s.client.Do(ctx, http.MethodPost, "/api/pump/control", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AutoControl asks the backend to decide and apply the pump state from its prediction.
func (s *IrrigationService) AutoControl(ctx context.Context, id models.ID) (*models.AutoControlResult, error) {
	body := map[string]models.ID{"device_id": id}

	var result models.AutoControlResult
	if err := s.client.Do(ctx, http.MethodPost, "/api/pump/auto", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PumpLogs returns pump events from the last days days, newest first.
func (s *IrrigationService) PumpLogs(ctx context.Context, id models.ID, days, limit int) ([]models.PumpLog, error) {
	q := url.Values{}
	if id != "" {
		q.Set("device_id", id.String())
	}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var logs []models.PumpLog
	if err := s.client.Do(ctx, http.MethodGet, "/api/pump/logs", nil, &logs, WithQuery(q)); err != nil {
		return nil, err
	}
	return logs, nil
}

// WeatherQuery selects a location by city name or coordinates.
type WeatherQuery struct {
	City string
	Lat  *float64
	Lon  *float64
}

func (w WeatherQuery) values() (url.Values, error) {
	q := url.Values{}
	switch {
	case w.City != "":
		q.Set("city", w.City)
	case w.Lat != nil && w.Lon != nil:
		q.Set("lat", strconv.FormatFloat(*w.Lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(*w.Lon, 'f', -1, 64))
	default:
		return nil, fmt.Errorf("%w: city or lat/lon is required", shared.ErrMissingArgument)
	}
	return q, nil
}

// CurrentWeather returns current conditions for a location.
func (s *IrrigationService) CurrentWeather(ctx context.Context, where WeatherQuery) (*models.WeatherData, error) {
	q, err := where.values()
	if err != nil {
		return nil, err
	}

	var weather models.WeatherData
	if err := s.client.Do(ctx, http.MethodGet, "/api/weather/current", nil, &weather, WithQuery(q)); err != nil {
		return nil, err
	}
	return &weather, nil
}

// Forecast returns the upcoming forecast intervals for a location.
func (s *IrrigationService) Forecast(ctx context.Context, where WeatherQuery) ([]models.Forecast, error) {
	q, err := where.values()
	if err != nil {
		return nil, err
	}

	var forecast []models.Forecast
	if err := s.client.Do(ctx, http.MethodGet, "/api/weather/forecast", nil, &forecast, WithQuery(q)); err != nil {
		return nil, err
	}
	return forecast, nil
}

// Predict runs the irrigation model on input.
func (s *IrrigationService) Predict(ctx context.Context, input models.PredictionInput) (*models.Prediction, error) {
	var prediction models.Prediction
	if err := s.client.Do(ctx, http.MethodPost, "/api/predictions/predict", input, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

func escape(id models.ID) string {
	return url.PathEscape(id.String())
}
