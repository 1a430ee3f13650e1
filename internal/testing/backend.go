package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/go-chi/chi/v5"
)

type fakeAccount struct {
	password string
	profile  models.UserProfile
	token    string
}

// FakeBackend is an in-process irrigation backend serving the same routes and payloads as the real API.
//
// Tokens are issued per account at login; [FakeBackend.Expire] revokes all of them so authenticated routes answer 401.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	accounts map[string]*fakeAccount
	tokens   map[string]string
	devices  []models.Device
	readings map[models.ID][]models.SensorReading
	pumps    map[models.ID]models.PumpStatus
	logs     []models.PumpLog
	hits     map[string]int
	fail     map[string]int
	seq      int
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	b := &FakeBackend{
		accounts: make(map[string]*fakeAccount),
		tokens:   make(map[string]string),
		readings: make(map[models.ID][]models.SensorReading),
		pumps:    make(map[models.ID]models.PumpStatus),
		hits:     make(map[string]int),
		fail:     make(map[string]int),
	}
	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base URL.
func (b *FakeBackend) URL() string { return b.Server.URL }

// AddUser registers an account whose logins receive token.
func (b *FakeBackend) AddUser(email, password, token string, profile models.UserProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if profile.Email == "" {
		profile.Email = email
	}
	b.accounts[email] = &fakeAccount{password: password, profile: profile, token: token}
}

// Expire revokes every issued token.
func (b *FakeBackend) Expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[string]string)
}

// SetDevices replaces the device list.
func (b *FakeBackend) SetDevices(devices ...models.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append([]models.Device(nil), devices...)
}

// AddReading appends a reading for its device; the newest reading is served first.
func (b *FakeBackend) AddReading(r models.SensorReading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.ID == "" {
		b.seq++
		r.ID = models.ID(fmt.Sprintf("r%d", b.seq))
	}
	if r.Timestamp.IsZero() {
		now := time.Now().UTC()
		if prev := b.readings[r.DeviceID]; len(prev) > 0 {
			if last := prev[len(prev)-1].Timestamp.Time; !now.After(last) {
				now = last.Add(time.Millisecond)
			}
		}
		r.Timestamp = models.NewTimestamp(now)
	}
	b.readings[r.DeviceID] = append(b.readings[r.DeviceID], r)
}

// SetPump sets the pump status served for a device.
func (b *FakeBackend) SetPump(id models.ID, state models.PumpState, mode models.PumpMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pumps[id] = models.PumpStatus{DeviceID: id, Status: state, Mode: mode, LastUpdated: models.NewTimestamp(time.Now().UTC())}
}

// FailNext makes the next n requests to path answer 500.
func (b *FakeBackend) FailNext(path string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[path] = n
}

// Hits returns how many requests reached path.
func (b *FakeBackend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// Pump returns the stored pump status for a device.
func (b *FakeBackend) Pump(id models.ID) models.PumpStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pumpLocked(id)
}

func (b *FakeBackend) pumpLocked(id models.ID) models.PumpStatus {
	if s, ok := b.pumps[id]; ok {
		return s
	}
	return models.PumpStatus{DeviceID: id, Status: models.PumpOff, Mode: models.ModeManual}
}

func (b *FakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.count)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", b.login)
		r.Post("/auth/register", b.register)

		r.Group(func(r chi.Router) {
			r.Use(b.authenticate)

			r.Get("/auth/me", b.me)

			r.Get("/devices", b.listDevices)
			r.Post("/devices", b.createDevice)
			r.Get("/devices/{id}", b.getDevice)
			r.Put("/devices/{id}", b.updateDevice)
			r.Delete("/devices/{id}", b.deleteDevice)

			r.Get("/sensors/readings/device/{id}", b.deviceReadings)
			r.Get("/sensors/readings/history", b.readingHistory)
			r.Post("/sensors/readings", b.submitReading)

			r.Get("/pump/status/{id}", b.pumpStatus)
			r.Post("/pump/control", b.controlPump)
			r.Post("/pump/auto", b.autoControl)
			r.Get("/pump/logs", b.pumpLogs)

			r.Get("/weather/current", b.currentWeather)
			r.Get("/weather/forecast", b.forecast)
			r.Post("/predictions/predict", b.predict)
		})
	})
	return r
}

func (b *FakeBackend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.URL.Path]++
		failing := b.fail[r.URL.Path] > 0
		if failing {
			b.fail[r.URL.Path]--
		}
		b.mu.Unlock()

		if failing {
			writeDetail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		email, known := b.tokens[token]
		b.mu.Unlock()

		if !ok || !known {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		r.Header.Set("X-Fake-User", email)
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	b.mu.Lock()
	acct, ok := b.accounts[req.Email]
	if ok && acct.password == req.Password {
		b.tokens[acct.token] = req.Email
	}
	b.mu.Unlock()

	if !ok || acct.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": acct.token, "token_type": "bearer"})
}

func (b *FakeBackend) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[req.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	b.seq++
	id := models.ID(fmt.Sprintf("u%d", b.seq))
	b.accounts[req.Email] = &fakeAccount{
		password: req.Password,
		token:    "token-" + id.String(),
		profile:  models.UserProfile{ID: id, Username: req.Username, Email: req.Email},
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered successfully", "user_id": id})
}

func (b *FakeBackend) me(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	acct := b.accounts[r.Header.Get("X-Fake-User")]
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, acct.profile)
}

func (b *FakeBackend) listDevices(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	devices := append([]models.Device{}, b.devices...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, devices)
}

func (b *FakeBackend) findDevice(id models.ID) (int, bool) {
	for i, d := range b.devices {
		if d.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (b *FakeBackend) getDevice(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.findDevice(models.ID(chi.URLParam(r, "id")))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, b.devices[i])
}

func (b *FakeBackend) createDevice(w http.ResponseWriter, r *http.Request) {
	var in models.DeviceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "device_name is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := models.ID(fmt.Sprintf("d%d", b.seq))
	now := models.NewTimestamp(time.Now().UTC())
	b.devices = append(b.devices, models.Device{
		ID: id, Name: in.Name, Location: in.Location, CropType: in.CropType,
		MoistureThreshold: in.MoistureThreshold, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Device created successfully", "device_id": id})
}

func (b *FakeBackend) updateDevice(w http.ResponseWriter, r *http.Request) {
	var up models.DeviceUpdate
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.findDevice(models.ID(chi.URLParam(r, "id")))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	if up.Empty() {
		writeDetail(w, http.StatusBadRequest, "No fields to update")
		return
	}

	d := &b.devices[i]
	if up.Name != nil {
		d.Name = *up.Name
	}
	if up.Location != nil {
		d.Location = *up.Location
	}
	if up.CropType != nil {
		d.CropType = *up.CropType
	}
	if up.MoistureThreshold != nil {
		d.MoistureThreshold = *up.MoistureThreshold
	}
	if up.IsActive != nil {
		d.IsActive = *up.IsActive
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Device updated successfully"})
}

func (b *FakeBackend) deleteDevice(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.findDevice(models.ID(chi.URLParam(r, "id")))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	b.devices = append(b.devices[:i], b.devices[i+1:]...)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Device deleted successfully"})
}

// newestFirst returns a copy of readings sorted newest first, capped at limit when positive.
func newestFirst(readings []models.SensorReading, limit int) []models.SensorReading {
	out := append([]models.SensorReading{}, readings...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp.Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (b *FakeBackend) deviceReadings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 50
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := models.ID(chi.URLParam(r, "id"))
	if _, ok := b.findDevice(id); !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, newestFirst(b.readings[id], limit))
}

func (b *FakeBackend) readingHistory(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days == 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	deviceID := models.ID(r.URL.Query().Get("device_id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.SensorReading
	for id, readings := range b.readings {
		if deviceID != "" && id != deviceID {
			continue
		}
		for _, reading := range readings {
			if reading.Timestamp.After(since) {
				out = append(out, reading)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp.Time) })
	writeJSON(w, http.StatusOK, append([]models.SensorReading{}, out...))
}

func (b *FakeBackend) submitReading(w http.ResponseWriter, r *http.Request) {
	var in models.ReadingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	b.mu.Lock()
	if _, ok := b.findDevice(in.DeviceID); !ok {
		b.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Device not found or does not belong to user")
		return
	}
	b.seq++
	reading := models.SensorReading{
		ID:           models.ID(fmt.Sprintf("r%d", b.seq)),
		DeviceID:     in.DeviceID,
		SoilMoisture: in.SoilMoisture,
		Temperature:  25,
		Humidity:     60,
		Timestamp:    models.NewTimestamp(time.Now().UTC()),
	}
	if in.Temperature != nil {
		reading.Temperature = *in.Temperature
	}
	if in.Humidity != nil {
		reading.Humidity = *in.Humidity
	}
	if in.RainSensor != nil {
		reading.RainSensor = *in.RainSensor
	}
	b.readings[in.DeviceID] = append(b.readings[in.DeviceID], reading)
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"message": "Sensor reading recorded successfully", "reading_id": reading.ID})
}

func (b *FakeBackend) pumpStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := models.ID(chi.URLParam(r, "id"))
	if _, ok := b.findDevice(id); !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, b.pumpLocked(id))
}

func (b *FakeBackend) setPumpLocked(id models.ID, state models.PumpState, mode models.PumpMode, reason string) {
	now := models.NewTimestamp(time.Now().UTC())
	b.pumps[id] = models.PumpStatus{DeviceID: id, Status: state, Mode: mode, LastUpdated: now}
	b.seq++
	b.logs = append(b.logs, models.PumpLog{
		ID: models.ID(fmt.Sprintf("l%d", b.seq)), DeviceID: id, PumpStatus: state, Reason: reason, Timestamp: now,
	})
}

func (b *FakeBackend) controlPump(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID models.ID        `json:"device_id"`
		Action   models.PumpState `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if _, err := models.ParsePumpState(string(req.Action)); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "action must be on or off")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.findDevice(req.DeviceID); !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	b.setPumpLocked(req.DeviceID, req.Action, models.ModeManual, "Manual control by user")
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Pump turned " + string(req.Action),
		"device_id": req.DeviceID,
		"status":    req.Action,
	})
}

func (b *FakeBackend) autoControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID models.ID `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.findDevice(req.DeviceID); !ok {
		writeDetail(w, http.StatusNotFound, "Device not found")
		return
	}
	readings := b.readings[req.DeviceID]
	if len(readings) == 0 {
		writeDetail(w, http.StatusNotFound, "No sensor readings found for device")
		return
	}

	latest := newestFirst(readings, 1)[0]
	state := models.PumpOff
	if latest.SoilMoisture < 40 && latest.RainSensor == 0 {
		state = models.PumpOn
	}
	b.setPumpLocked(req.DeviceID, state, models.ModeAuto, "ML prediction")
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Pump turned %s based on ML prediction", state),
		"device_id": req.DeviceID,
		"status":    state,
		"prediction": map[string]any{
			"recommendation": "Irrigation " + map[models.PumpState]string{models.PumpOn: "needed", models.PumpOff: "not needed"}[state],
			"confidence":     0.9,
			"reason":         fmt.Sprintf("soil moisture %.1f%%", latest.SoilMoisture),
		},
		"weather": map[string]any{"rain_probability": 10.0},
	})
}

func (b *FakeBackend) pumpLogs(w http.ResponseWriter, r *http.Request) {
	deviceID := models.ID(r.URL.Query().Get("device_id"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.PumpLog{}
	for i := len(b.logs) - 1; i >= 0; i-- {
		if deviceID != "" && b.logs[i].DeviceID != deviceID {
			continue
		}
		out = append(out, b.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *FakeBackend) currentWeather(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("city")
	if location == "" {
		location = r.URL.Query().Get("lat") + "," + r.URL.Query().Get("lon")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"temperature": 28.5, "feels_like": 30.1, "humidity": 55.0, "rain_probability": 20.0,
		"description": "scattered clouds", "location": location,
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
	})
}

func (b *FakeBackend) forecast(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UTC().Truncate(time.Hour)
	out := make([]map[string]any, 0, 3)
	for i := range 3 {
		out = append(out, map[string]any{
			"time":             start.Add(time.Duration(3*(i+1)) * time.Hour).Format("2006-01-02T15:04:05"),
			"temperature":      27.0 + float64(i),
			"rain_probability": 10.0 * float64(i+1),
			"description":      "light rain",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *FakeBackend) predict(w http.ResponseWriter, r *http.Request) {
	var in models.PredictionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	irrigate := in.SoilMoisture < 40 && in.RainSensor == 0
	class, rec := 0, "No irrigation needed"
	if irrigate {
		class, rec = 1, "Irrigation recommended"
	}
	writeJSON(w, http.StatusOK, models.Prediction{
		PredictedClass: class, Recommendation: rec, Confidence: 0.87, ShouldIrrigate: irrigate,
		Reason: fmt.Sprintf("soil moisture %.1f%%", in.SoilMoisture),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
