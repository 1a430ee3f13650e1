package models

import "fmt"

// SensorReading is one soil/climate sample from a device.
type SensorReading struct {
	ID           ID        `json:"id"`
	DeviceID     ID        `json:"device_id"`
	Timestamp    Timestamp `json:"timestamp"`
	SoilMoisture float64   `json:"soil_moisture"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	RainSensor   int       `json:"rain_sensor"`
}

// Raining reports the rain sensor state.
func (r SensorReading) Raining() bool { return r.RainSensor == 1 }

// ReadingInput submits a reading; nil climate values are filled in by the backend from weather data.
type ReadingInput struct {
	DeviceID     ID       `json:"device_id"`
	SoilMoisture float64  `json:"soil_moisture"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	RainSensor   *int     `json:"rain_sensor,omitempty"`
}

// PumpState is the on/off state of a pump.
type PumpState string

const (
	PumpOn  PumpState = "on"
	PumpOff PumpState = "off"
)

// ParsePumpState validates a user-supplied pump action.
func ParsePumpState(s string) (PumpState, error) {
	switch PumpState(s) {
	case PumpOn, PumpOff:
		return PumpState(s), nil
	}
	return "", fmt.Errorf("pump action must be %q or %q, got %q", PumpOn, PumpOff, s)
}

// PumpMode records whether the pump was last driven manually or by auto control.
type PumpMode string

const (
	ModeManual PumpMode = "manual"
	ModeAuto   PumpMode = "auto"
)

// PumpStatus is the current actuator state of a device.
type PumpStatus struct {
	DeviceID    ID        `json:"device_id"`
	Status      PumpState `json:"status"`
	Mode        PumpMode  `json:"mode"`
	LastUpdated Timestamp `json:"last_updated"`
}

// ControlResult is the response to a manual pump command.
type ControlResult struct {
	Message  string    `json:"message"`
	DeviceID ID        `json:"device_id"`
	Status   PumpState `json:"status"`
}

// AutoControlResult is the response to an automatic irrigation decision.
type AutoControlResult struct {
	Message    string    `json:"message"`
	DeviceID   ID        `json:"device_id"`
	Status     PumpState `json:"status"`
	Prediction *struct {
		Recommendation string  `json:"recommendation"`
		Confidence     float64 `json:"confidence"`
		Reason         string  `json:"reason"`
	} `json:"prediction,omitempty"`
	Weather *struct {
		RainProbability float64 `json:"rain_probability"`
	} `json:"weather,omitempty"`
}

// PumpLog is one pump state change recorded by the backend.
type PumpLog struct {
	ID           ID             `json:"id"`
	DeviceID     ID             `json:"device_id"`
	PumpStatus   PumpState      `json:"pump_status"`
	Reason       string         `json:"reason"`
	MLPrediction map[string]any `json:"ml_prediction,omitempty"`
	WeatherData  map[string]any `json:"weather_data,omitempty"`
	Timestamp    Timestamp      `json:"timestamp"`
}

// DeviceHistory bundles a device with its readings and pump events over a window of days.
type DeviceHistory struct {
	Device     Device          `json:"device"`
	Days       int             `json:"days"`
	Readings   []SensorReading `json:"readings"`
	PumpLogs   []PumpLog       `json:"pump_logs"`
	ExportedAt Timestamp       `json:"exported_at"`
}

// MoistureRange returns the lowest, highest and mean soil moisture of the readings.
func (h DeviceHistory) MoistureRange() (low, high, mean float64) {
	if len(h.Readings) == 0 {
		return 0, 0, 0
	}
	low, high = h.Readings[0].SoilMoisture, h.Readings[0].SoilMoisture
	var sum float64
	for _, r := range h.Readings {
		low = min(low, r.SoilMoisture)
		high = max(high, r.SoilMoisture)
		sum += r.SoilMoisture
	}
	return low, high, sum / float64(len(h.Readings))
}
