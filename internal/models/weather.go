package models

// WeatherData is the current weather at a location.
type WeatherData struct {
	Temperature     float64   `json:"temperature"`
	FeelsLike       *float64  `json:"feels_like,omitempty"`
	Humidity        float64   `json:"humidity"`
	RainProbability float64   `json:"rain_probability"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	Timestamp       Timestamp `json:"timestamp"`
}

// Forecast is one forecast interval.
type Forecast struct {
	Time            Timestamp `json:"time"`
	Temperature     float64   `json:"temperature"`
	RainProbability float64   `json:"rain_probability"`
	Description     string    `json:"description"`
}

// PredictionInput is the feature vector sent to the irrigation model.
type PredictionInput struct {
	SoilMoisture    float64  `json:"soil_moisture"`
	Temperature     float64  `json:"temperature"`
	Humidity        float64  `json:"humidity"`
	RainSensor      int      `json:"rain_sensor"`
	RainProbability *float64 `json:"rain_probability,omitempty"`
}

// Prediction is the irrigation model's recommendation.
type Prediction struct {
	PredictedClass int     `json:"predicted_class"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	ShouldIrrigate bool    `json:"should_irrigate"`
	Reason         string  `json:"reason"`
}
