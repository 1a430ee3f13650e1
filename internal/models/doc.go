// Package models defines the domain types exchanged with the irrigation backend.
//
// The package contains three groups of types:
//
// 1. Identity: [UserProfile] and [Session], the authenticated-session snapshot owned by the session controller.
//
// 2. Devices and telemetry: [Device], [SensorReading], [PumpStatus], and the control results returned by pump commands.
//
// 3. Supporting data: [PumpLog], [WeatherData], [Forecast], [PredictionInput] and [Prediction].
//
// Backend timestamps may omit a zone offset, so every time field uses [Timestamp], which accepts both RFC 3339 and naive ISO-8601 values.
// Identifiers use [ID], which accepts JSON strings and numbers.
package models
