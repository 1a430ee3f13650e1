package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrUnauthorized     = fmt.Errorf("unauthorized")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrNetwork            = fmt.Errorf("network error")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrDeviceNotFound     = fmt.Errorf("device not found")

	// Telemetry errors
	ErrUnknownDevice = fmt.Errorf("device is not in the current device list")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
