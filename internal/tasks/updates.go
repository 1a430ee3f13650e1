package tasks

import (
	"fmt"

	"github.com/desertthunder/irrigo/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchDevices Phase = iota
	FetchHistory
	ExportHistory
)

func (p Phase) String() string {
	switch p {
	case FetchDevices:
		return "fetch_devices"
	case FetchHistory:
		return "fetch_history"
	case ExportHistory:
		return "export_history"
	default:
		return ""
	}
}

func fetchDevicesUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchDevices,
		Step:    1,
		Total:   1,
		Message: "Fetching devices...",
	}
}

func fetchHistoryUpdate(step, total int, d models.Device) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching history: %s...", step, total, d.Name),
	}
}

func exportCompletedUpdate(step, total int, res models.DeviceExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d readings, %d files)", step, total, res.DeviceName, res.Readings, len(res.Files)),
		Data:    res,
	}
}

func exportFailedUpdate(step, total int, res models.DeviceExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.DeviceName, res.Error),
		Data:    res,
	}
}
