package tasks

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
)

// HistorySource is the subset of backend calls needed to export device history.
type HistorySource interface {
	Devices(ctx context.Context) ([]models.Device, error)
	ReadingHistory(ctx context.Context, id models.ID, days int) ([]models.SensorReading, error)
	PumpLogs(ctx context.Context, id models.ID, days, limit int) ([]models.PumpLog, error)
}

// HistoryEngine exports device histories from a [HistorySource].
type HistoryEngine struct {
	src    HistorySource
	logger *log.Logger
}

// NewHistoryEngine creates a new HistoryEngine. A nil logger discards output.
func NewHistoryEngine(src HistorySource, logger *log.Logger) *HistoryEngine {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &HistoryEngine{src: src, logger: logger}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *HistoryEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
