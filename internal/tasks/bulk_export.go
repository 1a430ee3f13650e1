package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/irrigo/internal/formatter"
	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
	"golang.org/x/time/rate"
)

// ExportOpts contains configuration for multi-device history exports.
type ExportOpts struct {
	Format     string  // Export format: json, csv, markdown, txt
	OutputDir  string  // Base output directory (default: irrigo_export_{epoch})
	Days       int     // History window in days (default: 7)
	LogLimit   int     // Max pump events per device (default: 100)
	NumWorkers int     // Concurrent workers (default: 4)
	RateLimit  float64 // Devices fetched per second (default: 5)
}

type exportJob struct {
	history *models.DeviceHistory
}

// Export writes the history of each device in ids, or of every device when ids is empty.
//
// Fetches are paced by a rate limiter and formatting runs on a worker pool.
// A device that cannot be fetched or written is recorded as failed without stopping the others.
func (e *HistoryEngine) Export(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	ids []models.ID,
	opts ExportOpts,
) (*models.ExportResult, error) {
	if e.src == nil {
		return nil, fmt.Errorf("%w: history source not initialized", shared.ErrServiceUnavailable)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("irrigo_export_%d", time.Now().Unix())
	}
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = 100
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	opts.NumWorkers = min(opts.NumWorkers, 10)
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	e.sendProgress(prog, fetchDevicesUpdate())
	devices, missing, err := e.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	total := len(devices) + len(missing)
	result := &models.ExportResult{
		TotalDevices:    total,
		OutputDirectory: opts.OutputDir,
		Results:         make([]models.DeviceExportResult, 0, total),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan exportJob, len(devices))
	results := make(chan models.DeviceExportResult, total)

	for _, id := range missing {
		results <- models.DeviceExportResult{
			DeviceID:   id,
			DeviceName: fmt.Sprintf("Unknown (%s)", id),
			Error:      fmt.Errorf("%w: %s", shared.ErrUnknownDevice, id),
		}
	}

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, d := range devices {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			e.sendProgress(prog, fetchHistoryUpdate(i+1, len(devices), d))
			history, err := e.fetch(ctx, d, opts)
			if err != nil {
				results <- models.DeviceExportResult{
					DeviceID:   d.ID,
					DeviceName: d.Name,
					Error:      fmt.Errorf("failed to fetch history: %w", err),
				}
				continue
			}
			jobs <- exportJob{history: history}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			e.sendProgress(prog, exportCompletedUpdate(completed, total, res))
		} else {
			result.FailedExports++
			e.logger.Warn("device export failed", "device", res.DeviceID, "error", res.Error)
			e.sendProgress(prog, exportFailedUpdate(completed, total, res))
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteExportManifest(result, opts.Format, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	return result, nil
}

// resolve returns the devices to export and any requested ids the backend does not know.
func (e *HistoryEngine) resolve(ctx context.Context, ids []models.ID) ([]models.Device, []models.ID, error) {
	all, err := e.src.Devices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(ids) == 0 {
		return all, nil, nil
	}

	var (
		devices []models.Device
		missing []models.ID
	)
	for _, id := range ids {
		i := slices.IndexFunc(all, func(d models.Device) bool { return d.ID == id })
		if i < 0 {
			missing = append(missing, id)
			continue
		}
		devices = append(devices, all[i])
	}
	return devices, missing, nil
}

func (e *HistoryEngine) fetch(ctx context.Context, d models.Device, opts ExportOpts) (*models.DeviceHistory, error) {
	readings, err := e.src.ReadingHistory(ctx, d.ID, opts.Days)
	if err != nil {
		return nil, err
	}
	logs, err := e.src.PumpLogs(ctx, d.ID, opts.Days, opts.LogLimit)
	if err != nil {
		return nil, err
	}
	return formatter.NewHistory(d, opts.Days, readings, logs), nil
}

// exportWorker is a worker goroutine that writes histories from the jobs channel.
func (e *HistoryEngine) exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan exportJob,
	results chan<- models.DeviceExportResult,
	opts ExportOpts,
) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results <- e.exportSingleDevice(job.history, opts)
	}
}

// exportSingleDevice writes one history in the requested format.
func (e *HistoryEngine) exportSingleDevice(h *models.DeviceHistory, opts ExportOpts) models.DeviceExportResult {
	result := models.DeviceExportResult{
		DeviceID:   h.Device.ID,
		DeviceName: h.Device.Name,
		Readings:   len(h.Readings),
		PumpEvents: len(h.PumpLogs),
	}
	base := filepath.Join(opts.OutputDir, "device_"+h.Device.ID.String())

	switch opts.Format {
	case "csv":
		csvRes, err := formatter.WriteCSVExport(h, base)
		if err != nil {
			result.Error = fmt.Errorf("CSV export failed: %w", err)
			return result
		}
		result.Files = []string{csvRes.ReadingsFile, csvRes.PumpLogsFile, csvRes.MetadataFile}

	case "markdown":
		mdRes, err := formatter.WriteMarkdownExport(h, base)
		if err != nil {
			result.Error = fmt.Errorf("markdown export failed: %w", err)
			return result
		}
		result.Files = mdRes.Files

	case "txt":
		path, err := formatter.WriteTextExport(h, base+"_history.txt")
		if err != nil {
			result.Error = fmt.Errorf("text export failed: %w", err)
			return result
		}
		result.Files = []string{path}

	case "json":
		fallthrough
	default:
		data, err := shared.MarshalJSON(h, true)
		if err != nil {
			result.Error = fmt.Errorf("JSON marshal failed: %w", err)
			return result
		}
		path := base + ".json"
		if err := os.WriteFile(path, data, 0644); err != nil {
			result.Error = fmt.Errorf("JSON write failed: %w", err)
			return result
		}
		result.Files = []string{path}
	}

	result.Success = true
	return result
}
