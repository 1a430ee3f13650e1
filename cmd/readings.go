package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/desertthunder/irrigo/internal/tasks"
	"github.com/urfave/cli/v3"
)

const readingLayout = "2006-01-02 15:04:05"

func (r *Runner) writeReading(reading models.SensorReading) {
	rain := "Dry"
	if reading.Raining() {
		rain = "Rain"
	}
	r.writePlain("%s  moisture %5.1f%%  temp %5.1f°C  humidity %5.1f%%  %s\n",
		reading.Timestamp.Local().Format(readingLayout), reading.SoilMoisture, reading.Temperature, reading.Humidity, rain)
}

// ReadingsLatest prints the newest reading of a device.
func (r *Runner) ReadingsLatest(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	reading, err := r.svc.LatestReading(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch latest reading: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(reading, cmd.Bool("pretty"))
	}
	if reading == nil {
		return r.writePlain("No readings for device %s yet\n", id)
	}
	r.recordLocal(ctx, *reading)
	r.writeReading(*reading)
	return nil
}

// ReadingsHistory prints the readings of the last --days days.
func (r *Runner) ReadingsHistory(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	days := cmd.Int("days")
	if days <= 0 {
		return fmt.Errorf("%w: days must be positive", shared.ErrInvalidFlag)
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	readings, err := r.svc.ReadingHistory(ctx, id, days)
	if err != nil {
		return fmt.Errorf("failed to fetch reading history: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(readings, cmd.Bool("pretty"))
	}
	history := models.DeviceHistory{Readings: readings}
	r.writePlainHeader(fmt.Sprintf("Device %s: %d readings over %d days", id, len(readings), days))
	for _, reading := range readings {
		r.writeReading(reading)
	}
	if len(readings) > 0 {
		low, high, mean := history.MoistureRange()
		r.writePlainln("Soil moisture %.1f%% to %.1f%% (mean %.1f%%)", low, high, mean)
	}
	return nil
}

// ReadingsSubmit records a reading. Climate flags that are not set are left for the backend to fill from weather data.
func (r *Runner) ReadingsSubmit(ctx context.Context, cmd *cli.Command) error {
	input := models.ReadingInput{
		DeviceID:     models.ID(cmd.String("device")),
		SoilMoisture: cmd.Float("moisture"),
	}
	if input.SoilMoisture < 0 || input.SoilMoisture > 100 {
		return fmt.Errorf("%w: moisture must be between 0 and 100", shared.ErrInvalidFlag)
	}
	if cmd.IsSet("temperature") {
		v := cmd.Float("temperature")
		input.Temperature = &v
	}
	if cmd.IsSet("humidity") {
		v := cmd.Float("humidity")
		input.Humidity = &v
	}
	if cmd.IsSet("rain") {
		v := cmd.Int("rain")
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: rain must be 0 or 1", shared.ErrInvalidFlag)
		}
		input.RainSensor = &v
	}

	if err := r.requireSession(ctx); err != nil {
		return err
	}

	msg, err := r.svc.SubmitReading(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to submit reading: %w", err)
	}
	r.logger.Info("reading submitted", "device", input.DeviceID, "reading", msg.ReadingID)

	if cmd.Bool("json") {
		return r.writeJSON(msg, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ %s (id %s)\n", msg.Message, msg.ReadingID)
}

// ReadingsExport writes history files for the selected devices, printing progress as devices finish.
func (r *Runner) ReadingsExport(ctx context.Context, cmd *cli.Command) error {
	format := cmd.String("format")
	switch format {
	case "json", "csv", "markdown", "txt":
	default:
		return fmt.Errorf("%w: format must be json, csv, markdown or txt", shared.ErrInvalidFlag)
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	var ids []models.ID
	for _, id := range cmd.StringSlice("device") {
		ids = append(ids, models.ID(id))
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			r.logger.Info(update.Message, "phase", update.Phase)
		}
	}()

	engine := tasks.NewHistoryEngine(r.svc, r.logger)
	result, err := engine.Export(ctx, progressCh, ids, tasks.ExportOpts{
		Format:     format,
		OutputDir:  cmd.String("output"),
		Days:       cmd.Int("days"),
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
	})
	close(progressCh)
	<-done
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	r.writePlainHeader("Export complete")
	r.writePlain("Devices:   %d (%d exported, %d failed)\n", result.TotalDevices, result.SuccessfulExports, result.FailedExports)
	r.writePlain("Directory: %s\n", result.OutputDirectory)
	r.writePlain("Manifest:  %s\n", result.ManifestPath)
	for _, res := range result.Results {
		if !res.Success {
			r.writePlain("  ✗ %s: %v\n", res.DeviceName, res.Error)
		}
	}
	return nil
}

// ReadingsLocal prints readings cached in the local database.
func (r *Runner) ReadingsLocal(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if r.readings == nil {
		return fmt.Errorf("%w: local database not available, run 'irrigo setup'", shared.ErrServiceUnavailable)
	}

	criteria := map[string]any{"device_id": id, "limit": cmd.Int("limit")}
	if since := cmd.Duration("since"); since > 0 {
		criteria["since"] = time.Now().Add(-since)
	}

	readings, err := r.readings.List(ctx, criteria)
	if err != nil {
		return fmt.Errorf("failed to list local readings: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(readings, cmd.Bool("pretty"))
	}
	if len(readings) == 0 {
		return r.writePlain("No cached readings for device %s\n", id)
	}
	r.writePlainHeader(fmt.Sprintf("Device %s: %d cached readings", id, len(readings)))
	for _, reading := range readings {
		r.writeReading(reading)
	}
	return nil
}

// recordLocal caches reading in the local database when one is configured. Failures are only logged.
func (r *Runner) recordLocal(ctx context.Context, reading models.SensorReading) {
	if r.readings == nil {
		return
	}
	if _, err := r.readings.Record(ctx, reading); err != nil {
		r.logger.Warn("failed to cache reading", "device", reading.DeviceID, "error", err)
	}
}
