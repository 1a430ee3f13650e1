package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/session"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/desertthunder/irrigo/internal/telemetry"
	"github.com/urfave/cli/v3"
)

// telemetryOptions builds controller options from the dashboard config.
func (r *Runner) telemetryOptions() telemetry.Options {
	cfg := r.config.Dashboard
	return telemetry.Options{
		Interval:        cfg.RefreshInterval(),
		AutoRefresh:     cfg.AutoRefresh,
		BreakerFailures: uint32(max(cfg.BreakerFailures, 0)),
		BreakerTimeout:  cfg.BreakerTimeout(),
		Logger:          shared.WithLogger(r.logger, "component", "telemetry"),
		OnReading: func(reading models.SensorReading) {
			r.recordLocal(context.Background(), reading)
		},
	}
}

type watchLine struct {
	Device    models.ID             `json:"device_id"`
	Reading   *models.SensorReading `json:"reading,omitempty"`
	Status    *models.PumpStatus    `json:"status,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Watch polls one device and prints each refreshed reading until interrupted, logged out, or --count updates have printed.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	devices, err := r.svc.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no devices registered", shared.ErrDeviceNotFound)
	}

	opts := r.telemetryOptions()
	opts.AutoRefresh = true
	if interval := cmd.Duration("interval"); interval > 0 {
		opts.Interval = interval
	}
	tel := telemetry.NewController(r.svc, opts)
	defer tel.Close()

	snapshots, stopSnapshots := tel.Subscribe()
	defer stopSnapshots()
	changes, stopChanges := r.session.Subscribe()
	defer stopChanges()

	target := devices[0].ID
	if id := cmd.StringArg("id"); id != "" {
		target = models.ID(id)
	}
	tel.SetDevices(devices)
	if err := tel.Select(target); err != nil {
		return err
	}

	r.logger.Info("watching device", "device", target, "interval", opts.Interval)
	if !cmd.Bool("json") {
		r.writePlainHeader(fmt.Sprintf("Watching device %s every %s (Ctrl+C to stop)", target, opts.Interval))
	}

	count := cmd.Int("count")
	var (
		printed int
		last    time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if change.State == session.Anonymous {
				return fmt.Errorf("%w: %s", shared.ErrNotAuthenticated, r.lastNotice(session.MsgSessionExpired))
			}
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if snap.SelectedID != target || snap.UpdatedAt.IsZero() || snap.UpdatedAt.Equal(last) {
				continue
			}
			last = snap.UpdatedAt

			if err := r.writeWatch(snap, cmd.Bool("json")); err != nil {
				return err
			}
			printed++
			if count > 0 && printed >= count {
				return nil
			}
		}
	}
}

func (r *Runner) writeWatch(snap telemetry.Snapshot, asJSON bool) error {
	if asJSON {
		return r.writeJSON(watchLine{
			Device:    snap.SelectedID,
			Reading:   snap.Reading,
			Status:    snap.Status,
			UpdatedAt: snap.UpdatedAt,
		}, false)
	}

	line := snap.UpdatedAt.Local().Format("15:04:05") + "  "
	if reading := snap.Reading; reading != nil {
		line += fmt.Sprintf("moisture %5.1f%%  temp %5.1f°C  humidity %5.1f%%", reading.SoilMoisture, reading.Temperature, reading.Humidity)
		if snap.Selected != nil && reading.SoilMoisture < snap.Selected.MoistureThreshold {
			line += " (dry)"
		}
	} else {
		line += "no data"
	}
	if status := snap.Status; status != nil {
		line += fmt.Sprintf("  pump %s (%s)", pumpLabel(status.Status), status.Mode)
	}
	return r.writePlain("%s\n", line)
}
