package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/telemetry"
	"github.com/urfave/cli/v3"
)

// PumpControl switches a device's pump on or off.
func (r *Runner) PumpControl(ctx context.Context, cmd *cli.Command, state models.PumpState) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	res, err := r.svc.ControlPump(ctx, id, state)
	if err != nil {
		return fmt.Errorf("%s: %w", telemetry.MsgControlFailed, err)
	}
	r.logger.Info("pump switched", "device", id, "status", res.Status)

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ Pump turned %s\n", state)
}

// PumpAuto asks the backend to decide the pump state from the latest reading and weather.
func (r *Runner) PumpAuto(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	res, err := r.svc.AutoControl(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", telemetry.MsgAutoControlFailed, err)
	}
	r.logger.Info("auto control", "device", id, "status", res.Status)

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}

	msg := res.Message
	if msg == "" {
		msg = telemetry.MsgAutoControlDone
	}
	r.writePlain("✓ %s\n", msg)
	if res.Status != "" {
		r.writePlain("Pump:       %s\n", res.Status)
	}
	if p := res.Prediction; p != nil {
		r.writePlain("Prediction: %s (%.0f%% confidence)\n", p.Recommendation, p.Confidence*100)
		if p.Reason != "" {
			r.writePlain("Reason:     %s\n", p.Reason)
		}
	}
	if w := res.Weather; w != nil {
		r.writePlain("Rain:       %.0f%% chance\n", w.RainProbability)
	}
	return nil
}

// PumpStatus prints the pump state of a device.
func (r *Runner) PumpStatus(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	status, err := r.svc.PumpStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch pump status: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}
	r.writePlain("Pump %s (%s)\n", pumpLabel(status.Status), status.Mode)
	if !status.LastUpdated.IsZero() {
		r.writePlain("Last updated %s\n", status.LastUpdated.Local().Format(readingLayout))
	}
	return nil
}

// PumpLogs prints recent pump events, newest first.
func (r *Runner) PumpLogs(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	logs, err := r.svc.PumpLogs(ctx, id, cmd.Int("days"), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to fetch pump logs: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(logs, cmd.Bool("pretty"))
	}
	if len(logs) == 0 {
		return r.writePlain("No pump events in the last %d days\n", cmd.Int("days"))
	}
	r.writePlainHeader(fmt.Sprintf("Pump events for device %s (%d)", id, len(logs)))
	for _, l := range logs {
		r.writePlain("%s  %-3s  %s\n", l.Timestamp.Local().Format(readingLayout), pumpLabel(l.PumpStatus), l.Reason)
	}
	return nil
}

func pumpLabel(s models.PumpState) string {
	if s == models.PumpOn {
		return "ON"
	}
	return "OFF"
}
