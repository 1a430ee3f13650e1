package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/urfave/cli/v3"
)

// deviceID reads the device id argument.
func deviceID(cmd *cli.Command) (models.ID, error) {
	id := cmd.StringArg("id")
	if id == "" {
		return "", fmt.Errorf("%w: device id", shared.ErrMissingArgument)
	}
	return models.ID(id), nil
}

func (r *Runner) writeDevice(d models.Device) {
	state := "active"
	if !d.IsActive {
		state = "inactive"
	}
	r.writePlain("%s  %s (%s)\n", d.ID, d.Name, state)
	if d.Location != "" {
		r.writePlain("    Location:  %s\n", d.Location)
	}
	if d.CropType != "" {
		r.writePlain("    Crop:      %s\n", d.CropType)
	}
	r.writePlain("    Threshold: %.1f%%\n", d.MoistureThreshold)
}

// DevicesList prints the user's devices.
func (r *Runner) DevicesList(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	devices, err := r.svc.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	r.logger.Debug("fetched devices", "count", len(devices))

	if cmd.Bool("json") {
		return r.writeJSON(devices, cmd.Bool("pretty"))
	}

	if len(devices) == 0 {
		return r.writePlain("No devices registered. Add one with 'irrigo devices add --name <name>'.\n")
	}
	r.writePlainHeader(fmt.Sprintf("Devices (%d)", len(devices)))
	for _, d := range devices {
		r.writeDevice(d)
	}
	return nil
}

// DevicesShow prints one device.
func (r *Runner) DevicesShow(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	device, err := r.svc.Device(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch device: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(device, cmd.Bool("pretty"))
	}
	r.writeDevice(*device)
	return nil
}

// DevicesAdd registers a device.
func (r *Runner) DevicesAdd(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	input := models.DeviceInput{
		Name:              cmd.String("name"),
		Location:          cmd.String("location"),
		CropType:          cmd.String("crop"),
		MoistureThreshold: cmd.Float("threshold"),
	}
	if input.MoistureThreshold < 0 || input.MoistureThreshold > 100 {
		return fmt.Errorf("%w: threshold must be between 0 and 100", shared.ErrInvalidFlag)
	}

	msg, err := r.svc.CreateDevice(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	r.logger.Info("device created", "id", msg.DeviceID, "name", input.Name)

	if cmd.Bool("json") {
		return r.writeJSON(msg, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ %s (id %s)\n", msg.Message, msg.DeviceID)
}

// DevicesUpdate changes the settings given as flags; other settings are left as they are.
func (r *Runner) DevicesUpdate(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}

	var update models.DeviceUpdate
	if cmd.IsSet("name") {
		v := cmd.String("name")
		update.Name = &v
	}
	if cmd.IsSet("location") {
		v := cmd.String("location")
		update.Location = &v
	}
	if cmd.IsSet("crop") {
		v := cmd.String("crop")
		update.CropType = &v
	}
	if cmd.IsSet("threshold") {
		v := cmd.Float("threshold")
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: threshold must be between 0 and 100", shared.ErrInvalidFlag)
		}
		update.MoistureThreshold = &v
	}
	if cmd.IsSet("active") {
		v := cmd.Bool("active")
		update.IsActive = &v
	}
	if update.Empty() {
		return fmt.Errorf("%w: nothing to update", shared.ErrMissingArgument)
	}

	if err := r.requireSession(ctx); err != nil {
		return err
	}

	msg, err := r.svc.UpdateDevice(ctx, id, update)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	r.logger.Info("device updated", "id", id)

	if cmd.Bool("json") {
		return r.writeJSON(msg, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ %s\n", msg.Message)
}

// DevicesDelete removes a device.
func (r *Runner) DevicesDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := deviceID(cmd)
	if err != nil {
		return err
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	msg, err := r.svc.DeleteDevice(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	r.logger.Info("device deleted", "id", id)
	return r.writePlain("✓ %s\n", msg.Message)
}
