package main

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/desertthunder/irrigo/internal/telemetry"
	"github.com/desertthunder/irrigo/internal/ui"
	"github.com/urfave/cli/v3"
)

// Dashboard runs the interactive dashboard. Logs go to the configured file, or nowhere, while it runs.
func (r *Runner) Dashboard(ctx context.Context, cmd *cli.Command) error {
	logger := shared.NewLogger(io.Discard)
	if path := r.config.Log.File; path != "" {
		fileLogger, err := shared.NewFileLogger(path)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		logger = fileLogger
	}
	logger.SetLevel(r.logger.GetLevel())
	r.SetLogger(logger)

	opts := r.telemetryOptions()
	opts.Notices = r.notices
	tel := telemetry.NewController(r.svc, opts)
	defer tel.Close()

	model := ui.NewModel(ctx, ui.Deps{
		Session:   r.session,
		Telemetry: tel,
		Devices:   r.svc,
		Notices:   r.notices,
	})
	defer model.Close()

	r.logger.Info("starting dashboard", "backend", r.config.API.BaseURL)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
