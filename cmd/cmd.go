// submodule cmd contains command definitions
package main

import (
	"context"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/urfave/cli/v3"
)

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
	}
}

func withOutputFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags, outputFlags()...)
}

func deviceArg() []cli.Argument {
	return []cli.Argument{&cli.StringArg{Name: "id"}}
}

// setupCommand writes the config file and initializes the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create config.toml and initialize the database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the stored session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in and store the session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Usage:    "Account email",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "password",
						Aliases:  []string{"p"},
						Usage:    "Account password",
						Sources:  cli.EnvVars("IRRIGO_PASSWORD"),
						Required: true,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "signup",
				Usage: "Register a new account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "Display name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Usage:    "Account email",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "password",
						Aliases:  []string{"p"},
						Usage:    "Account password",
						Sources:  cli.EnvVars("IRRIGO_PASSWORD"),
						Required: true,
					},
				},
				Action: r.AuthSignup,
			},
			{
				Name:   "logout",
				Usage:  "Discard the stored session",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Show the stored session",
				Flags: withOutputFlags(
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Check the credential against the backend",
					},
				),
				Action: r.AuthStatus,
			},
		},
	}
}

// devicesCommand handles device management
func devicesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "devices",
		Aliases: []string{"device", "dev"},
		Usage:   "Manage field devices",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List your devices",
				Flags:  outputFlags(),
				Action: r.DevicesList,
			},
			{
				Name:      "show",
				Usage:     "Show one device",
				Arguments: deviceArg(),
				Flags:     outputFlags(),
				Action:    r.DevicesShow,
			},
			{
				Name:  "add",
				Usage: "Register a device",
				Flags: withOutputFlags(
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Device name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "location",
						Usage: "Field location",
					},
					&cli.StringFlag{
						Name:  "crop",
						Usage: "Crop type",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "Soil moisture threshold in percent",
						Value: 30,
					},
				),
				Action: r.DevicesAdd,
			},
			{
				Name:      "update",
				Usage:     "Change device settings",
				Arguments: deviceArg(),
				Flags: withOutputFlags(
					&cli.StringFlag{
						Name:  "name",
						Usage: "Device name",
					},
					&cli.StringFlag{
						Name:  "location",
						Usage: "Field location",
					},
					&cli.StringFlag{
						Name:  "crop",
						Usage: "Crop type",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "Soil moisture threshold in percent",
					},
					&cli.BoolFlag{
						Name:  "active",
						Usage: "Activate (--active) or deactivate (--active=false) the device",
					},
				),
				Action: r.DevicesUpdate,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a device",
				Arguments: deviceArg(),
				Action:    r.DevicesDelete,
			},
		},
	}
}

// readingsCommand handles sensor readings
func readingsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "readings",
		Aliases: []string{"reading"},
		Usage:   "Sensor readings",
		Commands: []*cli.Command{
			{
				Name:      "latest",
				Usage:     "Show the newest reading for a device",
				Arguments: deviceArg(),
				Flags:     outputFlags(),
				Action:    r.ReadingsLatest,
			},
			{
				Name:      "history",
				Usage:     "List readings over the last days",
				Arguments: deviceArg(),
				Flags: withOutputFlags(
					&cli.IntFlag{
						Name:  "days",
						Usage: "History window in days",
						Value: 7,
					},
				),
				Action: r.ReadingsHistory,
			},
			{
				Name:  "submit",
				Usage: "Submit a reading; missing climate values are filled from weather data",
				Flags: withOutputFlags(
					&cli.StringFlag{
						Name:     "device",
						Usage:    "Device id",
						Required: true,
					},
					&cli.FloatFlag{
						Name:     "moisture",
						Usage:    "Soil moisture in percent",
						Required: true,
					},
					&cli.FloatFlag{
						Name:  "temperature",
						Usage: "Temperature in °C",
					},
					&cli.FloatFlag{
						Name:  "humidity",
						Usage: "Relative humidity in percent",
					},
					&cli.IntFlag{
						Name:  "rain",
						Usage: "Rain sensor (1 = rain, 0 = dry)",
					},
				),
				Action: r.ReadingsSubmit,
			},
			{
				Name:  "export",
				Usage: "Export reading history and pump events for one or more devices",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "device",
						Aliases: []string{"d"},
						Usage:   "Device id to export (repeatable, default: all devices)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: json, csv, markdown, txt",
						Value:   "json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory (default: irrigo_export_{timestamp})",
					},
					&cli.IntFlag{
						Name:  "days",
						Usage: "History window in days",
						Value: 7,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent export workers",
						Value: 4,
					},
					&cli.FloatFlag{
						Name:  "rate",
						Usage: "Devices fetched per second",
						Value: 5,
					},
				},
				Action: r.ReadingsExport,
			},
			{
				Name:      "local",
				Usage:     "List readings cached locally by 'irrigo watch' and the dashboard",
				Arguments: deviceArg(),
				Flags: withOutputFlags(
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of readings",
						Value: 20,
					},
					&cli.DurationFlag{
						Name:  "since",
						Usage: "Only readings newer than this (e.g. 24h)",
					},
				),
				Action: r.ReadingsLocal,
			},
		},
	}
}

// pumpCommand handles pump control
func pumpCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "pump",
		Usage: "Pump status and control",
		Commands: []*cli.Command{
			{
				Name:      "on",
				Usage:     "Turn a pump on",
				Arguments: deviceArg(),
				Flags:     outputFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.PumpControl(ctx, cmd, models.PumpOn)
				},
			},
			{
				Name:      "off",
				Usage:     "Turn a pump off",
				Arguments: deviceArg(),
				Flags:     outputFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.PumpControl(ctx, cmd, models.PumpOff)
				},
			},
			{
				Name:      "auto",
				Usage:     "Let the backend decide from the latest reading and weather",
				Arguments: deviceArg(),
				Flags:     outputFlags(),
				Action:    r.PumpAuto,
			},
			{
				Name:      "status",
				Usage:     "Show the pump state",
				Arguments: deviceArg(),
				Flags:     outputFlags(),
				Action:    r.PumpStatus,
			},
			{
				Name:      "logs",
				Usage:     "List pump events",
				Arguments: deviceArg(),
				Flags: withOutputFlags(
					&cli.IntFlag{
						Name:  "days",
						Usage: "History window in days",
						Value: 7,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of events",
						Value: 50,
					},
				),
				Action: r.PumpLogs,
			},
		},
	}
}

func locationFlags() []cli.Flag {
	return withOutputFlags(
		&cli.StringFlag{
			Name:  "city",
			Usage: "City name",
		},
		&cli.FloatFlag{
			Name:  "lat",
			Usage: "Latitude",
		},
		&cli.FloatFlag{
			Name:  "lon",
			Usage: "Longitude",
		},
	)
}

// weatherCommand handles weather lookups
func weatherCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "weather",
		Usage: "Weather for a city or coordinates",
		Commands: []*cli.Command{
			{
				Name:   "current",
				Usage:  "Current conditions",
				Flags:  locationFlags(),
				Action: r.WeatherCurrent,
			},
			{
				Name:   "forecast",
				Usage:  "Upcoming forecast",
				Flags:  locationFlags(),
				Action: r.WeatherForecast,
			},
		},
	}
}

// predictCommand asks the irrigation model for a recommendation
func predictCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Ask the irrigation model whether to water",
		Flags: withOutputFlags(
			&cli.FloatFlag{
				Name:     "moisture",
				Usage:    "Soil moisture in percent",
				Required: true,
			},
			&cli.FloatFlag{
				Name:     "temperature",
				Usage:    "Temperature in °C",
				Required: true,
			},
			&cli.FloatFlag{
				Name:     "humidity",
				Usage:    "Relative humidity in percent",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "rain",
				Usage: "Rain sensor (1 = rain, 0 = dry)",
			},
			&cli.FloatFlag{
				Name:  "rain-probability",
				Usage: "Forecast rain probability in percent",
			},
		),
		Action: r.Predict,
	}
}

// watchCommand streams live telemetry for one device
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Print live readings and pump status for a device",
		Arguments: deviceArg(),
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Refresh interval (default: dashboard.refresh_interval_seconds)",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Stop after this many updates (0 = until interrupted)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print each update as a JSON line",
			},
		},
		Action: r.Watch,
	}
}

// dashboardCommand returns the top-level command for the interactive dashboard.
func dashboardCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "dashboard",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive dashboard",
		Action:  r.Dashboard,
	}
}
