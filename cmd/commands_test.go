package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/session"
	"github.com/desertthunder/irrigo/internal/shared"
	tu "github.com/desertthunder/irrigo/internal/testing"
	"github.com/urfave/cli/v3"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

type cliFixture struct {
	backend *tu.FakeBackend
	runner  *Runner
	output  *bytes.Buffer
}

func newCLIFixture(t *testing.T, db *sql.DB) *cliFixture {
	t.Helper()

	backend := tu.NewFakeBackend(t)
	backend.AddUser("bob@example.com", "secret", "t1", models.UserProfile{ID: "9", Username: "bob"})
	backend.SetDevices(
		models.Device{ID: "1", Name: "North", Location: "Pune", CropType: "rice", MoistureThreshold: 40, IsActive: true},
		models.Device{ID: "2", Name: "South", MoistureThreshold: 30, IsActive: true},
	)

	config := shared.DefaultConfig()
	config.API.BaseURL = backend.URL()

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config: config,
		DB:     db,
		Logger: shared.NewLogger(io.Discard),
		Output: output,
	})
	return &cliFixture{backend: backend, runner: runner, output: output}
}

// run executes args against a fresh command tree and returns what was written.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	f.output.Reset()
	app := &cli.Command{
		Name:      "irrigo",
		Writer:    io.Discard,
		ErrWriter: io.Discard,
		Commands:  f.runner.register(),
	}
	err := app.Run(context.Background(), append([]string{"irrigo"}, args...))
	return f.output.String(), err
}

func (f *cliFixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()

	out, err := f.run(t, args...)
	if err != nil {
		t.Fatalf("irrigo %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func (f *cliFixture) login(t *testing.T) {
	t.Helper()
	f.mustRun(t, "auth", "login", "--email", "bob@example.com", "--password", "secret")
}

func TestAuthCommands(t *testing.T) {
	t.Run("login", func(t *testing.T) {
		f := newCLIFixture(t, nil)

		out := f.mustRun(t, "auth", "login", "--email", "bob@example.com", "--password", "secret")
		if !strings.Contains(out, session.MsgLoginSucceeded) {
			t.Errorf("expected success message, got %q", out)
		}
		if !strings.Contains(out, "bob <bob@example.com>") {
			t.Errorf("expected profile, got %q", out)
		}
		if f.runner.session.State() != session.Authenticated {
			t.Errorf("expected authenticated, got %v", f.runner.session.State())
		}
	})

	t.Run("login with wrong password", func(t *testing.T) {
		f := newCLIFixture(t, nil)

		_, err := f.run(t, "auth", "login", "--email", "bob@example.com", "--password", "nope")
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
		if !strings.Contains(err.Error(), "Incorrect email or password") {
			t.Errorf("expected backend detail in error, got %v", err)
		}
	})

	t.Run("signup then login", func(t *testing.T) {
		f := newCLIFixture(t, nil)

		out := f.mustRun(t, "auth", "signup", "--username", "alice", "--email", "alice@example.com", "--password", "pw")
		if !strings.Contains(out, session.MsgSignupSucceeded) {
			t.Errorf("expected signup message, got %q", out)
		}
		if f.runner.session.State() == session.Authenticated {
			t.Error("signup must not log in")
		}

		_, err := f.run(t, "auth", "signup", "--username", "alice", "--email", "alice@example.com", "--password", "pw")
		if !errors.Is(err, shared.ErrAPIRequest) || !strings.Contains(err.Error(), "Email already registered") {
			t.Errorf("expected duplicate registration error, got %v", err)
		}

		f.mustRun(t, "auth", "login", "--email", "alice@example.com", "--password", "pw")
		if f.runner.session.Session().Profile.Username != "alice" {
			t.Errorf("expected alice, got %+v", f.runner.session.Session().Profile)
		}
	})

	t.Run("status", func(t *testing.T) {
		f := newCLIFixture(t, nil)

		out := f.mustRun(t, "auth", "status")
		if !strings.Contains(out, "Not logged in") {
			t.Errorf("expected anonymous status, got %q", out)
		}

		f.login(t)
		out = f.mustRun(t, "auth", "status", "--json", "--pretty=false")
		var status authStatus
		if err := json.Unmarshal([]byte(out), &status); err != nil {
			t.Fatalf("invalid status JSON %q: %v", out, err)
		}
		if status.State != "authenticated" || status.Username != "bob" || status.Backend != f.backend.URL() {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("status --verify ends a rejected session", func(t *testing.T) {
		f := newCLIFixture(t, nil)
		f.login(t)
		f.backend.Expire()

		out := f.mustRun(t, "auth", "status", "--verify")
		if !strings.Contains(out, session.MsgSessionExpired) {
			t.Errorf("expected expiry message, got %q", out)
		}
		if f.runner.session.State() != session.Anonymous {
			t.Errorf("expected anonymous after 401, got %v", f.runner.session.State())
		}
	})

	t.Run("logout", func(t *testing.T) {
		f := newCLIFixture(t, nil)

		if out := f.mustRun(t, "auth", "logout"); !strings.Contains(out, "Not logged in") {
			t.Errorf("expected not logged in, got %q", out)
		}

		f.login(t)
		if out := f.mustRun(t, "auth", "logout"); !strings.Contains(out, session.MsgLoggedOut) {
			t.Errorf("expected logout message, got %q", out)
		}
		if _, err := f.run(t, "devices", "list"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated after logout, got %v", err)
		}
	})

	t.Run("session persists in the database", func(t *testing.T) {
		db := newTestDB(t)
		f := newCLIFixture(t, db)
		f.login(t)

		next := NewRunner(RunnerOpts{
			Config: f.runner.config,
			DB:     db,
			Logger: shared.NewLogger(io.Discard),
			Output: f.output,
		})
		f.runner = next

		out := f.mustRun(t, "devices", "list")
		if !strings.Contains(out, "North") {
			t.Errorf("expected restored session to list devices, got %q", out)
		}
	})
}

func TestDeviceCommands(t *testing.T) {
	f := newCLIFixture(t, nil)

	t.Run("requires login", func(t *testing.T) {
		if _, err := f.run(t, "devices", "list"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	f.login(t)

	t.Run("list", func(t *testing.T) {
		out := f.mustRun(t, "devices", "list")
		for _, want := range []string{"Devices (2)", "1  North (active)", "Location:  Pune", "Threshold: 40.0%", "2  South"} {
			if !strings.Contains(out, want) {
				t.Errorf("list missing %q in %q", want, out)
			}
		}
	})

	t.Run("show as JSON", func(t *testing.T) {
		out := f.mustRun(t, "devices", "show", "--json", "1")
		var device models.Device
		if err := json.Unmarshal([]byte(out), &device); err != nil {
			t.Fatalf("invalid device JSON: %v", err)
		}
		if device.Name != "North" || device.CropType != "rice" {
			t.Errorf("unexpected device %+v", device)
		}
	})

	t.Run("show without id", func(t *testing.T) {
		if _, err := f.run(t, "devices", "show"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("add", func(t *testing.T) {
		out := f.mustRun(t, "devices", "add", "--name", "East", "--crop", "wheat", "--threshold", "35")
		if !strings.Contains(out, "Device created successfully") {
			t.Errorf("expected created message, got %q", out)
		}

		if _, err := f.run(t, "devices", "add", "--name", "Bad", "--threshold", "150"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		if _, err := f.run(t, "devices", "update", "1"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument for empty update, got %v", err)
		}

		out := f.mustRun(t, "devices", "update", "--threshold", "50", "1")
		if !strings.Contains(out, "Device updated successfully") {
			t.Errorf("expected updated message, got %q", out)
		}
		if out := f.mustRun(t, "devices", "show", "1"); !strings.Contains(out, "Threshold: 50.0%") {
			t.Errorf("expected new threshold, got %q", out)
		}
	})

	t.Run("delete", func(t *testing.T) {
		out := f.mustRun(t, "devices", "rm", "2")
		if !strings.Contains(out, "Device deleted successfully") {
			t.Errorf("expected deleted message, got %q", out)
		}
		if _, err := f.run(t, "devices", "show", "2"); err == nil {
			t.Error("expected deleted device to be gone")
		}
	})
}

func TestReadingCommands(t *testing.T) {
	f := newCLIFixture(t, newTestDB(t))
	f.login(t)

	t.Run("latest without readings", func(t *testing.T) {
		out := f.mustRun(t, "readings", "latest", "1")
		if !strings.Contains(out, "No readings for device 1") {
			t.Errorf("expected empty message, got %q", out)
		}
	})

	t.Run("submit", func(t *testing.T) {
		out := f.mustRun(t, "readings", "submit", "--device", "1", "--moisture", "32.5", "--rain", "1")
		if !strings.Contains(out, "Sensor reading recorded successfully") {
			t.Errorf("expected recorded message, got %q", out)
		}

		if _, err := f.run(t, "readings", "submit", "--device", "1", "--moisture", "120"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag for moisture, got %v", err)
		}
		if _, err := f.run(t, "readings", "submit", "--device", "1", "--moisture", "20", "--rain", "3"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag for rain, got %v", err)
		}
		if _, err := f.run(t, "readings", "submit", "--device", "99", "--moisture", "20"); err == nil ||
			!strings.Contains(err.Error(), "Device not found") {
			t.Errorf("expected unknown device error, got %v", err)
		}
	})

	t.Run("latest", func(t *testing.T) {
		out := f.mustRun(t, "readings", "latest", "1")
		for _, want := range []string{"moisture  32.5%", "temp  25.0°C", "humidity  60.0%", "Rain"} {
			if !strings.Contains(out, want) {
				t.Errorf("latest missing %q in %q", want, out)
			}
		}
	})

	t.Run("history", func(t *testing.T) {
		f.mustRun(t, "readings", "submit", "--device", "1", "--moisture", "44.5")

		out := f.mustRun(t, "readings", "history", "--days", "3", "1")
		if !strings.Contains(out, "Device 1: 2 readings over 3 days") {
			t.Errorf("expected history header, got %q", out)
		}
		if !strings.Contains(out, "Soil moisture 32.5% to 44.5% (mean 38.5%)") {
			t.Errorf("expected moisture range, got %q", out)
		}

		if _, err := f.run(t, "readings", "history", "--days", "0", "1"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})

	t.Run("local cache", func(t *testing.T) {
		out := f.mustRun(t, "readings", "local", "--json", "1")
		var cached []models.SensorReading
		if err := json.Unmarshal([]byte(out), &cached); err != nil {
			t.Fatalf("invalid local JSON %q: %v", out, err)
		}
		if len(cached) != 1 || cached[0].SoilMoisture != 32.5 {
			t.Errorf("expected the reading fetched by latest to be cached, got %+v", cached)
		}

		if out := f.mustRun(t, "readings", "local", "2"); !strings.Contains(out, "No cached readings") {
			t.Errorf("expected empty cache message, got %q", out)
		}
	})

	t.Run("local without database", func(t *testing.T) {
		g := newCLIFixture(t, nil)
		if _, err := g.run(t, "readings", "local", "1"); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("export", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "export")

		out := f.mustRun(t, "readings", "export", "--device", "1", "--device", "42", "--format", "csv", "--output", dir, "--rate", "100")
		if !strings.Contains(out, "Devices:   2 (1 exported, 1 failed)") {
			t.Errorf("expected export summary, got %q", out)
		}
		if !strings.Contains(out, "✗ Unknown (42)") {
			t.Errorf("expected failure line, got %q", out)
		}
		tu.AssertFileExists(t, filepath.Join(dir, "device_1_readings.csv"))
		tu.AssertFileExists(t, filepath.Join(dir, "export_manifest.json"))

		if _, err := f.run(t, "readings", "export", "--format", "xml"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestPumpCommands(t *testing.T) {
	f := newCLIFixture(t, nil)
	f.login(t)

	t.Run("on and off", func(t *testing.T) {
		out := f.mustRun(t, "pump", "on", "1")
		if !strings.Contains(out, "Pump turned on") {
			t.Errorf("expected on message, got %q", out)
		}
		if got := f.backend.Pump("1"); got.Status != models.PumpOn || got.Mode != models.ModeManual {
			t.Errorf("expected manual on, got %+v", got)
		}

		f.mustRun(t, "pump", "off", "1")
		if got := f.backend.Pump("1").Status; got != models.PumpOff {
			t.Errorf("expected off, got %s", got)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := f.run(t, "pump", "on", "99")
		if err == nil || !strings.Contains(err.Error(), "Failed to control pump") {
			t.Errorf("expected control failure, got %v", err)
		}
	})

	t.Run("auto", func(t *testing.T) {
		if _, err := f.run(t, "pump", "auto", "2"); err == nil || !strings.Contains(err.Error(), "Failed to execute auto control") {
			t.Errorf("expected auto control failure without readings, got %v", err)
		}

		f.backend.AddReading(models.SensorReading{DeviceID: "2", SoilMoisture: 20})
		out := f.mustRun(t, "pump", "auto", "2")
		for _, want := range []string{"Pump turned on based on ML prediction", "Prediction: Irrigation needed (90% confidence)", "Rain:       10% chance"} {
			if !strings.Contains(out, want) {
				t.Errorf("auto output missing %q in %q", want, out)
			}
		}
		if got := f.backend.Pump("2"); got.Mode != models.ModeAuto {
			t.Errorf("expected auto mode, got %+v", got)
		}
	})

	t.Run("status", func(t *testing.T) {
		out := f.mustRun(t, "pump", "status", "2")
		if !strings.Contains(out, "Pump ON (auto)") {
			t.Errorf("expected status line, got %q", out)
		}
	})

	t.Run("logs", func(t *testing.T) {
		out := f.mustRun(t, "pump", "logs", "1")
		if !strings.Contains(out, "Pump events for device 1 (2)") {
			t.Errorf("expected two events, got %q", out)
		}
		if first := strings.Index(out, "OFF"); first < 0 || first > strings.Index(out, "ON ") {
			t.Errorf("expected newest event first, got %q", out)
		}

		out = f.mustRun(t, "pump", "logs", "--limit", "1", "--json", "1")
		var logs []models.PumpLog
		if err := json.Unmarshal([]byte(out), &logs); err != nil {
			t.Fatalf("invalid logs JSON: %v", err)
		}
		if len(logs) != 1 || logs[0].PumpStatus != models.PumpOff {
			t.Errorf("unexpected logs %+v", logs)
		}
	})
}

func TestWeatherCommands(t *testing.T) {
	f := newCLIFixture(t, nil)
	f.login(t)

	t.Run("current by city", func(t *testing.T) {
		out := f.mustRun(t, "weather", "current", "--city", "Pune")
		for _, want := range []string{"Weather in Pune", "scattered clouds", "Temperature: 28.5°C", "Feels like:  30.1°C"} {
			if !strings.Contains(out, want) {
				t.Errorf("weather missing %q in %q", want, out)
			}
		}
	})

	t.Run("current by coordinates", func(t *testing.T) {
		out := f.mustRun(t, "weather", "current", "--lat", "18.5", "--lon", "73.8")
		if !strings.Contains(out, "Weather in 18.5,73.8") {
			t.Errorf("expected coordinates as location, got %q", out)
		}
	})

	t.Run("current without location", func(t *testing.T) {
		if _, err := f.run(t, "weather", "current"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("forecast", func(t *testing.T) {
		out := f.mustRun(t, "weather", "forecast", "--city", "Pune", "--json")
		var forecast []models.Forecast
		if err := json.Unmarshal([]byte(out), &forecast); err != nil {
			t.Fatalf("invalid forecast JSON: %v", err)
		}
		if len(forecast) != 3 {
			t.Errorf("expected 3 intervals, got %d", len(forecast))
		}
	})

	t.Run("predict", func(t *testing.T) {
		out := f.mustRun(t, "predict", "--moisture", "25", "--temperature", "30", "--humidity", "50")
		if !strings.Contains(out, "Irrigation recommended (87% confidence)") {
			t.Errorf("expected recommendation, got %q", out)
		}

		out = f.mustRun(t, "predict", "--moisture", "25", "--temperature", "30", "--humidity", "50", "--rain", "1")
		if !strings.Contains(out, "No irrigation needed") {
			t.Errorf("expected no irrigation when raining, got %q", out)
		}

		if _, err := f.run(t, "predict", "--moisture", "25", "--temperature", "30", "--humidity", "50", "--rain", "2"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestWatch(t *testing.T) {
	f := newCLIFixture(t, newTestDB(t))
	f.backend.AddReading(models.SensorReading{DeviceID: "2", SoilMoisture: 21.5})
	f.backend.SetPump("2", models.PumpOn, models.ModeManual)
	f.login(t)

	t.Run("prints one update as JSON", func(t *testing.T) {
		out := f.mustRun(t, "watch", "--count", "1", "--json", "2")

		var line watchLine
		if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
			t.Fatalf("invalid watch line %q: %v", out, err)
		}
		if line.Device != "2" || line.Reading == nil || line.Reading.SoilMoisture != 21.5 {
			t.Errorf("unexpected watch line %+v", line)
		}
		if line.Status == nil || line.Status.Status != models.PumpOn {
			t.Errorf("expected pump status, got %+v", line.Status)
		}

		tu.Eventually(t, 2*time.Second, func() bool {
			cached, err := f.runner.readings.List(context.Background(), map[string]any{"device_id": models.ID("2")})
			return err == nil && len(cached) == 1
		}, "watched reading was not cached")
	})

	t.Run("plain output flags dry soil", func(t *testing.T) {
		out := f.mustRun(t, "watch", "-n", "1", "2")
		if !strings.Contains(out, "moisture  21.5%") || !strings.Contains(out, "(dry)") || !strings.Contains(out, "pump ON (manual)") {
			t.Errorf("unexpected watch output %q", out)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		if _, err := f.run(t, "watch", "-n", "1", "99"); !errors.Is(err, shared.ErrUnknownDevice) {
			t.Errorf("expected ErrUnknownDevice, got %v", err)
		}
	})

	t.Run("rejected credential ends the session", func(t *testing.T) {
		f.backend.Expire()
		_, err := f.run(t, "watch", "-n", "5", "2")
		if !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if f.runner.session.State() != session.Anonymous {
			t.Errorf("expected session to end, got %v", f.runner.session.State())
		}
	})
}
