package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/notice"
	"github.com/desertthunder/irrigo/internal/services"
	"github.com/desertthunder/irrigo/internal/shared"
	tu "github.com/desertthunder/irrigo/internal/testing"
)

// fakeSource serves canned readings; a gated device blocks LatestReading until released.
type fakeSource struct {
	mu         sync.Mutex
	readings   map[models.ID]*models.SensorReading
	status     map[models.ID]models.PumpState
	gates      map[models.ID]chan struct{}
	calls      map[models.ID]int
	failing    map[models.ID]bool
	fail       bool
	controlErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		readings: make(map[models.ID]*models.SensorReading),
		status:   make(map[models.ID]models.PumpState),
		gates:    make(map[models.ID]chan struct{}),
		calls:    make(map[models.ID]int),
		failing:  make(map[models.ID]bool),
	}
}

func (f *fakeSource) setMoisture(id models.ID, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[id] = &models.SensorReading{ID: models.ID("r-" + string(id)), DeviceID: id, SoilMoisture: v}
}

func (f *fakeSource) gate(id models.ID) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[id] = ch
	return ch
}

func (f *fakeSource) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fakeSource) setFailFor(id models.ID, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[id] = v
}

func (f *fakeSource) callCount(id models.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeSource) LatestReading(ctx context.Context, id models.ID) (*models.SensorReading, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.gates[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failing[id] {
		return nil, &services.APIError{Status: 500, Message: services.GenericErrorMessage}
	}
	if r := f.readings[id]; r != nil {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (f *fakeSource) PumpStatus(ctx context.Context, id models.ID) (*models.PumpStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, &services.APIError{Status: 500, Message: services.GenericErrorMessage}
	}
	state, ok := f.status[id]
	if !ok {
		state = models.PumpOff
	}
	return &models.PumpStatus{DeviceID: id, Status: state, Mode: models.ModeManual}, nil
}

func (f *fakeSource) ControlPump(ctx context.Context, id models.ID, action models.PumpState) (*models.ControlResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	f.status[id] = action
	return &models.ControlResult{Message: "Pump turned " + string(action), DeviceID: id, Status: action}, nil
}

func (f *fakeSource) AutoControl(ctx context.Context, id models.ID) (*models.AutoControlResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.controlErr != nil {
		return nil, f.controlErr
	}
	f.status[id] = models.PumpOn
	return &models.AutoControlResult{Message: "Pump turned on based on ML prediction", DeviceID: id, Status: models.PumpOn}, nil
}

var devicesAB = []models.Device{{ID: "A", Name: "North"}, {ID: "B", Name: "South"}}

func settled(c *Controller) func() bool {
	return func() bool { return !c.Snapshot().Loading }
}

func newController(t *testing.T, src Source, opts Options) *Controller {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	c := NewController(src, opts)
	t.Cleanup(c.Close)
	return c
}

func TestSelection(t *testing.T) {
	t.Run("SetDevices selects the first device", func(t *testing.T) {
		src := newFakeSource()
		src.setMoisture("A", 30)
		c := newController(t, src, Options{})

		c.SetDevices(devicesAB)
		tu.Eventually(t, time.Second, func() bool {
			r := c.Snapshot().Reading
			return r != nil && r.SoilMoisture == 30
		}, "expected reading for A")

		snap := c.Snapshot()
		if snap.SelectedID != "A" || snap.Selected == nil || snap.Selected.Name != "North" {
			t.Errorf("unexpected selection %+v", snap)
		}
		if snap.Status == nil || snap.Status.Status != models.PumpOff {
			t.Errorf("expected pump status, got %+v", snap.Status)
		}
	})

	t.Run("SetDevices keeps a surviving selection", func(t *testing.T) {
		c := newController(t, newFakeSource(), Options{})
		c.SetDevices(devicesAB)
		c.Select("B")

		c.SetDevices([]models.Device{{ID: "C"}, {ID: "B"}})
		if c.Snapshot().SelectedID != "B" {
			t.Errorf("expected B kept, got %s", c.Snapshot().SelectedID)
		}
	})

	t.Run("SetDevices resets a vanished selection", func(t *testing.T) {
		c := newController(t, newFakeSource(), Options{})
		c.SetDevices(devicesAB)
		c.Select("B")

		c.SetDevices([]models.Device{{ID: "C"}})
		if c.Snapshot().SelectedID != "C" {
			t.Errorf("expected C, got %s", c.Snapshot().SelectedID)
		}

		c.SetDevices(nil)
		snap := c.Snapshot()
		if snap.SelectedID != "" || snap.Reading != nil || snap.Status != nil {
			t.Errorf("expected empty selection, got %+v", snap)
		}
	})

	t.Run("Select unknown device", func(t *testing.T) {
		c := newController(t, newFakeSource(), Options{})
		c.SetDevices(devicesAB)

		if err := c.Select("Z"); !errors.Is(err, shared.ErrUnknownDevice) {
			t.Errorf("expected ErrUnknownDevice, got %v", err)
		}
		if c.Snapshot().SelectedID != "A" {
			t.Error("selection must not change")
		}
	})

	t.Run("SelectNext and SelectPrev wrap", func(t *testing.T) {
		c := newController(t, newFakeSource(), Options{})
		c.SetDevices(devicesAB)

		c.SelectNext()
		if got := c.Snapshot().SelectedID; got != "B" {
			t.Errorf("expected B, got %s", got)
		}
		c.SelectNext()
		if got := c.Snapshot().SelectedID; got != "A" {
			t.Errorf("expected wrap to A, got %s", got)
		}
		c.SelectPrev()
		if got := c.Snapshot().SelectedID; got != "B" {
			t.Errorf("expected wrap back to B, got %s", got)
		}
	})

	t.Run("selection change clears displayed values", func(t *testing.T) {
		src := newFakeSource()
		src.setMoisture("A", 30)
		gate := src.gate("B")
		defer close(gate)

		c := newController(t, src, Options{})
		c.SetDevices(devicesAB)
		tu.Eventually(t, time.Second, func() bool { return c.Snapshot().Reading != nil }, "expected reading for A")

		c.Select("B")
		snap := c.Snapshot()
		if snap.Reading != nil || snap.Status != nil {
			t.Errorf("expected cleared values while B loads, got %+v", snap)
		}
	})
}

func TestStaleResultsAreDiscarded(t *testing.T) {
	src := newFakeSource()
	src.setMoisture("A", 35.2)
	src.setMoisture("B", 50)
	gate := src.gate("A")

	c := newController(t, src, Options{})
	c.SetDevices(devicesAB)
	tu.Eventually(t, time.Second, func() bool { return src.callCount("A") == 1 }, "expected cycle for A in flight")

	if err := c.Select("B"); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	tu.Eventually(t, time.Second, func() bool {
		r := c.Snapshot().Reading
		return r != nil && r.SoilMoisture == 50
	}, "expected reading for B")

	close(gate)
	tu.Eventually(t, time.Second, settled(c), "expected all cycles settled")

	snap := c.Snapshot()
	if snap.SelectedID != "B" || snap.Reading == nil || snap.Reading.SoilMoisture != 50 {
		t.Errorf("late result for A must not replace B, got %+v", snap.Reading)
	}
}

func TestReselectIgnoresEarlierCycles(t *testing.T) {
	src := newFakeSource()
	src.setMoisture("A", 10)
	gate := src.gate("A")

	c := newController(t, src, Options{})
	c.SetDevices(devicesAB)
	tu.Eventually(t, time.Second, func() bool { return src.callCount("A") == 1 }, "expected first A cycle")

	c.Select("B")
	c.Select("A")
	tu.Eventually(t, time.Second, func() bool { return src.callCount("A") == 2 }, "expected second A cycle")

	close(gate)
	tu.Eventually(t, time.Second, settled(c), "expected cycles settled")

	if c.Snapshot().Reading == nil {
		t.Error("expected the newer A cycle to apply")
	}
}

func TestFailedFetchKeepsLastKnown(t *testing.T) {
	src := newFakeSource()
	src.setMoisture("A", 30)
	c := newController(t, src, Options{})
	c.SetDevices(devicesAB)
	tu.Eventually(t, time.Second, func() bool { return c.Snapshot().Reading != nil }, "expected reading")

	src.setFail(true)
	c.Refresh()
	tu.Eventually(t, time.Second, settled(c), "expected refresh settled")

	snap := c.Snapshot()
	if snap.Reading == nil || snap.Reading.SoilMoisture != 30 || snap.Status == nil {
		t.Errorf("expected last-known values kept, got %+v", snap)
	}
}

func TestAutoRefresh(t *testing.T) {
	t.Run("ticks refresh the selection", func(t *testing.T) {
		src := newFakeSource()
		c := newController(t, src, Options{Interval: 20 * time.Millisecond, AutoRefresh: true})
		c.SetDevices(devicesAB)

		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("A") >= 3 }, "expected scheduled cycles")
	})

	t.Run("disable stops and enable refreshes at once", func(t *testing.T) {
		src := newFakeSource()
		c := newController(t, src, Options{Interval: 20 * time.Millisecond, AutoRefresh: true})
		c.SetDevices(devicesAB)
		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("A") >= 2 }, "expected scheduled cycles")

		c.SetRefresh(false)
		tu.Eventually(t, time.Second, settled(c), "expected cycles settled")
		before := src.callCount("A")
		time.Sleep(100 * time.Millisecond)
		if after := src.callCount("A"); after != before {
			t.Errorf("expected no cycles while disabled, got %d more", after-before)
		}
		if c.Snapshot().AutoRefresh {
			t.Error("expected AutoRefresh false in snapshot")
		}

		c.SetRefresh(true)
		if got := src.callCount("A"); got > before+1 {
			t.Errorf("unexpected extra cycles: %d", got-before)
		}
		tu.Eventually(t, time.Second, func() bool { return src.callCount("A") > before }, "expected immediate cycle on enable")
	})

	t.Run("timer follows the selection", func(t *testing.T) {
		src := newFakeSource()
		c := newController(t, src, Options{Interval: 20 * time.Millisecond, AutoRefresh: true})
		c.SetDevices(devicesAB)
		c.Select("B")

		tu.Eventually(t, time.Second, settled(c), "expected cycles settled")
		before := src.callCount("A")
		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("B") >= 3 }, "expected cycles for B")
		if after := src.callCount("A"); after != before {
			t.Errorf("A must not be polled after switching, got %d more", after-before)
		}
	})

	t.Run("breaker skips ticks after repeated failures", func(t *testing.T) {
		src := newFakeSource()
		src.setFail(true)
		c := newController(t, src, Options{
			Interval:        10 * time.Millisecond,
			AutoRefresh:     true,
			BreakerFailures: 2,
			BreakerTimeout:  time.Hour,
		})
		c.SetDevices(devicesAB)

		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("A") >= 3 }, "expected failing cycles")
		time.Sleep(50 * time.Millisecond)
		before := src.callCount("A")
		time.Sleep(100 * time.Millisecond)
		if after := src.callCount("A"); after != before {
			t.Errorf("expected ticks skipped while breaker is open, got %d more", after-before)
		}

		c.Refresh()
		tu.Eventually(t, time.Second, func() bool { return src.callCount("A") > before }, "manual refresh must bypass the breaker")
	})

	t.Run("failures on one device do not pause another", func(t *testing.T) {
		src := newFakeSource()
		src.setFailFor("A", true)
		src.setMoisture("B", 55)
		c := newController(t, src, Options{
			Interval:        10 * time.Millisecond,
			AutoRefresh:     true,
			BreakerFailures: 2,
			BreakerTimeout:  time.Hour,
		})
		c.SetDevices(devicesAB)

		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("A") >= 3 }, "expected failing cycles for A")
		time.Sleep(50 * time.Millisecond)

		c.Select("B")
		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("B") >= 5 }, "expected scheduled cycles for B")
		if r := c.Snapshot().Reading; r == nil || r.DeviceID != "B" {
			t.Errorf("expected B's reading, got %+v", r)
		}
	})

	t.Run("re-enabling resumes the cadence", func(t *testing.T) {
		src := newFakeSource()
		src.setFail(true)
		c := newController(t, src, Options{
			Interval:        10 * time.Millisecond,
			AutoRefresh:     true,
			BreakerFailures: 2,
			BreakerTimeout:  time.Hour,
		})
		c.SetDevices(devicesAB)

		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("A") >= 3 }, "expected failing cycles")
		time.Sleep(50 * time.Millisecond)

		src.setFail(false)
		c.SetRefresh(false)
		tu.Eventually(t, time.Second, settled(c), "expected cycles settled")
		before := src.callCount("A")
		c.SetRefresh(true)

		tu.Eventually(t, 2*time.Second, func() bool { return src.callCount("A") >= before+4 }, "expected scheduled cycles after re-enabling")
	})
}

func TestControl(t *testing.T) {
	ctx := context.Background()

	t.Run("SetPump notifies and refreshes", func(t *testing.T) {
		src := newFakeSource()
		rec := &notice.Recorder{}
		c := newController(t, src, Options{Notices: rec})
		c.SetDevices(devicesAB)
		tu.Eventually(t, time.Second, settled(c), "expected initial cycle")

		if !c.SetPump(ctx, models.PumpOn) {
			t.Fatal("expected success")
		}
		notices := rec.Notices()
		if len(notices) != 1 || notices[0].Message != "Pump turned on" || notices[0].Kind != notice.ControlSucceeded {
			t.Errorf("unexpected notices %+v", notices)
		}
		tu.Eventually(t, time.Second, func() bool {
			s := c.Snapshot().Status
			return s != nil && s.Status == models.PumpOn
		}, "expected refreshed pump status")
	})

	t.Run("RunAutoControl uses backend message", func(t *testing.T) {
		rec := &notice.Recorder{}
		c := newController(t, newFakeSource(), Options{Notices: rec})
		c.SetDevices(devicesAB)

		if !c.RunAutoControl(ctx) {
			t.Fatal("expected success")
		}
		if got := rec.Notices()[0].Message; got != "Pump turned on based on ML prediction" {
			t.Errorf("expected backend message, got %q", got)
		}
	})

	t.Run("failures carry server message or fallback", func(t *testing.T) {
		src := newFakeSource()
		rec := &notice.Recorder{}
		c := newController(t, src, Options{Notices: rec})
		c.SetDevices(devicesAB)

		src.controlErr = &services.APIError{Status: 404, Message: "Device not found"}
		if c.SetPump(ctx, models.PumpOff) {
			t.Fatal("expected failure")
		}
		src.controlErr = &services.APIError{Status: 500, Message: services.GenericErrorMessage}
		if c.RunAutoControl(ctx) {
			t.Fatal("expected failure")
		}

		notices := rec.Notices()
		if len(notices) != 2 || notices[0].Message != "Device not found" || notices[1].Message != MsgAutoControlFailed {
			t.Errorf("unexpected notices %+v", notices)
		}
		if rec.Count(notice.ControlFailed) != 2 {
			t.Error("expected ControlFailed notices")
		}
	})

	t.Run("no selection", func(t *testing.T) {
		rec := &notice.Recorder{}
		c := newController(t, newFakeSource(), Options{Notices: rec})

		if c.SetPump(ctx, models.PumpOn) {
			t.Fatal("expected false without selection")
		}
		if got := rec.Notices()[0].Message; got != MsgNoDeviceSelected {
			t.Errorf("expected %q, got %q", MsgNoDeviceSelected, got)
		}
	})
}

func TestSubscribeAndClose(t *testing.T) {
	src := newFakeSource()
	src.setMoisture("A", 12)

	var (
		mu       sync.Mutex
		recorded []models.SensorReading
	)
	c := NewController(src, Options{Interval: time.Hour, OnReading: func(r models.SensorReading) {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, r)
	}})

	snaps, cancel := c.Subscribe()
	defer cancel()

	c.SetDevices(devicesAB)
	tu.Eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(recorded) == 1
	}, "expected applied reading passed to OnReading")

	select {
	case snap := <-snaps:
		if snap.SelectedID != "A" {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot")
	}

	c.Close()
	for range snaps {
	}
	c.Refresh()
	if err := c.Select("B"); err != nil {
		t.Errorf("select after close should be a no-op, got %v", err)
	}
}

func TestWithFakeBackend(t *testing.T) {
	backend := tu.NewFakeBackend(t)
	backend.AddUser("bob@example.com", "secret", "t1", models.UserProfile{ID: "9", Username: "bob"})
	backend.SetDevices(models.Device{ID: "1", Name: "A"}, models.Device{ID: "2", Name: "B"})
	backend.AddReading(models.SensorReading{DeviceID: "1", SoilMoisture: 20})

	client := services.NewClient(services.ClientOpts{BaseURL: backend.URL()})
	svc := services.NewIrrigationService(client)
	token, err := svc.Login(context.Background(), "bob@example.com", "secret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	client.SetAuthorizer(staticAuth(token.AccessToken))

	c := newController(t, svc, Options{})
	devices, err := svc.Devices(context.Background())
	if err != nil {
		t.Fatalf("devices failed: %v", err)
	}
	c.SetDevices(devices)
	tu.Eventually(t, time.Second, func() bool {
		r := c.Snapshot().Reading
		return r != nil && r.SoilMoisture == 20
	}, "expected reading from backend")

	if !c.RunAutoControl(context.Background()) {
		t.Fatal("expected auto control to succeed")
	}
	if backend.Pump("1").Status != models.PumpOn {
		t.Errorf("expected pump on for dry soil, got %+v", backend.Pump("1"))
	}
}

type staticAuth string

func (s staticAuth) Credential() (services.Credential, bool) {
	return services.Credential{Token: string(s), Epoch: 1}, true
}

func (staticAuth) Unauthorized(services.Credential) {}
