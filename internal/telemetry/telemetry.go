// Package telemetry keeps the selected device's latest reading and pump status fresh.
//
// A [Controller] owns the device selection, runs refresh cycles on a cadence and on demand,
// and discards any cycle result that no longer matches the current selection.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/notice"
	"github.com/desertthunder/irrigo/internal/services"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultInterval is the refresh cadence when none is configured.
const DefaultInterval = 10 * time.Second

// User-facing messages.
const (
	MsgNoDeviceSelected  = "No device selected"
	MsgControlFailed     = "Failed to control pump"
	MsgAutoControlFailed = "Failed to execute auto control"
	MsgAutoControlDone   = "Auto control executed"
)

// Source is the subset of backend calls the controller needs.
type Source interface {
	LatestReading(ctx context.Context, id models.ID) (*models.SensorReading, error)
	PumpStatus(ctx context.Context, id models.ID) (*models.PumpStatus, error)
	ControlPump(ctx context.Context, id models.ID, action models.PumpState) (*models.ControlResult, error)
	AutoControl(ctx context.Context, id models.ID) (*models.AutoControlResult, error)
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	Devices     []models.Device       `json:"devices"`
	SelectedID  models.ID             `json:"selected_id,omitempty"`
	Selected    *models.Device        `json:"selected,omitempty"`
	Reading     *models.SensorReading `json:"reading,omitempty"`
	Status      *models.PumpStatus    `json:"status,omitempty"`
	AutoRefresh bool                  `json:"auto_refresh"`
	Loading     bool                  `json:"loading"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Options configures a [Controller].
type Options struct {
	Interval        time.Duration
	AutoRefresh     bool
	BreakerFailures uint32        // consecutive failed scheduled cycles before ticks are skipped
	BreakerTimeout  time.Duration // how long ticks stay skipped; a new selection or toggle resets it
	Notices         notice.Publisher
	Logger          *log.Logger
	OnReading       func(models.SensorReading) // called for every applied reading
}

// cycle identifies one refresh by the selection it was started for and its dispatch order.
type cycle struct {
	device models.ID
	seq    uint64
}

type result struct {
	reading    *models.SensorReading
	status     *models.PumpStatus
	readingErr error
	statusErr  error
}

func (r result) err() error {
	return errors.Join(r.readingErr, r.statusErr)
}

// Controller manages device selection and refresh cycles. It is safe for concurrent use.
type Controller struct {
	src       Source
	notices   notice.Publisher
	logger    *log.Logger
	interval  time.Duration
	breaker   gobreaker.Settings
	onReading func(models.SensorReading)
	warnings  *rate.Sometimes
	snapshots *shared.Broadcaster[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	devices     []models.Device
	selected    models.ID
	reading     *models.SensorReading
	status      *models.PumpStatus
	autoRefresh bool
	seq         uint64
	applied     uint64
	pending     int
	updatedAt   time.Time
	stopTimer   context.CancelFunc
	closed      bool
}

// NewController creates a controller with no devices.
func NewController(src Source, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.Notices == nil {
		opts.Notices = notice.Discard
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	failures := opts.BreakerFailures
	logger := opts.Logger
	breaker := gobreaker.Settings{
		Name:    "telemetry",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("polling breaker", "from", from.String(), "to", to.String())
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		src:         src,
		notices:     opts.Notices,
		logger:      opts.Logger,
		interval:    opts.Interval,
		breaker:     breaker,
		onReading:   opts.OnReading,
		warnings:    &rate.Sometimes{First: 1, Interval: time.Minute},
		snapshots:   shared.NewBroadcaster[Snapshot](),
		ctx:         ctx,
		cancel:      cancel,
		autoRefresh: opts.AutoRefresh,
	}
}

// SetDevices replaces the device list.
//
// The selection is kept when still present; otherwise the first device is selected, or none when the list is empty.
func (c *Controller) SetDevices(devices []models.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.devices = slices.Clone(devices)
	switch {
	case c.selected != "" && c.indexLocked(c.selected) >= 0:
		c.publishLocked()
	case len(c.devices) > 0:
		c.selectLocked(c.devices[0].ID)
	default:
		c.selected = ""
		c.reading, c.status = nil, nil
		c.restartTimerLocked()
		c.publishLocked()
	}
}

// Select makes id the current device.
func (c *Controller) Select(id models.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %s", shared.ErrUnknownDevice, id)
	}
	if id == c.selected || c.closed {
		return nil
	}
	c.selectLocked(id)
	return nil
}

// SelectNext moves the selection forward, wrapping around.
func (c *Controller) SelectNext() { c.step(1) }

// SelectPrev moves the selection backward, wrapping around.
func (c *Controller) SelectPrev() { c.step(-1) }

func (c *Controller) step(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.devices)
	if n < 2 || c.closed {
		return
	}
	i := max(c.indexLocked(c.selected), 0)
	c.selectLocked(c.devices[((i+delta)%n+n)%n].ID)
}

// SetRefresh turns scheduled refreshes on or off. Turning them on refreshes immediately.
func (c *Controller) SetRefresh(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if on == c.autoRefresh || c.closed {
		return
	}
	c.autoRefresh = on
	if on {
		c.dispatchLocked(nil)
	}
	c.restartTimerLocked()
	c.publishLocked()
}

// Refresh starts an immediate cycle for the current selection.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLocked(nil)
}

// SetPump switches the selected device's pump and refreshes on success.
func (c *Controller) SetPump(ctx context.Context, action models.PumpState) bool {
	id, ok := c.target()
	if !ok {
		return false
	}

	res, err := c.src.ControlPump(ctx, id, action)
	if err != nil {
		c.failed(MsgControlFailed, "pump control failed", id, err)
		return false
	}

	c.logger.Info("pump switched", "device", id, "status", res.Status)
	c.notices.Publish(notice.New(notice.Success, notice.ControlSucceeded, fmt.Sprintf("Pump turned %s", action)))
	c.Refresh()
	return true
}

// RunAutoControl lets the backend decide the selected device's pump state and refreshes on success.
func (c *Controller) RunAutoControl(ctx context.Context) bool {
	id, ok := c.target()
	if !ok {
		return false
	}

	res, err := c.src.AutoControl(ctx, id)
	if err != nil {
		c.failed(MsgAutoControlFailed, "auto control failed", id, err)
		return false
	}

	msg := res.Message
	if msg == "" {
		msg = MsgAutoControlDone
	}
	c.logger.Info("auto control", "device", id, "status", res.Status)
	c.notices.Publish(notice.New(notice.Success, notice.ControlSucceeded, msg))
	c.Refresh()
	return true
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel of snapshots and a cancel func. Only the newest undelivered snapshot is kept.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.snapshots.Subscribe()
}

// Close stops the timer, abandons in-flight cycles and closes subscriber channels.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.restartTimerLocked()
	c.mu.Unlock()

	c.cancel()
	c.snapshots.Close()
}

func (c *Controller) target() (models.ID, bool) {
	c.mu.Lock()
	id := c.selected
	c.mu.Unlock()

	if id == "" {
		c.notices.Publish(notice.New(notice.Warning, notice.ControlFailed, MsgNoDeviceSelected))
		return "", false
	}
	return id, true
}

func (c *Controller) failed(fallback, logMsg string, id models.ID, err error) {
	c.logger.Warn(logMsg, "device", id, "error", err)

	kind := notice.ControlFailed
	if errors.Is(err, shared.ErrNetwork) {
		kind = notice.NetworkFailure
	}
	c.notices.Publish(notice.New(notice.Error, kind, services.MessageOf(err, fallback)))
}

func (c *Controller) indexLocked(id models.ID) int {
	return slices.IndexFunc(c.devices, func(d models.Device) bool { return d.ID == id })
}

func (c *Controller) selectLocked(id models.ID) {
	c.selected = id
	c.reading, c.status = nil, nil
	c.updatedAt = time.Time{}
	// cycles started for an earlier selection never apply, even if id is selected again
	c.applied = c.seq
	c.dispatchLocked(nil)
	c.restartTimerLocked()
	c.publishLocked()
}

// restartTimerLocked cancels the running timer and starts a new one when scheduled refreshes apply.
// Each timer gets its own closed breaker.
func (c *Controller) restartTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	if c.closed || !c.autoRefresh || c.selected == "" {
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.stopTimer = cancel
	go c.tick(ctx, c.selected, gobreaker.NewCircuitBreaker(c.breaker))
}

func (c *Controller) tick(ctx context.Context, device models.ID, breaker *gobreaker.CircuitBreaker) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if ctx.Err() != nil || c.selected != device || !c.autoRefresh {
			c.mu.Unlock()
			return
		}
		c.dispatchLocked(breaker)
		c.mu.Unlock()
	}
}

// dispatchLocked starts a cycle tagged with the current selection. Scheduled cycles pass their timer's breaker.
func (c *Controller) dispatchLocked(breaker *gobreaker.CircuitBreaker) {
	if c.closed || c.selected == "" {
		return
	}
	c.seq++
	tag := cycle{device: c.selected, seq: c.seq}
	c.pending++
	if c.pending == 1 {
		c.publishLocked()
	}
	go c.run(tag, breaker)
}

func (c *Controller) run(tag cycle, breaker *gobreaker.CircuitBreaker) {
	if breaker == nil {
		c.apply(tag, c.fetch(tag.device))
		return
	}

	out, err := breaker.Execute(func() (any, error) {
		res := c.fetch(tag.device)
		return res, res.err()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Debug("scheduled refresh skipped", "device", tag.device, "state", breaker.State().String())
		c.settle()
		return
	}
	c.apply(tag, out.(result))
}

// fetch loads the reading and pump status concurrently and waits for both.
func (c *Controller) fetch(id models.ID) result {
	var (
		res result
		wg  sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.reading, res.readingErr = c.src.LatestReading(c.ctx, id)
	}()
	go func() {
		defer wg.Done()
		res.status, res.statusErr = c.src.PumpStatus(c.ctx, id)
	}()
	wg.Wait()
	return res
}

// settle finishes a cycle that produced nothing to apply.
func (c *Controller) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if c.pending == 0 && !c.closed {
		c.publishLocked()
	}
}

// apply installs res when tag still matches the selection and is newer than anything applied.
func (c *Controller) apply(tag cycle, res result) {
	c.mu.Lock()
	c.pending--
	if c.closed {
		c.mu.Unlock()
		return
	}

	if tag.device != c.selected || tag.seq <= c.applied {
		c.logger.Debug("discarding stale refresh", "device", tag.device, "seq", tag.seq)
		if c.pending == 0 {
			c.publishLocked()
		}
		c.mu.Unlock()
		return
	}

	c.applied = tag.seq
	var fresh *models.SensorReading
	if res.readingErr == nil {
		c.reading = res.reading
		fresh = res.reading
	}
	if res.statusErr == nil {
		c.status = res.status
	}
	if res.readingErr == nil || res.statusErr == nil {
		c.updatedAt = time.Now()
	}
	c.publishLocked()
	c.mu.Unlock()

	if err := res.err(); err != nil && !errors.Is(err, context.Canceled) {
		c.warnings.Do(func() {
			c.logger.Warn("refresh failed", "device", tag.device, "error", err)
		})
	}
	if fresh != nil && c.onReading != nil {
		c.onReading(*fresh)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Devices:     slices.Clone(c.devices),
		SelectedID:  c.selected,
		AutoRefresh: c.autoRefresh,
		Loading:     c.pending > 0,
		UpdatedAt:   c.updatedAt,
	}
	if i := c.indexLocked(c.selected); i >= 0 {
		d := c.devices[i]
		snap.Selected = &d
	}
	if c.reading != nil {
		r := *c.reading
		snap.Reading = &r
	}
	if c.status != nil {
		s := *c.status
		snap.Status = &s
	}
	return snap
}

func (c *Controller) publishLocked() {
	c.snapshots.Publish(c.snapshotLocked())
}
