package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/notice"
	"github.com/desertthunder/irrigo/internal/services"
	"github.com/desertthunder/irrigo/internal/session"
	"github.com/desertthunder/irrigo/internal/telemetry"
)

// NoticeTTL is how long a notice stays on screen.
const NoticeTTL = 4 * time.Second

const msgDevicesFailed = "Failed to load devices"

// ViewState represents the current view in the TUI.
type ViewState int

const (
	LoadingView ViewState = iota
	LoginView
	DashboardView
	DevicePickerView
)

// DeviceLister fetches the signed-in user's devices.
type DeviceLister interface {
	Devices(ctx context.Context) ([]models.Device, error)
}

// Deps are the controllers the TUI attaches to.
type Deps struct {
	Session   *session.Controller
	Telemetry *telemetry.Controller
	Devices   DeviceLister
	Notices   *notice.Bus
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	view      ViewState
	session   *session.Controller
	telemetry *telemetry.Controller
	devices   DeviceLister
	notices   notice.Publisher

	changes   <-chan session.Change
	snapshots <-chan telemetry.Snapshot
	noticeCh  <-chan notice.Notice
	cancels   []func()

	state    session.State
	profile  *models.UserProfile
	snapshot telemetry.Snapshot
	notice   *notice.Notice
	busy     bool

	form    loginForm
	picker  list.Model
	spinner spinner.Model
	width   int
	height  int
	help    help.Model
	keys    keyMap
}

// NewModel creates a new TUI model subscribed to the provided controllers.
//
// Call [Model.Close] after the program exits to release the subscriptions.
func NewModel(ctx context.Context, deps Deps) *Model {
	m := &Model{
		ctx:       ctx,
		view:      LoadingView,
		session:   deps.Session,
		telemetry: deps.Telemetry,
		devices:   deps.Devices,
		notices:   notice.Discard,
		state:     session.Initializing,
		form:      newLoginForm(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.ok)),
		help:      help.New(),
		keys:      newKeyMap(),
	}

	var cancel func()
	m.changes, cancel = deps.Session.Subscribe()
	m.cancels = append(m.cancels, cancel)
	m.snapshots, cancel = deps.Telemetry.Subscribe()
	m.cancels = append(m.cancels, cancel)
	if deps.Notices != nil {
		m.notices = deps.Notices
		m.noticeCh, cancel = deps.Notices.Subscribe()
		m.cancels = append(m.cancels, cancel)
	}
	return m
}

// Close cancels the model's subscriptions.
func (m *Model) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
}

// ViewState returns the current view.
func (m *Model) ViewState() ViewState { return m.view }

// Init restores the stored session and starts listening to the controllers.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.initSession(), waitForChange(m.changes), waitForSnapshot(m.snapshots)}
	if m.noticeCh != nil {
		cmds = append(cmds, waitForNotice(m.noticeCh))
	}
	return tea.Batch(cmds...)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if m.view == DevicePickerView {
			m.picker.SetSize(msg.Width-4, msg.Height-6)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.view {
		case LoadingView:
			if key.Matches(msg, m.keys.exit) {
				return m, tea.Quit
			}
		case LoginView:
			return m.handleFormKeys(msg)
		case DashboardView:
			return m.handleDashboardKeys(msg)
		case DevicePickerView:
			return m.handlePickerKeys(msg)
		}
		return m, nil

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSessionReady:
		return m, m.applyChange(msg.data.(session.Change))

	case MsgSessionChanged:
		return m, tea.Batch(m.applyChange(msg.data.(session.Change)), waitForChange(m.changes))

	case MsgSnapshot:
		m.snapshot = msg.data.(telemetry.Snapshot)
		if m.view == DevicePickerView {
			m.picker.SetItems(deviceItems(m.snapshot.Devices, m.snapshot.SelectedID))
		}
		return m, waitForSnapshot(m.snapshots)

	case MsgNotice:
		n := msg.data.(notice.Notice)
		m.notice = &n
		return m, tea.Batch(waitForNotice(m.noticeCh), expireNotice(n.ID, NoticeTTL))

	case MsgNoticeExpired:
		if m.notice != nil && m.notice.ID == msg.data.(string) {
			m.notice = nil
		}
		return m, nil

	case MsgDevicesFetched:
		res := msg.data.(devicesResult)
		if res.err != nil {
			// A rejected credential is reported by the session controller.
			var apiErr *services.APIError
			if !errors.As(res.err, &apiErr) || !apiErr.Unauthorized() {
				m.notices.Publish(notice.New(notice.Error, notice.General, services.MessageOf(res.err, msgDevicesFailed)))
			}
			return m, nil
		}
		if m.state == session.Authenticated {
			m.telemetry.SetDevices(res.devices)
		}
		return m, nil

	case MsgAuthDone:
		res := msg.data.(authResult)
		m.busy = false
		switch {
		case res.signup && res.ok:
			return m, m.form.afterSignup()
		case !res.ok:
			m.form.clearPassword()
		}
		return m, nil
	}
	return m, nil
}

// applyChange moves between the login form and the dashboard as the session changes.
func (m *Model) applyChange(c session.Change) tea.Cmd {
	if c.State == m.state && c.Reason == session.ReasonRestored {
		return nil
	}
	m.state = c.State

	switch c.State {
	case session.Authenticated:
		m.profile = c.Session.Profile
		m.view = DashboardView
		m.busy = false
		return m.fetchDevices()

	case session.Anonymous:
		m.profile = nil
		m.view = LoginView
		m.busy = false
		m.telemetry.SetDevices(nil)
		m.snapshot = telemetry.Snapshot{}
		m.form.clearPassword()
		return m.form.focusField(m.form.focus)
	}
	return nil
}

func (m *Model) handleFormKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.exit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.focusNext):
		return m, m.form.move(1)
	case key.Matches(msg, m.keys.focusPrev):
		return m, m.form.move(-1)
	case key.Matches(msg, m.keys.mode):
		if m.busy {
			return m, nil
		}
		return m, m.form.toggleMode()
	case key.Matches(msg, m.keys.submit):
		return m, m.submit()
	}

	if m.busy {
		return m, nil
	}
	return m, m.form.update(msg)
}

// submit validates the form and runs login or signup in the background.
func (m *Model) submit() tea.Cmd {
	if m.busy {
		return nil
	}
	if problem := m.form.problem(); problem != "" {
		m.notices.Publish(notice.New(notice.Warning, notice.General, problem))
		return nil
	}

	m.busy = true
	signup := m.form.signup
	username, email, password := m.form.values()
	ctx, sess := m.ctx, m.session
	return func() tea.Msg {
		if signup {
			return authDoneMsg(true, sess.Signup(ctx, username, email, password))
		}
		return authDoneMsg(false, sess.Login(ctx, email, password))
	}
}

func (m *Model) handleDashboardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx, tel := m.ctx, m.telemetry

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.prev):
		tel.SelectPrev()
	case key.Matches(msg, m.keys.next):
		tel.SelectNext()
	case key.Matches(msg, m.keys.toggle):
		tel.SetRefresh(!tel.Snapshot().AutoRefresh)
	case key.Matches(msg, m.keys.refresh):
		tel.Refresh()
	case key.Matches(msg, m.keys.pumpOn):
		return m, func() tea.Msg { tel.SetPump(ctx, models.PumpOn); return nil }
	case key.Matches(msg, m.keys.pumpOff):
		return m, func() tea.Msg { tel.SetPump(ctx, models.PumpOff); return nil }
	case key.Matches(msg, m.keys.auto):
		return m, func() tea.Msg { tel.RunAutoControl(ctx); return nil }
	case key.Matches(msg, m.keys.pick):
		m.openPicker()
	case key.Matches(msg, m.keys.logout):
		sess := m.session
		return m, func() tea.Msg { sess.Logout(ctx); return nil }
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) openPicker() {
	snap := m.telemetry.Snapshot()
	m.picker = list.New(deviceItems(snap.Devices, snap.SelectedID), list.NewDefaultDelegate(), 0, 0)
	m.picker.Title = "Devices"
	m.picker.SetShowHelp(false)
	m.picker.SetSize(max(m.width-4, 20), max(m.height-6, 10))
	for i, d := range snap.Devices {
		if d.ID == snap.SelectedID {
			m.picker.Select(i)
		}
	}
	m.view = DevicePickerView
}

func (m *Model) handlePickerKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picker.FilterState() != list.Filtering {
		switch {
		case key.Matches(msg, m.keys.back):
			m.view = DashboardView
			return m, nil
		case key.Matches(msg, m.keys.choose):
			if item, ok := m.picker.SelectedItem().(deviceItem); ok {
				if err := m.telemetry.Select(item.device.ID); err != nil {
					m.notices.Publish(notice.New(notice.Warning, notice.General, telemetry.MsgNoDeviceSelected))
				}
			}
			m.view = DashboardView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	return m, cmd
}

func (m *Model) initSession() tea.Cmd {
	ctx, sess := m.ctx, m.session
	return func() tea.Msg {
		state := sess.Init(ctx)
		return sessionReadyMsg(session.Change{Session: sess.Session(), State: state, Reason: session.ReasonRestored})
	}
}

func (m *Model) fetchDevices() tea.Cmd {
	ctx, lister := m.ctx, m.devices
	return func() tea.Msg {
		devices, err := lister.Devices(ctx)
		return devicesFetchedMsg(devices, err)
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case LoadingView:
		body = fmt.Sprintf("%s Restoring session...", m.spinner.View())
	case LoginView:
		body = m.renderLogin()
	case DashboardView:
		body = m.renderDashboard()
	case DevicePickerView:
		body = fmt.Sprintf("%s\n\n%s", m.picker.View(), m.help.ShortHelpView(m.keys.pickerHelp()))
	}

	if n := m.renderNotice(); n != "" {
		body = fmt.Sprintf("%s\n\n%s", body, n)
	}
	return body
}

func (m *Model) renderNotice() string {
	if m.notice == nil {
		return ""
	}
	return styles.forLevel(m.notice.Level).Render(m.notice.Message)
}

func (m *Model) renderLogin() string {
	form := m.form.view()
	if m.busy {
		form += fmt.Sprintf("\n%s Please wait...\n", m.spinner.View())
	}
	return fmt.Sprintf("%s\n%s\n%s", styles.title.Render("Irrigation Dashboard"), styles.panel.Render(form), m.help.ShortHelpView(m.keys.formHelp()))
}

func (m *Model) renderDashboard() string {
	var b strings.Builder

	header := "Irrigation Dashboard"
	if m.profile != nil {
		header = fmt.Sprintf("%s · %s", header, m.profile.Username)
	}
	b.WriteString(styles.title.Render(header))
	b.WriteString("\n")

	snap := m.snapshot
	if len(snap.Devices) == 0 {
		b.WriteString(styles.help.Render("No devices registered. Add one with `irrigo devices add`."))
		b.WriteString("\n\n")
		b.WriteString(m.help.View(m.keys))
		return b.String()
	}

	tabs := make([]string, len(snap.Devices))
	for i, d := range snap.Devices {
		if d.ID == snap.SelectedID {
			tabs[i] = styles.active.Render(d.Name)
		} else {
			tabs[i] = styles.tab.Render(d.Name)
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n\n")
	b.WriteString(styles.panel.Render(m.renderTelemetry(snap)))
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderTelemetry(snap telemetry.Snapshot) string {
	var rows []string
	row := func(label, value string) {
		rows = append(rows, styles.label.Render(label)+value)
	}

	if d := snap.Selected; d != nil {
		desc := d.Name
		if d.Location != "" {
			desc += " · " + d.Location
		}
		if d.CropType != "" {
			desc += " · " + d.CropType
		}
		row("Device", desc)
	}

	if r := snap.Reading; r != nil {
		moisture := fmt.Sprintf("%.1f%%", r.SoilMoisture)
		if snap.Selected != nil && r.SoilMoisture < snap.Selected.MoistureThreshold {
			moisture = styles.warn.Render(fmt.Sprintf("%s (below %.0f%%)", moisture, snap.Selected.MoistureThreshold))
		}
		row("Soil moisture", moisture)
		row("Temperature", fmt.Sprintf("%.1f°C", r.Temperature))
		row("Humidity", fmt.Sprintf("%.1f%%", r.Humidity))
		rain := "Dry"
		if r.Raining() {
			rain = "Rain"
		}
		row("Rain", rain)
		if !r.Timestamp.IsZero() {
			row("Read at", r.Timestamp.Local().Format("2006-01-02 15:04:05"))
		}
	} else {
		row("Reading", styles.help.Render("no data"))
	}

	if s := snap.Status; s != nil {
		state := styles.help.Render("OFF")
		if s.Status == models.PumpOn {
			state = styles.ok.Render("ON")
		}
		if s.Mode != "" {
			state = fmt.Sprintf("%s (%s)", state, s.Mode)
		}
		row("Pump", state)
	} else {
		row("Pump", styles.help.Render("unknown"))
	}

	refresh := "off"
	if snap.AutoRefresh {
		refresh = "on"
	}
	row("Auto refresh", refresh)

	updated := "never"
	if !snap.UpdatedAt.IsZero() {
		updated = snap.UpdatedAt.Format("15:04:05")
	}
	if snap.Loading {
		updated = fmt.Sprintf("%s %s", updated, m.spinner.View())
	}
	row("Updated", updated)

	return strings.Join(rows, "\n")
}
