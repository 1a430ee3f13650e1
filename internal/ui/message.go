package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/notice"
	"github.com/desertthunder/irrigo/internal/session"
	"github.com/desertthunder/irrigo/internal/telemetry"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSessionReady MsgKind = iota
	MsgSessionChanged
	MsgSnapshot
	MsgNotice
	MsgNoticeExpired
	MsgDevicesFetched
	MsgAuthDone
)

type devicesResult struct {
	devices []models.Device
	err     error
}

type authResult struct {
	signup bool
	ok     bool
}

// sessionReadyMsg is the constructor for [MsgSessionReady]
func sessionReadyMsg(c session.Change) Msg {
	return Msg{kind: MsgSessionReady, data: c}
}

// sessionChangedMsg is the constructor for [MsgSessionChanged]
func sessionChangedMsg(c session.Change) Msg {
	return Msg{kind: MsgSessionChanged, data: c}
}

// snapshotMsg is the constructor for [MsgSnapshot]
func snapshotMsg(s telemetry.Snapshot) Msg {
	return Msg{kind: MsgSnapshot, data: s}
}

// noticeMsg is the constructor for [MsgNotice]
func noticeMsg(n notice.Notice) Msg {
	return Msg{kind: MsgNotice, data: n}
}

// noticeExpiredMsg is the constructor for [MsgNoticeExpired]
func noticeExpiredMsg(id string) Msg {
	return Msg{kind: MsgNoticeExpired, data: id}
}

// devicesFetchedMsg is the constructor for [MsgDevicesFetched]
func devicesFetchedMsg(devices []models.Device, err error) Msg {
	return Msg{kind: MsgDevicesFetched, data: devicesResult{devices, err}}
}

// authDoneMsg is the constructor for [MsgAuthDone]
func authDoneMsg(signup, ok bool) Msg {
	return Msg{kind: MsgAuthDone, data: authResult{signup, ok}}
}

// waitForChange turns the next session change into a message. A closed channel ends the stream.
func waitForChange(ch <-chan session.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return sessionChangedMsg(c)
	}
}

func waitForSnapshot(ch <-chan telemetry.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func waitForNotice(ch <-chan notice.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// expireNotice hides the notice with the given id after ttl.
func expireNotice(id string, ttl time.Duration) tea.Cmd {
	return tea.Tick(ttl, func(time.Time) tea.Msg {
		return noticeExpiredMsg(id)
	})
}
