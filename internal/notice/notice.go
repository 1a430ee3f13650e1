// Package notice carries transient user-facing messages from controllers to whatever view is attached.
package notice

import (
	"sync"
	"time"

	"github.com/desertthunder/irrigo/internal/shared"
)

// Level is the severity of a [Notice].
type Level int

const (
	Info Level = iota
	Success
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Kind distinguishes notices a view may react to beyond displaying them.
type Kind int

const (
	General Kind = iota
	LoginSucceeded
	LoginFailed
	SignupSucceeded
	SignupFailed
	LoggedOut
	SessionExpired
	ControlSucceeded
	ControlFailed
	NetworkFailure
)

// Notice is a single toast-style message.
type Notice struct {
	ID      string
	Level   Level
	Kind    Kind
	Message string
	At      time.Time
}

// New builds a notice stamped with a fresh id and the current time.
func New(level Level, kind Kind, message string) Notice {
	return Notice{
		ID:      shared.GenerateID(),
		Level:   level,
		Kind:    kind,
		Message: message,
		At:      time.Now(),
	}
}

// Publisher accepts notices.
type Publisher interface {
	Publish(Notice)
}

// Discard drops every notice.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Notice) {}

// Bus fans notices out to subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the notice.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Notice
	nextID int
	buffer int
}

// NewBus creates a bus whose subscriber channels hold up to buffer pending notices.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[int]chan Notice), buffer: buffer}
}

// Publish delivers n to every current subscriber.
func (b *Bus) Publish(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a notice channel and a cancel func that closes it.
func (b *Bus) Subscribe() (<-chan Notice, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Notice, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Recorder keeps every published notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Publish records n.
func (r *Recorder) Publish(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Count returns how many recorded notices have the given kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, item := range r.notices {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

// Publish forwards n to each publisher.
func (f Fanout) Publish(n Notice) {
	for _, p := range f {
		p.Publish(n)
	}
}
