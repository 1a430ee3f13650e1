// Package session owns the client-side authentication state.
//
// The [Controller] restores a persisted session at startup, performs login, signup and logout,
// and forces a logout when the backend rejects the credential it handed out.
package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/notice"
	"github.com/desertthunder/irrigo/internal/services"
	"github.com/desertthunder/irrigo/internal/shared"
	"golang.org/x/oauth2"
)

// User-facing messages.
const (
	MsgLoginSucceeded  = "Login successful!"
	MsgLoginFailed     = "Login failed"
	MsgSignupSucceeded = "Registration successful! Please login."
	MsgSignupFailed    = "Registration failed"
	MsgLoggedOut       = "Logged out successfully"
	MsgSessionExpired  = "Session expired. Please login again."
)

// State is the lifecycle phase of the session.
type State int

const (
	Initializing State = iota
	Anonymous
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "initializing"
	}
}

// Reason tells subscribers what caused a [Change].
type Reason int

const (
	ReasonRestored Reason = iota
	ReasonLoggedIn
	ReasonLoggedOut
	ReasonExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonLoggedIn:
		return "logged_in"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonExpired:
		return "expired"
	default:
		return "restored"
	}
}

// Change is published to subscribers after every state transition.
type Change struct {
	Session models.Session
	State   State
	Reason  Reason
}

// Store persists the credential and profile as one unit.
type Store interface {
	Load(ctx context.Context) (*models.Session, error)
	Save(ctx context.Context, credential string, profile models.UserProfile) error
	Clear(ctx context.Context) error
}

// API is the subset of backend calls the controller needs.
type API interface {
	Login(ctx context.Context, email, password string) (*oauth2.Token, error)
	Me(ctx context.Context, token string) (*models.UserProfile, error)
	Register(ctx context.Context, username, email, password string) (*models.Message, error)
}

// Options configures a [Controller].
type Options struct {
	Store   Store
	API     API
	Notices notice.Publisher
	Logger  *log.Logger
}

// Controller is the session state machine. It is safe for concurrent use.
type Controller struct {
	store   Store
	api     API
	notices notice.Publisher
	logger  *log.Logger

	// writeMu orders store writes with the transitions they persist. Acquired before mu.
	writeMu    sync.Mutex
	mu         sync.RWMutex
	state      State
	credential string
	profile    *models.UserProfile
	epoch      uint64

	changes *shared.Broadcaster[Change]
}

// NewController creates a controller in the Initializing state.
func NewController(opts Options) *Controller {
	if opts.Notices == nil {
		opts.Notices = notice.Discard
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	return &Controller{
		store:   opts.Store,
		api:     opts.API,
		notices: opts.Notices,
		logger:  opts.Logger,
		state:   Initializing,
		changes: shared.NewBroadcaster[Change](),
	}
}

// Init restores a persisted session. Invalid or unreadable entries leave the controller Anonymous.
func (c *Controller) Init(ctx context.Context) State {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sess, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load stored session", "error", err)
	}

	c.mu.Lock()
	if c.state != Initializing {
		state := c.state
		c.mu.Unlock()
		return state
	}
	if sess != nil && sess.Authenticated() {
		c.credential, c.profile = sess.Credential, sess.Profile
		c.state = Authenticated
		c.epoch++
	} else {
		c.state = Anonymous
	}
	change := c.changeLocked(ReasonRestored)
	c.broadcast(change)
	c.mu.Unlock()

	if change.State == Anonymous {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Warn("failed to clear stored session", "error", err)
		}
	} else {
		c.logger.Info("session restored", "user", change.Session.Profile.Username)
	}
	return change.State
}

// Login authenticates, fetches the profile and persists both before adopting them.
func (c *Controller) Login(ctx context.Context, email, password string) bool {
	token, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.fail(notice.LoginFailed, MsgLoginFailed, "login failed", err)
		return false
	}

	profile, err := c.api.Me(ctx, token.AccessToken)
	if err != nil {
		c.fail(notice.LoginFailed, MsgLoginFailed, "profile fetch failed", err)
		return false
	}

	c.writeMu.Lock()
	if err := c.store.Save(ctx, token.AccessToken, *profile); err != nil {
		c.writeMu.Unlock()
		c.fail(notice.LoginFailed, MsgLoginFailed, "failed to persist session", err)
		return false
	}

	c.mu.Lock()
	c.credential, c.profile = token.AccessToken, profile
	c.state = Authenticated
	c.epoch++
	c.broadcast(c.changeLocked(ReasonLoggedIn))
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logger.Info("logged in", "user", profile.Username)
	c.notices.Publish(notice.New(notice.Success, notice.LoginSucceeded, MsgLoginSucceeded))
	return true
}

// Signup registers an account without logging in.
func (c *Controller) Signup(ctx context.Context, username, email, password string) bool {
	if _, err := c.api.Register(ctx, username, email, password); err != nil {
		c.fail(notice.SignupFailed, MsgSignupFailed, "registration failed", err)
		return false
	}

	c.logger.Info("registered", "username", username)
	c.notices.Publish(notice.New(notice.Success, notice.SignupSucceeded, MsgSignupSucceeded))
	return true
}

// Logout discards the session in memory and in the store.
func (c *Controller) Logout(ctx context.Context) {
	c.end(ctx, ReasonLoggedOut, func() bool { return true })
	c.notices.Publish(notice.New(notice.Info, notice.LoggedOut, MsgLoggedOut))
}

// Credential implements [services.Authorizer].
func (c *Controller) Credential() (services.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != Authenticated {
		return services.Credential{}, false
	}
	return services.Credential{Token: c.credential, Epoch: c.epoch}, true
}

// Unauthorized implements [services.Authorizer].
//
// Only a rejection of the current session's credential ends it; repeated or stale rejections are ignored.
func (c *Controller) Unauthorized(cred services.Credential) {
	current := func() bool { return c.state == Authenticated && c.epoch == cred.Epoch }
	if !c.end(context.Background(), ReasonExpired, current) {
		return
	}
	c.logger.Warn("credential rejected, session ended")
	c.notices.Publish(notice.New(notice.Warning, notice.SessionExpired, MsgSessionExpired))
}

// Session returns a snapshot of the current session.
func (c *Controller) Session() models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionLocked()
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe returns a channel of changes and a cancel func.
//
// Each subscriber holds only the most recent undelivered change.
func (c *Controller) Subscribe() (<-chan Change, func()) {
	return c.changes.Subscribe()
}

// end clears the session in memory and in the store when current holds. It reports whether it did.
//
// current is evaluated with mu held.
func (c *Controller) end(ctx context.Context, reason Reason, current func() bool) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if !current() {
		c.mu.Unlock()
		return false
	}
	c.credential, c.profile = "", nil
	c.state = Anonymous
	c.epoch++
	c.broadcast(c.changeLocked(reason))
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("failed to clear stored session", "error", err)
	}
	c.logger.Info("session ended", "reason", reason)
	return true
}

func (c *Controller) fail(kind notice.Kind, fallback, logMsg string, err error) {
	c.logger.Warn(logMsg, "error", err)

	msg := services.MessageOf(err, fallback)
	if errors.Is(err, shared.ErrNetwork) {
		kind = notice.NetworkFailure
	}
	c.notices.Publish(notice.New(notice.Error, kind, msg))
}

func (c *Controller) sessionLocked() models.Session {
	sess := models.Session{Credential: c.credential, Loading: c.state == Initializing}
	if c.profile != nil {
		p := *c.profile
		sess.Profile = &p
	}
	return sess
}

func (c *Controller) changeLocked(reason Reason) Change {
	return Change{Session: c.sessionLocked(), State: c.state, Reason: reason}
}

// broadcast is called with mu held so subscribers observe changes in order.
func (c *Controller) broadcast(change Change) {
	c.changes.Publish(change)
}
