package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/irrigo/internal/notice"
	"github.com/desertthunder/irrigo/internal/repositories"
	"github.com/desertthunder/irrigo/internal/services"
	"github.com/desertthunder/irrigo/internal/session"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	db         *sql.DB
	httpClient *http.Client
	client     *services.Client
	svc        *services.IrrigationService
	store      session.Store
	readings   *repositories.ReadingRepository
	session    *session.Controller
	notices    *notice.Bus
	recorder   *notice.Recorder
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	DB         *sql.DB // optional; enables persistent sessions and the local reading cache
	HTTPClient *http.Client
	Store      session.Store // overrides the store derived from DB
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.API.Timeout()}
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		db:         opts.DB,
		httpClient: opts.HTTPClient,
		store:      opts.Store,
		notices:    notice.NewBus(32),
		recorder:   &notice.Recorder{},
		logger:     opts.Logger,
		output:     opts.Output,
	}

	if r.db != nil {
		r.readings = repositories.NewReadingRepository(r.db)
		if r.store == nil {
			r.store = repositories.NewSessionRepository(r.db)
		}
	}
	if r.store == nil {
		r.store = repositories.NewMemorySessionStore()
	}

	r.wire()
	return r
}

// wire builds the client, service and session controller around the current logger.
func (r *Runner) wire() {
	r.client = services.NewClient(services.ClientOpts{
		BaseURL:    r.config.API.BaseURL,
		HTTPClient: r.httpClient,
		Logger:     shared.WithLogger(r.logger, "component", "client"),
	})
	r.svc = services.NewIrrigationService(r.client)
	r.session = session.NewController(session.Options{
		Store:   r.store,
		API:     r.svc,
		Notices: notice.Fanout{r.notices, r.recorder},
		Logger:  shared.WithLogger(r.logger, "component", "session"),
	})
	r.client.SetAuthorizer(r.session)
}

// SetLogger replaces the runner's logger, e.g. to redirect output to a file while the dashboard runs.
// The session controller is rebuilt, so call it before the session is initialized.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
	r.wire()
}

// Close releases the database handle, if any.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, devicesCommand, readingsCommand, pumpCommand,
		weatherCommand, predictCommand, watchCommand, dashboardCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// requireSession restores the stored session and fails when nobody is logged in.
func (r *Runner) requireSession(ctx context.Context) error {
	if r.session.Init(ctx) != session.Authenticated {
		return fmt.Errorf("%w: run 'irrigo auth login' first", shared.ErrNotAuthenticated)
	}
	return nil
}

// lastNotice returns the message of the most recent notice, or fallback when none was published.
func (r *Runner) lastNotice(fallback string) string {
	notices := r.recorder.Notices()
	if len(notices) == 0 {
		return fallback
	}
	return notices[len(notices)-1].Message
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
