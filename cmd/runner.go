package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/repositories"
	"github.com/desertthunder/kcx/internal/services"
	"github.com/desertthunder/kcx/internal/session"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/tasks"
	"github.com/desertthunder/kcx/internal/token"
	"github.com/urfave/cli/v3"
)

// cliSession is the campaign key used by commands run from a terminal.
const cliSession = "cli"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Stores, the token manager and the dispatcher are built on first use so commands like
// setup config never touch the database.
type Runner struct {
	config     *shared.Config
	configPath string
	pinned     bool
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db            *sql.DB
	tokenStore    token.Store
	campaignStore tasks.CampaignStore
	cache         session.Cache
	platform      services.Platform
	tokens        *token.Manager
	campaigns     *tasks.Dispatcher
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config        *shared.Config // skips loading --config when set
	ConfigPath    string
	HTTPClient    *http.Client
	Logger        *log.Logger
	Output        io.Writer
	TokenStore    token.Store         // defaults per token.store
	CampaignStore tasks.CampaignStore // defaults per blast.store
	Platform      services.Platform   // defaults to the KingsChat API
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	pinned := opts.Config != nil
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
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Token.RequestTimeout()}
	}

	return &Runner{
		config:        opts.Config,
		configPath:    opts.ConfigPath,
		pinned:        pinned,
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger,
		output:        opts.Output,
		tokenStore:    opts.TokenStore,
		campaignStore: opts.CampaignStore,
		platform:      opts.Platform,
	}
}

// SetLogger replaces the logger used by components built after the call.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Close releases the database handle, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// configure loads the --config file and applies the log level before any command runs.
func (r *Runner) configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if !r.pinned {
		r.configPath = path
		if _, err := os.Stat(path); err == nil {
			config, err := shared.LoadConfig(path)
			if err != nil {
				return ctx, err
			}
			r.config = config
			r.httpClient.Timeout = config.Token.RequestTimeout()
		}
	}

	level := shared.ParseLogLevel(r.config.LogLevel)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return ctx, nil
}

// database opens the SQLite database once and brings its schema up to date.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	r.db = db
	return db, nil
}

func (r *Runner) newTokenStore() (token.Store, error) {
	switch r.config.Token.Store {
	case "sqlite":
		db, err := r.database()
		if err != nil {
			return nil, err
		}
		return repositories.NewTokenRepository(db), nil
	default:
		return token.NewFileStore(r.config.Token.FilePath), nil
	}
}

func (r *Runner) newCampaignStore() (tasks.CampaignStore, error) {
	switch r.config.Blast.Store {
	case "memory":
		return tasks.NewMemoryStore(), nil
	default:
		db, err := r.database()
		if err != nil {
			return nil, err
		}
		return repositories.NewCampaignRepository(db), nil
	}
}

// open wires the token manager, platform client and dispatcher.
func (r *Runner) open() error {
	if r.tokens != nil {
		return nil
	}

	if r.tokenStore == nil {
		store, err := r.newTokenStore()
		if err != nil {
			return err
		}
		r.tokenStore = store
	}

	refresher := token.NewRefresher(r.config.Platform.TokenURL, r.config.Platform.ClientID, r.httpClient, r.logger)
	r.tokens = token.NewManager(token.ManagerOpts{
		Store:     r.tokenStore,
		Cache:     r.cache,
		Exchanger: refresher,
		Buffer:    r.config.Token.RefreshBuffer(),
		Logger:    r.logger,
	})

	if r.platform == nil {
		client := services.NewClient(r.config.Platform.APIBaseURL, r.httpClient, r.tokens, r.logger)
		r.platform = services.NewKingsChatService(client)
	}

	if r.campaignStore == nil {
		store, err := r.newCampaignStore()
		if err != nil {
			return err
		}
		r.campaignStore = store
	}

	r.campaigns = tasks.NewDispatcher(tasks.DispatcherOpts{
		Store:     r.campaignStore,
		Messenger: r.platform,
		Directory: r.platform,
		Logger:    shared.WithLogger(r.logger, "component", "dispatcher"),
	})
	return nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, profileCommand, contactsCommand, usersCommand, sendCommand, blastCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
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

// writeSnapshot prints a campaign's progress as JSON or a single status line.
func (r *Runner) writeSnapshot(s models.Snapshot, asJSON bool) error {
	if asJSON {
		return r.writeJSON(s, true)
	}
	line := fmt.Sprintf("[%s] %s (%.1f%%)", s.State, s.Message, s.Progress)
	if s.WaitSeconds > 0 && !s.IsComplete {
		line += fmt.Sprintf(", next send in %.1fs", s.WaitSeconds)
	}
	if s.LastError != "" {
		line += "\n  last error: " + s.LastError
	}
	return r.writePlain("%s\n", line)
}
