// Package daemon wires configuration, stores, the agent loop, the
// stream registry, and the gateway into one runnable service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/calder/inkwell/internal/config"
	"github.com/calder/inkwell/internal/logger"
	"github.com/calder/inkwell/internal/observability"
	"github.com/calder/inkwell/pkg/agent"
	"github.com/calder/inkwell/pkg/gateway"
	"github.com/calder/inkwell/pkg/notestore"
	"github.com/calder/inkwell/pkg/notetools"
	"github.com/calder/inkwell/pkg/provider"
	"github.com/calder/inkwell/pkg/registry"
	"github.com/calder/inkwell/pkg/session"
	"github.com/calder/inkwell/pkg/tooldispatch"
)

// Options configures a daemon instance
type Options struct {
	Config *config.Config
	Logger *logger.Logger

	// Loader enables config-file watching when set
	Loader *config.Loader
}

// Daemon is the inkwell service
type Daemon struct {
	logger *logger.Logger

	sessionStore *session.Store
	cleanup      *session.Cleanup
	noteStore    *notestore.Store
	dispatcher   *tooldispatch.Dispatcher
	client       *provider.Client
	loop         *agent.Loop
	registry     *registry.Registry
	gateway      *gateway.Server

	watcher *config.Watcher

	mu        sync.RWMutex
	config    *config.Config
	running   bool
	startTime time.Time
}

// New creates a daemon with all modules wired in dependency order
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		logger: opts.Logger,
		config: opts.Config,
	}
	cfg := opts.Config

	sessionStore, err := session.NewStore(cfg.Sessions.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	d.sessionStore = sessionStore

	cleanup, err := session.NewCleanup(sessionStore, cfg.Sessions.CleanupSchedule,
		time.Duration(cfg.Sessions.CleanupAgeDays)*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cleanup: %w", err)
	}
	d.cleanup = cleanup

	noteStore, err := notestore.Open(notestore.Config{
		DBPath: cfg.Notes.DBPath,
		Logger: opts.Logger.With("notestore"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open note store: %w", err)
	}
	d.noteStore = noteStore

	d.dispatcher = tooldispatch.New()
	if err := notetools.Register(d.dispatcher, noteStore); err != nil {
		noteStore.Close()
		return nil, fmt.Errorf("failed to register note tools: %w", err)
	}

	client, err := provider.NewClient(provider.Config{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
	})
	if err != nil {
		noteStore.Close()
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}
	d.client = client

	loop, err := agent.New(agent.Config{
		Client:          client,
		Dispatcher:      d.dispatcher,
		Recorder:        historyRecorder{d},
		Logger:          opts.Logger.With("agent"),
		SystemPrompt:    cfg.Agent.SystemPrompt,
		MaxTurns:        cfg.Agent.MaxTurns,
		CredentialReady: d.credentialReady,
	})
	if err != nil {
		noteStore.Close()
		return nil, fmt.Errorf("failed to create agent loop: %w", err)
	}
	d.loop = loop

	reg, err := registry.New(registry.Config{
		Runner:      loop,
		Store:       sessionStore,
		SinkFactory: d.newFeedSink,
		Logger:      opts.Logger.With("registry"),
	})
	if err != nil {
		noteStore.Close()
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	d.registry = reg

	gw, err := gateway.NewServer(gateway.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Runner:   loop,
		Registry: reg,
		Store:    sessionStore,
		Logger:   opts.Logger.With("gateway"),
	})
	if err != nil {
		noteStore.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gateway = gw

	if opts.Loader != nil {
		watcher, err := config.NewWatcher(opts.Loader, d.onConfigReload, opts.Logger.With("config"))
		if err != nil {
			opts.Logger.Zerolog().Warn().Err(err).Msg("Config watching unavailable")
		} else {
			d.watcher = watcher
		}
	}

	return d, nil
}

// historyRecorder routes the loop's history appends through the
// registry, whose stream bookkeeping keeps cancelled turns from
// committing a message twice. Resolved lazily like the feed sink: the
// registry is wired before any turn can run.
type historyRecorder struct {
	d *Daemon
}

func (h historyRecorder) AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error {
	return h.d.registry.AppendMessage(ctx, sessionID, msg)
}

// credentialReady reflects the live configuration, so a key added to
// the config file takes effect without a restart.
func (d *Daemon) credentialReady() bool {
	if os.Getenv("INKWELL_API_KEY") != "" {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config.CredentialReady()
}

// onConfigReload swaps in a freshly validated config
func (d *Daemon) onConfigReload(cfg *config.Config) {
	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()
	d.logger.Zerolog().Info().Msg("Configuration reloaded")
}

// Registry exposes the stream registry for tests and embedders
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// Gateway exposes the gateway server
func (d *Daemon) Gateway() *gateway.Server {
	return d.gateway
}

// Start brings up the service components. It does not block.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	if err := d.cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			d.logger.Zerolog().Warn().Err(err).Msg("Config watcher failed to start")
		}
	}

	d.logger.Zerolog().Info().Msg("Daemon started")
	return nil
}

// Run starts the daemon and blocks until ctx is done or a shutdown
// signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Zerolog().Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	return d.Stop()
}

// Stop shuts everything down in reverse dependency order
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	uptime := time.Since(d.startTime)
	d.mu.Unlock()

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.cleanup.Stop(); err != nil {
		d.logger.Zerolog().Warn().Err(err).Msg("Cleanup stop failed")
	}
	if err := d.gateway.Stop(); err != nil {
		d.logger.Zerolog().Warn().Err(err).Msg("Gateway stop failed")
	}
	if err := d.noteStore.Close(); err != nil {
		d.logger.Zerolog().Warn().Err(err).Msg("Note store close failed")
	}
	if err := d.sessionStore.Close(); err != nil {
		d.logger.Zerolog().Warn().Err(err).Msg("Session store close failed")
	}

	d.logger.Zerolog().Info().Dur("uptime", uptime).Msg("Daemon stopped")
	return nil
}
