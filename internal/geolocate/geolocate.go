// Package geolocate is the plugin that exposes wireless capture and
// geolocation as named actions. It wires the capture job registry, the
// history directory and the geolocation client from configuration.
package geolocate

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/capture"
	"github.com/HerbHall/geoscout/internal/geolocation"
	"github.com/HerbHall/geoscout/internal/history"
	"github.com/HerbHall/geoscout/internal/jobs"
	"github.com/HerbHall/geoscout/internal/metrics"
	"github.com/HerbHall/geoscout/internal/monitor"
	"github.com/HerbHall/geoscout/internal/plugin"
	"github.com/HerbHall/geoscout/internal/services"
	"github.com/HerbHall/geoscout/internal/store"
)

// Name is the plugin name and the component name of its migrations.
const Name = "geolocate"

// TopicLocationResolved is published when the provider returns a location.
const TopicLocationResolved = "geolocate.location.resolved"

// Config is the plugin's section of the configuration file.
type Config struct {
	HistoryDir   string
	MonitorTool  string
	Binary       string
	StopGrace    time.Duration
	ReapOrphans  bool
	Geolocation  geolocation.Config
	AllowOrigins []string
}

// ParseConfig reads the plugin section v, applying defaults for missing keys.
func ParseConfig(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetDefault("history.dir", "/root/.geolocate")
	v.SetDefault("monitor.tool", "airmon-ng")
	v.SetDefault("capture.binary", "geolocate")
	v.SetDefault("capture.stop_grace", capture.DefaultStopGrace)
	v.SetDefault("capture.reap_orphans", true)
	v.SetDefault("geolocation.url", geolocation.DefaultURL)
	v.SetDefault("geolocation.insecure_skip_verify", true)
	v.SetDefault("geolocation.timeout", 15*time.Second)
	v.SetDefault("geolocation.rate_per_second", 1.0)
	v.SetDefault("geolocation.burst", 1)

	cfg := Config{
		HistoryDir:   v.GetString("history.dir"),
		MonitorTool:  v.GetString("monitor.tool"),
		Binary:       v.GetString("capture.binary"),
		StopGrace:    v.GetDuration("capture.stop_grace"),
		ReapOrphans:  v.GetBool("capture.reap_orphans"),
		AllowOrigins: v.GetStringSlice("events.allow_origins"),
		Geolocation: geolocation.Config{
			URL:                v.GetString("geolocation.url"),
			InsecureSkipVerify: v.GetBool("geolocation.insecure_skip_verify"),
			Timeout:            v.GetDuration("geolocation.timeout"),
			RatePerSecond:      v.GetFloat64("geolocation.rate_per_second"),
			Burst:              v.GetInt("geolocation.burst"),
		},
	}
	if cfg.HistoryDir == "" {
		return Config{}, fmt.Errorf("%w: history.dir is empty", capture.ErrConfig)
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = capture.DefaultStopGrace
	}
	return cfg, nil
}

// Module implements plugin.Plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config

	bus     plugin.EventBus
	db      *store.SQLiteStore
	metrics *metrics.Metrics
	lister  monitor.Lister
	runner  monitor.CommandRunner
	launch  capture.Launcher
	killer  capture.Killer
	now     func() time.Time

	repo     services.JobRepository
	settings services.SettingsRepository
	history  *history.Store
	jobs     *jobs.Registry
	geo      *geolocation.Client
}

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// Option configures a Module.
type Option func(*Module)

// WithEventBus publishes job and location events on bus.
func WithEventBus(bus plugin.EventBus) Option { return func(m *Module) { m.bus = bus } }

// WithStore records jobs in db.
func WithStore(db *store.SQLiteStore) Option { return func(m *Module) { m.db = db } }

// WithMetrics records job and provider metrics.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Module) { m.metrics = mt } }

// WithInterfaceLister overrides wireless interface discovery.
func WithInterfaceLister(l monitor.Lister) Option { return func(m *Module) { m.lister = l } }

// WithCommandRunner overrides how the monitor mode tool is executed.
func WithCommandRunner(r monitor.CommandRunner) Option { return func(m *Module) { m.runner = r } }

// WithLauncher overrides how the capture binary is started.
func WithLauncher(l capture.Launcher) Option { return func(m *Module) { m.launch = l } }

// WithKiller overrides name-based process termination.
func WithKiller(k capture.Killer) Option { return func(m *Module) { m.killer = k } }

// WithClock overrides the time source for history filenames and records.
func WithClock(now func() time.Time) Option { return func(m *Module) { m.now = now } }

// New creates an uninitialized module.
func New(opts ...Option) *Module {
	m := &Module{
		lister: monitor.NL80211Lister{},
		runner: monitor.ExecRunner{},
		launch: capture.ExecLauncher{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "1.0.0" }

func (m *Module) Init(config *viper.Viper, logger *zap.Logger) error {
	m.logger = logger
	cfg, err := ParseConfig(config)
	if err != nil {
		return err
	}
	m.cfg = cfg

	if m.killer == nil {
		m.killer = capture.NewProcessKiller(logger.Named("kill"))
	}

	if m.db != nil {
		if err := m.db.Migrate(context.Background(), Name, services.JobMigrations); err != nil {
			return fmt.Errorf("geolocate migrations: %w", err)
		}
		m.repo = services.NewSQLiteJobRepository(m.db.DB())
		if err := m.db.Migrate(context.Background(), "settings", services.SettingsMigrations); err != nil {
			return fmt.Errorf("settings migrations: %w", err)
		}
		m.settings = services.NewSQLiteSettingsRepository(m.db.DB())
	}

	m.history = history.New(cfg.HistoryDir,
		history.WithClock(m.now),
		history.WithLogger(logger.Named("history")),
	)
	m.geo = geolocation.New(cfg.Geolocation, logger.Named("geolocation"))

	deps := jobs.Deps{
		NewModes: func() capture.ModeController {
			return monitor.NewController(cfg.MonitorTool, m.runner, logger.Named("monitor"))
		},
		Launcher:  m.launch,
		Killer:    m.killer,
		StopGrace: cfg.StopGrace,
		Repo:      m.repo,
		Bus:       m.bus,
		Logger:    logger.Named("jobs"),
		Now:       m.now,
	}
	if m.metrics != nil {
		deps.Metrics = m.metrics
	}
	m.jobs = jobs.New(deps)

	m.logger.Info("geolocate module initialized",
		zap.String("history_dir", cfg.HistoryDir),
		zap.String("monitor_tool", cfg.MonitorTool),
		zap.String("capture_binary", cfg.Binary),
	)
	return nil
}

// Start creates the history directory and reaps capture processes left by
// a previous crash.
func (m *Module) Start(ctx context.Context) error {
	if err := m.history.Init(); err != nil {
		return err
	}
	if m.cfg.ReapOrphans {
		if _, err := m.jobs.ReapOrphans(ctx, m.cfg.Binary); err != nil {
			m.logger.Warn("reap orphaned capture processes", zap.Error(err))
		}
	}
	m.logger.Info("geolocate module started")
	return nil
}

// Stop stops a running capture job.
func (m *Module) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StopGrace+5*time.Second)
	defer cancel()
	if err := m.jobs.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", stopFailedMessage, err)
	}
	m.logger.Info("geolocate module stopped")
	return nil
}

// Jobs exposes the job registry.
func (m *Module) Jobs() *jobs.Registry { return m.jobs }

// History exposes the history store.
func (m *Module) History() *history.Store { return m.history }

// Geolocation exposes the provider client.
func (m *Module) Geolocation() *geolocation.Client { return m.geo }

// JobRecords returns persisted jobs, or nil when no store is configured.
func (m *Module) JobRecords() services.JobRepository { return m.repo }
