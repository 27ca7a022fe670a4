package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scribbly/engine/pkg/ads"
	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/experiment"
	"github.com/scribbly/engine/pkg/kv"
	"github.com/scribbly/engine/pkg/limits"
	"github.com/scribbly/engine/pkg/logger"
	"github.com/scribbly/engine/pkg/pricing"
	"github.com/scribbly/engine/pkg/trial"
)

// Engine is the composition root. Construct with New, call Initialize
// before any use, and Close when done.
type Engine struct {
	store   kv.Store
	tracker analytics.Tracker
	log     *slog.Logger

	pricing     *pricing.Service
	trials      *trial.Service
	limits      *limits.Service
	ads         *ads.Service
	experiments *experiment.Service
}

type settings struct {
	store       kv.Store
	tracker     analytics.Tracker
	log         *slog.Logger
	now         func() time.Time
	limitTable  limits.Table
	placements  ads.Registry
	experiments experiment.Registry
	catalog     []trial.Offer
}

// Option overrides a collaborator the Config cannot express.
type Option func(*settings)

// WithStore bypasses Config-driven store selection entirely.
func WithStore(store kv.Store) Option {
	return func(s *settings) {
		if store != nil {
			s.store = store
		}
	}
}

// WithTracker sets the analytics sink shared by every service. Defaults to
// a no-op sink.
func WithTracker(tracker analytics.Tracker) Option {
	return func(s *settings) {
		if tracker != nil {
			s.tracker = tracker
		}
	}
}

// WithLogger replaces the Config-built logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source for every service. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLimitTable replaces the default tier limit table.
func WithLimitTable(table limits.Table) Option {
	return func(s *settings) {
		if table != nil {
			s.limitTable = table
		}
	}
}

// WithPlacements replaces the default ad placement registry.
func WithPlacements(registry ads.Registry) Option {
	return func(s *settings) {
		if registry != nil {
			s.placements = registry
		}
	}
}

// WithExperiments replaces the default experiment registry.
func WithExperiments(registry experiment.Registry) Option {
	return func(s *settings) {
		if registry != nil {
			s.experiments = registry
		}
	}
}

// WithTrialCatalog replaces the default trial offer catalog.
func WithTrialCatalog(catalog []trial.Offer) Option {
	return func(s *settings) {
		if catalog != nil {
			s.catalog = catalog
		}
	}
}

// New builds the engine: storage per Config, then the five services in
// dependency order. Returns an error on invalid configuration; no network
// calls are made here.
func New(cfg Config, opts ...Option) (*Engine, error) {
	s := &settings{
		tracker: analytics.NewNoop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		level := slog.LevelInfo
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("engine: invalid log level %q: %w", cfg.LogLevel, err)
		}
		s.log = logger.New(
			logger.WithLevel(level),
			logger.WithFormat(cfg.logFormat()),
			logger.WithAttr(slog.String("component", "engine")),
		)
	}

	if s.store == nil {
		store, err := buildStore(cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	e := &Engine{
		store:   s.store,
		tracker: s.tracker,
		log:     s.log,
	}

	e.pricing = pricing.New(e.store, e.tracker,
		pricing.WithLogger(e.log),
		pricing.WithClock(s.now),
	)

	trialOpts := []trial.Option{
		trial.WithLogger(e.log),
		trial.WithClock(s.now),
	}
	if s.catalog != nil {
		trialOpts = append(trialOpts, trial.WithCatalog(s.catalog))
	}
	e.trials = trial.New(e.store, e.pricing, e.tracker, trialOpts...)

	limitOpts := []limits.Option{
		limits.WithTrials(e.trials),
		limits.WithClock(s.now),
	}
	if s.limitTable != nil {
		limitOpts = append(limitOpts, limits.WithTable(s.limitTable))
	}
	var err error
	e.limits, err = limits.New(e.pricing, e.tracker, limitOpts...)
	if err != nil {
		return nil, err
	}

	adOpts := []ads.Option{
		ads.WithLogger(e.log),
		ads.WithClock(s.now),
		ads.WithPolicy(cfg.adPolicy()),
	}
	if s.placements != nil {
		adOpts = append(adOpts, ads.WithRegistry(s.placements))
	}
	e.ads, err = ads.New(e.store, e.pricing, e.tracker, adOpts...)
	if err != nil {
		return nil, err
	}

	expOpts := []experiment.Option{
		experiment.WithLogger(e.log),
		experiment.WithClock(s.now),
	}
	if s.experiments != nil {
		expOpts = append(expOpts, experiment.WithRegistry(s.experiments))
	}
	e.experiments, err = experiment.New(e.store, e.tracker, expOpts...)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// buildStore picks the kv backend: Redis when a URL is configured, a JSON
// file when a path is, in-memory otherwise.
func buildStore(cfg Config) (kv.Store, error) {
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid redis url: %w", err)
		}
		return kv.NewRedisStore(redis.NewClient(redisOpts), kv.WithKeyPrefix(cfg.KeyPrefix)), nil
	}
	if cfg.StoragePath != "" {
		return kv.NewFileStore(cfg.StoragePath), nil
	}
	return kv.NewMemoryStore(), nil
}

// Initialize loads persisted state into every service, pricing first since
// the others read entitlements through it.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.pricing.Initialize(ctx); err != nil {
		return fmt.Errorf("engine: initialize pricing: %w", err)
	}
	if err := e.trials.Initialize(ctx); err != nil {
		return fmt.Errorf("engine: initialize trials: %w", err)
	}
	if err := e.ads.Initialize(ctx); err != nil {
		return fmt.Errorf("engine: initialize ads: %w", err)
	}
	if err := e.experiments.Initialize(ctx); err != nil {
		return fmt.Errorf("engine: initialize experiments: %w", err)
	}
	e.log.Info("engine initialized")
	return nil
}

// ClearData wipes every persisted record, for logout or account deletion.
func (e *Engine) ClearData(ctx context.Context) error {
	if err := e.trials.ClearData(ctx); err != nil {
		return err
	}
	if err := e.pricing.ClearData(ctx); err != nil {
		return err
	}
	if err := e.ads.ClearData(ctx); err != nil {
		return err
	}
	return e.experiments.Reset(ctx)
}

// Close releases the change hubs. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.trials.Close()
	e.pricing.Close()
}

func (e *Engine) Pricing() *pricing.Service        { return e.pricing }
func (e *Engine) Trials() *trial.Service           { return e.trials }
func (e *Engine) Limits() *limits.Service          { return e.limits }
func (e *Engine) Ads() *ads.Service                { return e.ads }
func (e *Engine) Experiments() *experiment.Service { return e.experiments }
func (e *Engine) Store() kv.Store                  { return e.store }
func (e *Engine) Logger() *slog.Logger             { return e.log }
