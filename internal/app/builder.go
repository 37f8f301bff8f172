package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fxdesk/internal/config"
	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/engine"
	"fxdesk/internal/feed"
	"fxdesk/internal/gateway/bus"
	"fxdesk/internal/gateway/notifier"
	"fxdesk/internal/logger"
	"fxdesk/internal/metrics"
	"fxdesk/internal/mode"
	"fxdesk/internal/pkg/circuit"
	"fxdesk/internal/position"
	"fxdesk/internal/roster"
	"fxdesk/internal/signal"
	"fxdesk/internal/store/gormstore"
	"fxdesk/internal/store/runlog"
	livehttp "fxdesk/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *config.Config

	engineFn     func(config.EngineConfig, engine.SchemaValidator) (engine.Engine, error)
	publishersFn func(context.Context, *config.Config) ([]bus.Publisher, error)
	sourcesFn    func(*config.Config) ([]feed.Source, error)
}

type AppBuilderOption func(*AppBuilder)

// WithEngine 替换分析引擎，测试与 CLI 演示使用。
func WithEngine(e engine.Engine) AppBuilderOption {
	return func(b *AppBuilder) {
		b.engineFn = func(config.EngineConfig, engine.SchemaValidator) (engine.Engine, error) { return e, nil }
	}
}

func WithPublishers(pubs ...bus.Publisher) AppBuilderOption {
	return func(b *AppBuilder) {
		b.publishersFn = func(context.Context, *config.Config) ([]bus.Publisher, error) { return pubs, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		engineFn:     buildEngine,
		publishersFn: buildPublishers,
		sourcesFn:    buildSources,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	app = &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New(cfg.Metrics.Namespace)
	}

	reg, err := buildRoster(cfg.Agents)
	if err != nil {
		return app, err
	}
	inner, err := b.engineFn(cfg.Engine, reg)
	if err != nil {
		return app, fmt.Errorf("build engine: %w", err)
	}
	guard := engine.GuardOptions{
		Name:    cfg.Engine.Transport,
		Timeout: cfg.Engine.Timeout(),
		Breaker: circuit.New("engine", cfg.Engine.BreakerThreshold, cfg.Engine.Cooldown()),
	}
	if recorder != nil {
		guard.Recorder = recorder
	}
	eng := engine.NewGuarded(inner, guard)

	if err := ensureDir(cfg.Store.Path); err != nil {
		return app, err
	}
	gs, err := gormstore.NewGormStore(cfg.Store.Path)
	if err != nil {
		return app, fmt.Errorf("open store: %w", err)
	}
	app.closers = append(app.closers, gs.Close)

	runs, err := openRunLog(cfg.Store, gs)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, runs.Close)

	events := gormstore.NewEventLog(gs)
	deps := desk.Deps{
		Engine:     eng,
		Aggregator: decision.MajorityAggregator{Kinds: reg.Kinds},
		Positions:  position.NewManager(gs, cfg.Desk.PositionSize),
		Signals:    gs,
		Events:     events,
		Runs:       runs,
	}
	if recorder != nil {
		deps.Recorder = recorder
	}
	m, _ := mode.Parse(cfg.Desk.Mode)
	em, _ := engine.ParseMode(cfg.Engine.DefaultMode)
	d, err := desk.New(deps, desk.Options{
		Mode:         m,
		EngineMode:   em,
		ExposureUnit: cfg.Desk.ExposureUnit,
		QueueSize:    cfg.Desk.QueueSize,
		RecentLimit:  cfg.Desk.RecentLimit,
	})
	if err != nil {
		return app, err
	}
	app.desk = d

	srvCfg := livehttp.ServerConfig{Addr: cfg.App.HTTPAddr, Desk: d, Events: events, Runs: runs}
	if recorder != nil {
		srvCfg.Metrics = recorder.Handler()
	}
	if app.http, err = livehttp.NewServer(srvCfg); err != nil {
		return app, err
	}

	sources, err := b.sourcesFn(cfg)
	if err != nil {
		return app, err
	}
	if len(sources) > 0 {
		app.pump = feed.NewPump(d, feed.PumpOptions{AutoAnalyze: cfg.Feed.AutoAnalyze}, sources...)
	}
	pubs, err := b.publishersFn(ctx, cfg)
	if err != nil {
		return app, err
	}
	if len(pubs) > 0 {
		app.forwarder = bus.NewForwarder(d, 0, pubs...)
	}

	app.Summary = newStartupSummary(cfg, reg.Kinds(), sources, pubs)
	return app, nil
}

func buildRoster(cfg config.AgentsConfig) (*roster.Registry, error) {
	if path := strings.TrimSpace(cfg.RosterPath); path != "" {
		reg, err := roster.NewRegistry(path)
		if err != nil {
			return nil, err
		}
		reg.OnChange(func(s roster.Snapshot) {
			logger.Infof("代理名单已更新: %d agents", len(s.Agents))
		})
		return reg, nil
	}
	kinds := make([]decision.AgentKind, 0, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds = append(kinds, decision.AgentKind(k))
	}
	return roster.NewStatic(kinds...)
}

func buildEngine(cfg config.EngineConfig, schemas engine.SchemaValidator) (engine.Engine, error) {
	switch cfg.Transport {
	case "process":
		return engine.NewProcessEngine(engine.ProcessConfig{
			Python:  cfg.Python,
			Script:  cfg.Script,
			WorkDir: cfg.WorkDir,
			Env:     cfg.Env,
		}, schemas), nil
	case "http":
		return engine.NewHTTPEngine(cfg.BaseURL, cfg.Path, cfg.Timeout(), schemas), nil
	default:
		return nil, fmt.Errorf("unknown engine transport %q", cfg.Transport)
	}
}

// openRunLog 运行记录与主库同一文件时复用主库连接。
func openRunLog(cfg config.StoreConfig, gs *gormstore.GormStore) (*runlog.Store, error) {
	if filepath.Clean(cfg.RunLogPath) == filepath.Clean(cfg.Path) {
		db, err := gs.SQLDB()
		if err != nil {
			return nil, err
		}
		s := &runlog.Store{}
		if err := s.UseExternalDB(db); err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		return s, nil
	}
	if err := ensureDir(cfg.RunLogPath); err != nil {
		return nil, err
	}
	s, err := runlog.NewStore(cfg.RunLogPath)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return s, nil
}

func buildSources(cfg *config.Config) ([]feed.Source, error) {
	var sources []feed.Source
	if len(cfg.Feed.Seeds) > 0 {
		seeds := make([]signal.Proposal, 0, len(cfg.Feed.Seeds))
		for _, s := range cfg.Feed.Seeds {
			seeds = append(seeds, s.Proposal())
		}
		sources = append(sources, feed.NewStaticSource(seeds))
	}
	if k := cfg.Feed.Kafka; k.Enabled {
		src, err := feed.NewKafkaSource(feed.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic, GroupID: k.GroupID})
		if err != nil {
			return nil, fmt.Errorf("kafka feed: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func buildPublishers(ctx context.Context, cfg *config.Config) ([]bus.Publisher, error) {
	var pubs []bus.Publisher
	if k := cfg.Bus.Kafka; k.Enabled {
		p, err := bus.NewKafkaPublisher(bus.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			RequiredAcks: k.RequiredAcks,
			Compression:  k.Compression,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka bus: %w", err)
		}
		pubs = append(pubs, p)
	}
	if r := cfg.Bus.Redis; r.Enabled {
		p, err := bus.NewRedisPublisher(ctx, bus.RedisConfig{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
			History:   r.History,
		})
		if err != nil {
			return nil, fmt.Errorf("redis bus: %w", err)
		}
		pubs = append(pubs, p)
	}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		types := make([]desk.NoticeType, 0, len(tg.Events))
		for _, t := range tg.Events {
			types = append(types, desk.NoticeType(t))
		}
		pubs = append(pubs, notifier.NewNoticePublisher(notifier.NewTelegram(tg.BotToken, tg.ChatID), types))
	}
	return pubs, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(strings.TrimSpace(path))
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
