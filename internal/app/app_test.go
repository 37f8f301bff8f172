package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fxdesk/internal/config"
	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/engine"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct{}

func (stubEngine) Analyze(ctx context.Context, req engine.Request) (engine.Result, error) {
	out := engine.Result{Transport: "stub", Raw: "{}"}
	for i, k := range decision.DefaultKinds {
		sig := decision.SignalBuy
		if i == 3 {
			sig = decision.SignalHold
		}
		out.Agents = append(out.Agents, decision.AgentAnalysis{
			Kind:       k,
			Signal:     sig,
			EntryPrice: 1.1,
			StopLoss:   1.09,
			TakeProfit: 1.12,
			Confidence: 0.6,
			RiskLevel:  decision.RiskMedium,
		})
	}
	return out, nil
}

type capturePublisher struct {
	mu    sync.Mutex
	types []desk.NoticeType
}

func (p *capturePublisher) Name() string { return "capture" }

func (p *capturePublisher) Publish(_ context.Context, n desk.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, n.Type)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) seen(t desk.NoticeType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, got := range p.types {
		if got == t {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		App:    config.AppConfig{Env: "test", LogLevel: "error", HTTPAddr: "127.0.0.1:0"},
		Engine: config.EngineConfig{Transport: "http", BaseURL: "http://127.0.0.1:1", Path: "/analyze", DefaultMode: "quick", TimeoutSeconds: 5, BreakerThreshold: 3, BreakerCooldown: 1},
		Agents: config.AgentsConfig{Kinds: []string{"scalper", "day_trader", "swing_trader", "position_trader"}},
		Desk:   config.DeskConfig{Mode: "auto", PositionSize: 0.1, ExposureUnit: 0.05},
		Store: config.StoreConfig{
			Path:       filepath.Join(dir, "db", "fxdesk.db"),
			RunLogPath: filepath.Join(dir, "db", "runs.db"),
		},
		Feed: config.FeedConfig{
			AutoAnalyze: true,
			Seeds:       []config.SeedSignal{{ID: "seed-1", Pair: "EURUSD", Direction: "buy", EntryPrice: 1.1}},
		},
		Metrics: config.MetricsConfig{Enabled: true, Namespace: "fxtest"},
	}
}

func TestBuild_WiresComponents(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewAppBuilder(cfg, WithEngine(stubEngine{}), WithPublishers()).Build(context.Background())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Desk())
	require.NotNil(t, app.HTTP())
	assert.NotNil(t, app.pump)
	assert.Nil(t, app.forwarder)
	assert.Equal(t, []string{"static"}, app.Summary.Sources)
	assert.Contains(t, app.Summary.String(), "scalper, day_trader")

	rec := httptest.NewRecorder()
	app.HTTP().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fxtest_signals_pending")
}

func TestBuild_UnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Transport = "carrier-pigeon"
	_, err := NewAppBuilder(cfg).Build(context.Background())
	assert.Error(t, err)
}

func TestRun_SeedAutoApproved(t *testing.T) {
	cfg := testConfig(t)
	pub := &capturePublisher{}
	app, err := NewAppBuilder(cfg, WithEngine(stubEngine{}), WithPublishers(pub)).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(app.Desk().Positions(position.StatusOpen)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	sig, err := app.Desk().Signal("seed-1")
	require.NoError(t, err)
	assert.Equal(t, signal.StateApproved, sig.State)
	assert.Equal(t, signal.ByAuto, sig.DisposedBy)
	assert.Equal(t, 0.05, app.Desk().Risk().Exposure)

	require.Eventually(t, func() bool { return pub.seen(desk.NoticePositionOpened) }, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
