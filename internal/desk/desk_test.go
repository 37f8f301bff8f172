package desk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKinds = []decision.AgentKind{decision.KindScalper, decision.KindDayTrader, decision.KindSwingTrader}
	testNow   = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
)

type engineFunc func(ctx context.Context, req engine.Request) (engine.Result, error)

func (f engineFunc) Analyze(ctx context.Context, req engine.Request) (engine.Result, error) {
	return f(ctx, req)
}

// votes 依次对应 scalper/day/swing，置信度 0.8/0.6/0.4。
func votes(sigs ...decision.Signal) engine.Result {
	conf := []float64{0.8, 0.6, 0.4}
	out := engine.Result{Transport: "fake", Raw: "{}"}
	for i, s := range sigs {
		base := 1.1000 + float64(i)*0.001
		out.Agents = append(out.Agents, decision.AgentAnalysis{
			Kind:       testKinds[i],
			Signal:     s,
			EntryPrice: base,
			StopLoss:   base - 0.005,
			TakeProfit: base + 0.01,
			Confidence: conf[i],
			RiskLevel:  decision.RiskMedium,
		})
	}
	return out
}

func fixedEngine(sigs ...decision.Signal) engine.Engine {
	return engineFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		return votes(sigs...), nil
	})
}

type memSignalStore struct {
	mu       sync.Mutex
	signals  map[string]signal.TradeSignal
	settings map[string]string
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{signals: map[string]signal.TradeSignal{}, settings: map[string]string{}}
}

func (m *memSignalStore) SaveSignal(ctx context.Context, sig signal.TradeSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[sig.ID] = sig.Clone()
	return nil
}

func (m *memSignalStore) ListActiveSignals(ctx context.Context) ([]signal.TradeSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []signal.TradeSignal
	for _, s := range m.signals {
		if !s.State.Terminal() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *memSignalStore) SaveSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *memSignalStore) LoadSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func newTestDesk(t *testing.T, eng engine.Engine, m mode.Mode, store SignalStore) *Desk {
	t.Helper()
	var ids atomic.Int64
	d, err := New(Deps{
		Engine:     eng,
		Aggregator: decision.MajorityAggregator{Kinds: func() []decision.AgentKind { return testKinds }, Clock: func() time.Time { return testNow }},
		Positions:  position.NewManager(nil, 0),
		Signals:    store,
	}, Options{
		Mode:  m,
		Clock: func() time.Time { return testNow },
		NewID: func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
	})
	require.NoError(t, err)
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func surface(t *testing.T, d *Desk, id string) signal.TradeSignal {
	t.Helper()
	sig, err := d.Surface(context.Background(), signal.Proposal{
		ID: id, Pair: "EUR/USD", Direction: "buy",
		EntryPrice: 1.0950, StopLoss: 1.0900, TakeProfit: 1.1050, Confidence: 72,
	})
	require.NoError(t, err)
	return sig
}

func TestDesk_ManualModeWaitsForApproval(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalSell, decision.SignalSell, decision.SignalBuy), mode.Manual, nil)
	sig := surface(t, d, "s1")
	assert.Equal(t, signal.StatePending, sig.State)
	assert.Equal(t, "EURUSD", sig.Pair)

	out, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	assert.Equal(t, signal.StateAnalyzed, out.Signal.State)
	require.NotNil(t, out.Signal.Decision)
	assert.Equal(t, decision.ActionSell, out.Signal.Decision.FinalAction)
	assert.Nil(t, out.Position)
	assert.Empty(t, d.Positions(""))

	got, err := d.Signal("s1")
	require.NoError(t, err)
	assert.Equal(t, signal.StateAnalyzed, got.State)

	approved, pos, err := d.Approve(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, signal.StateApproved, approved.State)
	assert.Equal(t, signal.ByManual, approved.DisposedBy)
	assert.Equal(t, "s1", pos.SignalID)
	assert.Equal(t, signal.DirectionSell, pos.Direction)
	assert.Equal(t, 1.1000, pos.EntryPrice)
	assert.Equal(t, testNow, pos.OpenTime)
	assert.Equal(t, position.StatusOpen, pos.Status)
	assert.Equal(t, 0.0, pos.PnL)
	assert.Empty(t, d.Signals())

	_, _, err = d.Approve(context.Background(), "s1")
	assert.True(t, signal.IsInvalidTransition(err))
	assert.Len(t, d.Positions(position.StatusOpen), 1)
}

func TestDesk_ApprovePendingIsInvalidTransition(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalBuy), mode.Manual, nil)
	surface(t, d, "s1")

	_, _, err := d.Approve(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, signal.IsInvalidTransition(err))
	_, err = d.Reject(context.Background(), "s1", "no")
	assert.True(t, signal.IsInvalidTransition(err))

	sig, err := d.Signal("s1")
	require.NoError(t, err)
	assert.Equal(t, signal.StatePending, sig.State)
	assert.Empty(t, d.Positions(""))

	_, _, err = d.Approve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSignalNotFound)
	assert.True(t, IsNotFound(err))
}

func TestDesk_AutoRejectsNoTrade(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalSell, decision.SignalHold), mode.Auto, nil)
	surface(t, d, "s1")

	out, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	assert.Equal(t, signal.StateRejected, out.Signal.State)
	assert.Equal(t, signal.ByAuto, out.Signal.DisposedBy)
	assert.Contains(t, out.Signal.RejectReason, "NO-TRADE")
	assert.Nil(t, out.Position)
	assert.Empty(t, d.Positions(""))
	assert.Empty(t, d.Signals())
}

func TestDesk_AutoApprovesExactlyOnce(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalSell), mode.Auto, nil)
	surface(t, d, "s1")
	surface(t, d, "s2")

	out, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{Mode: engine.ModeDeep})
	require.NoError(t, err)
	assert.Equal(t, signal.StateApproved, out.Signal.State)
	require.NotNil(t, out.Position)
	assert.Equal(t, signal.DirectionBuy, out.Position.Direction)
	assert.Equal(t, 0.6, out.Position.Confidence)

	out2, err := d.AnalyzeAndWait(context.Background(), "s2", AnalysisOptions{})
	require.NoError(t, err)
	assert.Equal(t, signal.StateApproved, out2.Signal.State)

	open := d.Positions(position.StatusOpen)
	require.Len(t, open, 2)
	assert.NotEqual(t, open[0].SignalID, open[1].SignalID)

	_, err = d.RequestAnalysis(context.Background(), "s1", AnalysisOptions{})
	assert.True(t, signal.IsInvalidTransition(err))
}

func TestDesk_EngineFailureKeepsSignalPending(t *testing.T) {
	eng := engineFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		return engine.Result{}, &engine.UnavailableError{Reason: engine.ReasonEngineError, Detail: "data source offline"}
	})
	d := newTestDesk(t, eng, mode.Auto, nil)
	surface(t, d, "s1")

	out, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.Error(t, err)
	assert.True(t, engine.IsUnavailable(err))
	assert.Equal(t, signal.StatePending, out.Signal.State)
	assert.Nil(t, out.Signal.Decision)
	assert.Contains(t, out.Signal.LastError, "data source offline")
	assert.Empty(t, d.Positions(""))

	_, ok, err := d.Decision("s1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDesk_AggregationErrorProducesNoDecision(t *testing.T) {
	eng := engineFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		res := votes(decision.SignalBuy, decision.SignalBuy)
		return res, nil
	})
	d := newTestDesk(t, eng, mode.Manual, nil)
	surface(t, d, "s1")

	out, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.Error(t, err)
	assert.True(t, decision.IsAggregationError(err))
	assert.Equal(t, signal.StatePending, out.Signal.State)
	assert.Nil(t, out.Signal.Decision)
}

func TestDesk_StaleResultIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	eng := engineFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return votes(decision.SignalBuy, decision.SignalBuy, decision.SignalBuy), nil
		}
		return votes(decision.SignalSell, decision.SignalSell, decision.SignalSell), nil
	})
	d := newTestDesk(t, eng, mode.Manual, nil)
	surface(t, d, "s1")

	first, err := d.RequestAnalysis(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	<-started

	second, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, decision.ActionSell, second.Signal.Decision.FinalAction)

	close(release)
	stale := <-first.Done
	assert.ErrorIs(t, stale.Err, ErrSuperseded)

	sig, err := d.Signal("s1")
	require.NoError(t, err)
	require.NotNil(t, sig.Decision)
	assert.Equal(t, decision.ActionSell, sig.Decision.FinalAction)
	assert.Equal(t, second.Seq, sig.AnalysisSeq)
}

func TestDesk_TimedOutWaiterDoesNotCancelNewerRequest(t *testing.T) {
	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	var calls atomic.Int32
	eng := engineFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-releaseFirst
			return votes(decision.SignalBuy, decision.SignalBuy, decision.SignalBuy), nil
		}
		close(secondStarted)
		<-releaseSecond
		return votes(decision.SignalSell, decision.SignalSell, decision.SignalSell), nil
	})
	d := newTestDesk(t, eng, mode.Manual, nil)
	defer close(releaseFirst)
	surface(t, d, "s1")

	waitCtx, stopWaiting := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.AnalyzeAndWait(waitCtx, "s1", AnalysisOptions{})
		firstErr <- err
	}()
	<-firstStarted

	second, err := d.RequestAnalysis(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	<-secondStarted

	stopWaiting()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(releaseSecond)
	out := <-second.Done
	require.NoError(t, out.Err)
	require.NotNil(t, out.Signal.Decision)
	assert.Equal(t, decision.ActionSell, out.Signal.Decision.FinalAction)
	assert.Equal(t, second.Seq, out.Signal.AnalysisSeq)
	assert.Equal(t, signal.StateAnalyzed, out.Signal.State)
}

func TestDesk_CancelAnalysis(t *testing.T) {
	started := make(chan struct{})
	eng := engineFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		close(started)
		<-ctx.Done()
		return engine.Result{}, &engine.UnavailableError{Reason: engine.ReasonCanceled, Cause: ctx.Err()}
	})
	d := newTestDesk(t, eng, mode.Auto, nil)
	surface(t, d, "s1")
	sub, unsubscribe := d.Subscribe(16)
	defer unsubscribe()

	ticket, err := d.RequestAnalysis(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	<-started
	require.NoError(t, d.CancelAnalysis(context.Background(), "s1"))

	out := <-ticket.Done
	assert.ErrorIs(t, out.Err, ErrAnalysisCanceled)
	assert.Equal(t, signal.StatePending, out.Signal.State)
	assert.Empty(t, out.Signal.LastError)

	var types []NoticeType
	for len(sub) > 0 {
		n := <-sub
		types = append(types, n.Type)
	}
	assert.Equal(t, []NoticeType{NoticeAnalysisRequested, NoticeAnalysisCanceled}, types)
}

func TestDesk_ModeSwitchIsNotRetroactive(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalHold), mode.Manual, nil)
	surface(t, d, "s1")
	_, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)

	require.NoError(t, d.SetMode(context.Background(), mode.Auto))
	assert.Equal(t, mode.Auto, d.Mode())

	sig, err := d.Signal("s1")
	require.NoError(t, err)
	assert.Equal(t, signal.StateAnalyzed, sig.State)
	assert.Empty(t, d.Positions(""))

	assert.Error(t, d.SetMode(context.Background(), mode.Mode("turbo")))
}

func TestDesk_ClosePositionFeedsRisk(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalSell), mode.Auto, nil)
	surface(t, d, "s1")
	out, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	require.NotNil(t, out.Position)

	snap := d.Risk()
	assert.Equal(t, 1, snap.OpenCount)
	assert.InDelta(t, 0.05, snap.Exposure, 1e-12)
	assert.Equal(t, 0.0, snap.WinRate)

	closed, err := d.ClosePosition(context.Background(), out.Position.ID, position.CloseRequest{Price: 1.1100, Reason: "take_profit"})
	require.NoError(t, err)
	assert.Equal(t, position.StatusClosed, closed.Status)
	assert.InDelta(t, 0.001, closed.PnL, 1e-9)

	snap = d.Risk()
	assert.Equal(t, 1.0, snap.WinRate)
	assert.Equal(t, 0.0, snap.Exposure)
	assert.Len(t, d.Positions(position.StatusClosed), 1)

	_, err = d.ClosePosition(context.Background(), out.Position.ID, position.CloseRequest{Price: 1.2})
	assert.ErrorIs(t, err, position.ErrAlreadyClosed)
}

func TestDesk_SurfaceValidation(t *testing.T) {
	d := newTestDesk(t, fixedEngine(), mode.Manual, nil)
	surface(t, d, "s1")

	_, err := d.Surface(context.Background(), signal.Proposal{ID: "s1", Pair: "EURUSD", Direction: "sell"})
	assert.ErrorIs(t, err, ErrDuplicateSignal)

	_, err = d.Surface(context.Background(), signal.Proposal{Pair: "EURUSD", Direction: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidProposal)

	auto, err := d.Surface(context.Background(), signal.Proposal{Pair: "gbp/usd", Direction: "short"})
	require.NoError(t, err)
	assert.NotEmpty(t, auto.ID)
	assert.Len(t, d.Signals(), 2)
}

func TestDesk_DecisionAgentFilter(t *testing.T) {
	d := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalSell), mode.Manual, nil)
	surface(t, d, "s1")
	_, err := d.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)

	full, ok, err := d.Decision("s1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, full.Agents, 3)

	only, ok, err := d.Decision("s1", decision.KindSwingTrader)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, only.Agents, 1)
	assert.Equal(t, decision.SignalSell, only.Agents[decision.KindSwingTrader].Signal)

	_, _, err = d.Decision("nope", "")
	assert.ErrorIs(t, err, ErrSignalNotFound)
}

func TestDesk_RecoverRestoresSignalsAndMode(t *testing.T) {
	store := newMemSignalStore()
	first := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalSell), mode.Manual, store)
	surface(t, first, "s1")
	surface(t, first, "s2")
	_, err := first.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	_, err = first.Reject(context.Background(), "s1", "not today")
	require.NoError(t, err)
	require.NoError(t, first.SetMode(context.Background(), mode.Auto))
	first.Stop()

	second, err := New(Deps{
		Engine:     fixedEngine(),
		Aggregator: decision.MajorityAggregator{},
		Positions:  position.NewManager(nil, 0),
		Signals:    store,
	}, Options{Mode: mode.Manual})
	require.NoError(t, err)
	require.NoError(t, second.Recover(context.Background()))

	snap := second.Snapshot()
	assert.Equal(t, mode.Auto, snap.Mode)
	require.Len(t, snap.Signals, 1)
	assert.Equal(t, "s2", snap.Signals[0].ID)
}

type memPositionStore struct {
	list []position.Position
}

func (m *memPositionStore) SavePosition(ctx context.Context, p position.Position) error {
	m.list = append(m.list, p)
	return nil
}

func (m *memPositionStore) ListPositions(ctx context.Context) ([]position.Position, error) {
	return append([]position.Position(nil), m.list...), nil
}

func TestDesk_RecoverRetiresSignalWithOpenedPosition(t *testing.T) {
	signals := newMemSignalStore()
	first := newTestDesk(t, fixedEngine(decision.SignalBuy, decision.SignalBuy, decision.SignalSell), mode.Manual, signals)
	surface(t, first, "s1")
	analyzed, err := first.AnalyzeAndWait(context.Background(), "s1", AnalysisOptions{})
	require.NoError(t, err)
	first.Stop()
	require.Equal(t, signal.StateAnalyzed, signals.signals["s1"].State)

	// 持仓已写入但信号仍是 analyzed，模拟开仓后进程退出。
	approved := analyzed.Signal.Clone()
	require.NoError(t, approved.Approve(signal.ByManual, testNow))
	positions := &memPositionStore{}
	opener := position.NewManager(positions, 0)
	pos, err := opener.Open(context.Background(), approved)
	require.NoError(t, err)

	second, err := New(Deps{
		Engine:     fixedEngine(),
		Aggregator: decision.MajorityAggregator{},
		Positions:  position.NewManager(positions, 0),
		Signals:    signals,
	}, Options{Mode: mode.Manual})
	require.NoError(t, err)
	require.NoError(t, second.Recover(context.Background()))
	second.Start()
	t.Cleanup(second.Stop)

	assert.Empty(t, second.Signals())
	got, err := second.Signal("s1")
	require.NoError(t, err)
	assert.Equal(t, signal.StateApproved, got.State)
	assert.Equal(t, signal.ByRecovery, got.DisposedBy)
	assert.Equal(t, signal.StateApproved, signals.signals["s1"].State)

	_, _, err = second.Approve(context.Background(), "s1")
	assert.True(t, signal.IsInvalidTransition(err))
	open := second.Positions(position.StatusOpen)
	require.Len(t, open, 1)
	assert.Equal(t, pos.ID, open[0].ID)
}

func TestDesk_StoppedRejectsCommands(t *testing.T) {
	d := newTestDesk(t, fixedEngine(), mode.Manual, nil)
	d.Stop()
	_, err := d.Surface(context.Background(), signal.Proposal{Pair: "EURUSD", Direction: "buy"})
	assert.True(t, errors.Is(err, ErrStopped))
}
