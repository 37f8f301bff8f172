package gormstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	st, err := NewGormStore(filepath.Join(t.TempDir(), "data", "fxdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGormStore_SignalRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	pending := signal.TradeSignal{ID: "s1", Pair: "EURUSD", Direction: signal.DirectionBuy, EntryPrice: 1.1,
		StopLoss: 1.09, TakeProfit: 1.12, RiskReward: 2, Source: signal.SourceFeed, State: signal.StatePending, CreatedAt: created}
	require.NoError(t, st.SaveSignal(ctx, pending))

	analyzed := pending
	analyzed.ID = "s2"
	analyzed.CreatedAt = created.Add(time.Hour)
	analyzed.State = signal.StateAnalyzed
	analyzed.AnalysisSeq = 7
	analyzed.AnalyzedAt = created.Add(2 * time.Hour)
	analyzed.Decision = &decision.ConsensusDecision{
		FinalAction: decision.ActionBuy,
		Pair:        "EURUSD",
		Confidence:  0.6,
		Prices:      &decision.PriceLevels{Entry: 1.1, StopLoss: 1.09, TakeProfit: 1.12},
		LeadAgent:   decision.KindScalper,
		Votes:       map[decision.Signal]int{decision.SignalBuy: 2, decision.SignalSell: 1},
		Agents: map[decision.AgentKind]decision.AgentAnalysis{
			decision.KindScalper: {Kind: decision.KindScalper, Signal: decision.SignalBuy, Confidence: 0.8},
		},
	}
	require.NoError(t, st.SaveSignal(ctx, analyzed))

	rejected := pending
	rejected.ID = "s3"
	rejected.State = signal.StateRejected
	rejected.DisposedBy = signal.ByManual
	require.NoError(t, st.SaveSignal(ctx, rejected))

	active, err := st.ListActiveSignals(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "s2", active[0].ID)
	assert.Equal(t, "s1", active[1].ID)
	require.NotNil(t, active[0].Decision)
	assert.Equal(t, decision.ActionBuy, active[0].Decision.FinalAction)
	assert.Equal(t, 2, active[0].Decision.Votes[decision.SignalBuy])
	assert.Equal(t, uint64(7), active[0].AnalysisSeq)
	assert.Nil(t, active[1].Decision)
	assert.True(t, active[1].CreatedAt.Equal(created))

	// upsert 覆盖状态
	pending.State = signal.StateRejected
	require.NoError(t, st.SaveSignal(ctx, pending))
	active, err = st.ListActiveSignals(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	got, ok, err := st.GetSignal(ctx, "s3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, signal.ByManual, got.DisposedBy)
	_, ok, err = st.GetSignal(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_PositionsFeedManager(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mgr := position.NewManager(st, 0)
	sig := signal.TradeSignal{ID: "s1", Pair: "GBPUSD", Direction: signal.DirectionSell, EntryPrice: 1.27,
		StopLoss: 1.28, TakeProfit: 1.25, State: signal.StateApproved, DisposedAt: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)}
	opened, err := mgr.Open(ctx, sig)
	require.NoError(t, err)
	_, err = mgr.Close(ctx, opened.ID, position.CloseRequest{Price: 1.26, Reason: "tp", At: time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	reloaded := position.NewManager(st, 0)
	require.NoError(t, reloaded.Load(ctx))
	got, ok := reloaded.Get(opened.ID)
	require.True(t, ok)
	assert.Equal(t, position.StatusClosed, got.Status)
	assert.Equal(t, signal.DirectionSell, got.Direction)
	assert.InDelta(t, 0.001, got.PnL, 1e-9)
	require.NotNil(t, got.CloseTime)
	assert.Equal(t, "tp", got.CloseReason)

	_, err = reloaded.Open(ctx, sig)
	assert.ErrorIs(t, err, position.ErrAlreadyOpened)
}

func TestGormStore_Settings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.LoadSetting(ctx, "desk.mode")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SaveSetting(ctx, "desk.mode", "auto"))
	require.NoError(t, st.SaveSetting(ctx, "desk.mode", "manual"))
	v, ok, err := st.LoadSetting(ctx, "desk.mode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "manual", v)
}

func TestEventLog_AppendAndLoad(t *testing.T) {
	st := newTestStore(t)
	log := NewEventLog(st)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	payload, _ := json.Marshal(desk.DispositionPayload{SignalID: "s1", By: signal.ByAuto})
	require.NoError(t, log.Append(desk.EventEnvelope{ID: "e1", Type: desk.EvtSignalSurfaced, SignalID: "s1", Payload: []byte(`{}`), CreatedAt: base}))
	require.NoError(t, log.Append(desk.EventEnvelope{ID: "e2", Type: desk.EvtSignalApproved, SignalID: "s1", Payload: payload, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, log.Append(desk.EventEnvelope{ID: "e3", Type: desk.EvtModeChanged, Payload: []byte(`{"mode":"auto"}`), CreatedAt: base.Add(2 * time.Second)}))

	events, err := log.Load(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, desk.EvtSignalApproved, events[1].Type)
	assert.JSONEq(t, string(payload), string(events[1].Payload))

	all, err := log.Load(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.NoError(t, log.Close())
}
