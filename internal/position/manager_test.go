package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SavePosition(ctx context.Context, p Position) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockStore) ListPositions(ctx context.Context) ([]Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Position), args.Error(1)
}

var approvedAt = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func approvedSignal(id string, d *decision.ConsensusDecision) signal.TradeSignal {
	return signal.TradeSignal{
		ID:         id,
		Pair:       "GBPUSD",
		Direction:  signal.DirectionBuy,
		EntryPrice: 1.2700,
		StopLoss:   1.2650,
		TakeProfit: 1.2800,
		Confidence: 0.5,
		State:      signal.StateApproved,
		Decision:   d,
		DisposedAt: approvedAt,
	}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return "pos-" + string(rune('0'+n))
	}
}

func TestManager_OpenCopiesDecision(t *testing.T) {
	store := new(MockStore)
	store.On("SavePosition", mock.Anything, mock.AnythingOfType("Position")).Return(nil)
	m := NewManager(store, 0)
	m.newID = seqIDs()

	d := &decision.ConsensusDecision{
		FinalAction: decision.ActionSell,
		Pair:        "GBPUSD",
		Confidence:  0.66,
		Prices:      &decision.PriceLevels{Entry: 1.2710, StopLoss: 1.2760, TakeProfit: 1.2610},
	}
	p, err := m.Open(context.Background(), approvedSignal("sig-a", d))
	require.NoError(t, err)
	assert.Equal(t, "pos-1", p.ID)
	assert.Equal(t, signal.DirectionSell, p.Direction)
	assert.Equal(t, 1.2710, p.EntryPrice)
	assert.Equal(t, 1.2760, p.StopLoss)
	assert.Equal(t, 1.2610, p.TakeProfit)
	assert.Equal(t, DefaultSize, p.Size)
	assert.Equal(t, approvedAt, p.OpenTime)
	assert.Equal(t, StatusOpen, p.Status)
	assert.Zero(t, p.PnL)
	assert.Equal(t, 0.66, p.Confidence)
	store.AssertNumberOfCalls(t, "SavePosition", 1)
}

func TestManager_OpenFallsBackToSignalValues(t *testing.T) {
	m := NewManager(nil, 0.25)
	m.newID = seqIDs()
	noTrade := &decision.ConsensusDecision{FinalAction: decision.ActionNoTrade, Confidence: 0.3}

	p, err := m.Open(context.Background(), approvedSignal("sig-b", noTrade))
	require.NoError(t, err)
	assert.Equal(t, signal.DirectionBuy, p.Direction)
	assert.Equal(t, 1.2700, p.EntryPrice)
	assert.Equal(t, 0.25, p.Size)

	p2, err := m.Open(context.Background(), approvedSignal("sig-c", nil))
	require.NoError(t, err)
	assert.Equal(t, 1.2650, p2.StopLoss)
	assert.Equal(t, []string{p2.ID, p.ID}, ids(m.List("")), "most recent first")
}

func TestManager_OpenGuards(t *testing.T) {
	m := NewManager(nil, 0)
	sig := approvedSignal("sig-d", nil)

	pending := sig
	pending.State = signal.StateAnalyzed
	_, err := m.Open(context.Background(), pending)
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = m.Open(context.Background(), sig)
	require.NoError(t, err)
	_, err = m.Open(context.Background(), sig)
	assert.ErrorIs(t, err, ErrAlreadyOpened)
	assert.Equal(t, 1, m.Len())
}

func TestManager_OpenPersistFailureLeavesSetUnchanged(t *testing.T) {
	store := new(MockStore)
	store.On("SavePosition", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	m := NewManager(store, 0)

	_, err := m.Open(context.Background(), approvedSignal("sig-e", nil))
	assert.Error(t, err)
	assert.Zero(t, m.Len())
}

func TestManager_Close(t *testing.T) {
	m := NewManager(nil, 0)
	m.newID = seqIDs()
	buy, err := m.Open(context.Background(), approvedSignal("sig-f", nil))
	require.NoError(t, err)
	sellSig := approvedSignal("sig-g", &decision.ConsensusDecision{FinalAction: decision.ActionSell})
	sell, err := m.Open(context.Background(), sellSig)
	require.NoError(t, err)

	closedAt := approvedAt.Add(time.Hour)
	got, err := m.Close(context.Background(), buy.ID, CloseRequest{Price: 1.2800, Reason: "take_profit", At: closedAt})
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	assert.InDelta(t, 0.001, got.PnL, 1e-9)
	assert.Equal(t, closedAt, *got.CloseTime)

	pnl := -0.0004
	got, err = m.Close(context.Background(), sell.ID, CloseRequest{PnL: &pnl, At: closedAt.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, -0.0004, got.PnL)

	_, err = m.Close(context.Background(), buy.ID, CloseRequest{Price: 1.3})
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = m.Close(context.Background(), "nope", CloseRequest{Price: 1.3})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, m.List(StatusOpen))
	assert.Equal(t, []string{sell.ID, buy.ID}, ids(m.List(StatusClosed)))
}

func TestManager_CloseRequiresPriceOrPnL(t *testing.T) {
	m := NewManager(nil, 0)
	p, err := m.Open(context.Background(), approvedSignal("sig-h", nil))
	require.NoError(t, err)
	_, err = m.Close(context.Background(), p.ID, CloseRequest{})
	assert.ErrorIs(t, err, ErrMissingClose)
	got, _ := m.Get(p.ID)
	assert.True(t, got.IsOpen())
}

func TestManager_Load(t *testing.T) {
	store := new(MockStore)
	older := Position{ID: "pos-old", SignalID: "s1", OpenTime: approvedAt, Status: StatusOpen}
	newer := Position{ID: "pos-new", SignalID: "s2", OpenTime: approvedAt.Add(time.Hour), Status: StatusOpen}
	store.On("ListPositions", mock.Anything).Return([]Position{older, newer}, nil)

	m := NewManager(store, 0)
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, []string{"pos-new", "pos-old"}, ids(m.List(StatusOpen)))

	_, err := m.Open(context.Background(), approvedSignal("s1", nil))
	assert.ErrorIs(t, err, ErrAlreadyOpened)
}

func TestComputePnL(t *testing.T) {
	assert.Equal(t, 0.05, ComputePnL(signal.DirectionBuy, 150.0, 150.5, 0.1))
	assert.Equal(t, -0.05, ComputePnL(signal.DirectionSell, 150.0, 150.5, 0.1))
}

func ids(list []Position) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}
