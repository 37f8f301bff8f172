package main

import (
	"testing"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/risk"
	sig "fxdesk/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSignalIncludesConsensus(t *testing.T) {
	s := sig.TradeSignal{
		ID:         "sig-1",
		Pair:       "EURUSD",
		Direction:  sig.DirectionBuy,
		EntryPrice: 1.085,
		State:      sig.StateAnalyzed,
		Decision: &decision.ConsensusDecision{
			FinalAction: decision.ActionBuy,
			Confidence:  0.72,
			LeadAgent:   decision.KindSwingTrader,
			Votes:       map[decision.Signal]int{decision.SignalBuy: 3, decision.SignalHold: 1},
			Agents: map[decision.AgentKind]decision.AgentAnalysis{
				decision.KindSwingTrader: {Kind: decision.KindSwingTrader, Signal: decision.SignalBuy, Confidence: 0.8},
			},
		},
	}
	out := renderSignal(s)
	assert.Contains(t, out, "EURUSD BUY")
	assert.Contains(t, out, "sig-1")
	assert.Contains(t, out, "BUY=3 SELL=0 HOLD=1")
	assert.Contains(t, out, "72%")
	assert.Contains(t, out, "swing_trader")
}

func TestRenderRiskAndPending(t *testing.T) {
	out := renderRisk(risk.Snapshot{
		WinRate:     0.5,
		TotalPnL:    12.5,
		TotalTrades: 4,
		Wins:        1,
		Losses:      1,
		ByPair:      []risk.PairExposure{{Pair: "GBPUSD", OpenCount: 2, Exposure: 0.1, Share: 1}},
	})
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "12.50")
	assert.Contains(t, out, "GBPUSD")

	pending := renderPending([]sig.TradeSignal{
		{ID: "a", Pair: "USDJPY", Direction: sig.DirectionSell, State: sig.StatePending},
		{ID: "b", Pair: "AUDUSD", Direction: sig.DirectionBuy, State: sig.StateRejected},
	})
	assert.Contains(t, pending, "USDJPY")
	assert.NotContains(t, pending, "AUDUSD")
	assert.Contains(t, renderPositions("持仓", nil), "无持仓")
}

func TestAnalysisOptions(t *testing.T) {
	opts, err := analysisOptions("deep", "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, engine.ModeDeep, opts.Mode)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), opts.Date)

	opts, err = analysisOptions("", "")
	require.NoError(t, err)
	assert.Empty(t, opts.Mode)
	assert.True(t, opts.Date.IsZero())

	_, err = analysisOptions("", "14/03/2025")
	require.Error(t, err)
	_, err = analysisOptions("turbo", "")
	require.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "analyze", "risk"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.Equal(t, "Skip - 保持待处置", choiceSkip)
	assert.Equal(t, choiceApprove, defaultChoice(decision.ActionSell))
	assert.Equal(t, choiceReject, defaultChoice(decision.ActionNoTrade))
}
