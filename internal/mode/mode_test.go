package mode

import (
	"testing"

	"fxdesk/internal/decision"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		mode   Mode
		action decision.Action
		want   Resolution
	}{
		{Manual, decision.ActionBuy, Await},
		{Manual, decision.ActionSell, Await},
		{Manual, decision.ActionNoTrade, Await},
		{Auto, decision.ActionBuy, Approve},
		{Auto, decision.ActionSell, Approve},
		{Auto, decision.ActionNoTrade, Reject},
		{"", decision.ActionBuy, Await},
	}
	for _, tc := range cases {
		got := Evaluate(tc.mode, decision.ConsensusDecision{FinalAction: tc.action})
		assert.Equal(t, tc.want, got, "mode=%s action=%s", tc.mode, tc.action)
		assert.Equal(t, got, Evaluate(tc.mode, decision.ConsensusDecision{FinalAction: tc.action}))
	}
}

func TestParse(t *testing.T) {
	m, err := Parse(" AUTO ")
	assert.NoError(t, err)
	assert.Equal(t, Auto, m)
	_, err = Parse("semi")
	assert.Error(t, err)
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "auto: consensus NO-TRADE (confidence 0.42)",
		RejectReason(decision.ConsensusDecision{FinalAction: decision.ActionNoTrade, Confidence: 0.42}))
}
