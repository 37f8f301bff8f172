package roster

import (
	"os"
	"path/filepath"
	"testing"

	"fxdesk/internal/decision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rosterYAML = `
agents:
  swing_trader:
    order: 3
    horizon: days
  scalper:
    order: 1
    horizon: minutes
    description: tick scalping
  day_trader:
    order: 2
    horizon: hours
  position_trader:
    order: 4
    disabled: true
  carry:
    order: 5
    schema:
      type: object
      required: [signal, confidence_score, carry_bps]
      properties:
        carry_bps:
          type: number
`

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistry_LoadsOrderedEnabledAgents(t *testing.T) {
	reg, err := NewRegistry(writeRoster(t, rosterYAML))
	require.NoError(t, err)

	assert.Equal(t, []decision.AgentKind{"scalper", "day_trader", "swing_trader", "carry"}, reg.Kinds())
	a, ok := reg.Agent(decision.KindScalper)
	require.True(t, ok)
	assert.Equal(t, "tick scalping", a.Description)
	_, ok = reg.Agent(decision.KindPositionTrader)
	assert.False(t, ok)
	assert.Equal(t, int64(1), reg.Snapshot().Version)
}

func TestRegistry_ValidateUsesPerKindSchema(t *testing.T) {
	reg, err := NewRegistry(writeRoster(t, rosterYAML))
	require.NoError(t, err)

	ok := map[string]any{"signal": "BUY", "confidence_score": "0.7", "entry_price": "1.0850"}
	assert.NoError(t, reg.Validate(decision.KindScalper, ok))

	assert.Error(t, reg.Validate(decision.KindScalper, map[string]any{"signal": "UP", "confidence_score": 0.4}))
	assert.Error(t, reg.Validate(decision.KindScalper, map[string]any{"signal": "BUY"}))
	assert.Error(t, reg.Validate("carry", map[string]any{"signal": "BUY", "confidence_score": 0.4}))
	assert.NoError(t, reg.Validate("carry", map[string]any{"signal": "BUY", "confidence_score": 0.4, "carry_bps": 12}))
	assert.Error(t, reg.Validate("unknown", ok))
}

func TestRegistry_RejectsUnknownFields(t *testing.T) {
	_, err := NewRegistry(writeRoster(t, "agents:\n  scalper:\n    weight: 2\n"))
	assert.Error(t, err)
}

func TestNewStatic_DefaultKinds(t *testing.T) {
	reg, err := NewStatic()
	require.NoError(t, err)
	assert.Equal(t, decision.DefaultKinds, reg.Kinds())
	assert.NoError(t, reg.Validate(decision.KindDayTrader, map[string]any{"signal": "hold", "confidence_score": 55}))
}

func TestSanitize(t *testing.T) {
	got := Sanitize(map[string]any{"a": " 1.5 ", "b": []any{"70%", "x"}, "c": true})
	assert.Equal(t, map[string]any{"a": 1.5, "b": []any{70.0, "x"}, "c": true}, got)
}
