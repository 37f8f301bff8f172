package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastObject(t *testing.T) {
	raw := "loading models {not json}\n{\n  \"success\": true,\n  \"data\": {\"note\": \"brace } in string\"}\n}\ndone"
	got, ok := LastObject(raw)
	assert.True(t, ok)
	assert.Contains(t, got, `"success": true`)
	assert.Contains(t, got, "brace } in string")

	_, ok = LastObject("no envelope here")
	assert.False(t, ok)

	got, ok = LastObject(`{"a":1} trailing {"b":2}`)
	assert.True(t, ok)
	assert.Equal(t, `{"b":2}`, got)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"pair\": \"EURUSD\"\n}", Pretty(`{"pair":"EURUSD"}`))
	assert.Equal(t, "not json", Pretty(" not json "))
}
