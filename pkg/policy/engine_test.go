package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const denySortModule = `package rpc

default decision := {"allow": true}

decision := {"allow": false, "reason": "sort is disabled"} if {
	input.method == "sort"
}

decision := {"allow": false, "reason": "root degree too large"} if {
	input.method == "nroot"
	input.params[0] > 10
}
`

func newTestEngine(t *testing.T, src string) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"rpc.rego": src},
	})
	require.NoError(t, err)
	return engine
}

func TestEngineAuthorize(t *testing.T) {
	engine := newTestEngine(t, denySortModule)
	ctx := context.Background()

	tests := []struct {
		name       string
		input      Input
		wantAllow  bool
		wantReason string
	}{
		{name: "allowed method", input: Input{Method: "floor", Params: []any{3.7}}, wantAllow: true},
		{name: "denied method", input: Input{Method: "sort", Params: []any{[]any{"b", "a"}}}, wantAllow: false, wantReason: "sort is disabled"},
		{name: "param rule allows", input: Input{Method: "nroot", Params: []any{json.Number("2"), json.Number("9")}}, wantAllow: true},
		{name: "param rule denies", input: Input{Method: "nroot", Params: []any{json.Number("11"), json.Number("9")}}, wantAllow: false, wantReason: "root degree too large"},
		{name: "nil params", input: Input{Method: "reverse"}, wantAllow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Authorize(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, decision.Allow)
			assert.Equal(t, tt.wantReason, decision.Reason)
		})
	}
}

func TestEngineUndefinedDecisionAllows(t *testing.T) {
	engine := newTestEngine(t, `package rpc

decision := false if {
	input.method == "never"
}
`)

	decision, err := engine.Authorize(context.Background(), Input{Method: "floor"})
	require.NoError(t, err)
	assert.True(t, decision.Allow)

	decision, err = engine.Authorize(context.Background(), Input{Method: "never"})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
}

func TestEngineRejectsBadModules(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{})
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), EngineOptions{Modules: map[string]string{"bad.rego": "package"}})
	assert.ErrorContains(t, err, "parse rego module")
}

func TestEngineRejectsMalformedDecision(t *testing.T) {
	engine := newTestEngine(t, `package rpc

decision := "yes"
`)
	_, err := engine.Authorize(context.Background(), Input{Method: "floor"})
	assert.Error(t, err)
}

func TestLoadEngineFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rpc.rego"), []byte(denySortModule), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	engine, err := LoadEngine(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultEntrypoint, engine.Entrypoint())

	decision, err := engine.Authorize(context.Background(), Input{Method: "sort"})
	require.NoError(t, err)
	assert.False(t, decision.Allow)

	_, err = LoadEngine(context.Background(), t.TempDir(), "")
	assert.ErrorContains(t, err, "no rego modules")

	_, err = LoadEngine(context.Background(), filepath.Join(dir, "missing.rego"), "")
	assert.Error(t, err)
}

func TestGateSwap(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(nil)

	decision, err := gate.Authorize(ctx, Input{Method: "sort"})
	require.NoError(t, err)
	assert.True(t, decision.Allow, "empty gate allows")

	engine := newTestEngine(t, denySortModule)
	assert.Nil(t, gate.Swap(engine))
	assert.Same(t, engine, gate.Engine())

	decision, err = gate.Authorize(ctx, Input{Method: "sort"})
	require.NoError(t, err)
	assert.False(t, decision.Allow)

	decision, err = AllowAll{}.Authorize(ctx, Input{Method: "sort"})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}
