package policy

import (
	"context"
	"sync/atomic"
)

// Decision captures the result of authorizing a call.
type Decision struct {
	Allow  bool
	Reason string
}

// Input provides context for policy evaluation.
type Input struct {
	Method     string
	Params     []any
	ParamTypes []string
	ConnID     string
}

// Authorizer decides whether a call may proceed.
type Authorizer interface {
	Authorize(ctx context.Context, input Input) (Decision, error)
}

// AllowAll is an Authorizer that permits every call.
type AllowAll struct{}

// Authorize always allows.
func (AllowAll) Authorize(context.Context, Input) (Decision, error) {
	return Decision{Allow: true}, nil
}

// Gate is an Authorizer whose backing engine can be swapped at runtime when
// the policy file is reloaded. A Gate without an engine allows every call.
type Gate struct {
	engine atomic.Pointer[Engine]
}

// NewGate returns a gate backed by engine, which may be nil.
func NewGate(engine *Engine) *Gate {
	g := &Gate{}
	g.Swap(engine)
	return g
}

// Swap installs engine and returns the previous one.
func (g *Gate) Swap(engine *Engine) *Engine {
	return g.engine.Swap(engine)
}

// Engine returns the active engine, or nil.
func (g *Gate) Engine() *Engine {
	return g.engine.Load()
}

// Authorize evaluates input against the active engine.
func (g *Gate) Authorize(ctx context.Context, input Input) (Decision, error) {
	engine := g.engine.Load()
	if engine == nil {
		return Decision{Allow: true}, nil
	}
	return engine.Authorize(ctx, input)
}
