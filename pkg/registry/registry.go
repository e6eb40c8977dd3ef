package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/polisai/polis-rpc/pkg/domain"
)

// Registry is an immutable catalog of operations keyed by name. It is
// never written after New returns, so it is safe for concurrent use
// without locking.
type Registry struct {
	ops   map[string]Operation
	names []string
}

// New builds a registry from ops. Names must be non-empty and unique.
func New(ops ...Operation) (*Registry, error) {
	r := &Registry{
		ops:   make(map[string]Operation, len(ops)),
		names: make([]string, 0, len(ops)),
	}
	for _, op := range ops {
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("registry: operation name is required")
		}
		if op.Fn == nil {
			return nil, fmt.Errorf("registry: operation %s has no implementation", op.Name)
		}
		if _, exists := r.ops[op.Name]; exists {
			return nil, fmt.Errorf("registry: duplicate operation %s", op.Name)
		}
		op.Params = slices.Clone(op.Params)
		r.ops[op.Name] = op
		r.names = append(r.names, op.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Default returns the process-wide registry of builtin operations.
var Default = sync.OnceValue(func() *Registry {
	r, err := New(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
})

// Get resolves an operation by name. Lookup is case sensitive.
func (r *Registry) Get(name string) (Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return Operation{}, domain.NotFoundError(name)
	}
	return op, nil
}

// Invoke resolves name and applies the operation to args.
func (r *Registry) Invoke(name string, args ...any) (any, error) {
	op, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return op.Call(args...)
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// List returns a snapshot of all operations sorted by name.
func (r *Registry) List() []Operation {
	result := make([]Operation, 0, len(r.names))
	for _, name := range r.names {
		result = append(result, r.ops[name])
	}
	return result
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	return len(r.ops)
}
