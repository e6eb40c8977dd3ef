// Package registry maps operation names to typed, pure implementations.
//
// A Registry is built once from a fixed list of operations and never
// mutated afterwards. Invoke validates arity and argument types at the
// boundary and reports mismatches as domain.ErrInvalidArgument; unknown
// names are reported as domain.ErrNotFound.
package registry
