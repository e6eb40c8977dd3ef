package registry

import (
	"errors"
	"strings"

	"github.com/polisai/polis-rpc/pkg/domain"
)

// Param describes one positional parameter of an operation.
type Param struct {
	Name string
	Type ParamType
}

// Func is the implementation of an operation. Its arguments have already
// been coerced to the Go types of the declared parameters.
type Func func(args []any) (any, error)

// Operation is a named, pure function with a fixed signature.
type Operation struct {
	Name   string
	Params []Param
	Result ParamType
	Fn     Func
}

// Arity returns the number of parameters the operation takes.
func (o Operation) Arity() int {
	return len(o.Params)
}

// Signature renders the operation as "name(p type, ...) result".
func (o Operation) Signature() string {
	var b strings.Builder
	b.WriteString(o.Name)
	b.WriteByte('(')
	for i, p := range o.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteByte(' ')
		b.WriteString(string(p.Type))
	}
	b.WriteString(") ")
	b.WriteString(string(o.Result))
	return b.String()
}

// CheckTypes validates client-declared parameter types against the
// signature. A nil or empty list means the client declared nothing.
func (o Operation) CheckTypes(declared []string) error {
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(o.Params) {
		return domain.InvalidArgumentf(o.Name, "expected %d param_types, got %d", len(o.Params), len(declared))
	}
	for i, p := range o.Params {
		if !p.Type.Accepts(declared[i]) {
			return domain.InvalidArgumentf(o.Name, "param %d (%s): declared type %q does not match %s", i, p.Name, declared[i], p.Type)
		}
	}
	return nil
}

// Call checks arity, coerces args, and applies the operation. Every failure
// is reported as an InvalidArgument error.
func (o Operation) Call(args ...any) (any, error) {
	if len(args) != len(o.Params) {
		return nil, domain.InvalidArgumentf(o.Name, "expected %d arguments, got %d", len(o.Params), len(args))
	}

	coerced := make([]any, len(args))
	for i, p := range o.Params {
		v, err := p.Type.Coerce(args[i])
		if err != nil {
			return nil, domain.InvalidArgumentf(o.Name, "param %d (%s): %v", i, p.Name, err)
		}
		coerced[i] = v
	}

	result, err := o.Fn(coerced)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.InvalidArgumentf(o.Name, "%v", err)
	}
	return result, nil
}
