package registry

import "github.com/polisai/polis-rpc/pkg/ops"

// Float64 bounds of the int64 range. maxInt64Float is 2^63 and is itself out of range.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// integral returns f as an int64 when it fits. Larger magnitudes stay
// float64, which JSON still encodes as a number without a fraction.
func integral(f float64) any {
	if f >= minInt64Float && f < maxInt64Float {
		return int64(f)
	}
	return f
}

// Builtins returns the operations served by default.
//
// sort receives the caller's slice when invoked in process with a []string
// and sorts it in place. Over the wire the array is decoded fresh for every
// request, so there is no caller-visible aliasing.
func Builtins() []Operation {
	return []Operation{
		{
			Name:   "floor",
			Params: []Param{{Name: "x", Type: TypeReal}},
			Result: TypeInteger,
			Fn: func(args []any) (any, error) {
				v, err := ops.Floor(args[0].(float64))
				if err != nil {
					return nil, err
				}
				return integral(v), nil
			},
		},
		{
			Name:   "nroot",
			Params: []Param{{Name: "n", Type: TypeInteger}, {Name: "x", Type: TypeReal}},
			Result: TypeReal,
			Fn: func(args []any) (any, error) {
				v, err := ops.NRoot(args[0].(int), args[1].(float64))
				if err != nil {
					return nil, err
				}
				return v, nil
			},
		},
		{
			Name:   "reverse",
			Params: []Param{{Name: "s", Type: TypeString}},
			Result: TypeString,
			Fn: func(args []any) (any, error) {
				return ops.Reverse(args[0].(string)), nil
			},
		},
		{
			Name:   "validAnagram",
			Params: []Param{{Name: "s1", Type: TypeString}, {Name: "s2", Type: TypeString}},
			Result: TypeBool,
			Fn: func(args []any) (any, error) {
				return ops.ValidAnagram(args[0].(string), args[1].(string)), nil
			},
		},
		{
			Name:   "sort",
			Params: []Param{{Name: "strArr", Type: TypeStringList}},
			Result: TypeStringList,
			Fn: func(args []any) (any, error) {
				return ops.Sort(args[0].([]string)), nil
			},
		},
	}
}
