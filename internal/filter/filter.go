// Package filter selects assets with CEL expressions such as
//
//	asset.split == "training" && asset.size < 50000000
//
// The variable asset is a map with the keys path, name, split, kind and size.
package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter is a compiled asset filter. The zero value is not usable; a nil
// *Filter matches everything.
type Filter struct {
	expr string
	prg  cel.Program
}

// Attributes are the asset properties visible to a filter expression.
type Attributes struct {
	Path  string
	Name  string
	Split string
	Kind  string
	Size  int64
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("asset", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Compile parses and type-checks expr. An empty expr yields a nil Filter.
func Compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("invalid filter %q: result type is %v, want bool", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the filter for a. A nil filter matches every asset.
func (f *Filter) Match(a Attributes) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"asset": map[string]any{
			"path":  a.Path,
			"name":  a.Name,
			"split": a.Split,
			"kind":  a.Kind,
			"size":  a.Size,
		},
	})
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q: result %v is not a bool", f.expr, out.Value())
	}
	return b, nil
}
