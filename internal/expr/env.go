package expr

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Environment builds and compiles CEL predicates evaluated against asset load
// requests before they reach the decoder.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to validator expressions:
// the request path, the asset type token, and the candidate file's size in
// bytes. The ext helper returns a path's lowercased extension including the
// dot, so `ext(path) == ".png"` reads naturally in predicates.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Function("ext",
			cel.Overload("ext_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(pathExtension),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL predicate that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the predicate for execution, ensuring the expression
// yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return Program{}, fmt.Errorf("expr: empty expression")
	}
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", source, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Program{}, fmt.Errorf("expr: %q must yield a boolean, got %s", source, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", source, err)
	}
	return Program{source: source, program: program}, nil
}

// Eval executes the predicate against one load request.
func (p Program) Eval(path, assetType string, sizeBytes int64) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(map[string]any{
		"path": path,
		"type": assetType,
		"size": sizeBytes,
	})
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	if b, ok := val.(types.Bool); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

func pathExtension(value ref.Val) ref.Val {
	path, ok := value.Value().(string)
	if !ok {
		return types.NewErr("ext: expected string argument")
	}
	return types.String(strings.ToLower(filepath.Ext(path)))
}
