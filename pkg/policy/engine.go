package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the default policy decision path (e.g. "rpc/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
}

// Engine evaluates call authorization using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	queries       map[string]*rego.PreparedEvalQuery
	mu            sync.RWMutex
}

// DefaultEntrypoint is the decision path used when none is configured.
const DefaultEntrypoint = "rpc/decision"

// NewEngine parses and compiles the supplied modules.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = DefaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(opts.Modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	// Warm the default entrypoint to surface compile errors early.
	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// LoadEngine reads Rego modules from path, which is either a single file or
// a directory whose *.rego files are all loaded.
func LoadEngine(ctx context.Context, path, entrypoint string) (*Engine, error) {
	modules, err := LoadModules(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(ctx, EngineOptions{Entrypoint: entrypoint, Modules: modules})
}

// LoadModules reads Rego sources keyed by file name.
func LoadModules(path string) (map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("list policy modules: %w", err)
		}
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read policy module %s: %w", file, err)
		}
		modules[filepath.Base(file)] = string(data)
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no rego modules found in %s", path)
	}
	return modules, nil
}

// Entrypoint returns the decision path evaluated by Authorize.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

// Authorize evaluates the entrypoint with the call as input. An undefined
// decision allows the call. The decision document is either a boolean or an
// object of the form {"allow": bool, "reason": string}.
func (e *Engine) Authorize(ctx context.Context, input Input) (Decision, error) {
	prepared, err := e.getPreparedQuery(ctx, e.entrypoint)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	params := input.Params
	if params == nil {
		params = []any{}
	}
	payload := map[string]any{
		"method":      input.Method,
		"params":      params,
		"param_types": append([]string{}, input.ParamTypes...),
		"conn_id":     input.ConnID,
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	return parseDecision(results[0].Expressions[0].Value)
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}

func parseDecision(value any) (Decision, error) {
	switch typed := value.(type) {
	case bool:
		return Decision{Allow: typed}, nil
	case map[string]any:
		allow := true
		if raw, ok := typed["allow"]; ok {
			b, ok := raw.(bool)
			if !ok {
				return Decision{}, fmt.Errorf("opa decision: allow must be bool, got %T", raw)
			}
			allow = b
		}
		reason, _ := typed["reason"].(string)
		return Decision{Allow: allow, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}
