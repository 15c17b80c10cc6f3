package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/assetflow/assetflow/internal/expr"
)

// Params carries transform configuration. Values are free-form; each transform
// documents the keys it reads.
type Params map[string]any

// Transform is one ordered processing step. Kind selects the implementation;
// unrecognized (kind, type) combinations are pass-through no-ops so manifests
// can declare steps this build does not implement yet.
type Transform struct {
	Kind   string
	Params Params
}

// Validator inspects a load request before any bytes are decoded. A nil return
// admits the request; an error rejects it with a reason.
type Validator func(path, assetType string) error

// TransformFunc rewrites raw asset bytes for one (kind, type) combination.
type TransformFunc func(data []byte, params Params) ([]byte, error)

// Result is one slot of a batch run. Exactly one of Data and Err is
// meaningful; Path always echoes the input so callers can correlate by index
// or by name.
type Result struct {
	Path string
	Data []byte
	Err  error
}

// Pipeline applies ordered transforms and validators to asset paths before
// they are handed to the decoder. Configuration (AddTransform, AddValidator)
// and execution (Validate, Process) may run on different goroutines.
type Pipeline struct {
	logger *slog.Logger
	celEnv *expr.Environment

	mu         sync.RWMutex
	transforms []Transform
	validators []Validator
	registry   map[transformKey]TransformFunc
}

type transformKey struct {
	kind      string
	assetType string
}

// anyType registers a transform for every asset type.
const anyType = "*"

// New constructs a pipeline with the built-in transform set registered.
func New(logger *slog.Logger) (*Pipeline, error) {
	celEnv, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{
		logger:   logger.With(slog.String("component", "pipeline")),
		celEnv:   celEnv,
		registry: make(map[transformKey]TransformFunc),
	}
	p.registry[transformKey{kind: "decompress", assetType: anyType}] = decompressZstd
	return p, nil
}

// AddTransform appends a processing step. Steps run left-to-right in
// registration order.
func (p *Pipeline) AddTransform(kind string, params Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transforms = append(p.transforms, Transform{Kind: kind, Params: params})
}

// Transforms returns a defensive copy of the registered steps.
func (p *Pipeline) Transforms() []Transform {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Transform, len(p.transforms))
	copy(out, p.transforms)
	return out
}

// RegisterTransform installs a custom TransformFunc for a (kind, type)
// combination. Passing "*" as assetType applies it to every type.
func (p *Pipeline) RegisterTransform(kind, assetType string, fn TransformFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[transformKey{kind: kind, assetType: assetType}] = fn
}

// AddValidator appends a predicate to the validation chain.
func (p *Pipeline) AddValidator(fn Validator) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validators = append(p.validators, fn)
}

// AddValidatorExpr compiles a CEL predicate over path, type and size and
// appends it to the validation chain. The expression must yield a boolean.
func (p *Pipeline) AddValidatorExpr(expression string) error {
	program, err := p.celEnv.Compile(expression)
	if err != nil {
		return fmt.Errorf("pipeline: validator: %w", err)
	}
	p.AddValidator(func(path, assetType string) error {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		ok, err := program.Eval(path, assetType, size)
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", program.Source(), err)
		}
		if !ok {
			return fmt.Errorf("rejected by %q", program.Source())
		}
		return nil
	})
	return nil
}

// Validate fails closed: the file must exist and every registered validator
// must admit the request, evaluated in registration order with short-circuit
// on the first rejection. A missing file surfaces the underlying fs error so
// callers can distinguish not-found from rejection.
func (p *Pipeline) Validate(path, assetType string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("pipeline: stat %s: %w", path, err)
	}

	p.mu.RLock()
	validators := make([]Validator, len(p.validators))
	copy(validators, p.validators)
	p.mu.RUnlock()

	for i, validate := range validators {
		if err := validate(path, assetType); err != nil {
			return fmt.Errorf("pipeline: validator %d rejected %s: %w", i, path, err)
		}
	}
	return nil
}

// Process reads the file and applies each transform in order. Steps with no
// registered implementation for the asset type pass the bytes through
// unchanged.
func (p *Pipeline) Process(path, assetType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	return p.apply(data, path, assetType)
}

// ProcessBytes applies the transform chain to bytes already in memory, used by
// the streamer once all chunks have arrived.
func (p *Pipeline) ProcessBytes(data []byte, path, assetType string) ([]byte, error) {
	return p.apply(data, path, assetType)
}

func (p *Pipeline) apply(data []byte, path, assetType string) ([]byte, error) {
	// Resolve every step's implementation while still holding the lock;
	// RegisterTransform may mutate the registry from another goroutine.
	p.mu.RLock()
	steps := make([]Transform, len(p.transforms))
	copy(steps, p.transforms)
	fns := make([]TransformFunc, len(steps))
	for i, step := range steps {
		fn, ok := p.registry[transformKey{kind: step.Kind, assetType: assetType}]
		if !ok {
			fn = p.registry[transformKey{kind: step.Kind, assetType: anyType}]
		}
		fns[i] = fn
	}
	p.mu.RUnlock()

	for i, step := range steps {
		fn := fns[i]
		if fn == nil {
			p.logger.Debug("transform pass-through",
				slog.String("kind", step.Kind),
				slog.String("type", assetType),
				slog.String("path", path))
			continue
		}
		transformed, err := fn(data, step.Params)
		if err != nil {
			return nil, fmt.Errorf("pipeline: transform %s on %s: %w", step.Kind, path, err)
		}
		data = transformed
	}
	return data, nil
}

// BatchProcess applies Process to each path independently. The result slice
// preserves input order and length; one slot per input, failures carried in
// the slot's Err so a single bad item never aborts the batch.
func (p *Pipeline) BatchProcess(paths []string, assetType string) []Result {
	results := make([]Result, len(paths))
	for i, path := range paths {
		results[i].Path = path
		if err := p.Validate(path, assetType); err != nil {
			results[i].Err = err
			continue
		}
		data, err := p.Process(path, assetType)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Data = data
	}
	return results
}

// decompressZstd inflates zstd-compressed asset bytes. Data without the zstd
// magic number passes through untouched so the step can sit in front of mixed
// asset sets.
func decompressZstd(data []byte, _ Params) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		return data, nil
	}
	reader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("zstd inflate: %w", err)
	}
	return out, nil
}
