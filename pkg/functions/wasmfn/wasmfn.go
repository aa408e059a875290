// Package wasmfn exposes the exported functions of a WebAssembly module as
// extension functions.
//
// Every exported function whose parameters and result are numbers becomes a
// function in the module's namespace: i32 and i64 map to xs:integer, f32
// and f64 to xs:double. A function without result returns the empty
// sequence. Exports using other value types are skipped.
package wasmfn

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Option configures a Module.
type Option func(*Module)

// WithPrivileged marks the functions of the module as privileged, so that
// the permission checker is consulted before every call.
func WithPrivileged(on bool) Option {
	return func(m *Module) { m.privileged = on }
}

// WithLogger sets the logger used to report skipped exports.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) { m.logger = l }
}

// Module is an instantiated WebAssembly module.
type Module struct {
	namespace  string
	prefix     string
	privileged bool
	logger     *slog.Logger

	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	// mu serializes calls into the instance.
	mu       sync.Mutex
	instance api.Module
}

// Load compiles and instantiates the module in wasm. Its functions are
// named in namespace with the given prefix.
func Load(ctx context.Context, namespace, prefix string, wasm []byte, opts ...Option) (*Module, error) {
	m := &Module{namespace: namespace, prefix: prefix, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	m.runtime = wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, m.runtime)

	compiled, err := m.runtime.CompileModule(ctx, wasm)
	if err != nil {
		m.runtime.Close(ctx)
		return nil, fmt.Errorf("can't compile Wasm module %s: %w", namespace, err)
	}
	inst, err := m.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(prefix))
	if err != nil {
		m.runtime.Close(ctx)
		return nil, fmt.Errorf("can't instantiate Wasm module %s: %w", namespace, err)
	}
	m.compiled, m.instance = compiled, inst
	return m, nil
}

// LoadFile is Load reading the module from a file.
func LoadFile(ctx context.Context, namespace, prefix, path string, opts ...Option) (*Module, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read Wasm module: %w", err)
	}
	return Load(ctx, namespace, prefix, buf, opts...)
}

// Close releases the runtime.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// Definitions returns a definition for every usable export, ordered by
// name.
func (m *Module) Definitions() []*functions.Definition {
	exports := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []*functions.Definition
	for _, name := range names {
		fd := exports[name]
		d, ok := m.define(name, fd)
		if !ok {
			m.logger.Debug("skipping Wasm export", "module", m.namespace, "function", name)
			continue
		}
		out = append(out, d)
	}
	return out
}

func (m *Module) define(name string, fd api.FunctionDefinition) (*functions.Definition, bool) {
	params := fd.ParamTypes()
	results := fd.ResultTypes()
	if len(results) > 1 {
		return nil, false
	}
	args := make([]types.SequenceType, len(params))
	for i, p := range params {
		t, ok := xdmType(p)
		if !ok {
			return nil, false
		}
		args[i] = types.NewSequenceType(t, types.ExactlyOne)
	}
	ret := types.NewSequenceType(types.EmptyType, types.EmptySequence)
	if len(results) == 1 {
		t, ok := xdmType(results[0])
		if !ok {
			return nil, false
		}
		ret = types.NewSequenceType(t, types.ExactlyOne)
	}
	return &functions.Definition{
		Signature: functions.Signature{
			Name:        types.NewQName(m.namespace, name, m.prefix),
			Args:        args,
			Return:      ret,
			Description: "WebAssembly export " + name,
			Privileged:  m.privileged,
		},
		Fn: m.caller(name, params, results),
	}, true
}

func xdmType(t api.ValueType) (types.Type, bool) {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64:
		return types.Integer, true
	case api.ValueTypeF32, api.ValueTypeF64:
		return types.Double, true
	}
	return 0, false
}

func (m *Module) caller(name string, params, results []api.ValueType) functions.Func {
	return func(ctx context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
		stack := make([]uint64, len(params))
		for i, p := range params {
			v, err := encode(p, args[i])
			if err != nil {
				return nil, err
			}
			stack[i] = v
		}
		m.mu.Lock()
		f := m.instance.ExportedFunction(name)
		out, err := f.Call(ctx, stack...)
		m.mu.Unlock()
		if err != nil {
			return nil, types.NewError(types.ErrUnidentified, "call to Wasm function "+name+" failed").WithCause(err)
		}
		if len(results) == 0 {
			return value.Empty, nil
		}
		return value.One(decode(results[0], out[0])), nil
	}
}

func encode(t api.ValueType, seq value.Sequence) (uint64, error) {
	n, ok := seq.ItemAt(0).(value.NumericValue)
	if !ok {
		return 0, types.Errorf(types.ErrType, "Wasm argument must be numeric, got %s", seq.ItemAt(0).Type())
	}
	iv, integral := n.(value.IntegerValue)
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64:
		if !integral {
			return 0, types.Errorf(types.ErrType, "Wasm argument must be an xs:integer, got %s", n.Type())
		}
		if t == api.ValueTypeI64 {
			return api.EncodeI64(int64(iv)), nil
		}
		if iv < math.MinInt32 || iv > math.MaxInt32 {
			return 0, types.Errorf(types.ErrNumericOverflow, "%d does not fit a 32-bit Wasm integer", int64(iv))
		}
		return api.EncodeI32(int32(iv)), nil
	case api.ValueTypeF32:
		return api.EncodeF32(float32(n.Float64())), nil
	default:
		return api.EncodeF64(n.Float64()), nil
	}
}

func decode(t api.ValueType, v uint64) value.AtomicValue {
	switch t {
	case api.ValueTypeI32:
		return value.IntegerValue(api.DecodeI32(v))
	case api.ValueTypeI64:
		return value.IntegerValue(int64(v))
	case api.ValueTypeF32:
		return value.DoubleValue(api.DecodeF32(v))
	default:
		return value.DoubleValue(api.DecodeF64(v))
	}
}
