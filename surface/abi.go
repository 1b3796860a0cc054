package surface

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/canvas-bridge/errors"
)

// Guest ABI names
const (
	hostModule = "bridge"
	hostPost   = "post"

	exportInit    = "bridge_init"
	exportPointer = "bridge_pointer"
	exportResize  = "bridge_resize"
	exportAlloc   = "bridge_alloc"
	exportMessage = "bridge_message"
	exportDispose = "bridge_dispose"
)

type exportSpec struct {
	name     string
	params   []wit.Type
	results  []wit.Type
	required bool
}

var guestExports = []exportSpec{
	{name: exportInit, params: []wit.Type{wit.U32{}, wit.U32{}, wit.U32{}}, results: []wit.Type{wit.S32{}}, required: true},
	{name: exportPointer, params: []wit.Type{wit.U32{}, wit.F32{}, wit.F32{}, wit.U32{}, wit.S64{}}, required: true},
	{name: exportResize, params: []wit.Type{wit.U32{}, wit.U32{}}},
	{name: exportAlloc, params: []wit.Type{wit.U32{}}, results: []wit.Type{wit.U32{}}},
	{name: exportMessage, params: []wit.Type{wit.U32{}, wit.U32{}, wit.U32{}}},
	{name: exportDispose},
}

// coreType flattens a primitive WIT type to its core value type.
func coreType(t wit.Type) api.ValueType {
	switch t.(type) {
	case wit.U64, wit.S64:
		return api.ValueTypeI64
	case wit.F32:
		return api.ValueTypeF32
	case wit.F64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

func coreTypes(ts []wit.Type) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		out[i] = coreType(t)
	}
	return out
}

func signature(params, results []api.ValueType) string {
	name := func(vs []api.ValueType) string {
		parts := make([]string, len(vs))
		for i, v := range vs {
			parts[i] = api.ValueTypeName(v)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", name(params), name(results))
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// bindings holds the guest functions resolved from a validated instance.
type bindings struct {
	init    api.Function
	pointer api.Function
	resize  api.Function
	alloc   api.Function
	message api.Function
	dispose api.Function
	memory  api.Memory
}

// validate checks a compiled guest against the ABI before instantiation.
func validate(compiled wazero.CompiledModule) error {
	defs := compiled.ExportedFunctions()
	for _, spec := range guestExports {
		def, ok := defs[spec.name]
		if !ok {
			if spec.required {
				return errors.MissingExport(spec.name)
			}
			continue
		}
		wantParams, wantResults := coreTypes(spec.params), coreTypes(spec.results)
		if !sameTypes(def.ParamTypes(), wantParams) || !sameTypes(def.ResultTypes(), wantResults) {
			return errors.TypeMismatch(spec.name,
				signature(wantParams, wantResults),
				signature(def.ParamTypes(), def.ResultTypes()))
		}
	}

	_, hasAlloc := defs[exportAlloc]
	_, hasMessage := defs[exportMessage]
	if hasAlloc != hasMessage {
		return errors.New(errors.PhaseABI, errors.KindMissingExport).
			Export(exportAlloc + "/" + exportMessage).
			Detail("message delivery exports must be provided together").
			Build()
	}

	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		return errors.MissingExport("memory")
	}
	return nil
}

func bind(mod api.Module) *bindings {
	return &bindings{
		init:    mod.ExportedFunction(exportInit),
		pointer: mod.ExportedFunction(exportPointer),
		resize:  mod.ExportedFunction(exportResize),
		alloc:   mod.ExportedFunction(exportAlloc),
		message: mod.ExportedFunction(exportMessage),
		dispose: mod.ExportedFunction(exportDispose),
		memory:  mod.Memory(),
	}
}
