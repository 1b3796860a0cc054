package surface

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/internal/guestwasm"
)

func TestCoreType(t *testing.T) {
	tests := []struct {
		in   wit.Type
		want api.ValueType
	}{
		{wit.U32{}, api.ValueTypeI32},
		{wit.S32{}, api.ValueTypeI32},
		{wit.Bool{}, api.ValueTypeI32},
		{wit.S64{}, api.ValueTypeI64},
		{wit.U64{}, api.ValueTypeI64},
		{wit.F32{}, api.ValueTypeF32},
		{wit.F64{}, api.ValueTypeF64},
	}
	for _, tt := range tests {
		if got := coreType(tt.in); got != tt.want {
			t.Errorf("coreType(%T) = %s, want %s", tt.in, api.ValueTypeName(got), api.ValueTypeName(tt.want))
		}
	}
}

func TestSignature(t *testing.T) {
	got := signature(coreTypes(guestExports[1].params), nil)
	want := "(i32, f32, f32, i32, i64) -> ()"
	if got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	tests := []struct {
		name string
		bin  []byte
		kind errors.Kind
	}{
		{"echo", guestwasm.Echo(), ""},
		{"minimal", guestwasm.Minimal(), ""},
		{"missing pointer", guestwasm.MissingPointer(), errors.KindMissingExport},
		{"wrong pointer signature", guestwasm.WrongPointerSignature(), errors.KindTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := rt.CompileModule(ctx, tt.bin)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			err = validate(compiled)
			if got := errors.KindOf(err); got != tt.kind {
				t.Fatalf("validate kind = %q (%v), want %q", got, err, tt.kind)
			}
		})
	}
}
