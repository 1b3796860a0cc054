// Package guestwasm assembles small WebAssembly core modules in memory.
// It exists to produce guests that speak the bridge ABI without an external
// toolchain: the demo guest shipped with the CLI and the test fixtures.
package guestwasm

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	magic   uint32 = 0x6d736100 // \0asm
	version uint32 = 1
)

// Section IDs
const (
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionExport   byte = 7
	sectionCode     byte = 10
	sectionData     byte = 11
)

const (
	kindFunc   byte = 0x00
	kindMemory byte = 0x02
	funcType   byte = 0x60
	blockEmpty byte = 0x40
)

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	export string
	locals []ValType
	body   []byte
	typ    uint32
}

type dataSegment struct {
	bytes  []byte
	offset uint32
}

// Module is a module under construction. Declare imports before functions:
// function indices count imports first.
type Module struct {
	types       []FuncType
	imports     []importFunc
	funcs       []function
	data        []dataSegment
	memoryPages uint32
	memory      bool
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

// ImportFunc declares an imported function and returns its index.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("guestwasm: imports must be declared before functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(ft)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function. A non-empty export name exports it.
// The body must not include the trailing end opcode.
func (m *Module) Func(export string, ft FuncType, locals []ValType, body *Code) uint32 {
	m.funcs = append(m.funcs, function{
		export: export,
		typ:    m.typeIndex(ft),
		locals: locals,
		body:   body.Bytes(),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory defines and exports "memory" with the given minimum pages.
func (m *Module) Memory(pages uint32) {
	m.memory = true
	m.memoryPages = pages
}

// Data places bytes at a fixed memory offset.
func (m *Module) Data(offset uint32, b []byte) {
	m.data = append(m.data, dataSegment{offset: offset, bytes: b})
}

func (m *Module) typeIndex(ft FuncType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(valBytes(t.Params), valBytes(ft.Params)) &&
			bytes.Equal(valBytes(t.Results), valBytes(ft.Results)) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// Encode returns the binary module.
func (m *Module) Encode() []byte {
	w := &writer{}
	w.u32le(magic)
	w.u32le(version)

	if len(m.types) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.types)))
		for _, ft := range m.types {
			sec.byte(funcType)
			sec.vals(ft.Params)
			sec.vals(ft.Results)
		}
		w.section(sectionType, sec)
	}

	if len(m.imports) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.name(imp.module)
			sec.name(imp.name)
			sec.byte(kindFunc)
			sec.u32(imp.typ)
		}
		w.section(sectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.u32(f.typ)
		}
		w.section(sectionFunction, sec)
	}

	if m.memory {
		sec := &writer{}
		sec.u32(1)
		sec.byte(0x00) // min only
		sec.u32(m.memoryPages)
		w.section(sectionMemory, sec)
	}

	exports := &writer{}
	count := uint32(0)
	if m.memory {
		exports.name("memory")
		exports.byte(kindMemory)
		exports.u32(0)
		count++
	}
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		exports.name(f.export)
		exports.byte(kindFunc)
		exports.u32(uint32(len(m.imports) + i))
		count++
	}
	if count > 0 {
		sec := &writer{}
		sec.u32(count)
		sec.raw(exports.bytes())
		w.section(sectionExport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := &writer{}
			body.u32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.u32(1)
				body.byte(byte(l))
			}
			body.raw(f.body)
			body.byte(opEnd)
			sec.u32(uint32(len(body.bytes())))
			sec.raw(body.bytes())
		}
		w.section(sectionCode, sec)
	}

	if len(m.data) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.u32(0) // active, memory 0
			sec.byte(opI32Const)
			sec.s64(int64(int32(d.offset)))
			sec.byte(opEnd)
			sec.u32(uint32(len(d.bytes)))
			sec.raw(d.bytes)
		}
		w.section(sectionData, sec)
	}

	return w.bytes()
}

func valBytes(v []ValType) []byte {
	b := make([]byte, len(v))
	for i, t := range v {
		b[i] = byte(t)
	}
	return b
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) bytes() []byte { return w.buf.Bytes() }

func (w *writer) byte(b byte) { w.buf.WriteByte(b) }

func (w *writer) raw(b []byte) { w.buf.Write(b) }

// u32 writes an unsigned LEB128 value.
func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// s64 writes a signed LEB128 value.
func (w *writer) s64(v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && (b&0x40) == 0) || (v == -1 && (b&0x40) != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.buf.WriteByte(b)
	}
}

func (w *writer) u32le(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) vals(v []ValType) {
	w.u32(uint32(len(v)))
	for _, t := range v {
		w.buf.WriteByte(byte(t))
	}
}

func (w *writer) section(id byte, sec *writer) {
	w.byte(id)
	w.u32(uint32(len(sec.bytes())))
	w.raw(sec.bytes())
}

// Opcodes
const (
	opUnreachable byte = 0x00
	opLoop        byte = 0x03
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opDrop        byte = 0x1A
	opLocalGet    byte = 0x20
	opI32Load     byte = 0x28
	opI32Store    byte = 0x36
	opI64Store    byte = 0x37
	opF32Store    byte = 0x38
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opF32Const    byte = 0x43
	opI32Add      byte = 0x6A
)

// Code accumulates a function body.
type Code struct {
	w writer
}

// NewCode starts an empty body.
func NewCode() *Code {
	return &Code{}
}

func (c *Code) Bytes() []byte { return c.w.bytes() }

func (c *Code) LocalGet(i uint32) *Code {
	c.w.byte(opLocalGet)
	c.w.u32(i)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.w.byte(opI32Const)
	c.w.s64(int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.w.byte(opI64Const)
	c.w.s64(v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.w.byte(opF32Const)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	c.w.raw(b[:])
	return c
}

func (c *Code) Call(fn uint32) *Code {
	c.w.byte(opCall)
	c.w.u32(fn)
	return c
}

// I32Load loads from [addr + offset] (addr on stack), 4-byte aligned.
func (c *Code) I32Load(offset uint32) *Code {
	return c.memop(opI32Load, 2, offset)
}

// I32Store stores value (top) at [addr + offset] (addr below it).
func (c *Code) I32Store(offset uint32) *Code {
	return c.memop(opI32Store, 2, offset)
}

func (c *Code) I64Store(offset uint32) *Code {
	return c.memop(opI64Store, 3, offset)
}

func (c *Code) F32Store(offset uint32) *Code {
	return c.memop(opF32Store, 2, offset)
}

func (c *Code) I32Add() *Code {
	c.w.byte(opI32Add)
	return c
}

func (c *Code) Drop() *Code {
	c.w.byte(opDrop)
	return c
}

func (c *Code) Return() *Code {
	c.w.byte(opReturn)
	return c
}

// Spin loops forever.
func (c *Code) Spin() *Code {
	c.w.byte(opLoop)
	c.w.byte(blockEmpty)
	c.w.byte(opBr)
	c.w.u32(0)
	c.w.byte(opEnd)
	return c
}

func (c *Code) Unreachable() *Code {
	c.w.byte(opUnreachable)
	return c
}

func (c *Code) memop(op byte, align, offset uint32) *Code {
	c.w.byte(op)
	c.w.u32(align)
	c.w.u32(offset)
	return c
}
