package guestwasm

import (
	"encoding/binary"
	"math"
)

// Host import and guest export names of the bridge ABI.
const (
	HostModule = "bridge"
	HostPost   = "post"

	ExportInit    = "bridge_init"
	ExportPointer = "bridge_pointer"
	ExportResize  = "bridge_resize"
	ExportAlloc   = "bridge_alloc"
	ExportMessage = "bridge_message"
	ExportDispose = "bridge_dispose"
)

// Wire ids of the message kinds, mirrored here so fixtures stay independent
// of the host packages.
const (
	kindReady  int32 = 0
	kindError  int32 = 1
	kindResult int32 = 2
	kindLog    int32 = 3
)

// Fixed guest memory layout used by the fixtures.
const (
	scratchAddr = 0
	bootingAddr = 256
	resizedAddr = 272
	reasonAddr  = 288
	inboxAddr   = 1024
)

const (
	bootingText = "booting"
	resizedText = "resized"
	reasonText  = "no canvas"
)

// PointerRecordSize is the size of the Result payload the echo guest posts
// for every pointer event.
const PointerRecordSize = 24

var (
	postType    = FuncType{Params: []ValType{I32, I32, I32}}
	initType    = FuncType{Params: []ValType{I32, I32, I32}, Results: []ValType{I32}}
	pointerType = FuncType{Params: []ValType{I32, F32, F32, I32, I64}}
	resizeType  = FuncType{Params: []ValType{I32, I32}}
	allocType   = FuncType{Params: []ValType{I32}, Results: []ValType{I32}}
	messageType = FuncType{Params: []ValType{I32, I32, I32}}
	voidType    = FuncType{}
)

// post emits a call to the host post import.
func post(c *Code, fn uint32, kind, ptr, length int32) *Code {
	return c.I32Const(kind).I32Const(ptr).I32Const(length).Call(fn)
}

// base starts a module with the post import, one page of memory and the
// fixture strings.
func base() (*Module, uint32) {
	m := New()
	fn := m.ImportFunc(HostModule, HostPost, postType)
	m.Memory(1)
	m.Data(bootingAddr, []byte(bootingText))
	m.Data(resizedAddr, []byte(resizedText))
	m.Data(reasonAddr, []byte(reasonText))
	return m, fn
}

// echoPointer stores the event at the scratch address and posts it back as
// a Result.
func echoPointer(fn uint32) *Code {
	c := NewCode()
	c.I32Const(scratchAddr).LocalGet(0).I32Store(0)
	c.I32Const(scratchAddr).LocalGet(1).F32Store(4)
	c.I32Const(scratchAddr).LocalGet(2).F32Store(8)
	c.I32Const(scratchAddr).LocalGet(3).I32Store(12)
	c.I32Const(scratchAddr).LocalGet(4).I64Store(16)
	return post(c, fn, kindResult, scratchAddr, PointerRecordSize)
}

func readyInit(fn uint32) *Code {
	c := post(NewCode(), fn, kindLog, bootingAddr, int32(len(bootingText)))
	post(c, fn, kindReady, 0, 0)
	return c.I32Const(0)
}

// Echo is a well-behaved guest. Init logs "booting" and posts Ready; every
// pointer event is echoed back as a PointerRecordSize Result; resize logs
// "resized"; host messages are echoed back as Results.
func Echo() []byte {
	m, fn := base()
	m.Func(ExportInit, initType, nil, readyInit(fn))
	m.Func(ExportPointer, pointerType, nil, echoPointer(fn))
	m.Func(ExportResize, resizeType, nil,
		post(NewCode(), fn, kindLog, resizedAddr, int32(len(resizedText))))
	m.Func(ExportAlloc, allocType, nil, NewCode().I32Const(inboxAddr))
	m.Func(ExportMessage, messageType, nil,
		NewCode().I32Const(kindResult).LocalGet(1).LocalGet(2).Call(fn))
	m.Func(ExportDispose, voidType, nil, NewCode())
	return m.Encode()
}

// Minimal exports only the required functions: no resize, messaging or
// dispose hooks.
func Minimal() []byte {
	m, fn := base()
	m.Func(ExportInit, initType, nil, readyInit(fn))
	m.Func(ExportPointer, pointerType, nil, echoPointer(fn))
	return m.Encode()
}

// FailingInit returns a non-zero status from init.
func FailingInit() []byte {
	m, _ := base()
	m.Func(ExportInit, initType, nil, NewCode().I32Const(1))
	m.Func(ExportPointer, pointerType, nil, NewCode())
	return m.Encode()
}

// Rejecting posts Error("no canvas") from init instead of Ready.
func Rejecting() []byte {
	m, fn := base()
	c := post(NewCode(), fn, kindError, reasonAddr, int32(len(reasonText)))
	m.Func(ExportInit, initType, nil, c.I32Const(0))
	m.Func(ExportPointer, pointerType, nil, NewCode())
	return m.Encode()
}

// TrappingInit traps in init.
func TrappingInit() []byte {
	m, _ := base()
	m.Func(ExportInit, initType, nil, NewCode().Unreachable())
	m.Func(ExportPointer, pointerType, nil, NewCode())
	return m.Encode()
}

// TrappingPointer becomes ready but traps on every pointer event.
func TrappingPointer() []byte {
	m, fn := base()
	m.Func(ExportInit, initType, nil, readyInit(fn))
	m.Func(ExportPointer, pointerType, nil, NewCode().Unreachable())
	return m.Encode()
}

// Silent initializes successfully but never posts Ready.
func Silent() []byte {
	m, _ := base()
	m.Func(ExportInit, initType, nil, NewCode().I32Const(0))
	m.Func(ExportPointer, pointerType, nil, NewCode())
	return m.Encode()
}

// SpinningDispose becomes ready and loops forever in its dispose hook.
func SpinningDispose() []byte {
	m, fn := base()
	m.Func(ExportInit, initType, nil, readyInit(fn))
	m.Func(ExportPointer, pointerType, nil, echoPointer(fn))
	m.Func(ExportDispose, voidType, nil, NewCode().Spin())
	return m.Encode()
}

// MissingPointer exports init but not the pointer handler.
func MissingPointer() []byte {
	m, fn := base()
	m.Func(ExportInit, initType, nil, readyInit(fn))
	return m.Encode()
}

// WrongPointerSignature exports the pointer handler with integer
// coordinates.
func WrongPointerSignature() []byte {
	m, fn := base()
	m.Func(ExportInit, initType, nil, readyInit(fn))
	m.Func(ExportPointer, FuncType{Params: []ValType{I32, I32, I32, I32, I64}}, nil, NewCode())
	return m.Encode()
}

// PointerRecord is the decoded payload of an echo Result.
type PointerRecord struct {
	Timestamp int64
	X, Y      float32
	ID        uint32
	Phase     uint32
}

// ParsePointerRecord decodes an echo guest Result payload.
func ParsePointerRecord(b []byte) (PointerRecord, bool) {
	if len(b) != PointerRecordSize {
		return PointerRecord{}, false
	}
	return PointerRecord{
		ID:        binary.LittleEndian.Uint32(b[0:]),
		X:         math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Y:         math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		Phase:     binary.LittleEndian.Uint32(b[12:]),
		Timestamp: int64(binary.LittleEndian.Uint64(b[16:])),
	}, true
}
