// Package surface hosts an embedded compute module in an isolated
// WebAssembly sandbox.
//
// Each Surface owns a private wazero runtime. The guest shares no memory
// with the host: pointer events are passed as scalars, host messages are
// copied into guest memory through the guest's allocator, and guest output
// arrives through a single imported host function.
//
// # Guest ABI
//
// Imported from module "bridge":
//
//	post(kind i32, ptr i32, len i32)
//
// Exported by the guest (signatures are validated before init):
//
//	bridge_init(canvas u32, width u32, height u32) -> s32   required, 0 = ok
//	bridge_pointer(id u32, x f32, y f32, phase u32, ts s64) required
//	bridge_resize(width u32, height u32)                    optional
//	bridge_alloc(len u32) -> u32                             optional, with bridge_message
//	bridge_message(kind u32, ptr u32, len u32)               optional, with bridge_alloc
//	bridge_dispose()                                         optional
//	memory                                                   required
//
// Message kinds on the wire are Ready=0, Error=1, Result=2, Log=3. The
// timestamp is nanoseconds on the host's monotonic clock.
package surface
