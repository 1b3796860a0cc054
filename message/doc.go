// Package message defines the bridge message protocol and the channel that
// carries it across the sandbox boundary.
//
// # Variants
//
//	Ready            module finished initializing (sole readiness signal)
//	Error{Reason}    module-reported failure
//	Result{Payload}  module output, opaque bytes
//	Log{Text}        diagnostic text
//
// On the wire a message is a kind id (Ready=0, Error=1, Result=2, Log=3) and
// a body; Encode and Decode convert between the two.
//
// # Channel
//
// A Channel has two independent FIFO directions:
//
//	ch := message.NewChannel(message.WithLogger(logger))
//	ch.Attach(deliverToGuest)              // host -> module
//	p := ch.Send(message.Result(img))      // *Pending
//	ch.Publish(ch.Epoch(), message.Ready()) // module -> host
//	s := ch.Subscribe()                    // host-observable inbound stream
//
// Reset begins a new epoch: messages published for an older epoch are
// dropped, and every pending promise and waiter resolves with
// channel_reset. Close is a final Reset that also closes subscriber streams.
package message
