// Package input forwards host pointer events to the embedded module.
//
// The Forwarder maps each event into surface space and queues it on the
// ready instance's sink. It never blocks the host input thread and never
// buffers input for a module that is not ready: such events are dropped and
// counted by reason. Under backpressure a Move may replace the newest pending
// Move of the same pointer; Start, End and Cancel are always delivered in
// order.
package input
