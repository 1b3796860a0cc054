// Package modhost manages the lifecycle of the compute module embedded in a
// sandbox.
//
// A Host loads the module, waits for the module's Ready message on the
// channel (the only readiness signal), and hands out the resulting Instance
// as an event sink. Dispose is terminal and idempotent; a module that does not
// confirm unload within the teardown timeout is force-released and the
// timeout is recorded as a warning rather than returned.
package modhost
