// Package resource provides typed handle tables.
//
// Handles are small integers that can cross the sandbox boundary (the canvas
// handle given to a guest) or stand in for a non-owning reference (the input
// forwarder's reference to the active instance sink). A holder of a stale
// handle simply fails the lookup.
//
//	table := resource.NewTable[*Canvas]()
//
//	h, err := table.Insert(canvas)
//	c, ok := table.Get(h)
//	c, ok = table.Remove(h) // calls c.Drop() if c implements Dropper
//
// # Observers
//
//	table.Subscribe(resource.ObserverFunc[*Canvas](func(e resource.Event[*Canvas]) {
//	    log.Printf("canvas %d %s", e.Handle, e.Type)
//	}))
//
// Close drops everything still in the table and rejects further inserts.
package resource
