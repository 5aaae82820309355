// Package interaction correlates requests with their replies.
//
// Every request carries a non-zero Id drawn from a per-session counter. The
// Tracker registers the request before it is transmitted, so a reply can
// never arrive for an unknown Id, and resolves it exactly once: with the
// matching reply, with a transport failure, with the caller's cancellation
// or, when the connection goes away, with a ConnectionClosedError.
//
//	tr := interaction.NewTracker(conn)
//
//	call := tr.Send(ctx, &wire.RequestDeviceList{})
//	reply, err := call.Wait(ctx)
//
//	// From the read loop
//	if !tr.HandleMessage(msg) {
//	    // Id 0 or no waiter: treat as an event
//	}
//
//	// On disconnect
//	tr.DrainAll("connection closed")
//
// Id 0 is reserved for server events and is never issued.
package interaction
