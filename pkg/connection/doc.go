// Package connection holds the session lifecycle state machine.
//
// A session moves through
//
//	Idle → Connecting → Handshaking → Active → {PingFault | Closed}
//
// Connecting and Handshaking may also end in Closed when the transport
// fails or the handshake is rejected. Both terminal states allow a new
// session to begin; a fresh session always starts again at Connecting.
//
// Machine enforces the transition table and notifies an observer of every
// change. Backoff provides the exponential redial schedule used when a
// caller asks to reconnect automatically:
//
//	actual_delay = base_delay + random(0, base_delay * 0.2)
package connection
