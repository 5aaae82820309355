// Package transport carries protocol frames between client and server.
//
// A Dialer opens a Conn to a server URL. Incoming text frames are delivered
// to Handler.OnMessage from a single reader goroutine, in arrival order;
// Handler.OnClose fires exactly once when the connection ends, whichever
// side closed it. Writes are serialized and may be issued from any
// goroutine.
//
// The default implementation, WebSocketDialer, speaks WebSocket text frames.
//
// # Keep-Alive
//
// KeepAlive runs a caller-supplied probe on a fixed period, starting
// immediately. Probes never overlap. The first probe error is reported
// through the fault callback and ends the loop.
package transport
