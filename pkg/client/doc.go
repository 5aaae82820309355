// Package client implements a Buttplug protocol client session.
//
// A Client owns at most one live session at a time. Connect dials the
// server, runs the handshake and, when the server asks for it, starts a
// keep-alive that probes with Ping at half the announced MaxPingTime:
//
//	c := client.New(client.DefaultConfig())
//	defer c.Close()
//
//	if err := c.Connect(ctx, "ws://127.0.0.1:12345"); err != nil {
//		return err
//	}
//	unsubscribe := c.Subscribe(func(e event.Event) {
//		if e.Type == event.DeviceAdded {
//			fmt.Println("added", e.Device.Label())
//		}
//	})
//	defer unsubscribe()
//
//	if err := c.StartScanning(ctx); err != nil {
//		return err
//	}
//
// Requests block until the server replies, the context ends or the session
// is torn down. Device commands are checked against the device's declared
// capabilities before anything is written; a rejected command never reaches
// the wire.
//
// Server events (device arrival and removal, scan completion, unsolicited
// errors, sensor readings) and local lifecycle changes are delivered to
// subscribers through an event.Dispatcher, each subscriber on its own
// goroutine.
package client
