// Package discovery finds Buttplug servers on the local network.
//
// Intiface Engine advertises itself over mDNS/DNS-SD as _intiface_engine._tcp
// when started with server mDNS broadcasting enabled. A Browser reports each
// instance once, with the addresses seen on every interface merged, and
// builds the WebSocket URL a client connects to.
package discovery
