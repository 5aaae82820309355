// Package fakeserver is an in-process Buttplug server for tests.
//
// It answers the handshake, pings, device lists and device commands with
// canned replies. Tests override a kind's reply with Handle, inject events
// with Conn.Send and inspect what the client sent with Received.
package fakeserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Responder produces the replies to one request. Returning nil sends
// nothing.
type Responder func(c *Conn, msg wire.Message) []wire.Message

// Server is a scriptable Buttplug server.
type Server struct {
	// URL is the ws:// address of the server.
	URL string

	http     *httptest.Server
	upgrader websocket.Upgrader
	wg       sync.WaitGroup

	mu         sync.Mutex
	info       wire.ServerInfo
	devices    []wire.DeviceInfo
	responders map[wire.Kind]Responder
	received   []wire.Message
	conns      []*Conn
}

// New starts a server announcing maxPingTime milliseconds.
func New(maxPingTime uint32) *Server {
	s := &Server{
		info: wire.ServerInfo{
			ServerName:     "Fake Server",
			MessageVersion: wire.MessageVersion,
			MaxPingTime:    maxPingTime,
		},
		responders: make(map[wire.Kind]Responder),
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = "ws" + strings.TrimPrefix(s.http.URL, "http")
	return s
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()

	for _, c := range conns {
		c.Drop()
	}
	s.http.Close()
	s.wg.Wait()
}

// AddDevice adds a device to the list returned for RequestDeviceList.
func (s *Server) AddDevice(info wire.DeviceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, info)
}

// Handle overrides the reply to kind.
func (s *Server) Handle(kind wire.Kind, r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[kind] = r
}

// Silence makes the server ignore kind.
func (s *Server) Silence(kind wire.Kind) {
	s.Handle(kind, func(*Conn, wire.Message) []wire.Message { return nil })
}

// Received returns the messages received so far, in order.
func (s *Server) Received() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Message(nil), s.received...)
}

// Count returns how many messages of kind were received.
func (s *Server) Count(kind wire.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.received {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

// Reset forgets the received messages.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = nil
}

// Conn returns the most recent connection, or nil.
func (s *Server) Conn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Connections returns the number of connections accepted so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msgs, _ := wire.DecodeFrame(data)
		for _, msg := range msgs {
			s.mu.Lock()
			s.received = append(s.received, msg)
			respond, ok := s.responders[msg.Kind()]
			s.mu.Unlock()

			if !ok {
				respond = s.defaultReply
			}
			if replies := respond(c, msg); len(replies) > 0 {
				_ = c.Send(replies...)
			}
		}
	}
}

func (s *Server) defaultReply(_ *Conn, msg wire.Message) []wire.Message {
	switch p := msg.Payload.(type) {
	case *wire.RequestServerInfo:
		s.mu.Lock()
		info := s.info
		s.mu.Unlock()
		return Reply(msg, &info)
	case *wire.RequestDeviceList:
		s.mu.Lock()
		list := &wire.DeviceList{Devices: append([]wire.DeviceInfo{}, s.devices...)}
		s.mu.Unlock()
		return Reply(msg, list)
	case *wire.SensorReadCmd:
		return Reply(msg, &wire.SensorReading{SensorRef: p.SensorRef, Data: []int32{50}})
	case *wire.RawReadCmd:
		return Reply(msg, &wire.RawReading{DeviceRef: p.DeviceRef, Endpoint: p.Endpoint, Data: wire.Bytes{1, 2, 3}})
	default:
		return Reply(msg, &wire.Ok{})
	}
}

// Reply answers msg with payload.
func Reply(msg wire.Message, payload wire.Payload) []wire.Message {
	return []wire.Message{{ID: msg.ID, Payload: payload}}
}

// Fail answers msg with an Error.
func Fail(code wire.ErrorCode, text string) Responder {
	return func(_ *Conn, msg wire.Message) []wire.Message {
		return Reply(msg, &wire.Error{ErrorCode: code, ErrorMessage: text})
	}
}

// Conn is one client connection.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// Send writes msgs as one frame.
func (c *Conn) Send(msgs ...wire.Message) error {
	data, err := wire.EncodeFrame(msgs...)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes a text frame as is.
func (c *Conn) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Event sends payload with Id 0.
func (c *Conn) Event(payload wire.Payload) error {
	return c.Send(wire.Message{ID: wire.EventID, Payload: payload})
}

// Close sends a going-away close frame and closes the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.ws.Close()
}

// Drop closes the connection without a close frame.
func (c *Conn) Drop() {
	_ = c.ws.Close()
}

// Device builds a device description. messages is the JSON of the
// DeviceMessages object.
func Device(index uint32, name string, messages string) wire.DeviceInfo {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(messages), &m); err != nil {
		panic(err)
	}
	return wire.DeviceInfo{
		DeviceIndex:    index,
		DeviceName:     name,
		DeviceMessages: m,
	}
}
