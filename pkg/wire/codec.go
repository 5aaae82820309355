package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// idField is the mandatory identifier key inside every envelope body.
const idField = "Id"

// EncodeMessage encodes a single message as an envelope object. The Id is
// appended after the payload's own fields.
func EncodeMessage(m Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, errors.New("message has no payload")
	}

	body, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return nil, fmt.Errorf("failed to encode %s: payload is not an object", m.Kind())
	}
	key, err := json.Marshal(string(m.Kind()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}

	buf := make([]byte, 0, len(key)+len(body)+len(idField)+16)
	buf = append(buf, '{')
	buf = append(buf, key...)
	buf = append(buf, ':')
	buf = append(buf, body[:len(body)-1]...)
	if len(body) > 2 {
		buf = append(buf, ',')
	}
	buf = append(buf, '"')
	buf = append(buf, idField...)
	buf = append(buf, '"', ':')
	buf = strconv.AppendUint(buf, uint64(m.ID), 10)
	buf = append(buf, '}', '}')
	return buf, nil
}

// EncodeFrame encodes messages as one frame (a JSON array of envelopes).
func EncodeFrame(msgs ...Message) ([]byte, error) {
	envelopes := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		data, err := EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, data)
	}
	return json.Marshal(envelopes)
}

// DecodeFrame decodes a frame into its messages.
//
// A frame is normally an array of envelopes; a single bare envelope object
// is also accepted. Envelopes that fail to decode are skipped and reported
// as ProtocolErrors joined into the returned error, so callers should
// process msgs even when err is non-nil.
func DecodeFrame(data []byte) (msgs []Message, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ProtocolError{Reason: "empty frame"}
	}

	var raw []json.RawMessage
	if trimmed[0] == '{' {
		raw = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &ProtocolError{Reason: "frame is not an envelope array", Err: err}
	}

	var errs []error
	for _, env := range raw {
		msg, err := DecodeMessage(env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errors.Join(errs...)
}

// DecodeMessage decodes one envelope object.
func DecodeMessage(data []byte) (Message, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, &ProtocolError{Reason: "envelope is not an object", Err: err}
	}
	if len(env) != 1 {
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("envelope must have exactly one key, got %d", len(env))}
	}

	var (
		kind Kind
		body json.RawMessage
	)
	for k, v := range env {
		kind, body = Kind(k), v
	}

	factory, ok := payloadFactories[kind]
	if !ok {
		return Message{}, &ProtocolError{Kind: string(kind), Reason: "unknown message kind"}
	}

	// Field names are case sensitive on the wire; look Id up by exact key.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Message{}, &ProtocolError{Kind: string(kind), Reason: "body is not an object", Err: err}
	}
	rawID, ok := fields[idField]
	if !ok {
		return Message{}, &ProtocolError{Kind: string(kind), Reason: "missing Id"}
	}
	var id uint32
	if err := json.Unmarshal(rawID, &id); err != nil {
		return Message{}, &ProtocolError{Kind: string(kind), Reason: "invalid Id", Err: err}
	}

	payload := factory()
	if err := json.Unmarshal(body, payload); err != nil {
		return Message{}, &ProtocolError{Kind: string(kind), Reason: "invalid fields", Err: err}
	}

	return Message{ID: id, Payload: payload}, nil
}
