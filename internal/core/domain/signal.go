package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Wire field names, as the browser client writes them.
const (
	FieldType = "type"
	FieldID   = "id"
)

type Kind string

const (
	KindHello      Kind = "hello"
	KindICEServers Kind = "iceServers"
	KindOffer      Kind = "offer"
	KindAnswer     Kind = "answer"
	KindCandidate  Kind = "candidate"
	KindBye        Kind = "bye"
)

// Known reports whether k is part of the signaling vocabulary. Unknown kinds
// are still routed.
func (k Kind) Known() bool {
	switch k {
	case KindHello, KindICEServers, KindOffer, KindAnswer, KindCandidate, KindBye:
		return true
	default:
		return false
	}
}

// Envelope is an inbound signaling message after the one decode step the
// relay performs. Only the kind and the target are looked at; every other
// field is carried as the raw bytes the sender wrote, in the sender's order.
type Envelope struct {
	Kind   Kind
	Target PeerID

	fields []field
}

type field struct {
	name  string
	value json.RawMessage
}

// DecodeEnvelope parses a client message. The message must be a JSON object
// whose "id" names a peer. A missing or non-string "type" yields an empty,
// unknown Kind. When a key repeats, the last value wins.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var kind string
	if rawKind, ok := lookup(fields, FieldType); ok {
		if err := json.Unmarshal(rawKind, &kind); err != nil {
			kind = ""
		}
	}

	rawID, ok := lookup(fields, FieldID)
	if !ok {
		return Envelope{}, ErrMissingTarget
	}
	var target string
	if err := json.Unmarshal(rawID, &target); err != nil || target == "" {
		return Envelope{}, ErrMissingTarget
	}
	id, err := ParsePeerID(target)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	return Envelope{
		Kind:   Kind(kind),
		Target: id,
		fields: fields,
	}, nil
}

// decodeFields walks the top-level object and keeps each value as written.
func decodeFields(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not an object")
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, field{name: name, value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

func lookup(fields []field, name string) (json.RawMessage, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].name == name {
			return fields[i].value, true
		}
	}
	return nil, false
}

// Rewrite encodes the envelope for delivery with "id" set to the sender.
// The target id the sender wrote never reaches the recipient. Other values
// are copied byte for byte and keys keep their order.
func (e Envelope) Rewrite(sender PeerID) ([]byte, error) {
	id, err := encodeString(sender.String())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := encodeString(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if f.name == FieldID {
			buf.Write(id)
		} else {
			buf.Write(f.value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type helloMessage struct {
	Type Kind   `json:"type"`
	ID   string `json:"id"`
}

type iceServersMessage struct {
	Type       Kind               `json:"type"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// NewHello builds the first message a connection receives.
func NewHello(id PeerID) ([]byte, error) {
	return json.Marshal(helloMessage{
		Type: KindHello,
		ID:   id.String(),
	})
}

// NewICEServers builds the second message a connection receives.
func NewICEServers(servers []webrtc.ICEServer) ([]byte, error) {
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return json.Marshal(iceServersMessage{
		Type:       KindICEServers,
		ICEServers: servers,
	})
}
