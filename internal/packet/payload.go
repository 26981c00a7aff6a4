// Package packet implements the Engine.IO and Socket.IO wire codecs: packet
// encoding/decoding, the two-phase binary-attachment framing, and the
// handshake payload shapes. Nothing in this package touches a network
// connection — it is a pure codec, consumed by internal/transport and
// internal/rawsocket.
package packet

import "encoding/json"

// Payload is the tagged union a user produces and the codec consumes:
// either a JSON-encoded string value or an opaque binary blob.
type Payload struct {
	Binary bool
	Data   []byte
}

// StringPayload wraps already-JSON-encoded bytes as a string Payload.
func StringPayload(jsonBytes []byte) Payload {
	return Payload{Binary: false, Data: jsonBytes}
}

// BinaryPayload wraps an opaque byte blob as a binary Payload.
func BinaryPayload(data []byte) Payload {
	return Payload{Binary: true, Data: data}
}

// JSONPayload marshals v with encoding/json and wraps the result as a string
// Payload. Marshaling of user data is the one place this stack defers to an
// external serializer, per spec.md §1.
func JSONPayload(v interface{}) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, err
	}
	return StringPayload(b), nil
}

// IsEmpty reports whether the payload carries no data at all (the "empty
// payload emit" boundary case).
func (p Payload) IsEmpty() bool {
	return !p.Binary && len(p.Data) == 0
}
