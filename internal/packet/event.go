package packet

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sadewadee/sockhub/internal/sioerr"
)

// placeholder is the JSON shape socket.io-parser substitutes for a binary
// argument inside an EVENT/BINARY_EVENT data array, per spec.md §4.1.
type placeholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         int  `json:"num"`
}

// BuildEventArray encodes one (event, Payload) pair into the JSON array a
// socket.io EVENT/BINARY_EVENT packet's Data carries, plus the ordered
// attachment blobs (empty unless payload is binary). This stack's emit only
// ever carries the event name and at most one user payload argument.
func BuildEventArray(event string, payload Payload) (data json.RawMessage, attachments [][]byte, isBinary bool, err error) {
	nameJSON, err := json.Marshal(event)
	if err != nil {
		return nil, nil, false, fmt.Errorf("encoding event name: %w", err)
	}

	if payload.Binary {
		ph, _ := json.Marshal(placeholder{Placeholder: true, Num: 0})
		arr := fmt.Sprintf("[%s,%s]", nameJSON, ph)
		return json.RawMessage(arr), [][]byte{payload.Data}, true, nil
	}
	if payload.IsEmpty() {
		return json.RawMessage(fmt.Sprintf("[%s]", nameJSON)), nil, false, nil
	}
	if !json.Valid(payload.Data) {
		return nil, nil, false, fmt.Errorf("%w: payload is not valid JSON", sioerr.ErrInvalidPacket)
	}
	arr := fmt.Sprintf("[%s,%s]", nameJSON, bytes.TrimSpace(payload.Data))
	return json.RawMessage(arr), nil, false, nil
}

// ParseEventArray decodes a socket.io EVENT/BINARY_EVENT data array back
// into an event name and a single Payload, per spec.md §4.4: extra
// arguments beyond the first are re-encoded as one JSON array payload,
// unless one of them is a binary placeholder, in which case the first
// matching attachment becomes the payload and any other trailing arguments
// are discarded (this stack never emits more than one).
func ParseEventArray(data json.RawMessage, attachments [][]byte) (event string, payload Payload, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", Payload{}, fmt.Errorf("%w: decoding event array: %v", sioerr.ErrInvalidPacket, err)
	}
	if len(raw) == 0 {
		return "", Payload{}, fmt.Errorf("%w: event array is empty", sioerr.ErrInvalidPacket)
	}
	if err := json.Unmarshal(raw[0], &event); err != nil {
		return "", Payload{}, fmt.Errorf("%w: event name must be a JSON string: %v", sioerr.ErrInvalidPacket, err)
	}
	if _, err := ValidateEventName(event); err != nil {
		return "", Payload{}, err
	}

	rest := raw[1:]
	if len(rest) == 0 {
		return event, Payload{}, nil
	}

	for i, arg := range rest {
		var ph placeholder
		if json.Unmarshal(arg, &ph) == nil && ph.Placeholder {
			if ph.Num < 0 || ph.Num >= len(attachments) {
				return "", Payload{}, fmt.Errorf("%w: placeholder index %d out of range (%d attachments)", sioerr.ErrInvalidPacket, ph.Num, len(attachments))
			}
			_ = i
			return event, BinaryPayload(attachments[ph.Num]), nil
		}
	}

	if len(rest) == 1 {
		return event, StringPayload(rest[0]), nil
	}

	joined, err := json.Marshal(rest)
	if err != nil {
		return "", Payload{}, fmt.Errorf("re-encoding remaining event arguments: %w", err)
	}
	return event, StringPayload(joined), nil
}

// ValidateEventName rejects an empty event name read from wire data and
// otherwise returns name unchanged. Unlike sid.NormalizeEventName it does
// not trim surrounding whitespace.
func ValidateEventName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: event name must not be empty", sioerr.ErrInvalidPacket)
	}
	return name, nil
}
