package packet

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sadewadee/sockhub/internal/sioerr"
)

// EnginePacketType is the outer Engine.IO transport-framing packet type.
type EnginePacketType byte

const (
	EngineOpen EnginePacketType = iota
	EngineClose
	EnginePing
	EnginePong
	EngineMessage
	EngineUpgrade
	EngineNoop
)

func (t EnginePacketType) String() string {
	switch t {
	case EngineOpen:
		return "open"
	case EngineClose:
		return "close"
	case EnginePing:
		return "ping"
	case EnginePong:
		return "pong"
	case EngineMessage:
		return "message"
	case EngineUpgrade:
		return "upgrade"
	case EngineNoop:
		return "noop"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// recordSeparator joins multiple Engine.IO packets within one long-poll
// batch, per spec.md §4.1.
const recordSeparator = 0x1E

// recordSeparatorStr is recordSeparator as a one-byte string, used to join
// and split long-poll batches.
var recordSeparatorStr = string([]byte{recordSeparator})

// EnginePacket is one frame of the Engine.IO transport layer. Binary is set
// when Data is an opaque blob (carried either as a raw WebSocket binary
// frame, or as a "b"-prefixed base64 string within a polling batch).
type EnginePacket struct {
	Type   EnginePacketType
	Data   []byte
	Binary bool
}

// EncodeBatch serializes a sequence of Engine.IO packets into one
// long-poll batch body, per spec.md §4.1.
func EncodeBatch(pkts []EnginePacket) []byte {
	parts := make([]string, len(pkts))
	for i, p := range pkts {
		parts[i] = encodeBatchItem(p)
	}
	return []byte(strings.Join(parts, recordSeparatorStr))
}

func encodeBatchItem(p EnginePacket) string {
	if p.Binary {
		return "b" + base64.StdEncoding.EncodeToString(p.Data)
	}
	return fmt.Sprintf("%d%s", p.Type, p.Data)
}

// DecodeBatch splits a long-poll batch body back into its Engine.IO
// packets.
func DecodeBatch(raw []byte) ([]EnginePacket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	items := strings.Split(string(raw), recordSeparatorStr)
	pkts := make([]EnginePacket, 0, len(items))
	for _, item := range items {
		p, err := decodeBatchItem(item)
		if err != nil {
			return nil, err
		}
		pkts = append(pkts, p)
	}
	return pkts, nil
}

func decodeBatchItem(item string) (EnginePacket, error) {
	if item == "" {
		return EnginePacket{}, fmt.Errorf("%w: empty batch item", sioerr.ErrInvalidPacket)
	}
	if item[0] == 'b' {
		data, err := base64.StdEncoding.DecodeString(item[1:])
		if err != nil {
			return EnginePacket{}, fmt.Errorf("%w: decoding base64 binary packet: %v", sioerr.ErrInvalidPacket, err)
		}
		return EnginePacket{Type: EngineMessage, Data: data, Binary: true}, nil
	}
	t := item[0] - '0'
	if t > byte(EngineNoop) {
		return EnginePacket{}, fmt.Errorf("%w: unknown engine packet type %q", sioerr.ErrInvalidPacket, item[0])
	}
	return EnginePacket{Type: EnginePacketType(t), Data: []byte(item[1:])}, nil
}

// EncodeWSFrame returns the bytes and binary/text flag to send as a single
// WebSocket frame for one Engine.IO packet. WebSocket frames are not
// batched — one packet per frame, per spec.md §4.2.
func EncodeWSFrame(p EnginePacket) (data []byte, binary bool) {
	if p.Binary {
		return p.Data, true
	}
	return []byte(fmt.Sprintf("%d%s", p.Type, p.Data)), false
}

// DecodeWSFrame reconstructs the Engine.IO packet carried by one WebSocket
// frame.
func DecodeWSFrame(data []byte, binary bool) (EnginePacket, error) {
	if binary {
		return EnginePacket{Type: EngineMessage, Data: data, Binary: true}, nil
	}
	if len(data) == 0 {
		return EnginePacket{}, fmt.Errorf("%w: empty websocket frame", sioerr.ErrInvalidPacket)
	}
	t := data[0] - '0'
	if t > byte(EngineNoop) {
		return EnginePacket{}, fmt.Errorf("%w: unknown engine packet type %q", sioerr.ErrInvalidPacket, data[0])
	}
	return EnginePacket{Type: EnginePacketType(t), Data: data[1:]}, nil
}
