package packet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sadewadee/sockhub/internal/sid"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// PacketType is the Socket.IO application-layer packet type, carried inside
// an Engine.IO MESSAGE packet's data.
type PacketType byte

const (
	Connect PacketType = iota
	Disconnect
	Event
	Ack
	ConnectError
	BinaryEvent
	BinaryAck
)

func (t PacketType) String() string {
	switch t {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Event:
		return "event"
	case Ack:
		return "ack"
	case ConnectError:
		return "connect_error"
	case BinaryEvent:
		return "binary_event"
	case BinaryAck:
		return "binary_ack"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

func (t PacketType) hasAttachments() bool {
	return t == BinaryEvent || t == BinaryAck
}

// Packet is one Socket.IO application-layer packet, per spec.md §3. ID is
// nil unless the packet participates in an ack exchange. Attachments holds
// the raw binary blobs that follow a BINARY_EVENT/BINARY_ACK packet as
// separate Engine.IO frames; AttachmentCount is the number expected.
type Packet struct {
	Type            PacketType
	Namespace       string
	Data            json.RawMessage
	ID              *int64
	AttachmentCount int
	Attachments     [][]byte
}

// Encode serializes p into its Socket.IO text form: the attachment bytes
// themselves are not part of the returned string — the caller sends them as
// separate Engine.IO frames, in order.
func Encode(p *Packet) (string, error) {
	if p.AttachmentCount > 0 && !p.Type.hasAttachments() {
		return "", fmt.Errorf("%w: attachment_count>0 requires BINARY_EVENT or BINARY_ACK, got %s", sioerr.ErrInvalidPacket, p.Type)
	}
	if p.Namespace == "" {
		p.Namespace = "/"
	}
	if err := sid.ValidateNamespace(p.Namespace); err != nil {
		return "", fmt.Errorf("%w: %v", sioerr.ErrInvalidPacket, err)
	}

	var b strings.Builder
	b.WriteByte('0' + byte(p.Type))
	if p.Type.hasAttachments() {
		fmt.Fprintf(&b, "%d-", p.AttachmentCount)
	}
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		fmt.Fprintf(&b, "%d", *p.ID)
	}
	if len(p.Data) > 0 {
		b.Write(p.Data)
	}
	return b.String(), nil
}

// Decode parses a Socket.IO text-form packet. Attachments are not populated
// here — the caller (rawsocket's binary-attachment assembly buffer) fills
// them in as the corresponding Engine.IO frames arrive.
func Decode(s string) (*Packet, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: empty socket.io packet", sioerr.ErrInvalidPacket)
	}

	typDigit := s[0]
	if typDigit < '0' || typDigit > '0'+byte(BinaryAck) {
		return nil, fmt.Errorf("%w: unknown socket.io packet type %q", sioerr.ErrInvalidPacket, typDigit)
	}
	p := &Packet{Type: PacketType(typDigit - '0'), Namespace: "/"}
	i := 1

	if p.Type.hasAttachments() {
		start := i
		for i < len(s) && s[i] != '-' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("%w: missing attachment count separator", sioerr.ErrInvalidPacket)
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid attachment count %q", sioerr.ErrInvalidPacket, s[start:i])
		}
		p.AttachmentCount = n
		i++ // skip '-'
	}

	if i < len(s) && s[i] == '/' {
		start := i
		for i < len(s) && s[i] != ',' {
			i++
		}
		p.Namespace = s[start:i]
		if i < len(s) {
			i++ // skip ','
		}
	}

	if i < len(s) && s[i] >= '0' && s[i] <= '9' {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		idVal, err := strconv.ParseInt(s[start:i], 10, 64)
		if err != nil || idVal < 0 {
			return nil, fmt.Errorf("%w: invalid ack id %q", sioerr.ErrInvalidPacket, s[start:i])
		}
		p.ID = &idVal
	}

	if i < len(s) {
		p.Data = json.RawMessage(s[i:])
	}

	if err := sid.ValidateNamespace(p.Namespace); err != nil {
		return nil, fmt.Errorf("%w: %v", sioerr.ErrInvalidPacket, err)
	}
	return p, nil
}
