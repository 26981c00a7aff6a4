package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// DefaultPollingChannelCapacity is the default bound on the send/recv
// channels backing a long-polling server session, per spec.md §5
// "Backpressure".
const DefaultPollingChannelCapacity = 100

// recordSeparator joins packets within one long-poll batch body, mirroring
// internal/packet's Engine.IO framing constant.
const recordSeparator = "\x1e"

// PollingServer is the server side of the long-polling transport: two
// channels bridged to the HTTP handler's GET (drain send) and POST (push
// recv), per spec.md §4.2.
type PollingServer struct {
	send chan packet.Payload
	recv chan packet.Payload

	closeOnce sync.Once
	closed    chan struct{}

	// waitingGET, when non-nil, is a channel the in-flight HTTP GET is
	// parked on; ReleaseWaitingGET lets the server wake it with a NOOP
	// before an upgrade takes over, per SPEC_FULL.md §4.9.
	mu         sync.Mutex
	waitingGET chan struct{}
}

// NewPollingServer creates a polling session with the default channel
// capacity.
func NewPollingServer() *PollingServer {
	return NewPollingServerWithCapacity(DefaultPollingChannelCapacity)
}

// NewPollingServerWithCapacity creates a polling session with a specific
// channel capacity.
func NewPollingServerWithCapacity(capacity int) *PollingServer {
	return &PollingServer{
		send:   make(chan packet.Payload, capacity),
		recv:   make(chan packet.Payload, capacity),
		closed: make(chan struct{}),
	}
}

// Emit pushes a payload destined for the remote peer (written out the next
// time the HTTP GET long-poll drains it).
func (p *PollingServer) Emit(ctx context.Context, payload packet.Payload) error {
	select {
	case <-p.closed:
		return sioerr.ErrConnectionClosed
	default:
	}
	select {
	case p.send <- payload:
		return nil
	case <-p.closed:
		return sioerr.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until a payload uploaded via HTTP POST is available.
func (p *PollingServer) Next(ctx context.Context) (packet.Payload, error) {
	select {
	case payload, ok := <-p.recv:
		if !ok {
			return packet.Payload{}, sioerr.ErrConnectionClosed
		}
		return payload, nil
	case <-p.closed:
		return packet.Payload{}, sioerr.ErrConnectionClosed
	case <-ctx.Done():
		return packet.Payload{}, ctx.Err()
	}
}

// Close tears the session down; subsequent Emit/Next fail with
// ErrConnectionClosed.
func (p *PollingServer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// ServeGET drains whatever is waiting on send (blocking until at least one
// payload is available or ctx is canceled) and writes it as the HTTP
// response body, per spec.md §6.
func (p *PollingServer) ServeGET(ctx context.Context, w http.ResponseWriter) error {
	wake := make(chan struct{})
	p.mu.Lock()
	p.waitingGET = wake
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.waitingGET = nil
		p.mu.Unlock()
	}()

	select {
	case first := <-p.send:
		batch := []packet.Payload{first}
		draining := true
		for draining {
			select {
			case next := <-p.send:
				batch = append(batch, next)
			default:
				draining = false
			}
		}
		return writeBatch(w, batch)
	case <-wake:
		// Server-initiated wake ahead of an upgrade: reply with an actual
		// Engine.IO NOOP frame (type 6) per SPEC_FULL.md §4.9, so the
		// client's parked GET completes cleanly before the new transport
		// takes over.
		noop := packet.Payload{Data: []byte(fmt.Sprintf("%d", packet.EngineNoop))}
		return writeBatch(w, []packet.Payload{noop})
	case <-p.closed:
		return sioerr.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeBatch joins payloads with the Engine.IO record separator, per the
// long-poll batch framing of spec.md §4.1. Each payload is already a fully
// wire-encoded Engine.IO packet (text payloads carry their own leading type
// digit; binary payloads are shielded as a "b"-prefixed base64 item).
func writeBatch(w http.ResponseWriter, payloads []packet.Payload) error {
	parts := make([]string, len(payloads))
	for i, p := range payloads {
		if p.Binary {
			parts[i] = "b" + base64.StdEncoding.EncodeToString(p.Data)
			continue
		}
		parts[i] = string(p.Data)
	}
	body := []byte(strings.Join(parts, recordSeparator))
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	_, err := w.Write(body)
	return err
}

// ReleaseWaitingGET wakes an in-flight ServeGET with a NOOP frame, without
// closing the session. Used when the server is about to flush a polling
// session ahead of an upgrade, per spec.md §4.2's "server MUST flush any
// in-flight polling batch before switching".
func (p *PollingServer) ReleaseWaitingGET() {
	p.mu.Lock()
	wake := p.waitingGET
	p.mu.Unlock()
	if wake != nil {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// HandlePOST decodes an uploaded batch body and pushes each packet onto
// recv, in order, re-encoding each back into a single wire-ready Payload so
// Next's callers see the same {Data, Binary} shape regardless of transport
// kind: text payloads keep their leading Engine.IO type digit, binary
// payloads carry the raw attachment bytes.
func (p *PollingServer) HandlePOST(ctx context.Context, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: reading POST body: %v", sioerr.ErrIncompleteResponse, err)
	}
	pkts, err := packet.DecodeBatch(data)
	if err != nil {
		return err
	}
	for _, pk := range pkts {
		var payload packet.Payload
		if pk.Binary {
			payload = packet.Payload{Data: pk.Data, Binary: true}
		} else {
			payload = packet.Payload{Data: []byte(fmt.Sprintf("%d%s", pk.Type, pk.Data))}
		}
		select {
		case p.recv <- payload:
		case <-p.closed:
			return sioerr.ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
