// Package socket implements the namespaced Socket of spec.md §4.4: one
// RawSocket wrapped in one namespace, with its dispatch table and ack
// ledger. sioserver.Handle and sioclient.Handle are thin wrappers over this
// shared core, each legal for the operations their side supports.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/rawsocket"
	"github.com/sadewadee/sockhub/internal/sid"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// ackSweepInterval is the fixed tick spec.md §4.4 allows in place of
// per-entry timers.
const ackSweepInterval = 50 * time.Millisecond

// EventCallback handles one inbound EVENT/BINARY_EVENT/connect/disconnect/
// error dispatch. handle is the side-specific wrapper (sioserver.Handle or
// sioclient.Handle) registered via SetHandle; ackID is set when the inbound
// packet expects a reply via Ack.
type EventCallback func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64)

// AckCallback resolves one emit_with_ack entry, either with the peer's
// reply payload and a nil err, or with an empty payload and err set
// (sioerr.ErrAckTimeout, sioerr.ErrDisconnected, or the send error) when
// the call didn't get a real reply.
type AckCallback func(payload packet.Payload, err error)

type ackEntry struct {
	callback AckCallback
	deadline time.Time
	resolved bool
}

// Socket wraps one RawSocket within one namespace.
type Socket struct {
	Namespace string
	Sid       string

	raw    *rawsocket.RawSocket
	logger *slog.Logger

	handle interface{}

	mu       sync.RWMutex
	handlers map[string]EventCallback
	anyCb    EventCallback

	ackMu   sync.Mutex
	acks    map[int64]*ackEntry
	nextID  atomic.Int64

	connectedMu sync.Mutex
	connected   bool
	connectCh   chan json.RawMessage
	connectErr  chan json.RawMessage

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Socket bound to raw within namespace ns and starts its
// dispatch loop and ack-timeout sweep.
func New(ns string, socketSid string, raw *rawsocket.RawSocket, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Socket{
		Namespace:  ns,
		Sid:        socketSid,
		raw:        raw,
		logger:     logger,
		handlers:   make(map[string]EventCallback),
		acks:       make(map[int64]*ackEntry),
		connectCh:  make(chan json.RawMessage, 1),
		connectErr: make(chan json.RawMessage, 1),
		done:       make(chan struct{}),
	}
	go s.dispatchLoop()
	go s.ackSweepLoop()
	return s
}

// SetHandle records the side-specific wrapper passed to event callbacks.
// Called once, after the wrapper is constructed around this Socket.
func (s *Socket) SetHandle(h interface{}) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// On registers callback for event, replacing any previous registration.
func (s *Socket) On(event string, cb EventCallback) error {
	name, err := sid.NormalizeEventName(event)
	if err != nil {
		return fmt.Errorf("%w: %v", sioerr.ErrInvalidPacket, err)
	}
	s.mu.Lock()
	s.handlers[name] = cb
	s.mu.Unlock()
	return nil
}

// Off removes event's callback, if any.
func (s *Socket) Off(event string) {
	s.mu.Lock()
	delete(s.handlers, event)
	s.mu.Unlock()
}

// OnAny registers a callback invoked for every inbound event not otherwise
// claimed by a specific On handler, per SPEC_FULL.md §4.9.
func (s *Socket) OnAny(cb EventCallback) {
	s.mu.Lock()
	s.anyCb = cb
	s.mu.Unlock()
}

// Emit sends event with payload as EVENT or BINARY_EVENT, uncorrelated with
// any ack.
func (s *Socket) Emit(ctx context.Context, event string, payload packet.Payload) error {
	p, err := s.encodeEvent(event, payload, nil)
	if err != nil {
		return err
	}
	return s.raw.Emit(ctx, p)
}

// EmitWithAck allocates the next ack id, registers a ledger entry with
// deadline now+timeout, and sends the packet with that id set. callback
// fires exactly once, either from an inbound ACK/BINARY_ACK or from the
// timeout sweep.
func (s *Socket) EmitWithAck(ctx context.Context, event string, payload packet.Payload, timeout time.Duration, callback AckCallback) error {
	id := s.nextID.Add(1) - 1

	s.ackMu.Lock()
	s.acks[id] = &ackEntry{callback: callback, deadline: time.Now().Add(timeout)}
	s.ackMu.Unlock()

	p, err := s.encodeEvent(event, payload, &id)
	if err != nil {
		s.ackMu.Lock()
		delete(s.acks, id)
		s.ackMu.Unlock()
		return err
	}
	if err := s.raw.Emit(ctx, p); err != nil {
		s.resolveAck(id, packet.Payload{}, err)
		return err
	}
	return nil
}

func (s *Socket) encodeEvent(event string, payload packet.Payload, id *int64) (*packet.Packet, error) {
	data, attachments, isBinary, err := packet.BuildEventArray(event, payload)
	if err != nil {
		return nil, err
	}
	p := &packet.Packet{Namespace: s.Namespace, Data: data, ID: id}
	if isBinary {
		p.Type = packet.BinaryEvent
		p.AttachmentCount = len(attachments)
		p.Attachments = attachments
	} else {
		p.Type = packet.Event
	}
	return p, nil
}

// Ack replies to an inbound event that carried id with an ACK/BINARY_ACK
// packet. Only meaningful in direct response to a received ackID.
func (s *Socket) Ack(ctx context.Context, id int64, payload packet.Payload) error {
	data, attachments, isBinary, err := encodeAckArgs(payload)
	if err != nil {
		return err
	}
	p := &packet.Packet{Namespace: s.Namespace, Data: data, ID: &id}
	if isBinary {
		p.Type = packet.BinaryAck
		p.AttachmentCount = len(attachments)
		p.Attachments = attachments
	} else {
		p.Type = packet.Ack
	}
	return s.raw.Emit(ctx, p)
}

// ackPlaceholder mirrors the internal/packet binary-argument placeholder
// shape; ACK/BINARY_ACK packets carry a bare argument array with no event
// name, so they can't reuse BuildEventArray/ParseEventArray directly.
type ackPlaceholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         int  `json:"num"`
}

func encodeAckArgs(payload packet.Payload) (json.RawMessage, [][]byte, bool, error) {
	if payload.Binary {
		ph, _ := json.Marshal(ackPlaceholder{Placeholder: true, Num: 0})
		return json.RawMessage("[" + string(ph) + "]"), [][]byte{payload.Data}, true, nil
	}
	if payload.IsEmpty() {
		return json.RawMessage("[]"), nil, false, nil
	}
	if !json.Valid(payload.Data) {
		return nil, nil, false, fmt.Errorf("%w: ack payload is not valid JSON", sioerr.ErrInvalidPacket)
	}
	return json.RawMessage("[" + string(payload.Data) + "]"), nil, false, nil
}

func decodeAckArgs(data json.RawMessage, attachments [][]byte) (packet.Payload, error) {
	var args []json.RawMessage
	if len(data) == 0 {
		return packet.Payload{}, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return packet.Payload{}, fmt.Errorf("%w: decoding ack array: %v", sioerr.ErrInvalidPacket, err)
	}
	if len(args) == 0 {
		return packet.Payload{}, nil
	}
	for _, arg := range args {
		var ph ackPlaceholder
		if json.Unmarshal(arg, &ph) == nil && ph.Placeholder {
			if ph.Num < 0 || ph.Num >= len(attachments) {
				return packet.Payload{}, fmt.Errorf("%w: ack placeholder index %d out of range", sioerr.ErrInvalidPacket, ph.Num)
			}
			return packet.BinaryPayload(attachments[ph.Num]), nil
		}
	}
	if len(args) == 1 {
		return packet.StringPayload(args[0]), nil
	}
	joined, err := json.Marshal(args)
	if err != nil {
		return packet.Payload{}, fmt.Errorf("re-encoding ack arguments: %w", err)
	}
	return packet.StringPayload(joined), nil
}

// SendConnect sends a CONNECT packet carrying data: a client's namespace
// join request (optional auth payload), or a server's handshake reply
// ({"sid": ...}).
func (s *Socket) SendConnect(ctx context.Context, data json.RawMessage) error {
	return s.raw.Emit(ctx, &packet.Packet{Type: packet.Connect, Namespace: s.Namespace, Data: data})
}

// SendConnectError sends a CONNECT_ERROR packet, e.g. when the client's
// requested namespace has no registered event table.
func (s *Socket) SendConnectError(ctx context.Context, data json.RawMessage) error {
	return s.raw.Emit(ctx, &packet.Packet{Type: packet.ConnectError, Namespace: s.Namespace, Data: data})
}

// WaitConnect blocks until the server's CONNECT handshake reply (or a
// CONNECT_ERROR) arrives, returning the packet's Data. Used by the client
// during Connect.
func (s *Socket) WaitConnect(ctx context.Context) (json.RawMessage, error) {
	select {
	case data := <-s.connectCh:
		return data, nil
	case data := <-s.connectErr:
		return nil, fmt.Errorf("%w: %s", sioerr.ErrUnknownNamespace, string(data))
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, sioerr.ErrConnectionClosed
	}
}

// Connected reports whether this Socket has completed the CONNECT
// handshake.
func (s *Socket) Connected() bool {
	s.connectedMu.Lock()
	defer s.connectedMu.Unlock()
	return s.connected
}

// Done returns a channel closed once this Socket has torn down, either via
// Disconnect or because its RawSocket's packet stream ended. Used by
// sioserver to trigger room/registry cleanup without polling.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Disconnect sends DISCONNECT, closes the underlying RawSocket, and
// resolves every pending ack entry with ErrDisconnected.
func (s *Socket) Disconnect(ctx context.Context) error {
	var sendErr error
	s.closeOnce.Do(func() {
		sendErr = s.raw.Emit(ctx, &packet.Packet{Type: packet.Disconnect, Namespace: s.Namespace})
		s.raw.Close()
		s.teardown()
	})
	return sendErr
}

func (s *Socket) teardown() {
	s.connectedMu.Lock()
	s.connected = false
	s.connectedMu.Unlock()

	s.ackMu.Lock()
	for id, entry := range s.acks {
		if !entry.resolved {
			entry.resolved = true
			go entry.callback(packet.Payload{}, sioerr.ErrDisconnected)
		}
		delete(s.acks, id)
	}
	s.ackMu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Socket) dispatchLoop() {
	for p := range s.raw.Packets() {
		s.dispatch(p)
	}
	s.teardown()
}

func (s *Socket) dispatch(p *packet.Packet) {
	switch p.Type {
	case packet.Connect:
		s.connectedMu.Lock()
		s.connected = true
		s.connectedMu.Unlock()
		select {
		case s.connectCh <- p.Data:
		default:
		}
		s.fire(sid.EventConnect, packet.Payload{Data: p.Data}, nil)

	case packet.ConnectError:
		select {
		case s.connectErr <- p.Data:
		default:
		}
		s.fire(sid.EventError, packet.Payload{Data: p.Data}, nil)

	case packet.Disconnect:
		s.fire(sid.EventDisconnect, packet.Payload{}, nil)
		s.teardown()

	case packet.Event, packet.BinaryEvent:
		event, payload, err := packet.ParseEventArray(p.Data, p.Attachments)
		if err != nil {
			s.logger.Warn("dropping malformed event packet", "namespace", s.Namespace, "error", err)
			return
		}
		s.fire(event, payload, p.ID)

	case packet.Ack, packet.BinaryAck:
		payload, err := decodeAckArgs(p.Data, p.Attachments)
		if err != nil {
			s.logger.Warn("dropping malformed ack packet", "namespace", s.Namespace, "error", err)
			return
		}
		if p.ID == nil {
			return
		}
		s.resolveAck(*p.ID, payload, nil)
	}
}

func (s *Socket) fire(event string, payload packet.Payload, ackID *int64) {
	s.mu.RLock()
	cb, ok := s.handlers[event]
	anyCb := s.anyCb
	handle := s.handle
	s.mu.RUnlock()

	if ok {
		cb(context.Background(), handle, payload, ackID)
		return
	}
	if anyCb != nil {
		anyCb(context.Background(), handle, payload, ackID)
	}
}

func (s *Socket) resolveAck(id int64, payload packet.Payload, err error) {
	s.ackMu.Lock()
	entry, ok := s.acks[id]
	if ok {
		delete(s.acks, id)
	}
	s.ackMu.Unlock()
	if ok && !entry.resolved {
		entry.resolved = true
		entry.callback(payload, err)
	}
}

func (s *Socket) ackSweepLoop() {
	ticker := time.NewTicker(ackSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpiredAcks()
		case <-s.done:
			return
		}
	}
}

func (s *Socket) sweepExpiredAcks() {
	now := time.Now()
	var expired []*ackEntry

	s.ackMu.Lock()
	for id, entry := range s.acks {
		if !entry.resolved && now.After(entry.deadline) {
			entry.resolved = true
			expired = append(expired, entry)
			delete(s.acks, id)
		}
	}
	s.ackMu.Unlock()

	for _, entry := range expired {
		entry.callback(packet.Payload{}, sioerr.ErrAckTimeout)
	}
}
