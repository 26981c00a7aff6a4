package sioserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
)

// Handle is the server-side wrapper EventCallback and ConnectFunc receive,
// per spec.md §9's dual-role-Socket decision: it can do everything a plain
// Socket.Socket can plus room membership and connection rejection, which
// only make sense on the server.
type Handle struct {
	server *Server
	sock   *Socket
}

// Sid returns the Socket.IO sid this connection was assigned.
func (h *Handle) Sid() string { return h.sock.Sid }

// Namespace returns the namespace this Handle's Socket belongs to.
func (h *Handle) Namespace() string { return h.sock.Namespace }

// Emit sends event to this one connection.
func (h *Handle) Emit(ctx context.Context, event string, payload packet.Payload) error {
	return h.sock.Emit(ctx, event, payload)
}

// EmitWithAck sends event to this one connection and returns once it is
// sent; cb runs later with the reply, or with a timeout or disconnect error.
func (h *Handle) EmitWithAck(ctx context.Context, event string, payload packet.Payload, timeout time.Duration, cb func(packet.Payload, error)) error {
	return h.sock.EmitWithAck(ctx, event, payload, timeout, cb)
}

// Ack replies to an inbound event that carried ackID.
func (h *Handle) Ack(ctx context.Context, ackID int64, payload packet.Payload) error {
	return h.sock.Ack(ctx, ackID, payload)
}

// On registers an event handler scoped to this one connection, overriding
// the namespace default for this Socket only.
func (h *Handle) On(event string, cb func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64)) error {
	return h.sock.On(event, cb)
}

// Join adds this connection to room.
func (h *Handle) Join(room string) {
	h.server.Join(h.sock.Namespace, room, h.sock.Sid)
}

// Leave removes this connection from room.
func (h *Handle) Leave(room string) {
	h.server.Leave(h.sock.Namespace, room, h.sock.Sid)
}

// Broadcast sends event to every connection in rooms (or the whole
// namespace, if rooms is empty) within this Handle's namespace, this
// connection included when it is one of them.
func (h *Handle) Broadcast(ctx context.Context, rooms []string, event string, payload packet.Payload) {
	h.server.EmitTo(ctx, h.sock.Namespace, rooms, event, payload)
}

// Disconnect tears this one connection down.
func (h *Handle) Disconnect(ctx context.Context) error {
	return h.sock.Disconnect(ctx)
}

// Done returns a channel closed once this connection has torn down, either
// because the client disconnected or because its transport died.
func (h *Handle) Done() <-chan struct{} {
	return h.sock.Done()
}

// RejectConnect sends a CONNECT_ERROR and disconnects. Call from within a
// ConnectFunc to reject a connection after inspecting its auth payload —
// the handshake reply has already gone out by the time ConnectFunc runs, so
// this corrects course rather than preventing the initial ack.
func (h *Handle) RejectConnect(ctx context.Context, reason string) error {
	data, _ := json.Marshal(map[string]string{"message": reason})
	_ = h.sock.SendConnectError(ctx, data)
	return h.sock.Disconnect(ctx)
}
