package sioclient

import (
	"context"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/sioerr"
	"github.com/sadewadee/sockhub/internal/socket"
)

// Handle is the client-side wrapper EventCallback receives, per spec.md §9's
// dual-role-Socket decision: client handles have no room operations, only
// emit/ack/disconnect against the single active connection, resolved
// through the owning Client so it keeps working across a reconnect.
type Handle struct {
	client *Client
}

func (h *Handle) currentSocket() (*socket.Socket, error) {
	h.client.mu.RLock()
	sock := h.client.sock
	h.client.mu.RUnlock()
	if sock == nil {
		return nil, sioerr.ErrNotConnected
	}
	return sock, nil
}

// Sid returns the currently active connection's Socket.IO sid, or "" if
// not connected.
func (h *Handle) Sid() string {
	h.client.mu.RLock()
	defer h.client.mu.RUnlock()
	if h.client.sock == nil {
		return ""
	}
	return h.client.sock.Sid
}

// Emit sends event on the active connection.
func (h *Handle) Emit(ctx context.Context, event string, payload packet.Payload) error {
	sock, err := h.currentSocket()
	if err != nil {
		return err
	}
	return sock.Emit(ctx, event, payload)
}

// EmitWithAck sends event and returns once it is sent; cb runs later with
// the server's reply, or with a timeout or disconnect error.
func (h *Handle) EmitWithAck(ctx context.Context, event string, payload packet.Payload, timeout time.Duration, cb socket.AckCallback) error {
	sock, err := h.currentSocket()
	if err != nil {
		return err
	}
	return sock.EmitWithAck(ctx, event, payload, timeout, cb)
}

// Ack replies to an inbound event that carried ackID.
func (h *Handle) Ack(ctx context.Context, ackID int64, payload packet.Payload) error {
	sock, err := h.currentSocket()
	if err != nil {
		return err
	}
	return sock.Ack(ctx, ackID, payload)
}

// Disconnect tears the client's connection down (without stopping
// reconnect; use Client.Close for that).
func (h *Handle) Disconnect(ctx context.Context) error {
	sock, err := h.currentSocket()
	if err != nil {
		return err
	}
	return sock.Disconnect(ctx)
}
