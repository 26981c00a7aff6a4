// Package transport implements the two Engine.IO wire transports —
// long-polling and WebSocket — behind one narrow interface, plus the
// polling-to-WebSocket upgrade handshake, per spec.md §4.2.
package transport

import (
	"context"

	"github.com/sadewadee/sockhub/internal/packet"
)

// Transport is the common contract both polling and WebSocket satisfy.
// Every Payload crossing this interface is one fully wire-encoded Engine.IO
// packet: a text Payload's Data carries its own leading Engine.IO type
// digit (e.g. "2" for PING, "4..." for MESSAGE); a binary Payload's Data is
// the raw attachment bytes, implicitly type MESSAGE. Callers above this
// layer (rawsocket) are responsible for that encoding — Transport
// implementations neither add nor strip it, they just move bytes, batching
// or framing them according to their own wire format. One exception on the
// inbound side: PollingClient.Next returns a whole GET response body, which
// may hold several packets joined by the record separator; rawsocket splits
// it with packet.DecodeBatch.
type Transport interface {
	// Emit sends data, blocking until the underlying channel accepts it
	// (backpressure) or ctx is done.
	Emit(ctx context.Context, p packet.Payload) error

	// Next returns the next inbound frame, blocking until one arrives, the
	// transport closes (sioerr.ErrConnectionClosed), or ctx is done.
	Next(ctx context.Context) (packet.Payload, error)

	// Close releases the transport's resources. Safe to call more than
	// once.
	Close() error
}

// Kind identifies which wire transport is in use, used by upgrade
// bookkeeping and diagnostics.
type Kind string

const (
	KindPolling   Kind = "polling"
	KindWebSocket Kind = "websocket"
)
