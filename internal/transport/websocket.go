package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// WSTransport wraps a *websocket.Conn as a Transport, symmetric for both
// client and server use: Emit serializes concurrent writers (the
// gorilla/websocket connection is not safe for concurrent writes), Next
// pumps inbound frames onto a channel so it composes with select/context
// cancellation.
type WSTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	recv      chan packet.Payload
	recvErr   chan error
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSTransport wraps conn and starts its read pump.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		conn:    conn,
		recv:    make(chan packet.Payload, 1),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
	go t.readPump()
	return t
}

func (t *WSTransport) readPump() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case t.recvErr <- fmt.Errorf("%w: %v", sioerr.ErrIncompleteResponse, err):
			case <-t.closed:
			}
			return
		}
		payload := packet.Payload{Data: data, Binary: msgType == websocket.BinaryMessage}
		select {
		case t.recv <- payload:
		case <-t.closed:
			return
		}
	}
}

// Emit sends one frame: a text frame for string payloads, a binary frame
// for binary payloads.
func (t *WSTransport) Emit(ctx context.Context, payload packet.Payload) error {
	select {
	case <-t.closed:
		return sioerr.ErrConnectionClosed
	default:
	}

	msgType := websocket.TextMessage
	if payload.Binary {
		msgType = websocket.BinaryMessage
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(msgType, payload.Data); err != nil {
		return fmt.Errorf("%w: %v", sioerr.ErrSend, err)
	}
	return nil
}

// Next returns the next inbound frame.
func (t *WSTransport) Next(ctx context.Context) (packet.Payload, error) {
	select {
	case payload := <-t.recv:
		return payload, nil
	case err := <-t.recvErr:
		return packet.Payload{}, err
	case <-t.closed:
		return packet.Payload{}, sioerr.ErrConnectionClosed
	case <-ctx.Done():
		return packet.Payload{}, ctx.Err()
	}
}

// Close closes the underlying connection.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// SendEnginePacket is a convenience wrapper encoding one Engine.IO packet
// as a WebSocket frame and sending it (used by the upgrade handshake's
// PING "probe" / PONG "probe" / UPGRADE exchange, which operates below the
// Socket.IO layer).
func (t *WSTransport) SendEnginePacket(ctx context.Context, p packet.EnginePacket) error {
	data, binary := packet.EncodeWSFrame(p)
	return t.Emit(ctx, packet.Payload{Data: data, Binary: binary})
}
