package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/rawsocket"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// linkedTransport is one end of an in-memory pair of transport.Transport
// implementations wired directly to each other, so a pair of Sockets can
// exchange real wire-encoded packets without any HTTP or WebSocket plumbing.
type linkedTransport struct {
	send, recv chan packet.Payload
	closed     chan struct{}
}

func newLinkedPair() (*linkedTransport, *linkedTransport) {
	c1 := make(chan packet.Payload, 64)
	c2 := make(chan packet.Payload, 64)
	return &linkedTransport{send: c1, recv: c2, closed: make(chan struct{})},
		&linkedTransport{send: c2, recv: c1, closed: make(chan struct{})}
}

func (l *linkedTransport) Emit(ctx context.Context, p packet.Payload) error {
	select {
	case l.send <- p:
		return nil
	case <-l.closed:
		return fmt.Errorf("closed")
	}
}

func (l *linkedTransport) Next(ctx context.Context) (packet.Payload, error) {
	select {
	case p := <-l.recv:
		return p, nil
	case <-l.closed:
		return packet.Payload{}, fmt.Errorf("closed")
	case <-ctx.Done():
		return packet.Payload{}, ctx.Err()
	}
}

func (l *linkedTransport) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func newLinkedSockets(t *testing.T) (server, client *Socket) {
	t.Helper()
	ta, tb := newLinkedPair()
	rawA := rawsocket.New("esid-a", rawsocket.RoleServer, rawsocket.Config{}, ta, nil, nil)
	rawB := rawsocket.New("esid-b", rawsocket.RoleClient, rawsocket.Config{}, tb, nil, nil)
	t.Cleanup(func() { rawA.Close(); rawB.Close() })
	server = New("/", "server-sid", rawA, nil)
	client = New("/", "client-sid", rawB, nil)
	return server, client
}

func TestEmitDispatchesToPeerHandler(t *testing.T) {
	server, client := newLinkedSockets(t)

	received := make(chan string, 1)
	client.On("chat", func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64) {
		received <- string(payload.Data)
	})

	if err := server.Emit(context.Background(), "chat", packet.StringPayload(json.RawMessage(`"hi"`))); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `"hi"` {
			t.Errorf("received = %q, want %q", got, `"hi"`)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event dispatch")
	}
}

func TestEmitWithAckRoundtrip(t *testing.T) {
	server, client := newLinkedSockets(t)

	client.On("ping", func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64) {
		if ackID == nil {
			t.Error("expected ack id on inbound ping event")
			return
		}
		client.Ack(ctx, *ackID, packet.StringPayload(json.RawMessage(`"pong"`)))
	})

	result := make(chan packet.Payload, 1)
	errCh := make(chan error, 1)
	err := server.EmitWithAck(context.Background(), "ping", packet.Payload{}, time.Second, func(payload packet.Payload, err error) {
		result <- payload
		errCh <- err
	})
	if err != nil {
		t.Fatalf("EmitWithAck() error = %v", err)
	}

	select {
	case got := <-result:
		if string(got.Data) != `"pong"` {
			t.Errorf("ack payload = %q, want %q", got.Data, `"pong"`)
		}
		if err := <-errCh; err != nil {
			t.Errorf("ack error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestEmitWithAckTimesOut(t *testing.T) {
	server, _ := newLinkedSockets(t)

	result := make(chan error, 1)
	err := server.EmitWithAck(context.Background(), "unanswered", packet.Payload{}, 20*time.Millisecond, func(payload packet.Payload, err error) {
		result <- err
	})
	if err != nil {
		t.Fatalf("EmitWithAck() error = %v", err)
	}

	select {
	case got := <-result:
		if got != sioerr.ErrAckTimeout {
			t.Errorf("ack error = %v, want ErrAckTimeout", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack-timeout callback")
	}
}

func TestDisconnectResolvesPendingAcksWithDisconnected(t *testing.T) {
	server, _ := newLinkedSockets(t)

	result := make(chan error, 1)
	if err := server.EmitWithAck(context.Background(), "never", packet.Payload{}, time.Minute, func(payload packet.Payload, err error) {
		result <- err
	}); err != nil {
		t.Fatalf("EmitWithAck() error = %v", err)
	}

	if err := server.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case got := <-result:
		if got != sioerr.ErrDisconnected {
			t.Errorf("ack error = %v, want ErrDisconnected", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect-driven ack resolution")
	}
}

func TestConnectHandshakeFiresConnectCallback(t *testing.T) {
	server, client := newLinkedSockets(t)

	fired := make(chan json.RawMessage, 1)
	client.On("connect", func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64) {
		fired <- payload.Data
	})

	if err := server.SendConnect(context.Background(), json.RawMessage(`{"sid":"server-sid"}`)); err != nil {
		t.Fatalf("SendConnect() error = %v", err)
	}

	select {
	case data := <-fired:
		if string(data) != `{"sid":"server-sid"}` {
			t.Errorf("connect payload = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect callback")
	}
	if !client.Connected() {
		t.Error("Connected() = false after CONNECT handshake")
	}
}

func TestOffRemovesHandler(t *testing.T) {
	server, client := newLinkedSockets(t)

	called := make(chan struct{}, 1)
	client.On("topic", func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64) {
		called <- struct{}{}
	})
	client.Off("topic")

	anyFired := make(chan struct{}, 1)
	client.OnAny(func(ctx context.Context, handle interface{}, payload packet.Payload, ackID *int64) {
		anyFired <- struct{}{}
	})

	if err := server.Emit(context.Background(), "topic", packet.Payload{}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case <-anyFired:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onAny fallback")
	}
	select {
	case <-called:
		t.Fatal("removed handler should not have fired")
	default:
	}
}
