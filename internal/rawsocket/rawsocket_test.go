package rawsocket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
)

// fakeTransport is an in-memory transport.Transport double: everything sent
// via Emit is observable on Outbound, and tests push inbound frames onto
// Inbound for the recv pump to pick up.
type fakeTransport struct {
	Outbound chan packet.Payload
	Inbound  chan packet.Payload
	closed   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		Outbound: make(chan packet.Payload, 64),
		Inbound:  make(chan packet.Payload, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) Emit(ctx context.Context, p packet.Payload) error {
	select {
	case f.Outbound <- p:
		return nil
	case <-f.closed:
		return fmt.Errorf("closed")
	}
}

func (f *fakeTransport) Next(ctx context.Context) (packet.Payload, error) {
	select {
	case p := <-f.Inbound:
		return p, nil
	case <-f.closed:
		return packet.Payload{}, fmt.Errorf("closed")
	case <-ctx.Done():
		return packet.Payload{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// engineMessageFrame wire-encodes p as an inbound frame the way a peer
// would send it: the Socket.IO text prefixed with the Engine.IO MESSAGE
// type digit, matching the RawSocket<->Transport contract.
func engineMessageFrame(t *testing.T, p *packet.Packet) []byte {
	t.Helper()
	s, err := packet.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return []byte(fmt.Sprintf("%d%s", packet.EngineMessage, s))
}

func TestEmitOrdering(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{}, ft, nil, nil)
	defer rs.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p := &packet.Packet{Type: packet.Event, Namespace: "/", Data: []byte(fmt.Sprintf("[%d]", i))}
		if err := rs.Emit(ctx, p); err != nil {
			t.Fatalf("Emit(%d) error = %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case got := <-ft.Outbound:
			want := fmt.Sprintf("42[%d]", i)
			if string(got.Data) != want {
				t.Errorf("frame %d = %q, want %q", i, got.Data, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestEmitWithAttachmentsSendsInOrder(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{}, ft, nil, nil)
	defer rs.Close()

	p := &packet.Packet{
		Type:            packet.BinaryEvent,
		Namespace:       "/",
		Data:            []byte(`["upload",{"_placeholder":true,"num":0}]`),
		AttachmentCount: 1,
		Attachments:     [][]byte{{0xAA, 0xBB}},
	}
	if err := rs.Emit(context.Background(), p); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	header := <-ft.Outbound
	if header.Binary {
		t.Fatalf("header frame should be text, got binary")
	}
	attachment := <-ft.Outbound
	if !attachment.Binary || string(attachment.Data) != string([]byte{0xAA, 0xBB}) {
		t.Errorf("attachment frame = %+v", attachment)
	}
}

func TestBinaryAttachmentAssembly(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{}, ft, nil, nil)
	defer rs.Close()

	header := &packet.Packet{
		Type:            packet.BinaryEvent,
		Namespace:       "/",
		Data:            []byte(`["upload",{"_placeholder":true,"num":0}]`),
		AttachmentCount: 1,
	}
	ft.Inbound <- packet.Payload{Data: engineMessageFrame(t, header)}
	ft.Inbound <- packet.Payload{Data: []byte{0x01, 0x02, 0x03}, Binary: true}

	select {
	case got := <-rs.Packets():
		if len(got.Attachments) != 1 || string(got.Attachments[0]) != string([]byte{0x01, 0x02, 0x03}) {
			t.Errorf("got.Attachments = %v", got.Attachments)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reassembled packet")
	}
}

func TestInboundEventDeliveredWithoutAttachments(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{}, ft, nil, nil)
	defer rs.Close()

	p := &packet.Packet{Type: packet.Event, Namespace: "/", Data: []byte(`["chat","hi"]`)}
	ft.Inbound <- packet.Payload{Data: engineMessageFrame(t, p)}

	select {
	case got := <-rs.Packets():
		if got.Type != packet.Event || string(got.Data) != `["chat","hi"]` {
			t.Errorf("got = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered packet")
	}
}

func TestClientRepliesPongToPing(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleClient, Config{}, ft, nil, nil)
	defer rs.Close()

	ft.Inbound <- packet.Payload{Data: []byte(fmt.Sprintf("%d", packet.EnginePing))}

	select {
	case got := <-ft.Outbound:
		if string(got.Data) != fmt.Sprintf("%d", packet.EnginePong) {
			t.Errorf("got = %q, want pong", got.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong reply")
	}
}

func TestServerHeartbeatSendsPing(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{PingInterval: 20 * time.Millisecond, PingTimeout: time.Second}, ft, nil, nil)
	defer rs.Close()

	select {
	case got := <-ft.Outbound:
		if string(got.Data) != fmt.Sprintf("%d", packet.EnginePing) {
			t.Errorf("got = %q, want ping", got.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat ping")
	}
}

func TestHeartbeatTimeoutClosesSocket(t *testing.T) {
	ft := newFakeTransport()
	closedCh := make(chan error, 1)
	rs := New("esid-1", RoleServer, Config{PingInterval: 10 * time.Millisecond, PingTimeout: 10 * time.Millisecond}, ft, nil, func(err error) {
		closedCh <- err
	})
	defer rs.Close()

	// Never reply with a PONG: the heartbeat should declare the connection dead.
	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("RawSocket did not close after missed heartbeat")
	}
	if !rs.IsClosed() {
		t.Error("IsClosed() = false after heartbeat timeout")
	}
}

func TestCloseIsIdempotentAndRejectsFurtherEmits(t *testing.T) {
	ft := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{}, ft, nil, nil)

	if err := rs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rs.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	p := &packet.Packet{Type: packet.Event, Namespace: "/", Data: []byte(`["x"]`)}
	if err := rs.Emit(context.Background(), p); err == nil {
		t.Error("Emit() after Close() should error")
	}
}

func TestSwitchTransportRedirectsRecvAndSend(t *testing.T) {
	ft1 := newFakeTransport()
	rs := New("esid-1", RoleServer, Config{}, ft1, nil, nil)
	defer rs.Close()

	ft2 := newFakeTransport()
	rs.SwitchTransport(ft2)

	p := &packet.Packet{Type: packet.Event, Namespace: "/", Data: []byte(`["after-upgrade"]`)}
	if err := rs.Emit(context.Background(), p); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case got := <-ft2.Outbound:
		if string(got.Data) != `42["after-upgrade"]` {
			t.Errorf("got = %q", got.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on new transport")
	}

	select {
	case got := <-ft1.Outbound:
		t.Fatalf("old transport received unexpected frame: %+v", got)
	default:
	}
}
