// Package rawsocket implements RawSocket: one connection's transport-
// agnostic send/receive pipeline, heartbeat, binary-attachment assembly,
// and close semantics, per spec.md §4.3. It knows nothing about
// namespaces, events, or acks — that's internal/socket, layered on top.
package rawsocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/sioerr"
	"github.com/sadewadee/sockhub/internal/transport"
)

// Role determines which side of the connection initiates the heartbeat, per
// spec.md §4.3: under Engine.IO v4 the server pings and the client pongs.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Config carries the heartbeat parameters negotiated at handshake time
// (spec.md §3's OPEN packet: pingInterval, pingTimeout).
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// sendRequest is one entry in the ordered send queue.
type sendRequest struct {
	payload packet.Payload
	done    chan error
}

// assemblyState is the per-socket binary-attachment assembly buffer of
// spec.md §3.
type assemblyState struct {
	header    *packet.Packet
	collected [][]byte
	expected  int
}

// RawSocket is one connection, independent of which wire transport backs
// it at any moment.
type RawSocket struct {
	Esid   string
	role   Role
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	transport transport.Transport
	assembly  *assemblyState

	// packetsMu guards against deliver racing teardown's close(rs.packets):
	// deliver holds the read side while sending, teardown takes the write
	// side before closing, so a send can never land on an already-closed
	// channel.
	packetsMu sync.RWMutex

	// emitMu keeps one Emit's header and attachment frames contiguous in
	// the send queue.
	emitMu sync.Mutex

	sendQueue chan sendRequest
	packets   chan *packet.Packet

	closed    chan struct{}
	closeOnce sync.Once
	onClose   func(error)

	heartbeatCancel context.CancelFunc
	lastPongMu      sync.Mutex
	lastPong        time.Time

	wg sync.WaitGroup
}

// New creates a RawSocket bound to an initial transport and starts its
// send loop, receive pump, and (server role) heartbeat.
func New(esid string, role Role, cfg Config, t transport.Transport, logger *slog.Logger, onClose func(error)) *RawSocket {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RawSocket{
		Esid:      esid,
		role:      role,
		cfg:       cfg,
		logger:    logger,
		transport: t,
		sendQueue: make(chan sendRequest, 64),
		packets:   make(chan *packet.Packet, 64),
		closed:    make(chan struct{}),
		onClose:   onClose,
	}
	rs.lastPong = time.Now()

	rs.wg.Add(1)
	go rs.sendLoop()

	rs.wg.Add(1)
	go rs.recvLoop(t)

	if role == RoleServer && cfg.PingInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		rs.heartbeatCancel = cancel
		rs.wg.Add(1)
		go rs.heartbeatLoop(ctx)
	}

	return rs
}

// Packets returns the channel of decoded, reassembled Socket.IO packets
// delivered in wire arrival order. Closed when the RawSocket tears down.
func (rs *RawSocket) Packets() <-chan *packet.Packet {
	return rs.packets
}

// Emit encodes and sends one Socket.IO packet, followed by its attachments
// (if any) as separate frames, in order. Packets leaving a single RawSocket
// via Emit are ordered: the n-th call's bytes reach the transport before
// the (n+1)-th's, per spec.md §5.
func (rs *RawSocket) Emit(ctx context.Context, p *packet.Packet) error {
	text, err := packet.Encode(p)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("%d%s", packet.EngineMessage, text)
	rs.emitMu.Lock()
	defer rs.emitMu.Unlock()
	if err := rs.enqueue(ctx, packet.Payload{Data: []byte(header)}); err != nil {
		return err
	}
	for _, attachment := range p.Attachments {
		if err := rs.enqueue(ctx, packet.Payload{Data: attachment, Binary: true}); err != nil {
			return err
		}
	}
	return nil
}

func (rs *RawSocket) enqueue(ctx context.Context, payload packet.Payload) error {
	select {
	case <-rs.closed:
		return sioerr.ErrConnectionClosed
	default:
	}
	req := sendRequest{payload: payload, done: make(chan error, 1)}
	select {
	case rs.sendQueue <- req:
	case <-rs.closed:
		return sioerr.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rs *RawSocket) sendLoop() {
	defer rs.wg.Done()
	for {
		select {
		case req := <-rs.sendQueue:
			t := rs.currentTransport()
			var err error
			if t == nil {
				err = sioerr.ErrConnectionClosed
			} else {
				err = t.Emit(context.Background(), req.payload)
			}
			req.done <- err
		case <-rs.closed:
			return
		}
	}
}

func (rs *RawSocket) currentTransport() transport.Transport {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.transport
}

// recvLoop pumps frames from t until it errors or the socket closes. It is
// restarted by SwitchTransport against the new transport after an upgrade.
func (rs *RawSocket) recvLoop(t transport.Transport) {
	defer rs.wg.Done()
	for {
		payload, err := t.Next(context.Background())
		if err != nil {
			if rs.currentTransport() == t {
				rs.teardown(fmt.Errorf("%w: %v", sioerr.ErrIncompleteResponse, err))
			}
			return
		}
		if rs.currentTransport() != t {
			// Superseded by an upgrade; this loop's transport is retired.
			return
		}
		rs.handleInbound(payload)
	}
}

func (rs *RawSocket) handleInbound(payload packet.Payload) {
	var enginePkts []packet.EnginePacket
	if payload.Binary {
		enginePkts = []packet.EnginePacket{{Type: packet.EngineMessage, Data: payload.Data, Binary: true}}
	} else {
		pkts, err := packet.DecodeBatch(payload.Data)
		if err != nil {
			rs.logger.Warn("dropping malformed inbound frame", "esid", rs.Esid, "error", err)
			return
		}
		enginePkts = pkts
	}

	for _, ep := range enginePkts {
		rs.handleEnginePacket(ep)
	}
}

func (rs *RawSocket) handleEnginePacket(ep packet.EnginePacket) {
	switch ep.Type {
	case packet.EnginePing:
		rs.onPing(ep)
	case packet.EnginePong:
		rs.onPong()
	case packet.EngineClose:
		rs.teardown(sioerr.ErrConnectionClosed)
	case packet.EngineNoop, packet.EngineOpen, packet.EngineUpgrade:
		// NOOP wakes a long-poll with nothing to deliver; OPEN/UPGRADE are
		// consumed by the handshake/upgrade sequences before this loop
		// takes over its transport.
	case packet.EngineMessage:
		rs.onMessage(ep)
	}
}

func (rs *RawSocket) onPing(ep packet.EnginePacket) {
	if rs.role != RoleClient {
		return
	}
	_ = rs.enqueue(context.Background(), packet.Payload{
		Data: []byte(fmt.Sprintf("%d%s", packet.EnginePong, ep.Data)),
	})
}

func (rs *RawSocket) onPong() {
	rs.lastPongMu.Lock()
	rs.lastPong = time.Now()
	rs.lastPongMu.Unlock()
}

func (rs *RawSocket) onMessage(ep packet.EnginePacket) {
	rs.mu.Lock()
	assembly := rs.assembly
	rs.mu.Unlock()

	if assembly != nil {
		if !ep.Binary {
			rs.logger.Warn("expected binary attachment frame, dropping", "esid", rs.Esid)
			return
		}
		assembly.collected = append(assembly.collected, ep.Data)
		if len(assembly.collected) < assembly.expected {
			return
		}
		assembly.header.Attachments = assembly.collected
		rs.mu.Lock()
		rs.assembly = nil
		rs.mu.Unlock()
		rs.deliver(assembly.header)
		return
	}

	if ep.Binary {
		rs.logger.Warn("unexpected binary frame with no pending assembly, dropping", "esid", rs.Esid)
		return
	}

	sp, err := packet.Decode(string(ep.Data))
	if err != nil {
		rs.logger.Warn("dropping malformed socket.io packet", "esid", rs.Esid, "error", err)
		return
	}
	if sp.AttachmentCount > 0 {
		rs.mu.Lock()
		rs.assembly = &assemblyState{header: sp, expected: sp.AttachmentCount}
		rs.mu.Unlock()
		return
	}
	rs.deliver(sp)
}

func (rs *RawSocket) deliver(p *packet.Packet) {
	rs.packetsMu.RLock()
	defer rs.packetsMu.RUnlock()

	select {
	case <-rs.closed:
		return
	default:
	}
	select {
	case rs.packets <- p:
	case <-rs.closed:
	}
}

func (rs *RawSocket) heartbeatLoop(ctx context.Context) {
	defer rs.wg.Done()
	ticker := time.NewTicker(rs.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := rs.enqueue(ctx, packet.Payload{Data: []byte(fmt.Sprintf("%d", packet.EnginePing))}); err != nil {
				return
			}
			rs.lastPongMu.Lock()
			last := rs.lastPong
			rs.lastPongMu.Unlock()
			if time.Since(last) > rs.cfg.PingInterval+rs.cfg.PingTimeout {
				rs.teardown(fmt.Errorf("%w: heartbeat timeout", sioerr.ErrConnectionClosed))
				return
			}
		case <-ctx.Done():
			return
		case <-rs.closed:
			return
		}
	}
}

// SwitchTransport retires the current transport and makes t the transport
// used by subsequent Emit/recv activity, per the upgrade handshake of
// spec.md §4.2.
func (rs *RawSocket) SwitchTransport(t transport.Transport) {
	rs.mu.Lock()
	old := rs.transport
	rs.transport = t
	rs.mu.Unlock()

	if old != nil {
		old.Close()
	}
	rs.wg.Add(1)
	go rs.recvLoop(t)
}

// Close sends a CLOSE packet best-effort, stops all loops, and releases the
// transport. Safe to call more than once; subsequent Emit calls fail with
// ErrConnectionClosed.
func (rs *RawSocket) Close() error {
	rs.teardown(sioerr.ErrConnectionClosed)
	return nil
}

func (rs *RawSocket) teardown(cause error) {
	rs.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = rs.enqueue(ctx, packet.Payload{Data: []byte(fmt.Sprintf("%d", packet.EngineClose))})
		cancel()

		close(rs.closed)
		if rs.heartbeatCancel != nil {
			rs.heartbeatCancel()
		}
		if t := rs.currentTransport(); t != nil {
			t.Close()
		}
		rs.packetsMu.Lock()
		close(rs.packets)
		rs.packetsMu.Unlock()
		if rs.onClose != nil {
			rs.onClose(cause)
		}
	})
}

// IsClosed reports whether the RawSocket has torn down.
func (rs *RawSocket) IsClosed() bool {
	select {
	case <-rs.closed:
		return true
	default:
		return false
	}
}
