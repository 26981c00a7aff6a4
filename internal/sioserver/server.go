// Package sioserver implements the server side of spec.md §4.5: namespace
// registration, connection acceptance, the client/room registries, and
// broadcast. It is the engine-level consumer of internal/rawsocket and
// internal/socket — internal/webserver feeds it completed RawSockets, it
// hands back nothing upward except through the registered callbacks.
package sioserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/rawsocket"
	"github.com/sadewadee/sockhub/internal/sid"
	"github.com/sadewadee/sockhub/internal/sioerr"
	"github.com/sadewadee/sockhub/internal/socket"
)

// ConnectFunc runs once a namespace accepts a new connection, after the
// CONNECT handshake reply has already been sent. Returning an error before
// any namespace work has started isn't meaningful here — rejection (e.g.
// auth failure) is signaled by calling Handle.RejectConnect from within the
// callback instead, since the handshake reply is already committed to the
// wire by the time ConnectFunc runs.
type ConnectFunc func(ctx context.Context, h *Handle, auth json.RawMessage)

// namespaceConfig is one registered namespace's event table template,
// applied to every Socket accepted into it.
type namespaceConfig struct {
	name       string
	onConnect  ConnectFunc
	handlers   map[string]socket.EventCallback
	anyHandler socket.EventCallback
}

// Server owns every namespace's client registry and room membership, per
// spec.md §4.5's Owns list, plus the broadcast worker pool.
type Server struct {
	logger *slog.Logger
	cfg    rawsocket.Config

	mu         sync.RWMutex
	namespaces map[string]*namespaceConfig
	clients    map[string]map[string]*Socket // esid -> namespace -> bound socket
	rooms      map[string]map[string]map[string]struct{} // namespace -> room -> set of Socket.IO sid

	pool *BroadcastPool
}

// Socket pairs one namespace's socket.Socket with the RawSocket.Esid it
// rides on, so the registry can key client lookups by either identifier.
type Socket struct {
	*socket.Socket
	Esid string
}

// New creates a Server. workers bounds the broadcast fan-out pool's
// concurrency (see BroadcastPool); 0 selects a small default.
func New(cfg rawsocket.Config, workers int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 8
	}
	s := &Server{
		logger:     logger,
		cfg:        cfg,
		namespaces: make(map[string]*namespaceConfig),
		clients:    make(map[string]map[string]*Socket),
		rooms:      make(map[string]map[string]map[string]struct{}),
	}
	s.pool = NewBroadcastPool(workers, logger)
	return s
}

// Namespace registers ns (which must start with "/") with the callback run
// on every accepted connection. Registering the same name twice replaces
// the prior registration's onConnect but keeps its handlers from On.
func (s *Server) Namespace(ns string, onConnect ConnectFunc) error {
	if err := sid.ValidateNamespace(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nc, ok := s.namespaces[ns]
	if !ok {
		nc = &namespaceConfig{name: ns, handlers: make(map[string]socket.EventCallback)}
		s.namespaces[ns] = nc
	}
	nc.onConnect = onConnect
	return nil
}

// On registers a default handler for event within ns, applied to every
// Socket accepted into that namespace from this point forward.
func (s *Server) On(ns, event string, cb socket.EventCallback) error {
	name, err := sid.NormalizeEventName(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nc := s.namespaceOrCreate(ns)
	nc.handlers[name] = cb
	return nil
}

// OnAny registers the within-ns fallback handler for events with no
// specific On registration.
func (s *Server) OnAny(ns string, cb socket.EventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaceOrCreate(ns).anyHandler = cb
}

func (s *Server) namespaceOrCreate(ns string) *namespaceConfig {
	nc, ok := s.namespaces[ns]
	if !ok {
		nc = &namespaceConfig{name: ns, handlers: make(map[string]socket.EventCallback)}
		s.namespaces[ns] = nc
	}
	return nc
}

// Accept runs the connection-acceptance flow of spec.md §4.5 against a
// RawSocket whose Engine.IO handshake has already completed: it waits for
// the client's first CONNECT packet, resolves the requested namespace,
// mints a Socket.IO sid, sends the handshake reply, and invokes the
// namespace's onConnect. It returns once the handshake either succeeds or
// is rejected; the caller (internal/webserver) doesn't need to do anything
// further — Accept's own goroutines own the connection from here on.
func (s *Server) Accept(ctx context.Context, raw *rawsocket.RawSocket) error {
	var first *packet.Packet
	select {
	case p, ok := <-raw.Packets():
		if !ok {
			return sioerr.ErrConnectionClosed
		}
		first = p
	case <-ctx.Done():
		raw.Close()
		return ctx.Err()
	}

	if first.Type != packet.Connect {
		s.logger.Warn("first packet on connection was not CONNECT", "esid", raw.Esid, "type", first.Type)
		raw.Close()
		return fmt.Errorf("%w: expected CONNECT as first packet", sioerr.ErrInvalidPacket)
	}

	ns := first.Namespace
	if ns == "" {
		ns = "/"
	}

	s.mu.RLock()
	nc, ok := s.namespaces[ns]
	s.mu.RUnlock()
	if !ok {
		errData, _ := json.Marshal(map[string]string{"message": "invalid namespace"})
		_ = raw.Emit(ctx, &packet.Packet{Type: packet.ConnectError, Namespace: ns, Data: errData})
		raw.Close()
		return fmt.Errorf("%w: %s", sioerr.ErrUnknownNamespace, ns)
	}

	socketSid := sid.NewSocketSid(raw.Esid)
	sock := socket.New(ns, socketSid, raw, s.logger)

	s.mu.RLock()
	for event, cb := range nc.handlers {
		sock.On(event, cb)
	}
	if nc.anyHandler != nil {
		sock.OnAny(nc.anyHandler)
	}
	s.mu.RUnlock()

	ack, err := packet.EncodeConnectAck(socketSid)
	if err != nil {
		raw.Close()
		return err
	}
	if err := sock.SendConnect(ctx, ack); err != nil {
		raw.Close()
		return err
	}

	rsock := &Socket{Socket: sock, Esid: raw.Esid}
	s.register(rsock)

	handle := &Handle{server: s, sock: rsock}
	sock.SetHandle(handle)

	go func() {
		<-sock.Done()
		s.unregister(rsock)
	}()

	if nc.onConnect != nil {
		nc.onConnect(ctx, handle, first.Data)
	}
	return nil
}

func (s *Server) register(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNs, ok := s.clients[sock.Esid]
	if !ok {
		byNs = make(map[string]*Socket)
		s.clients[sock.Esid] = byNs
	}
	byNs[sock.Namespace] = sock
}

func (s *Server) unregister(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byNs, ok := s.clients[sock.Esid]; ok {
		delete(byNs, sock.Namespace)
		if len(byNs) == 0 {
			delete(s.clients, sock.Esid)
		}
	}
	if roomsByName, ok := s.rooms[sock.Namespace]; ok {
		for _, members := range roomsByName {
			delete(members, sock.Sid)
		}
	}
}

// Join adds sid into room within ns.
func (s *Server) Join(ns, room, sockSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byRoom, ok := s.rooms[ns]
	if !ok {
		byRoom = make(map[string]map[string]struct{})
		s.rooms[ns] = byRoom
	}
	members, ok := byRoom[room]
	if !ok {
		members = make(map[string]struct{})
		byRoom[room] = members
	}
	members[sockSid] = struct{}{}
}

// Leave removes sid from room within ns.
func (s *Server) Leave(ns, room, sockSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byRoom, ok := s.rooms[ns]; ok {
		if members, ok := byRoom[room]; ok {
			delete(members, sockSid)
		}
	}
}

// socketsInRooms resolves the distinct set of Sockets occupying any of
// rooms within ns. An empty rooms list targets every connected Socket in
// ns. Per spec.md §4.5, any listed name that isn't a known room in ns is
// instead treated as a sid and targets that one Socket directly.
func (s *Server) socketsInRooms(ns string, rooms []string) []*Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(rooms) == 0 {
		var out []*Socket
		for _, byNs := range s.clients {
			if sock, ok := byNs[ns]; ok {
				out = append(out, sock)
			}
		}
		return out
	}

	byRoom := s.rooms[ns]
	targetSids := make(map[string]struct{})
	var directSids []string
	for _, room := range rooms {
		members, known := byRoom[room]
		if !known {
			directSids = append(directSids, room)
			continue
		}
		for sockSid := range members {
			targetSids[sockSid] = struct{}{}
		}
	}

	var out []*Socket
	for _, byNs := range s.clients {
		sock, ok := byNs[ns]
		if !ok {
			continue
		}
		if _, want := targetSids[sock.Sid]; want {
			out = append(out, sock)
			continue
		}
		for _, dsid := range directSids {
			if sock.Sid == dsid {
				out = append(out, sock)
				break
			}
		}
	}
	return out
}

// EmitTo broadcasts event to every Socket in ns occupying any of rooms (or
// every Socket in ns, if rooms is empty), via the bounded broadcast pool.
// Per-recipient failures are logged and otherwise ignored: broadcast is
// best-effort, per spec.md §4.5.
func (s *Server) EmitTo(ctx context.Context, ns string, rooms []string, event string, payload packet.Payload) {
	targets := s.socketsInRooms(ns, rooms)
	for _, sock := range targets {
		sock := sock
		s.pool.Submit(func() {
			if err := sock.Emit(ctx, event, payload); err != nil {
				s.logger.Debug("broadcast emit failed", "sid", sock.Sid, "namespace", ns, "error", err)
			}
		})
	}
}

// EmitToWithAck is EmitTo for events that expect a reply, resolving each
// recipient's ack independently; onAck is invoked once per targeted Socket.
func (s *Server) EmitToWithAck(ctx context.Context, ns string, rooms []string, event string, payload packet.Payload, timeout time.Duration, onAck func(sockSid string, payload packet.Payload, err error)) {
	targets := s.socketsInRooms(ns, rooms)
	for _, sock := range targets {
		sock := sock
		s.pool.Submit(func() {
			err := sock.EmitWithAck(ctx, event, payload, timeout, func(payload packet.Payload, err error) {
				onAck(sock.Sid, payload, err)
			})
			if err != nil {
				onAck(sock.Sid, packet.Payload{}, err)
			}
		})
	}
}

// Shutdown stops the broadcast pool. It does not disconnect live sockets;
// callers that need that should iterate clients and call Disconnect
// themselves, then call Shutdown.
func (s *Server) Shutdown() {
	s.pool.Stop()
}

// Stats is a snapshot of connection/room counts, consumed by
// internal/webserver's health and metrics endpoints in place of the
// teacher's PHP worker-pool stats.
type Stats struct {
	Connections int
	Namespaces  int
	Rooms       int
}

// Stats reports the server's current connection, namespace, and room
// counts.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := 0
	for _, byNs := range s.clients {
		conns += len(byNs)
	}
	rooms := 0
	for _, byRoom := range s.rooms {
		for _, members := range byRoom {
			if len(members) > 0 {
				rooms++
			}
		}
	}
	return Stats{
		Connections: conns,
		Namespaces:  len(s.namespaces),
		Rooms:       rooms,
	}
}
