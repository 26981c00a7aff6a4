package webserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/sockhub/internal/config"
	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/rawsocket"
	"github.com/sadewadee/sockhub/internal/sid"
	"github.com/sadewadee/sockhub/internal/sioserver"
	"github.com/sadewadee/sockhub/internal/transport"
)

// engineIOHandler is the HTTP surface of the Engine.IO transport layer: a
// bare GET mints a session and replies with the OPEN handshake, a GET/POST
// carrying ?sid= rides the long-poll session, and a GET carrying
// &transport=websocket drives the polling→WebSocket upgrade of spec.md
// §4.2 before handing the connection to internal/rawsocket.
type engineIOHandler struct {
	cfg    *config.Config
	sio    *sioserver.Server
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*pollSession
}

type pollSession struct {
	ps  *transport.PollingServer
	raw *rawsocket.RawSocket
}

func newEngineIOHandler(cfg *config.Config, sio *sioserver.Server, logger *slog.Logger) *engineIOHandler {
	return &engineIOHandler{
		cfg:      cfg,
		sio:      sio,
		logger:   logger,
		sessions: make(map[string]*pollSession),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *engineIOHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	esid := q.Get("sid")

	if esid == "" {
		h.handshake(w, r)
		return
	}

	h.mu.Lock()
	sess, ok := h.sessions[esid]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}

	if q.Get("transport") == "websocket" {
		h.upgrade(w, r, sess)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if err := sess.ps.ServeGET(r.Context(), w); err != nil {
			h.logger.Debug("polling GET ended", "sid", esid, "error", err)
		}
	case http.MethodPost:
		if err := sess.ps.HandlePOST(r.Context(), r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *engineIOHandler) handshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	esid := sid.NewEngineSid()
	ps := transport.NewPollingServerWithCapacity(h.cfg.EngineIO.PollingChannelCapacity)

	pingInterval, pingTimeout := h.cfg.HeartbeatParams()
	rawCfg := rawsocket.Config{PingInterval: pingInterval, PingTimeout: pingTimeout}

	raw := rawsocket.New(esid, rawsocket.RoleServer, rawCfg, ps, h.logger, func(error) {
		h.mu.Lock()
		delete(h.sessions, esid)
		h.mu.Unlock()
	})

	h.mu.Lock()
	h.sessions[esid] = &pollSession{ps: ps, raw: raw}
	h.mu.Unlock()

	go func() {
		if err := h.sio.Accept(context.Background(), raw); err != nil {
			h.logger.Debug("sioserver accept ended", "esid", esid, "error", err)
		}
	}()

	var upgrades []string
	if h.cfg.EngineIO.AllowUpgrades {
		upgrades = []string{"websocket"}
	}

	open, err := packet.EncodeOpen(packet.OpenHandshake{
		Sid:          esid,
		Upgrades:     upgrades,
		PingInterval: int(pingInterval / time.Millisecond),
		PingTimeout:  int(pingTimeout / time.Millisecond),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Write(packet.EncodeBatch([]packet.EnginePacket{open}))
}

// upgrade drives the server side of the probe/upgrade handshake on a
// freshly-accepted WebSocket connection, then splices it into the
// session's RawSocket. The probe/upgrade sequence runs inside ServeHTTP,
// against its own context bounded by engineio.upgrade_timeout rather than
// req.Context().
func (h *engineIOHandler) upgrade(w http.ResponseWriter, r *http.Request, sess *pollSession) {
	if !h.cfg.EngineIO.AllowUpgrades {
		http.Error(w, "upgrades disabled", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	wst := transport.NewWSTransport(conn)

	sess.ps.ReleaseWaitingGET()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EngineIO.UpgradeTimeout.Duration())
	defer cancel()

	if err := transport.ServerAwaitUpgrade(ctx, wst); err != nil {
		h.logger.Debug("upgrade handshake failed", "error", err)
		wst.Close()
		return
	}

	sess.raw.SwitchTransport(wst)
}
