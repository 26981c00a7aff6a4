package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// ClientDialer is the subset of websocket.Dialer behavior this package
// needs, narrow enough to fake in tests.
type ClientDialer interface {
	Dial(urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

var defaultDialer ClientDialer = websocket.DefaultDialer

// ClientUpgrade drives the client side of the polling→WebSocket upgrade
// handshake described in spec.md §4.2: dial, send PING "probe", await PONG
// "probe", send UPGRADE, then hand back a transport ready for ordinary
// traffic. Any failure aborts the upgrade — the caller stays on polling.
func ClientUpgrade(ctx context.Context, pollingURL string, esid string, headers map[string]string) (*WSTransport, error) {
	wsURL, err := toWebSocketURL(pollingURL, esid)
	if err != nil {
		return nil, err
	}

	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := defaultDialer.Dial(wsURL, hdr)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket upgrade: %w", err)
	}
	t := NewWSTransport(conn)

	if err := t.SendEnginePacket(ctx, packet.EnginePacket{Type: packet.EnginePing, Data: []byte("probe")}); err != nil {
		t.Close()
		return nil, fmt.Errorf("sending probe ping: %w", err)
	}

	reply, err := t.Next(ctx)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("awaiting probe pong: %w", err)
	}
	pong, err := packet.DecodeWSFrame(reply.Data, reply.Binary)
	if err != nil || pong.Type != packet.EnginePong || string(pong.Data) != "probe" {
		t.Close()
		return nil, fmt.Errorf("%w: expected PONG \"probe\", got %+v", sioerr.ErrHandshakeFailed, pong)
	}

	if err := t.SendEnginePacket(ctx, packet.EnginePacket{Type: packet.EngineUpgrade}); err != nil {
		t.Close()
		return nil, fmt.Errorf("sending upgrade packet: %w", err)
	}
	return t, nil
}

func toWebSocketURL(pollingURL string, esid string) (string, error) {
	u, err := url.Parse(pollingURL)
	if err != nil {
		return "", fmt.Errorf("parsing polling URL for upgrade: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("transport", "websocket")
	q.Set("EIO", "4")
	if esid != "" {
		q.Set("sid", esid)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ServerAwaitUpgrade drives the server side of the probe/upgrade sequence
// on a freshly-accepted WebSocket connection: wait for PING "probe", reply
// PONG "probe", then wait for UPGRADE before the caller switches traffic
// over. The caller is responsible for flushing any in-flight polling batch
// before calling this, per spec.md §4.2.
func ServerAwaitUpgrade(ctx context.Context, t *WSTransport) error {
	probe, err := t.Next(ctx)
	if err != nil {
		return fmt.Errorf("awaiting probe ping: %w", err)
	}
	ping, err := packet.DecodeWSFrame(probe.Data, probe.Binary)
	if err != nil || ping.Type != packet.EnginePing || string(ping.Data) != "probe" {
		return fmt.Errorf("%w: expected PING \"probe\", got %+v", sioerr.ErrHandshakeFailed, ping)
	}

	if err := t.SendEnginePacket(ctx, packet.EnginePacket{Type: packet.EnginePong, Data: []byte("probe")}); err != nil {
		return fmt.Errorf("sending probe pong: %w", err)
	}

	up, err := t.Next(ctx)
	if err != nil {
		return fmt.Errorf("awaiting upgrade packet: %w", err)
	}
	upgradePkt, err := packet.DecodeWSFrame(up.Data, up.Binary)
	if err != nil || upgradePkt.Type != packet.EngineUpgrade {
		return fmt.Errorf("%w: expected UPGRADE packet, got %+v", sioerr.ErrHandshakeFailed, upgradePkt)
	}
	return nil
}
