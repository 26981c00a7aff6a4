package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/sockhub/internal/packet"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func TestWSTransportEmitNextRoundtrip(t *testing.T) {
	serverDone := make(chan *WSTransport, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		serverDone <- NewWSTransport(conn)
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	client := NewWSTransport(conn)
	defer client.Close()

	server := <-serverDone
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Emit(ctx, packet.Payload{Data: []byte("2probe")}); err != nil {
		t.Fatalf("client.Emit() error = %v", err)
	}
	got, err := server.Next(ctx)
	if err != nil {
		t.Fatalf("server.Next() error = %v", err)
	}
	if got.Binary || string(got.Data) != "2probe" {
		t.Errorf("got %+v", got)
	}

	if err := server.Emit(ctx, packet.Payload{Data: []byte{1, 2, 3}, Binary: true}); err != nil {
		t.Fatalf("server.Emit() error = %v", err)
	}
	got2, err := client.Next(ctx)
	if err != nil {
		t.Fatalf("client.Next() error = %v", err)
	}
	if !got2.Binary || string(got2.Data) != string([]byte{1, 2, 3}) {
		t.Errorf("got %+v", got2)
	}
}
