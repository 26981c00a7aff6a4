package packet

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEncodeDecodeBatchRoundtrip(t *testing.T) {
	pkts := []EnginePacket{
		{Type: EngineOpen, Data: []byte(`{"sid":"abc"}`)},
		{Type: EnginePing},
		{Type: EngineMessage, Data: []byte(`0{"sid":"abc"}`)},
		{Type: EngineMessage, Data: []byte{0x1E, 'x'}, Binary: true},
	}
	batch := EncodeBatch(pkts)
	decoded, err := DecodeBatch(batch)
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	if len(decoded) != len(pkts) {
		t.Fatalf("got %d packets, want %d", len(decoded), len(pkts))
	}
	for i, want := range pkts {
		got := decoded[i]
		if got.Type != want.Type || got.Binary != want.Binary || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("packet %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestDecodeBatchEmpty(t *testing.T) {
	pkts, err := DecodeBatch(nil)
	if err != nil {
		t.Fatalf("DecodeBatch(nil) error = %v", err)
	}
	if pkts != nil {
		t.Errorf("expected nil packets for empty batch, got %v", pkts)
	}
}

func TestWSFrameRoundtripText(t *testing.T) {
	p := EnginePacket{Type: EnginePong, Data: []byte("probe")}
	data, binary := EncodeWSFrame(p)
	if binary {
		t.Fatal("expected text frame")
	}
	decoded, err := DecodeWSFrame(data, false)
	if err != nil {
		t.Fatalf("DecodeWSFrame() error = %v", err)
	}
	if decoded.Type != p.Type || string(decoded.Data) != string(p.Data) {
		t.Errorf("got %+v, want %+v", decoded, p)
	}
}

func TestWSFrameRoundtripBinary(t *testing.T) {
	p := EnginePacket{Type: EngineMessage, Data: []byte{1, 2, 3}, Binary: true}
	data, binary := EncodeWSFrame(p)
	if !binary {
		t.Fatal("expected binary frame")
	}
	decoded, err := DecodeWSFrame(data, true)
	if err != nil {
		t.Fatalf("DecodeWSFrame() error = %v", err)
	}
	if !decoded.Binary || !bytes.Equal(decoded.Data, p.Data) {
		t.Errorf("got %+v, want %+v", decoded, p)
	}
}

func TestDecodeBatchRejectsUnknownType(t *testing.T) {
	if _, err := DecodeBatch([]byte("9oops")); err == nil {
		t.Fatal("expected error for unknown engine packet type")
	}
}

func TestOpenHandshakeRoundtrip(t *testing.T) {
	h := OpenHandshake{Sid: "abc123", Upgrades: []string{"websocket"}, PingInterval: 25000, PingTimeout: 20000}
	pkt, err := EncodeOpen(h)
	if err != nil {
		t.Fatalf("EncodeOpen() error = %v", err)
	}
	if pkt.Type != EngineOpen {
		t.Fatalf("expected EngineOpen, got %v", pkt.Type)
	}
	decoded, err := DecodeOpen(pkt.Data)
	if err != nil {
		t.Fatalf("DecodeOpen() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, h) {
		t.Errorf("got %+v, want %+v", decoded, h)
	}
}
