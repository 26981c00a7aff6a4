package packet

import (
	"testing"
)

func id(v int64) *int64 { return &v }

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "connect default namespace",
			pkt:  &Packet{Type: Connect, Namespace: "/"},
		},
		{
			name: "connect admin namespace",
			pkt:  &Packet{Type: Connect, Namespace: "/admin", Data: []byte(`{"sid":"abc"}`)},
		},
		{
			name: "nested namespace",
			pkt:  &Packet{Type: Event, Namespace: "/a/b", Data: []byte(`["ping"]`)},
		},
		{
			name: "event zero args",
			pkt:  &Packet{Type: Event, Namespace: "/", Data: []byte(`["tick"]`)},
		},
		{
			name: "event one arg",
			pkt:  &Packet{Type: Event, Namespace: "/", Data: []byte(`["echo","hi"]`)},
		},
		{
			name: "event many args",
			pkt:  &Packet{Type: Event, Namespace: "/", Data: []byte(`["echo",1,2,"three",{"k":"v"}]`)},
		},
		{
			name: "event with ack id",
			pkt:  &Packet{Type: Event, Namespace: "/", Data: []byte(`["ask"]`), ID: id(7)},
		},
		{
			name: "ack with id zero",
			pkt:  &Packet{Type: Ack, Namespace: "/", Data: []byte(`["ok"]`), ID: id(0)},
		},
		{
			name: "binary event one attachment",
			pkt:  &Packet{Type: BinaryEvent, Namespace: "/", Data: []byte(`["test",{"_placeholder":true,"num":0}]`), AttachmentCount: 1},
		},
		{
			name: "binary event many attachments",
			pkt:  &Packet{Type: BinaryEvent, Namespace: "/chat", Data: []byte(`["upload",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`), AttachmentCount: 2, ID: id(3)},
		},
		{
			name: "disconnect",
			pkt:  &Packet{Type: Disconnect, Namespace: "/"},
		},
		{
			name: "connect error",
			pkt:  &Packet{Type: ConnectError, Namespace: "/admin", Data: []byte(`{"message":"invalid namespace"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.pkt)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", encoded, err)
			}
			if decoded.Type != tt.pkt.Type {
				t.Errorf("Type = %v, want %v", decoded.Type, tt.pkt.Type)
			}
			if decoded.Namespace != tt.pkt.Namespace {
				t.Errorf("Namespace = %q, want %q", decoded.Namespace, tt.pkt.Namespace)
			}
			if string(decoded.Data) != string(tt.pkt.Data) {
				t.Errorf("Data = %q, want %q", decoded.Data, tt.pkt.Data)
			}
			if (decoded.ID == nil) != (tt.pkt.ID == nil) {
				t.Fatalf("ID presence mismatch: got %v, want %v", decoded.ID, tt.pkt.ID)
			}
			if decoded.ID != nil && *decoded.ID != *tt.pkt.ID {
				t.Errorf("ID = %d, want %d", *decoded.ID, *tt.pkt.ID)
			}
			if decoded.AttachmentCount != tt.pkt.AttachmentCount {
				t.Errorf("AttachmentCount = %d, want %d", decoded.AttachmentCount, tt.pkt.AttachmentCount)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"9invalid-type",
		"5no-dash-before-namespace",
		"5x-",
	}
	for _, in := range tests {
		if _, err := Decode(in); err == nil {
			t.Errorf("Decode(%q): expected error, got nil", in)
		}
	}
}

func TestEncodeRejectsAttachmentsOnNonBinaryType(t *testing.T) {
	_, err := Encode(&Packet{Type: Event, Namespace: "/", AttachmentCount: 1})
	if err == nil {
		t.Fatal("expected error for AttachmentCount>0 on a non-binary packet type")
	}
}

func TestNamespaceRoundtrip(t *testing.T) {
	for _, ns := range []string{"/", "/admin", "/a/b"} {
		pkt := &Packet{Type: Connect, Namespace: ns}
		enc, err := Encode(pkt)
		if err != nil {
			t.Fatalf("Encode(%q): %v", ns, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q): %v", enc, err)
		}
		if dec.Namespace != ns {
			t.Errorf("namespace roundtrip: got %q, want %q", dec.Namespace, ns)
		}
	}
}
