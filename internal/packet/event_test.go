package packet

import (
	"bytes"
	"testing"
)

func TestBuildParseEventArrayEmptyPayload(t *testing.T) {
	data, attachments, isBinary, err := BuildEventArray("tick", Payload{})
	if err != nil {
		t.Fatalf("BuildEventArray() error = %v", err)
	}
	if isBinary || attachments != nil {
		t.Fatalf("expected no attachments for empty payload")
	}
	event, payload, err := ParseEventArray(data, nil)
	if err != nil {
		t.Fatalf("ParseEventArray() error = %v", err)
	}
	if event != "tick" {
		t.Errorf("event = %q, want tick", event)
	}
	if !payload.IsEmpty() {
		t.Errorf("expected empty payload, got %+v", payload)
	}
}

func TestBuildParseEventArrayStringPayload(t *testing.T) {
	data, _, _, err := BuildEventArray("echo", StringPayload([]byte(`""`)))
	if err != nil {
		t.Fatalf("BuildEventArray() error = %v", err)
	}
	if string(data) != `["echo",""]` {
		t.Fatalf("got %q", data)
	}
	event, payload, err := ParseEventArray(data, nil)
	if err != nil {
		t.Fatalf("ParseEventArray() error = %v", err)
	}
	if event != "echo" || string(payload.Data) != `""` {
		t.Errorf("got event=%q payload=%q", event, payload.Data)
	}
}

func TestBuildParseEventArrayBinaryPayload(t *testing.T) {
	data, attachments, isBinary, err := BuildEventArray("test", BinaryPayload([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("BuildEventArray() error = %v", err)
	}
	if !isBinary {
		t.Fatal("expected isBinary=true")
	}
	want := `["test",{"_placeholder":true,"num":0}]`
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
	if len(attachments) != 1 || !bytes.Equal(attachments[0], []byte{1, 2, 3}) {
		t.Fatalf("got attachments %v", attachments)
	}

	event, payload, err := ParseEventArray(data, attachments)
	if err != nil {
		t.Fatalf("ParseEventArray() error = %v", err)
	}
	if event != "test" {
		t.Errorf("event = %q, want test", event)
	}
	if !payload.Binary || !bytes.Equal(payload.Data, []byte{1, 2, 3}) {
		t.Errorf("got payload %+v", payload)
	}
}

func TestParseEventArrayManyArgumentsReencode(t *testing.T) {
	event, payload, err := ParseEventArray([]byte(`["echo",1,2,"three"]`), nil)
	if err != nil {
		t.Fatalf("ParseEventArray() error = %v", err)
	}
	if event != "echo" {
		t.Fatalf("event = %q", event)
	}
	if string(payload.Data) != `[1,2,"three"]` {
		t.Errorf("got %q", payload.Data)
	}
}

func TestParseEventArrayRejectsEmptyArray(t *testing.T) {
	if _, _, err := ParseEventArray([]byte(`[]`), nil); err == nil {
		t.Fatal("expected error for empty event array")
	}
}

func TestParseEventArrayRejectsOutOfRangePlaceholder(t *testing.T) {
	data := []byte(`["test",{"_placeholder":true,"num":5}]`)
	if _, _, err := ParseEventArray(data, [][]byte{{1}}); err == nil {
		t.Fatal("expected error for out-of-range placeholder index")
	}
}
