package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sadewadee/sockhub/internal/packet"
)

func TestPollingServerGETPOSTBridge(t *testing.T) {
	srv := NewPollingServer()
	defer srv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		if err := srv.ServeGET(r.Context(), w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		if err := srv.HandlePOST(r.Context(), r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	if err := srv.Emit(context.Background(), packet.Payload{Data: []byte("hello")}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	resp, err := http.Get(ts.URL + "/get")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}

	resp2, err := http.Post(ts.URL+"/post", "text/plain", strings.NewReader("4hi"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d", resp2.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := srv.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(got.Data) != "4hi" {
		t.Errorf("Next() data = %q, want %q", got.Data, "4hi")
	}
}

func TestPollingServerCloseUnblocksGET(t *testing.T) {
	srv := NewPollingServer()

	done := make(chan error, 1)
	go func() {
		w := httptest.NewRecorder()
		done <- srv.ServeGET(context.Background(), w)
	}()

	time.Sleep(10 * time.Millisecond)
	srv.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected ServeGET to report closed transport")
		}
	case <-time.After(time.Second):
		t.Fatal("ServeGET did not unblock after Close")
	}
}
