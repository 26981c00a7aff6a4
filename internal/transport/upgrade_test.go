package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClientServerUpgradeHandshake(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	var serverErr error
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer wg.Done()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			serverErr = err
			return
		}
		st := NewWSTransport(conn)
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		serverErr = ServerAwaitUpgrade(ctx, st)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	httpURL := "http" + strings.TrimPrefix(ts.URL, "http") + "/?EIO=4&transport=polling"
	ct, err := ClientUpgrade(ctx, httpURL, "esid-123", nil)
	if err != nil {
		t.Fatalf("ClientUpgrade() error = %v", err)
	}
	defer ct.Close()

	wg.Wait()
	if serverErr != nil {
		t.Fatalf("server-side upgrade error = %v", serverErr)
	}
}
