package transport

import "testing"

func TestPollingClientURLCanonicalization(t *testing.T) {
	c, err := NewPollingClient("http://127.0.0.1/", nil)
	if err != nil {
		t.Fatalf("NewPollingClient() error = %v", err)
	}
	got := c.URL()
	want := "http://127.0.0.1/?transport=polling"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestPollingClientURLPreservesExistingQuery(t *testing.T) {
	c, err := NewPollingClient("http://example.com/socket.io/?foo=bar", nil)
	if err != nil {
		t.Fatalf("NewPollingClient() error = %v", err)
	}
	got := c.URL()
	want := "http://example.com/socket.io/?foo=bar&transport=polling"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
