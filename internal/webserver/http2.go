package webserver

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// EnableHTTP2 configures HTTP/2 for srv. Under TLS, HTTP/2 negotiates via
// ALPN automatically; in cleartext it wraps the handler in h2c so the
// long-lived polling/WebSocket connections still get multiplexed framing.
func EnableHTTP2(srv *http.Server, useTLS bool) error {
	if useTLS {
		return nil
	}
	srv.Handler = h2c.NewHandler(srv.Handler, &http2.Server{})
	return nil
}
