package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sadewadee/sockhub/internal/packet"
	"github.com/sadewadee/sockhub/internal/sioerr"
)

// PollingClient is the client side of the long-polling transport.
type PollingClient struct {
	httpClient *http.Client
	headers    map[string]string

	mu  sync.Mutex
	u   *url.URL // canonical base: original query plus transport=polling
	sid string
}

// NewPollingClient parses raw and returns a PollingClient whose canonical
// URL always carries transport=polling, per spec.md's testable property:
// NewPollingClient("http://127.0.0.1/") yields "http://127.0.0.1/?transport=polling".
func NewPollingClient(raw string, headers map[string]string) (*PollingClient, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing polling URL %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("transport", "polling")
	u.RawQuery = q.Encode()

	return &PollingClient{
		httpClient: &http.Client{},
		headers:    headers,
		u:          u,
	}, nil
}

// URL returns the canonical base URL (sans sid/cache-bust), matching
// spec.md's URL-canonicalization property.
func (c *PollingClient) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.u.String()
}

// SetSid records the Engine.IO sid obtained from the OPEN handshake; all
// subsequent requests carry it.
func (c *PollingClient) SetSid(sid string) {
	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()
}

func (c *PollingClient) requestURL(withEIO bool) *url.URL {
	c.mu.Lock()
	u := *c.u
	sid := c.sid
	c.mu.Unlock()

	q := u.Query()
	if withEIO {
		q.Set("EIO", "4")
	}
	if sid != "" {
		q.Set("sid", sid)
	}
	q.Set("t", cacheBust())
	u.RawQuery = q.Encode()
	return &u
}

func cacheBust() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (c *PollingClient) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

// Emit uploads one already wire-encoded Engine.IO packet (per the Transport
// contract: payload.Data carries its leading type digit for text packets;
// Binary payloads are raw attachment bytes, implicitly type MESSAGE) as a
// single-item batch via HTTP POST.
func (c *PollingClient) Emit(ctx context.Context, payload packet.Payload) error {
	var body []byte
	if payload.Binary {
		body = []byte("b" + base64.StdEncoding.EncodeToString(payload.Data))
	} else {
		body = payload.Data
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(false).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building polling POST request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=UTF-8")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sioerr.ErrIncompleteResponse, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return sioerr.NewInvalidHTTPResponseStatus(resp.StatusCode)
	}
	return nil
}

// Next issues one long-poll GET and returns the full response body as a
// single raw Payload; the caller re-splits it on the record separator.
func (c *PollingClient) Next(ctx context.Context) (packet.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(false).String(), nil)
	if err != nil {
		return packet.Payload{}, fmt.Errorf("building polling GET request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return packet.Payload{}, fmt.Errorf("%w: %v", sioerr.ErrIncompleteResponse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return packet.Payload{}, sioerr.NewInvalidHTTPResponseStatus(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return packet.Payload{}, fmt.Errorf("%w: reading poll body: %v", sioerr.ErrIncompleteResponse, err)
	}
	return packet.Payload{Data: data}, nil
}

// Close is a no-op for the client transport: the underlying http.Client has
// no persistent connection state to release.
func (c *PollingClient) Close() error { return nil }

// Handshake performs the initial Engine.IO GET (EIO=4&transport=polling,
// no sid yet) and parses the OPEN packet it returns. On success the
// returned PollingClient has its sid already set.
func Handshake(ctx context.Context, rawURL string, headers map[string]string) (*packet.OpenHandshake, *PollingClient, error) {
	c, err := NewPollingClient(rawURL, headers)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(true).String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: building handshake request: %v", sioerr.ErrHandshakeFailed, err)
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", sioerr.ErrHandshakeFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: handshake status %d", sioerr.ErrHandshakeFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading handshake body: %v", sioerr.ErrHandshakeFailed, err)
	}
	pkts, err := packet.DecodeBatch(data)
	if err != nil || len(pkts) == 0 || pkts[0].Type != packet.EngineOpen {
		return nil, nil, fmt.Errorf("%w: expected OPEN packet, got %v (err=%v)", sioerr.ErrHandshakeFailed, pkts, err)
	}
	open, err := packet.DecodeOpen(pkts[0].Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decoding OPEN payload: %v", sioerr.ErrHandshakeFailed, err)
	}
	c.SetSid(open.Sid)
	return &open, c, nil
}
