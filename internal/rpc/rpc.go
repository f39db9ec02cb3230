// Package rpc is the driver's single transport primitive: one framed
// JSON-RPC 2.0 request per TCP connection, a bounded read, and one built-in
// retry. Every other component talks to the connector service through the
// Caller interface and adds no retries of its own beyond its polling loop.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"swarmline/internal/clock"
)

// Kind classifies a call outcome. Transport failures and protocol rejections
// are values, not errors: callers branch on meaning and their enclosing
// polling loops absorb transients by re-polling.
type Kind int

const (
	// Success carries the response's result payload (possibly empty).
	Success Kind = iota
	// ProtocolError is an explicit error object from the service.
	ProtocolError
	// TransportError is a connection, timeout, or framing failure that
	// survived the built-in retry.
	TransportError
)

// Result is the outcome of a single Call.
type Result struct {
	Kind    Kind
	Payload json.RawMessage
	Code    int
	Message string
}

// OK reports a successful call with a usable payload.
func (r Result) OK() bool { return r.Kind == Success && len(r.Payload) > 0 && !bytes.Equal(r.Payload, []byte("null")) }

// Absent reports that nothing usable came back, for callers that treat
// "server said nothing" and "network failed" alike.
func (r Result) Absent() bool { return !r.OK() }

// Decode unmarshals the payload into v. Returns false when the result is
// absent or the payload does not fit; missing fields decode to zero values.
func (r Result) Decode(v any) bool {
	if r.Absent() {
		return false
	}
	return json.Unmarshal(r.Payload, v) == nil
}

// Ok wraps a payload, marshaling v. Intended for tests and fakes.
func Ok(v any) Result {
	b, _ := json.Marshal(v)
	return Result{Kind: Success, Payload: b}
}

// Protocol wraps an explicit service rejection.
func Protocol(code int, message string) Result {
	return Result{Kind: ProtocolError, Code: code, Message: message}
}

// Transport wraps a transport failure.
func Transport(message string) Result {
	return Result{Kind: TransportError, Message: message}
}

// Caller issues one request/response exchange against a named endpoint.
type Caller interface {
	Call(ctx context.Context, endpoint, method string, params any) Result
}

// Signer produces the opaque signature field attached to each request. The
// driver never verifies signatures; they are checked (or ignored) remotely.
type Signer interface {
	Sign(method, requestID string) string
}

type request struct {
	JSONRPC   string `json:"jsonrpc"`
	Method    string `json:"method"`
	Params    any    `json:"params"`
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client dials an endpoint per call, writes one newline-terminated request,
// half-closes, and reads until the peer closes or a full JSON document is
// parseable (trailing garbage tolerated). On I/O failure or timeout it
// retries once after Backoff, then reports TransportError.
type Client struct {
	Timeout time.Duration // per-attempt bound; ctx deadlines tighten it
	Backoff time.Duration
	Signer  Signer
	Clock   clock.Clock
	Logger  *log.Logger
}

// NewClient returns a client with the driver's default timings.
func NewClient(signer Signer) *Client {
	return &Client{
		Timeout: 15 * time.Second,
		Backoff: time.Second,
		Signer:  signer,
		Clock:   clock.System(),
	}
}

func (c *Client) clock() clock.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clock.System()
}

func (c *Client) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Call implements Caller.
func (c *Client) Call(ctx context.Context, endpoint, method string, params any) Result {
	if params == nil {
		params = map[string]any{}
	}
	id := uuid.NewString()[:8]
	sig := ""
	if c.Signer != nil {
		sig = c.Signer.Sign(method, id)
	}
	body, err := json.Marshal(request{
		JSONRPC:   "2.0",
		Method:    method,
		Params:    params,
		ID:        id,
		Signature: sig,
	})
	if err != nil {
		return Transport("encode request: " + err.Error())
	}
	body = append(body, '\n')

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.clock().Sleep(ctx, c.backoff())
		}
		if ctx.Err() != nil {
			return Transport(ctx.Err().Error())
		}
		res, retryable := c.exchange(ctx, endpoint, body)
		if !retryable {
			return res
		}
		c.logf("rpc %s %s attempt %d: %s", endpoint, method, attempt+1, res.Message)
	}
	return Transport("endpoint " + endpoint + " unreachable")
}

func (c *Client) backoff() time.Duration {
	if c.Backoff > 0 {
		return c.Backoff
	}
	return time.Second
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 15 * time.Second
}

// exchange performs one attempt. The bool reports whether the failure is a
// transport fault worth the single retry.
func (c *Client) exchange(ctx context.Context, endpoint string, body []byte) (Result, bool) {
	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return Transport("dial " + endpoint + ": " + err.Error()), true
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(body); err != nil {
		return Transport("write: " + err.Error()), true
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if n > 0 {
			if res, ok := decodeFirst(buf); ok {
				return res, false
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Transport("read: " + err.Error()), true
		}
	}
	if res, ok := decodeFirst(buf); ok {
		return res, false
	}
	// The peer answered and closed but sent nothing parseable. Not a
	// transport fault, so no retry: the caller's loop re-polls.
	return Transport("unparseable response"), false
}

// decodeFirst extracts the first complete JSON value in buf, ignoring
// whatever follows it.
func decodeFirst(buf []byte) (Result, bool) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Result{}, false
	}
	if env.Error != nil {
		return Protocol(env.Error.Code, env.Error.Message), true
	}
	return Result{Kind: Success, Payload: env.Result}, true
}
