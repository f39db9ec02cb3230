package rpc_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"swarmline/internal/rpc"
)

// serve runs a one-shot TCP responder for each accepted connection and
// returns its address plus a counter of accepted connections.
func serve(t *testing.T, handle func(conn net.Conn)) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	var accepts atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return ln.Addr().String(), &accepts
}

func newTestClient() *rpc.Client {
	c := rpc.NewClient(nil)
	c.Timeout = 2 * time.Second
	c.Backoff = time.Millisecond
	return c
}

func TestCallSuccess(t *testing.T) {
	addr, accepts := serve(t, func(conn net.Conn) {
		req, _ := io.ReadAll(conn)
		var parsed map[string]any
		if err := json.Unmarshal(req, &parsed); err != nil {
			t.Errorf("request not json: %v", err)
			return
		}
		if parsed["jsonrpc"] != "2.0" || parsed["method"] != "swarm.get_status" {
			t.Errorf("unexpected request: %s", req)
		}
		if id, _ := parsed["id"].(string); len(id) != 8 {
			t.Errorf("want 8-char request id, got %q", parsed["id"])
		}
		conn.Write([]byte(`{"result":{"tier":"Tier1","agent_id":"did:swarm:abc"}}` + "\n"))
	})

	res := newTestClient().Call(context.Background(), addr, "swarm.get_status", nil)
	if res.Kind != rpc.Success {
		t.Fatalf("want Success, got %v (%s)", res.Kind, res.Message)
	}
	var status struct {
		Tier    string `json:"tier"`
		AgentID string `json:"agent_id"`
	}
	if !res.Decode(&status) {
		t.Fatalf("decode failed")
	}
	if status.Tier != "Tier1" || status.AgentID != "did:swarm:abc" {
		t.Fatalf("bad payload: %+v", status)
	}
	if got := accepts.Load(); got != 1 {
		t.Fatalf("want 1 connection, got %d", got)
	}
}

func TestCallToleratesTrailingGarbage(t *testing.T) {
	addr, _ := serve(t, func(conn net.Conn) {
		io.ReadAll(conn)
		conn.Write([]byte(`{"result":{"ok":true}}` + "\ngarbage that is not json {{{"))
	})

	res := newTestClient().Call(context.Background(), addr, "swarm.receive_task", nil)
	if res.Kind != rpc.Success {
		t.Fatalf("want Success, got %v (%s)", res.Kind, res.Message)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if !res.Decode(&out) || !out.OK {
		t.Fatalf("payload lost to trailing garbage: %+v", res)
	}
}

func TestCallProtocolError(t *testing.T) {
	addr, accepts := serve(t, func(conn net.Conn) {
		io.ReadAll(conn)
		conn.Write([]byte(`{"error":{"code":-32601,"message":"method not found"}}`))
	})

	res := newTestClient().Call(context.Background(), addr, "swarm.bogus", nil)
	if res.Kind != rpc.ProtocolError {
		t.Fatalf("want ProtocolError, got %v", res.Kind)
	}
	if res.Code != -32601 || res.Message != "method not found" {
		t.Fatalf("bad error: code=%d msg=%q", res.Code, res.Message)
	}
	if got := accepts.Load(); got != 1 {
		t.Fatalf("protocol errors must not retry, got %d connections", got)
	}
}

func TestCallUnparseableResponseNoRetry(t *testing.T) {
	addr, accepts := serve(t, func(conn net.Conn) {
		io.ReadAll(conn)
		conn.Write([]byte("this is not json\n"))
	})

	res := newTestClient().Call(context.Background(), addr, "swarm.get_task", nil)
	if res.Kind != rpc.TransportError {
		t.Fatalf("want TransportError, got %v", res.Kind)
	}
	if got := accepts.Load(); got != 1 {
		t.Fatalf("unparseable reply must not retry, got %d connections", got)
	}
}

func TestCallUnreachableEndpointRetriesOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	res := newTestClient().Call(context.Background(), addr, "swarm.get_status", nil)
	if res.Kind != rpc.TransportError {
		t.Fatalf("want TransportError, got %v", res.Kind)
	}
	if !strings.Contains(res.Message, "unreachable") {
		t.Fatalf("want unreachable after retry, got %q", res.Message)
	}
}

func TestCallCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestClient().Call(ctx, "127.0.0.1:1", "swarm.get_status", nil)
	if res.Kind != rpc.TransportError {
		t.Fatalf("want TransportError, got %v", res.Kind)
	}
}

type staticSigner struct{ token string }

func (s staticSigner) Sign(method, requestID string) string { return s.token }

func TestCallCarriesSignature(t *testing.T) {
	got := make(chan string, 1)
	addr, _ := serve(t, func(conn net.Conn) {
		req, _ := io.ReadAll(conn)
		var parsed map[string]any
		json.Unmarshal(req, &parsed)
		sig, _ := parsed["signature"].(string)
		got <- sig
		conn.Write([]byte(`{"result":{}}`))
	})

	c := newTestClient()
	c.Signer = staticSigner{token: "tok-123"}
	c.Call(context.Background(), addr, "swarm.submit_result", map[string]any{"x": 1})
	select {
	case sig := <-got:
		if sig != "tok-123" {
			t.Fatalf("want signature tok-123, got %q", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no request observed")
	}
}

func TestResultHelpers(t *testing.T) {
	empty := rpc.Result{Kind: rpc.Success, Payload: json.RawMessage(`{}`)}
	if !empty.OK() {
		t.Fatal("empty object payload should be OK")
	}
	null := rpc.Result{Kind: rpc.Success, Payload: json.RawMessage(`null`)}
	if null.OK() {
		t.Fatal("null payload is absent")
	}
	if !null.Absent() {
		t.Fatal("null payload should be Absent")
	}
	if rpc.Transport("x").OK() {
		t.Fatal("transport error is never OK")
	}
	var v struct{}
	if rpc.Protocol(1, "m").Decode(&v) {
		t.Fatal("protocol error must not decode")
	}
}
