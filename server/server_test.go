package server

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"htcp/internal/metrics"
	"htcp/message"
	"htcp/registry"
	"htcp/value"
	"htcp/wire"
)

// testMetrics is shared by every test server: metrics.NewRegistry registers
// its collectors on the process-wide default registry, so it may only be
// called once per test binary.
var testMetrics = metrics.NewRegistry()

func newTestServer(t *testing.T, cfg Config) (*Server, *registry.TransactionRegistry, *registry.SubscriptionRegistry) {
	t.Helper()
	txReg := registry.NewTransactionRegistry()
	subReg := registry.NewSubscriptionRegistry()
	s := New(cfg, zap.NewNop(), testMetrics, txReg, subReg)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, txReg, subReg
}

func dialAndHandshake(t *testing.T, addr net.Addr) (net.Conn, *wire.Codec) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	codec := wire.NewCodec(0)
	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketHandshakeRequest, nil)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	p, err := codec.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if p.Type != wire.PacketHandshakeResponse {
		t.Fatalf("type = %v, want handshake-response", p.Type)
	}
	return conn, codec
}

func TestHandshakeScenario(t *testing.T) {
	s, txReg, _ := newTestServer(t, Config{ServerName: "test", ExposeTransactions: true})
	txReg.Register("echo", func(args value.Mapping) (value.Value, error) {
		v, _ := args.Get("x")
		return v, nil
	})

	conn, _ := dialAndHandshake(t, s.Addr())
	defer conn.Close()
}

func TestHandshakeLiteralBytes(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ServerName: "test", ExposeTransactions: true})
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	literal := []byte{0x48, 0x54, 0x43, 0x50, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := conn.Write(literal); err != nil {
		t.Fatalf("write: %v", err)
	}

	codec := wire.NewCodec(0)
	p, err := codec.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.Type != wire.PacketHandshakeResponse {
		t.Fatalf("type byte = 0x%02x, want 0x11", p.Type)
	}
	resp, err := message.DecodeHandshakeResponse(p.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ServerName != "test" {
		t.Fatalf("server_name = %q", resp.ServerName)
	}
}

func TestEchoCallScenario(t *testing.T) {
	s, txReg, _ := newTestServer(t, Config{ServerName: "test"})
	txReg.Register("echo", func(args value.Mapping) (value.Value, error) {
		v, _ := args.Get("x")
		return v, nil
	})

	conn, codec := dialAndHandshake(t, s.Addr())
	defer conn.Close()

	callPayload, err := message.TransactionCall{
		Transaction: "echo",
		Arguments:   value.Mapping{{Key: value.String("x"), Value: value.NewIntFromInt64(42)}},
	}.Encode()
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketTransactionCall, callPayload)); err != nil {
		t.Fatalf("write call: %v", err)
	}

	p, err := codec.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if p.Type != wire.PacketTransactionResult {
		t.Fatalf("type = %v, want transaction-result", p.Type)
	}
	result, err := message.DecodeTransactionResult(p.Payload)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Success || !value.Equal(result.Result, value.NewIntFromInt64(42)) || result.ErrorCode != wire.ErrorCodeSuccess {
		t.Fatalf("got %#v", result)
	}
}

func TestUnknownTransactionScenario(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ServerName: "test"})
	conn, codec := dialAndHandshake(t, s.Addr())
	defer conn.Close()

	callPayload, _ := message.TransactionCall{Transaction: "nope", Arguments: value.Mapping{}}.Encode()
	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketTransactionCall, callPayload)); err != nil {
		t.Fatalf("write call: %v", err)
	}

	p, err := codec.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	result, err := message.DecodeTransactionResult(p.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Success || result.ErrorCode != wire.ErrorCodeUnknownTransaction || result.ErrorMessage != "Unknown transaction: nope" {
		t.Fatalf("got %#v", result)
	}
}

func TestOversizePayloadClosesBeforeReadingScenario(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ServerName: "test", MaxPayloadSize: 1024})
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	header := []byte{0x48, 0x54, 0x43, 0x50, 0x01, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00}
	if _, err := conn.Write(header); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected orderly close with no bytes, got n=%d err=%v", n, err)
	}
}

func TestAdmissionBoundRejectsOverCapacity(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ServerName: "test", MaxConnections: 1})

	a, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	// give the accept loop time to register the first connection
	time.Sleep(50 * time.Millisecond)

	b, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := b.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected immediate close with no bytes for the over-capacity client, got n=%d err=%v", n, err)
	}
}

func TestSubscriptionStreamScenario(t *testing.T) {
	s, _, subReg := newTestServer(t, Config{ServerName: "test"})
	subReg.Register("ticks", func(ctx context.Context, args value.Mapping) (<-chan value.Value, <-chan error) {
		dataCh := make(chan value.Value)
		errCh := make(chan error, 1)
		go func() {
			defer close(dataCh)
			for i := int64(1); i <= 3; i++ {
				select {
				case dataCh <- value.NewIntFromInt64(i):
				case <-ctx.Done():
					return
				}
			}
		}()
		return dataCh, errCh
	})

	conn, codec := dialAndHandshake(t, s.Addr())
	defer conn.Close()

	reqPayload, _ := message.SubscribeRequest{SubscriptionID: "a", EventType: "ticks", Arguments: value.Mapping{}}.Encode()
	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketSubscribeRequest, reqPayload)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var got []int64
	for i := 0; i < 3; i++ {
		p, err := codec.ReadPacket(conn)
		if err != nil {
			t.Fatalf("read data %d: %v", i, err)
		}
		if p.Type != wire.PacketSubscribeData {
			t.Fatalf("type = %v, want subscribe-data", p.Type)
		}
		data, err := message.DecodeSubscribeData(p.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		n, ok := data.Data.(value.Int)
		if !ok {
			t.Fatalf("data not an int: %#v", data.Data)
		}
		v, _ := n.Int64()
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got = %v, want [1 2 3] in order", got)
	}

	p, err := codec.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read end: %v", err)
	}
	if p.Type != wire.PacketSubscribeEnd {
		t.Fatalf("type = %v, want subscribe-end", p.Type)
	}
	end, err := message.DecodeSubscribeEnd(p.Payload)
	if err != nil {
		t.Fatalf("decode end: %v", err)
	}
	if end.SubscriptionID != "a" {
		t.Fatalf("subscription_id = %q", end.SubscriptionID)
	}
}

func TestUnsubscribeCancelsProducer(t *testing.T) {
	s, _, subReg := newTestServer(t, Config{ServerName: "test"})
	subReg.Register("forever", func(ctx context.Context, args value.Mapping) (<-chan value.Value, <-chan error) {
		dataCh := make(chan value.Value)
		errCh := make(chan error, 1)
		go func() {
			defer close(dataCh)
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			i := int64(0)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					i++
					select {
					case dataCh <- value.NewIntFromInt64(i):
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return dataCh, errCh
	})

	conn, codec := dialAndHandshake(t, s.Addr())
	defer conn.Close()

	reqPayload, _ := message.SubscribeRequest{SubscriptionID: "b", EventType: "forever", Arguments: value.Mapping{}}.Encode()
	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketSubscribeRequest, reqPayload)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := codec.ReadPacket(conn); err != nil {
			t.Fatalf("read data %d: %v", i, err)
		}
	}

	unsubPayload, _ := message.UnsubscribeRequest{SubscriptionID: "b"}.Encode()
	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketUnsubscribeRequest, unsubPayload)); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.subIndex.Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscription still active after unsubscribe, count=%d", s.subIndex.Count())
}

func TestDisconnectClosesConnection(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ServerName: "test"})
	conn, codec := dialAndHandshake(t, s.Addr())
	defer conn.Close()

	if err := codec.WritePacket(conn, wire.NewPacket(wire.PacketDisconnect, nil)); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if n, err := conn.Read(buf); n != 0 || err == nil {
		t.Fatalf("expected orderly close after disconnect, got n=%d err=%v", n, err)
	}
}
