package client

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"htcp/internal/metrics"
	"htcp/registry"
	"htcp/server"
	"htcp/transport"
	"htcp/value"
)

// testMetrics is shared by every test server: metrics.NewRegistry registers
// its collectors on the process-wide default registry, so it may only be
// called once per test binary.
var testMetrics = metrics.NewRegistry()

func newTestServer(t *testing.T) (addr string, txReg *registry.TransactionRegistry, subReg *registry.SubscriptionRegistry) {
	t.Helper()
	txReg = registry.NewTransactionRegistry()
	subReg = registry.NewSubscriptionRegistry()
	s := server.New(server.Config{ServerName: "test", ExposeTransactions: true}, zap.NewNop(), testMetrics, txReg, subReg)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s.Addr().String(), txReg, subReg
}

func TestConnectHandshake(t *testing.T) {
	addr, txReg, _ := newTestServer(t)
	txReg.Register("echo", func(args value.Mapping) (value.Value, error) {
		v, _ := args.Get("x")
		return v, nil
	})

	c, err := Connect(context.Background(), addr, 0, transport.DefaultTimeouts())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if c.ServerName != "test" {
		t.Fatalf("server_name = %q", c.ServerName)
	}
	if len(c.Transactions) != 1 || c.Transactions[0] != "echo" {
		t.Fatalf("transactions = %v", c.Transactions)
	}
}

func TestCallSuccessAndFailure(t *testing.T) {
	addr, txReg, _ := newTestServer(t)
	txReg.Register("echo", func(args value.Mapping) (value.Value, error) {
		v, _ := args.Get("x")
		return v, nil
	})

	c, err := Connect(context.Background(), addr, 0, transport.DefaultTimeouts())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	result, err := c.Call("echo", value.Mapping{{Key: value.String("x"), Value: value.NewIntFromInt64(7)}}, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !value.Equal(result, value.NewIntFromInt64(7)) {
		t.Fatalf("result = %#v", result)
	}

	_, err = c.Call("nope", value.Mapping{}, nil)
	callErr, ok := err.(*CallError)
	if !ok {
		t.Fatalf("err = %v, want *CallError", err)
	}
	if callErr.Code != 1 {
		t.Fatalf("code = %d, want unknown-transaction (1)", callErr.Code)
	}
}

func TestSubscribeIterator(t *testing.T) {
	addr, _, subReg := newTestServer(t)
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

	c, err := Connect(context.Background(), addr, 0, transport.DefaultTimeouts())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	sub, err := c.Subscribe("ticks", value.Mapping{}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	var got []int64
	for {
		v, ok, err := sub.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		n, ok := v.(value.Int)
		if !ok {
			t.Fatalf("value not an int: %#v", v)
		}
		i, _ := n.Int64()
		got = append(got, i)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got = %v, want [1 2 3]", got)
	}
}

func TestCallRejectedWhileSubscriptionActive(t *testing.T) {
	addr, txReg, subReg := newTestServer(t)
	txReg.Register("echo", func(args value.Mapping) (value.Value, error) { return value.Null{}, nil })
	subReg.Register("forever", func(ctx context.Context, args value.Mapping) (<-chan value.Value, <-chan error) {
		dataCh := make(chan value.Value)
		errCh := make(chan error, 1)
		go func() {
			<-ctx.Done()
			close(dataCh)
		}()
		return dataCh, errCh
	})

	c, err := Connect(context.Background(), addr, 0, transport.DefaultTimeouts())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	sub, err := c.Subscribe("forever", value.Mapping{}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := c.Call("echo", value.Mapping{}, nil); err != ErrSubscriptionActive {
		t.Fatalf("err = %v, want ErrSubscriptionActive", err)
	}

	sub.Close()

	if _, err := c.Call("echo", value.Mapping{}, nil); err != nil {
		t.Fatalf("call after close: %v", err)
	}
}

func TestDisconnectClosesWithoutError(t *testing.T) {
	addr, _, _ := newTestServer(t)
	c, err := Connect(context.Background(), addr, 0, transport.DefaultTimeouts())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
}
