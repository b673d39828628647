// Package client implements the HTCP client runtime (spec §4.7): connect
// and handshake, synchronous transaction calls, and subscription
// iterators, all carried over the single stream a Conn owns, one call or
// one open subscription at a time. Its
// send/block-for-reply shape and its mutual-exclusion guard around the
// stream are grounded on the example client dialer this protocol's client
// is modeled on, generalized from a single request/response RPC to a
// stream that also carries subscription data.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"htcp/message"
	"htcp/transport"
	"htcp/value"
	"htcp/wire"
)

// CallError is raised by Call/CallContext when the server replies with a
// non-success transaction-result or an error packet.
type CallError struct {
	Code    wire.ErrorCode
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("htcp: call failed: %s (code %d)", e.Message, e.Code)
}

// SubscribeError is raised by Subscription.Next when the server sends a
// subscribe-error packet for this subscription.
type SubscribeError struct {
	Code    wire.ErrorCode
	Message string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("htcp: subscription failed: %s (code %d)", e.Message, e.Code)
}

// ErrSubscriptionActive is returned by Call/CallContext/Subscribe when a
// Subscription opened on this Conn has not yet been Closed. Because HTCP
// is one stream per logical channel (spec §4.7, §9), only one of "a call
// in flight" or "a subscription open" may hold the stream at a time.
var ErrSubscriptionActive = fmt.Errorf("htcp: client: a subscription is active on this connection")

// connState tracks which of Call or Subscribe currently owns the stream.
type connState int

const (
	stateIdle connState = iota
	stateSubscribed
)

// Conn is one HTCP client connection: a handshake-established stream plus
// the server's advertised identity. A Conn is safe for concurrent Call
// callers (they serialize behind an internal mutex) but holds at most one
// open Subscription at a time.
type Conn struct {
	transport *transport.Conn

	mu    sync.Mutex
	state connState

	ServerName   string
	Transactions []string
}

// Connect dials addr, performs the handshake, and returns an established
// Conn. The connect timeout and per-operation read/write timeouts come
// from timeouts; pass transport.DefaultTimeouts() for the spec defaults.
func Connect(ctx context.Context, addr string, maxPayloadSize uint32, timeouts transport.Timeouts) (*Conn, error) {
	codec := wire.NewCodec(maxPayloadSize)
	tc, err := transport.Dial(ctx, addr, codec, timeouts)
	if err != nil {
		return nil, err
	}

	if err := tc.WritePacket(wire.NewPacket(wire.PacketHandshakeRequest, nil)); err != nil {
		tc.Close()
		return nil, fmt.Errorf("htcp: client: send handshake-request: %w", err)
	}

	p, err := tc.ReadPacket()
	if err != nil {
		tc.Close()
		return nil, fmt.Errorf("htcp: client: read handshake response: %w", err)
	}

	switch p.Type {
	case wire.PacketHandshakeResponse:
		resp, err := message.DecodeHandshakeResponse(p.Payload)
		if err != nil {
			tc.Close()
			return nil, fmt.Errorf("htcp: client: malformed handshake-response: %w", err)
		}
		return &Conn{transport: tc, ServerName: resp.ServerName, Transactions: resp.Transactions}, nil
	case wire.PacketError:
		errMsg, err := message.DecodeErrorMessage(p.Payload)
		tc.Close()
		if err != nil {
			return nil, fmt.Errorf("htcp: client: malformed error packet: %w", err)
		}
		return nil, &CallError{Code: errMsg.ErrorCode, Message: errMsg.Message}
	default:
		tc.Close()
		return nil, fmt.Errorf("htcp: client: unexpected packet type %v during handshake", p.Type)
	}
}

// Call is CallContext with context.Background().
func (c *Conn) Call(transaction string, args value.Mapping, resultSchema *value.Schema) (value.Value, error) {
	return c.CallContext(context.Background(), transaction, args, resultSchema)
}

// CallContext sends a transaction-call and blocks for its reply. Callers
// on the same Conn serialize behind an internal mutex (spec §4.7 "calls
// are strictly sequential on the stream"). If resultSchema is non-nil, a
// successful result is coerced against it (spec §4.9) before returning.
//
// CallContext returns ErrSubscriptionActive if a Subscription opened on
// this Conn is still open; the caller must Close it first.
func (c *Conn) CallContext(ctx context.Context, transaction string, args value.Mapping, resultSchema *value.Schema) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateSubscribed {
		return nil, ErrSubscriptionActive
	}

	payload, err := message.TransactionCall{Transaction: transaction, Arguments: args}.Encode()
	if err != nil {
		return nil, fmt.Errorf("htcp: client: encode transaction-call: %w", err)
	}
	if err := c.transport.WritePacket(wire.NewPacket(wire.PacketTransactionCall, payload)); err != nil {
		return nil, fmt.Errorf("htcp: client: send transaction-call: %w", err)
	}

	p, err := c.readPacketContext(ctx)
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case wire.PacketTransactionResult:
		result, err := message.DecodeTransactionResult(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("htcp: client: malformed transaction-result: %w", err)
		}
		if !result.Success {
			return nil, &CallError{Code: result.ErrorCode, Message: result.ErrorMessage}
		}
		if resultSchema == nil {
			return result.Result, nil
		}
		return value.Coerce(*resultSchema, result.Result)
	case wire.PacketError:
		errMsg, err := message.DecodeErrorMessage(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("htcp: client: malformed error packet: %w", err)
		}
		return nil, &CallError{Code: errMsg.ErrorCode, Message: errMsg.Message}
	default:
		return nil, fmt.Errorf("htcp: client: unexpected packet type %v in reply to transaction-call", p.Type)
	}
}

// readPacketContext reads the next packet, honoring ctx cancellation by
// closing the underlying connection if ctx is done before a packet
// arrives (Go's net.Conn has no native context-aware read).
func (c *Conn) readPacketContext(ctx context.Context) (wire.Packet, error) {
	type result struct {
		p   wire.Packet
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := c.transport.ReadPacket()
		ch <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		c.transport.Close()
		<-ch
		return wire.Packet{}, ctx.Err()
	case r := <-ch:
		return r.p, r.err
	}
}

// Subscription is a lazy iterator over one subscription's data, per spec
// §4.7. It is scoped: callers must call Close when done with it (Go has
// no deterministic finalizer to do this automatically), after which the
// Conn may be used for Call or a new Subscribe again.
type Subscription struct {
	conn       *Conn
	id         string
	dataSchema *value.Schema
	closed     bool
}

// Subscribe mints a fresh subscription id, sends subscribe-request, and
// returns an iterator over its data. Subscribe returns ErrSubscriptionActive
// if another Subscription on this Conn is still open.
func (c *Conn) Subscribe(eventType string, args value.Mapping, dataSchema *value.Schema) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateSubscribed {
		return nil, ErrSubscriptionActive
	}

	id := uuid.NewString()
	payload, err := message.SubscribeRequest{SubscriptionID: id, EventType: eventType, Arguments: args}.Encode()
	if err != nil {
		return nil, fmt.Errorf("htcp: client: encode subscribe-request: %w", err)
	}
	if err := c.transport.WritePacket(wire.NewPacket(wire.PacketSubscribeRequest, payload)); err != nil {
		return nil, fmt.Errorf("htcp: client: send subscribe-request: %w", err)
	}

	c.state = stateSubscribed
	return &Subscription{conn: c, id: id, dataSchema: dataSchema}, nil
}

// Next blocks for the subscription's next value. It returns ok=false with
// a nil error on a normal subscribe-end, and a non-nil error on
// subscribe-error or a transport failure. Calling Next after Close or
// after a prior Next returned ok=false is a programmer error.
func (s *Subscription) Next(ctx context.Context) (value.Value, bool, error) {
	if s.closed {
		return nil, false, fmt.Errorf("htcp: client: Next called on a closed Subscription")
	}
	for {
		p, err := s.conn.readPacketContext(ctx)
		if err != nil {
			return nil, false, err
		}
		switch p.Type {
		case wire.PacketSubscribeData:
			data, err := message.DecodeSubscribeData(p.Payload)
			if err != nil {
				return nil, false, fmt.Errorf("htcp: client: malformed subscribe-data: %w", err)
			}
			if data.SubscriptionID != s.id {
				continue
			}
			if s.dataSchema == nil {
				return data.Data, true, nil
			}
			v, err := value.Coerce(*s.dataSchema, data.Data)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		case wire.PacketSubscribeEnd:
			end, err := message.DecodeSubscribeEnd(p.Payload)
			if err != nil {
				return nil, false, fmt.Errorf("htcp: client: malformed subscribe-end: %w", err)
			}
			if end.SubscriptionID != s.id {
				continue
			}
			return nil, false, nil
		case wire.PacketSubscribeError:
			subErr, err := message.DecodeSubscribeError(p.Payload)
			if err != nil {
				return nil, false, fmt.Errorf("htcp: client: malformed subscribe-error: %w", err)
			}
			if subErr.SubscriptionID != s.id {
				continue
			}
			return nil, false, &SubscribeError{Code: subErr.ErrorCode, Message: subErr.Message}
		default:
			return nil, false, fmt.Errorf("htcp: client: unexpected packet type %v during subscription", p.Type)
		}
	}
}

// Close sends a best-effort unsubscribe-request (errors are ignored, per
// spec §4.7) and releases the Conn for Call or a new Subscribe. Close is
// idempotent.
func (s *Subscription) Close() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.state = stateIdle

	payload, err := message.UnsubscribeRequest{SubscriptionID: s.id}.Encode()
	if err != nil {
		return
	}
	_ = s.conn.transport.WritePacket(wire.NewPacket(wire.PacketUnsubscribeRequest, payload))
}

// Disconnect sends a best-effort disconnect packet, then closes the
// underlying connection (spec §4.7).
func (c *Conn) Disconnect() error {
	_ = c.transport.WritePacket(wire.NewPacket(wire.PacketDisconnect, nil))
	return c.transport.Close()
}
