package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"htcp/wire"
)

// connState is a per-connection state per spec §4.6.
type connState int32

const (
	connGreeting connState = iota
	connEstablished
	connClosing
)

func (s connState) String() string {
	switch s {
	case connGreeting:
		return "greeting"
	case connEstablished:
		return "established"
	case connClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// serverConn wraps one accepted net.Conn with the HTCP codec and the
// protocol's deadline policy. Unlike package transport's Conn, the read
// deadline here depends on subscription state: once at least one
// subscription is active, per-read timeouts are lifted (spec §5 "a
// subscribed client is a silent reader").
type serverConn struct {
	nc    net.Conn
	codec *wire.Codec
	addr  string

	readTimeout  time.Duration
	writeTimeout time.Duration

	state      atomic.Int32
	activeSubs atomic.Int32

	writeMu sync.Mutex
	subWG   sync.WaitGroup
}

func newServerConn(nc net.Conn, codec *wire.Codec, readTimeout, writeTimeout time.Duration) *serverConn {
	c := &serverConn{
		nc:           nc,
		codec:        codec,
		addr:         nc.RemoteAddr().String(),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	c.state.Store(int32(connGreeting))
	return c
}

func (c *serverConn) State() connState     { return connState(c.state.Load()) }
func (c *serverConn) setState(s connState) { c.state.Store(int32(s)) }

func (c *serverConn) beginSubscription() { c.activeSubs.Add(1) }
func (c *serverConn) endSubscription()   { c.activeSubs.Add(-1) }

func (c *serverConn) readPacket() (wire.Packet, error) {
	if c.activeSubs.Load() == 0 && c.readTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return wire.Packet{}, err
		}
	} else if err := c.nc.SetReadDeadline(time.Time{}); err != nil {
		return wire.Packet{}, err
	}
	return c.codec.ReadPacket(c.nc)
}

// writePacket is safe to call concurrently: the reader goroutine and any
// number of subscription producer goroutines for this connection all write
// through it.
func (c *serverConn) writePacket(p wire.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.codec.WritePacket(c.nc, p)
}

func (c *serverConn) Close() error { return c.nc.Close() }
