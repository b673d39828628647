// Package transport bridges package wire's synchronous packet codec onto
// net.Conn with per-operation deadlines and a goroutine-backed read stream,
// mirroring the accept/read/write loop split used throughout the example
// transport layer this protocol evolved from.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"htcp/wire"
)

// Timeouts holds the per-operation deadlines spec §5 requires.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}

// DefaultTimeouts matches spec §5's stated defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 30 * time.Second,
		Read:    60 * time.Second,
		Write:   60 * time.Second,
	}
}

// Received is one packet pulled off the wire, or the error that ended the
// read stream.
type Received struct {
	Packet wire.Packet
	Err    error
}

// Conn wraps a net.Conn with an HTCP codec and the protocol's deadline
// policy. It is safe for one concurrent reader and one concurrent writer,
// matching net.Conn's own concurrency contract.
type Conn struct {
	nc       net.Conn
	codec    *wire.Codec
	timeouts Timeouts
}

func NewConn(nc net.Conn, codec *wire.Codec, timeouts Timeouts) *Conn {
	return &Conn{nc: nc, codec: codec, timeouts: timeouts}
}

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
func (c *Conn) LocalAddr() net.Addr  { return c.nc.LocalAddr() }
func (c *Conn) Close() error         { return c.nc.Close() }

// ReadPacket reads one packet, applying the configured read deadline.
func (c *Conn) ReadPacket() (wire.Packet, error) {
	if c.timeouts.Read > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.timeouts.Read)); err != nil {
			return wire.Packet{}, fmt.Errorf("transport: set read deadline: %w", err)
		}
	}
	return c.codec.ReadPacket(c.nc)
}

// WritePacket writes one packet, applying the configured write deadline.
func (c *Conn) WritePacket(p wire.Packet) error {
	if c.timeouts.Write > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.timeouts.Write)); err != nil {
			return fmt.Errorf("transport: set write deadline: %w", err)
		}
	}
	return c.codec.WritePacket(c.nc, p)
}

// Dial opens a TCP connection to addr, bounded by the connect timeout.
func Dial(ctx context.Context, addr string, codec *wire.Codec, timeouts Timeouts) (*Conn, error) {
	d := net.Dialer{Timeout: timeouts.Connect}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewConn(nc, codec, timeouts), nil
}

// AsyncReader drains ReadPacket in a background goroutine and publishes
// each result on a channel, so a caller can multiplex incoming packets
// against outgoing work and cancellation without blocking on the socket.
// This is the same reader/writer goroutine split the example transport
// server uses, generalized to a consumable channel instead of a direct
// callback.
type AsyncReader struct {
	conn     *Conn
	out      chan Received
	done     chan struct{}
	stopOnce sync.Once
}

// NewAsyncReader starts the background read loop immediately. Callers must
// drain Packets() until it closes, or call Stop to abandon it early (the
// underlying connection must be closed by the caller to unblock a pending
// read).
func NewAsyncReader(conn *Conn) *AsyncReader {
	r := &AsyncReader{
		conn: conn,
		out:  make(chan Received, 1),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *AsyncReader) loop() {
	defer close(r.out)
	for {
		p, err := r.conn.ReadPacket()
		select {
		case r.out <- Received{Packet: p, Err: err}:
		case <-r.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Packets returns the channel of received packets. It is closed once the
// read loop terminates, always after delivering the terminal error.
func (r *AsyncReader) Packets() <-chan Received { return r.out }

// Stop tells the read loop to stop publishing further results. It does not
// interrupt a blocked socket read; close the connection for that.
func (r *AsyncReader) Stop() { r.stopOnce.Do(func() { close(r.done) }) }
