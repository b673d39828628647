// Package server implements the HTCP server runtime (spec §4.6): the
// lifecycle state machine, the accept loop with bounded admission, the
// per-connection packet dispatch loop, transaction and subscription
// dispatch, and graceful shutdown. Its accept/read/write goroutine split is
// grounded on the example transport server this protocol's runtime is
// modeled on, generalized from a WebSocket hub to the HTCP packet
// taxonomy.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"htcp/internal/metrics"
	"htcp/message"
	"htcp/registry"
	"htcp/value"
	"htcp/wire"
)

// State is the server lifecycle state (spec §4.6).
type State int32

const (
	StateInit State = iota
	StateListening
	StateAccepting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateListening:
		return "listening"
	case StateAccepting:
		return "accepting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures one Server.
type Config struct {
	ServerName         string
	ExposeTransactions bool
	MaxConnections     int // 0 = unbounded
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxPayloadSize     uint32
}

// Server is the HTCP server runtime.
type Server struct {
	cfg          Config
	codec        *wire.Codec
	logger       *zap.Logger
	metrics      *metrics.Registry
	txRegistry   *registry.TransactionRegistry
	subRegistry  *registry.SubscriptionRegistry
	connRegistry *registry.ConnectionRegistry
	subIndex     *registry.SubscriptionIndex

	listener net.Listener
	state    atomic.Int32
	workers  chan struct{} // closed once the accept loop and all connection workers have exited
}

// New constructs a Server. txRegistry and subRegistry are typically
// populated before Start via their Register/RegisterWithSchema methods.
func New(cfg Config, logger *zap.Logger, metricsRegistry *metrics.Registry, txRegistry *registry.TransactionRegistry, subRegistry *registry.SubscriptionRegistry) *Server {
	s := &Server{
		cfg:          cfg,
		codec:        wire.NewCodec(cfg.MaxPayloadSize),
		logger:       logger,
		metrics:      metricsRegistry,
		txRegistry:   txRegistry,
		subRegistry:  subRegistry,
		connRegistry: registry.NewConnectionRegistry(cfg.MaxConnections),
		subIndex:     registry.NewSubscriptionIndex(),
	}
	s.state.Store(int32(StateInit))
	return s
}

func (s *Server) State() State { return State(s.state.Load()) }

// Start binds the listener and begins accepting connections. It returns
// once listening; the accept loop runs in the background.
func (s *Server) Start(addr string) error {
	if !s.state.CompareAndSwap(int32(StateInit), int32(StateListening)) {
		return fmt.Errorf("server: already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.state.Store(int32(StateInit))
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	s.state.Store(int32(StateAccepting))
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	done := make(chan struct{})
	s.workers = done
	go func() {
		s.acceptLoop()
		close(done)
	}()
	return nil
}

// Addr returns the bound listen address. Valid only after Start succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	var connWG sync.WaitGroup
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.State() == StateStopping || s.State() == StateStopped {
				break
			}
			s.logger.Error("accept error", zap.Error(err))
			break
		}

		sc := newServerConn(nc, s.codec, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
		if err := s.connRegistry.TryAdd(sc.addr, sc); err != nil {
			s.metrics.ConnectionsRejected.Inc()
			_ = nc.Close()
			continue
		}
		s.metrics.ConnectionsAdmitted.Inc()
		s.metrics.ActiveConnections.Inc()

		connWG.Add(1)
		go func() {
			defer connWG.Done()
			s.handleConnection(sc)
			s.subIndex.CancelConnection(sc.addr)
			sc.subWG.Wait()
			s.connRegistry.Remove(sc.addr)
			s.metrics.ActiveConnections.Dec()
		}()
	}
	connWG.Wait()
}

// Stop initiates graceful shutdown: every producer is cancelled, every
// connection is closed (waking blocked readers), and Stop blocks until all
// connection workers and the accept loop have exited.
func (s *Server) Stop() {
	prev := s.state.Swap(int32(StateStopping))
	if prev == int32(StateStopping) || prev == int32(StateStopped) {
		return
	}
	s.subIndex.CancelAll()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connRegistry.CloseAll()
	if s.workers != nil {
		<-s.workers
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("server stopped")
}

func (s *Server) handleConnection(c *serverConn) {
	defer c.Close()
	for {
		p, err := c.readPacket()
		if err != nil {
			return
		}

		switch c.State() {
		case connGreeting:
			if p.Type != wire.PacketHandshakeRequest {
				s.sendProtocolError(c, "expected handshake-request")
				return
			}
			if err := s.handleHandshake(c); err != nil {
				s.logger.Debug("handshake write failed", zap.String("addr", c.addr), zap.Error(err))
				return
			}
			c.setState(connEstablished)

		case connEstablished:
			switch p.Type {
			case wire.PacketHandshakeRequest:
				s.sendError(c, wire.ErrorCodeProtocolError, "handshake already completed")
			case wire.PacketTransactionCall:
				s.dispatchTransaction(c, p.Payload)
			case wire.PacketSubscribeRequest:
				s.dispatchSubscribe(c, p.Payload)
			case wire.PacketUnsubscribeRequest:
				s.dispatchUnsubscribe(c, p.Payload)
			case wire.PacketDisconnect:
				c.setState(connClosing)
				return
			default:
				s.sendProtocolError(c, fmt.Sprintf("illegal packet type %v in established state", p.Type))
				return
			}

		case connClosing:
			return
		}
	}
}

func (s *Server) handleHandshake(c *serverConn) error {
	var names []string
	if s.cfg.ExposeTransactions {
		names = s.txRegistry.Names()
	}
	payload, err := message.HandshakeResponse{ServerName: s.cfg.ServerName, Transactions: names}.Encode()
	if err != nil {
		return err
	}
	return c.writePacket(wire.NewPacket(wire.PacketHandshakeResponse, payload))
}

func (s *Server) sendProtocolError(c *serverConn, reason string) {
	s.sendError(c, wire.ErrorCodeProtocolError, reason)
}

func (s *Server) sendError(c *serverConn, code wire.ErrorCode, msg string) {
	payload, err := message.ErrorMessage{ErrorCode: code, Message: msg}.Encode()
	if err != nil {
		s.logger.Error("failed to encode error message", zap.Error(err))
		return
	}
	if err := c.writePacket(wire.NewPacket(wire.PacketError, payload)); err != nil {
		s.logger.Debug("failed to send error packet", zap.String("addr", c.addr), zap.Error(err))
	}
}

func (s *Server) dispatchTransaction(c *serverConn, payload []byte) {
	call, err := message.DecodeTransactionCall(payload)
	if err != nil {
		s.sendProtocolError(c, "malformed transaction-call: "+err.Error())
		return
	}

	spec, ok := s.txRegistry.LookupSpec(call.Transaction)
	if !ok {
		s.metrics.TransactionsTotal.WithLabelValues(call.Transaction, "unknown").Inc()
		s.sendTransactionResult(c, message.TransactionResult{
			Success:      false,
			ErrorCode:    wire.ErrorCodeUnknownTransaction,
			ErrorMessage: fmt.Sprintf("Unknown transaction: %s", call.Transaction),
		})
		return
	}

	args, err := registry.CoerceArgs(spec.ArgsSchema, call.Arguments)
	if err != nil {
		s.metrics.CoercionFailuresTotal.Inc()
		s.metrics.TransactionsTotal.WithLabelValues(call.Transaction, "invalid_arguments").Inc()
		s.sendTransactionResult(c, message.TransactionResult{
			Success:      false,
			ErrorCode:    wire.ErrorCodeInvalidArguments,
			ErrorMessage: err.Error(),
		})
		return
	}

	start := time.Now()
	result, err := spec.Handler(args)
	s.metrics.TransactionDuration.WithLabelValues(call.Transaction).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.TransactionsTotal.WithLabelValues(call.Transaction, "execution_error").Inc()
		s.sendTransactionResult(c, message.TransactionResult{
			Success:      false,
			ErrorCode:    wire.ErrorCodeExecutionError,
			ErrorMessage: err.Error(),
		})
		return
	}

	s.metrics.TransactionsTotal.WithLabelValues(call.Transaction, "success").Inc()
	s.sendTransactionResult(c, message.TransactionResult{
		Success:   true,
		Result:    result,
		ErrorCode: wire.ErrorCodeSuccess,
	})
}

func (s *Server) sendTransactionResult(c *serverConn, r message.TransactionResult) {
	payload, err := r.Encode()
	if err != nil {
		s.logger.Error("failed to encode transaction-result", zap.Error(err))
		return
	}
	if err := c.writePacket(wire.NewPacket(wire.PacketTransactionResult, payload)); err != nil {
		s.logger.Debug("failed to send transaction-result", zap.String("addr", c.addr), zap.Error(err))
	}
}

func (s *Server) dispatchSubscribe(c *serverConn, payload []byte) {
	req, err := message.DecodeSubscribeRequest(payload)
	if err != nil {
		s.sendProtocolError(c, "malformed subscribe-request: "+err.Error())
		return
	}

	if s.subIndex.Exists(req.SubscriptionID) {
		s.sendSubscribeError(c, req.SubscriptionID, wire.ErrorCodeInvalidArguments, "duplicate subscription_id")
		return
	}

	spec, ok := s.subRegistry.LookupSpec(req.EventType)
	if !ok {
		s.sendSubscribeError(c, req.SubscriptionID, wire.ErrorCodeUnknownTransaction, fmt.Sprintf("Unknown event type: %s", req.EventType))
		return
	}

	args, err := registry.CoerceArgs(spec.ArgsSchema, req.Arguments)
	if err != nil {
		s.metrics.CoercionFailuresTotal.Inc()
		s.sendSubscribeError(c, req.SubscriptionID, wire.ErrorCodeInvalidArguments, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.subIndex.Add(req.SubscriptionID, c.addr, cancel)

	dataCh, errCh := spec.Producer(ctx, args)
	s.metrics.SubscriptionsTotal.WithLabelValues(req.EventType).Inc()
	s.metrics.ActiveSubscriptions.Inc()
	c.beginSubscription()

	c.subWG.Add(1)
	go s.runSubscription(c, req.SubscriptionID, ctx, cancel, dataCh, errCh)
}

func (s *Server) runSubscription(c *serverConn, subID string, ctx context.Context, cancel context.CancelFunc, dataCh <-chan value.Value, errCh <-chan error) {
	defer c.subWG.Done()
	defer cancel()
	defer c.endSubscription()
	defer s.metrics.ActiveSubscriptions.Dec()
	defer s.subIndex.Remove(subID)

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-dataCh:
			if ctx.Err() != nil {
				return // cancelled (unsubscribe, connection close, shutdown): send nothing further
			}
			if !ok {
				select {
				case err := <-errCh:
					if err != nil {
						s.sendSubscribeError(c, subID, wire.ErrorCodeExecutionError, err.Error())
						return
					}
				default:
				}
				s.sendSubscribeEnd(c, subID)
				return
			}
			payload, err := message.SubscribeData{SubscriptionID: subID, Data: v}.Encode()
			if err != nil {
				s.logger.Error("failed to encode subscribe-data", zap.Error(err))
				continue
			}
			if err := c.writePacket(wire.NewPacket(wire.PacketSubscribeData, payload)); err != nil {
				return // connection broken; drop silently per spec §4.6
			}
		}
	}
}

func (s *Server) sendSubscribeEnd(c *serverConn, subID string) {
	payload, err := message.SubscribeEnd{SubscriptionID: subID}.Encode()
	if err != nil {
		s.logger.Error("failed to encode subscribe-end", zap.Error(err))
		return
	}
	_ = c.writePacket(wire.NewPacket(wire.PacketSubscribeEnd, payload))
}

func (s *Server) sendSubscribeError(c *serverConn, subID string, code wire.ErrorCode, msg string) {
	payload, err := message.SubscribeError{SubscriptionID: subID, ErrorCode: code, Message: msg}.Encode()
	if err != nil {
		s.logger.Error("failed to encode subscribe-error", zap.Error(err))
		return
	}
	_ = c.writePacket(wire.NewPacket(wire.PacketSubscribeError, payload))
}

func (s *Server) dispatchUnsubscribe(c *serverConn, payload []byte) {
	req, err := message.DecodeUnsubscribeRequest(payload)
	if err != nil {
		s.sendProtocolError(c, "malformed unsubscribe-request: "+err.Error())
		return
	}
	s.subIndex.CancelByID(req.SubscriptionID)
}
