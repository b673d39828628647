// Package registry holds the server-side lookup tables: the transaction and
// event-type catalogs, the bounded connection admission table, and the
// index of live subscriptions. Each table guards its own invariant with a
// single lock so that test-and-insert style operations are atomic, in the
// spirit of the sharded counter bookkeeping in the example connection hub
// this protocol's server loop is modeled on.
package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"htcp/value"
)

// TransactionHandler executes one transaction call and returns its result
// value or an error. Handlers never see the raw wire bytes; the server
// layer decodes arguments via package value before calling in. When the
// transaction was registered with an argument schema, args has already
// been coerced (spec §4.9); a returned *value.CoercionError is otherwise
// treated the same as any other handler error (execution-error).
type TransactionHandler func(args value.Mapping) (value.Value, error)

// TransactionSpec is one registered transaction: its handler and the
// optional declared parameter schema used to coerce transaction-call
// arguments before the handler runs (spec §4.9). A nil ArgsSchema skips
// coercion and passes the decoded arguments through unchanged.
type TransactionSpec struct {
	Handler    TransactionHandler
	ArgsSchema map[string]value.Schema
}

// TransactionRegistry is the server's catalog of callable transactions
// (spec §3 Transaction), keyed by name.
type TransactionRegistry struct {
	mu    sync.RWMutex
	specs map[string]TransactionSpec
}

func NewTransactionRegistry() *TransactionRegistry {
	return &TransactionRegistry{specs: make(map[string]TransactionSpec)}
}

// Register adds a schema-less handler under name, replacing any existing
// registration.
func (r *TransactionRegistry) Register(name string, h TransactionHandler) {
	r.RegisterWithSchema(name, nil, h)
}

// RegisterWithSchema adds a handler under name along with its declared
// parameter schema, replacing any existing registration.
func (r *TransactionRegistry) RegisterWithSchema(name string, argsSchema map[string]value.Schema, h TransactionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[name] = TransactionSpec{Handler: h, ArgsSchema: argsSchema}
}

// Lookup returns the handler for name, if any.
func (r *TransactionRegistry) Lookup(name string) (TransactionHandler, bool) {
	spec, ok := r.LookupSpec(name)
	return spec.Handler, ok
}

// LookupSpec returns the full registration for name, if any.
func (r *TransactionRegistry) LookupSpec(name string) (TransactionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns the registered transaction names, for expose_transactions
// (spec §6) and the handshake-response transactions list.
func (r *TransactionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// SubscriptionProducer starts a subscription's event stream. It must honor
// ctx cancellation: once ctx is done, the producer should stop emitting and
// return promptly. Events are delivered on the returned channel; on a
// normal end the producer closes dataCh without sending to errCh. On an
// abnormal end the producer sends the one error to errCh (which must be
// buffered with capacity 1, so the send never blocks) and then closes
// dataCh, in that order, so a consumer observing a closed dataCh can
// reliably check errCh once without blocking.
type SubscriptionProducer func(ctx context.Context, args value.Mapping) (<-chan value.Value, <-chan error)

// SubscriptionSpec is one registered event type: its producer and the
// optional declared argument schema (spec §4.9), coerced the same way as a
// transaction's arguments before the producer starts.
type SubscriptionSpec struct {
	Producer   SubscriptionProducer
	ArgsSchema map[string]value.Schema
}

// SubscriptionRegistry is the server's catalog of subscribable event types
// (spec §3 Subscription), keyed by event type name.
type SubscriptionRegistry struct {
	mu    sync.RWMutex
	specs map[string]SubscriptionSpec
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{specs: make(map[string]SubscriptionSpec)}
}

// Register adds a schema-less producer under eventType, replacing any
// existing registration.
func (r *SubscriptionRegistry) Register(eventType string, p SubscriptionProducer) {
	r.RegisterWithSchema(eventType, nil, p)
}

// RegisterWithSchema adds a producer under eventType along with its
// declared argument schema, replacing any existing registration.
func (r *SubscriptionRegistry) RegisterWithSchema(eventType string, argsSchema map[string]value.Schema, p SubscriptionProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[eventType] = SubscriptionSpec{Producer: p, ArgsSchema: argsSchema}
}

func (r *SubscriptionRegistry) Lookup(eventType string) (SubscriptionProducer, bool) {
	spec, ok := r.LookupSpec(eventType)
	return spec.Producer, ok
}

// LookupSpec returns the full registration for eventType, if any.
func (r *SubscriptionRegistry) LookupSpec(eventType string) (SubscriptionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[eventType]
	return spec, ok
}

// CoerceArgs coerces args against a declared parameter schema (spec §4.9)
// by treating the parameters as the fields of an anonymous record. An empty
// or nil schema is a no-op.
func CoerceArgs(schema map[string]value.Schema, args value.Mapping) (value.Mapping, error) {
	if len(schema) == 0 {
		return args, nil
	}
	fields := make([]value.FieldSchema, 0, len(schema))
	for name, s := range schema {
		fields = append(fields, value.FieldSchema{Name: name, Schema: s})
	}
	coerced, err := value.Coerce(value.Schema{Kind: value.KindRecord, Fields: fields}, args)
	if err != nil {
		return nil, err
	}
	rec := coerced.(value.Record)
	out := make(value.Mapping, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		out = append(out, value.MapEntry{Key: value.String(f.Name), Value: f.Value})
	}
	return out, nil
}

// ErrRegistryFull is returned by ConnectionRegistry.TryAdd when the
// configured capacity is already in use.
var ErrRegistryFull = fmt.Errorf("registry: connection registry is full")

// ConnectionRegistry is the bounded, address-keyed table of live
// connections (spec §5 max_connections). TryAdd performs admission and
// insertion as one atomic operation so that the size check and the insert
// never race with a concurrent TryAdd or Remove.
type ConnectionRegistry struct {
	mu       sync.Mutex
	capacity int
	conns    map[string]io.Closer
}

func NewConnectionRegistry(capacity int) *ConnectionRegistry {
	return &ConnectionRegistry{capacity: capacity, conns: make(map[string]io.Closer)}
}

// TryAdd admits addr with the given handle iff capacity allows, returning
// ErrRegistryFull otherwise. Capacity <= 0 means unbounded.
func (r *ConnectionRegistry) TryAdd(addr string, handle io.Closer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && len(r.conns) >= r.capacity {
		return ErrRegistryFull
	}
	r.conns[addr] = handle
	return nil
}

func (r *ConnectionRegistry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, addr)
}

func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Each calls fn for every registered handle. fn must not call back into
// the registry.
func (r *ConnectionRegistry) Each(fn func(addr string, handle io.Closer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, h := range r.conns {
		fn(addr, h)
	}
}

// CloseAll closes every registered connection, for graceful shutdown. It
// does not remove them from the table; each connection's own teardown path
// is expected to call Remove.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.conns {
		_ = h.Close()
	}
}

// activeSubscription tracks one live subscription: its cancel function and
// the owning connection's address, so both id-based unsubscribe and
// connection-teardown cleanup can find it.
type activeSubscription struct {
	connAddr string
	cancel   func()
}

// SubscriptionIndex tracks active subscriptions by id and by owning
// connection, so an unsubscribe-request can cancel by id and a connection
// teardown can cancel every subscription that connection opened, without
// scanning.
type SubscriptionIndex struct {
	mu      sync.Mutex
	byID    map[string]activeSubscription
	byConn  map[string]map[string]struct{} // connAddr -> set of subscription ids
}

func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		byID:   make(map[string]activeSubscription),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Add registers a live subscription. cancel is invoked at most once, by
// CancelByID, CancelConnection or CancelAll.
func (idx *SubscriptionIndex) Add(subID, connAddr string, cancel func()) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID[subID] = activeSubscription{connAddr: connAddr, cancel: cancel}
	ids, ok := idx.byConn[connAddr]
	if !ok {
		ids = make(map[string]struct{})
		idx.byConn[connAddr] = ids
	}
	ids[subID] = struct{}{}
}

// Remove drops the bookkeeping for subID without invoking its cancel. Call
// this when the producer ends on its own (normal end or producer error),
// so a later CancelByID from an unsubscribe-request racing the same
// teardown becomes a harmless no-op.
func (idx *SubscriptionIndex) Remove(subID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.remove(subID)
}

func (idx *SubscriptionIndex) remove(subID string) {
	sub, ok := idx.byID[subID]
	if !ok {
		return
	}
	delete(idx.byID, subID)
	if ids := idx.byConn[sub.connAddr]; ids != nil {
		delete(ids, subID)
		if len(ids) == 0 {
			delete(idx.byConn, sub.connAddr)
		}
	}
}

// Exists reports whether subID is currently registered, without affecting
// it. Used to reject a duplicate subscription_id before starting a new
// producer.
func (idx *SubscriptionIndex) Exists(subID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.byID[subID]
	return ok
}

// CancelByID cancels and removes subID, reporting whether it was found.
// Unknown ids are a tolerated no-op per spec §4.3's unsubscribe-request
// edge case.
func (idx *SubscriptionIndex) CancelByID(subID string) bool {
	idx.mu.Lock()
	sub, ok := idx.byID[subID]
	if ok {
		idx.remove(subID)
	}
	idx.mu.Unlock()
	if ok {
		sub.cancel()
	}
	return ok
}

// CancelConnection cancels and removes every subscription owned by
// connAddr, for use during connection teardown.
func (idx *SubscriptionIndex) CancelConnection(connAddr string) {
	idx.mu.Lock()
	ids := idx.byConn[connAddr]
	cancels := make([]func(), 0, len(ids))
	for subID := range ids {
		cancels = append(cancels, idx.byID[subID].cancel)
		idx.remove(subID)
	}
	idx.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// CancelAll cancels and removes every live subscription, for server
// shutdown.
func (idx *SubscriptionIndex) CancelAll() {
	idx.mu.Lock()
	cancels := make([]func(), 0, len(idx.byID))
	for subID, sub := range idx.byID {
		cancels = append(cancels, sub.cancel)
		idx.remove(subID)
	}
	idx.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Count returns the number of live subscriptions, for metrics.
func (idx *SubscriptionIndex) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.byID)
}
