// Package notify implements the process-wide notification hub (spec
// §4.8): a per-user, per-token mailbox table, online/offline broadcast
// keyed by shared chat membership, and an optional NATS publish mirror.
// Its subscribe/publish shape and its optional NATS passthrough are
// grounded on go-server/pkg/nats/client.go, generalized from a
// subject-keyed pub/sub wrapper to a user-keyed mailbox hub.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"htcp/internal/metrics"
	"htcp/value"
)

// Event is one application-level notification delivered through a
// Subscription's mailbox.
type Event struct {
	Type    string
	Payload value.Value
}

// TokenRepository resolves a subscription token to the user_id that owns
// it. It is the hub's only dependency on an external auth/session store.
type TokenRepository interface {
	ResolveToken(token string) (userID string, err error)
}

// AccountsRepository records the moment a user's last mailbox closed.
type AccountsRepository interface {
	SetLastOnlineAt(userID string, at time.Time) error
}

// ChatMembershipRepository answers the two membership questions the hub
// needs: who is in a given chat, and which users co-occupy at least one
// chat with a given user (for online/offline broadcast).
type ChatMembershipRepository interface {
	MembersOfChat(chatID string) ([]string, error)
	ChatPeersOf(userID string) ([]string, error)
}

// Config configures one Manager.
type Config struct {
	QueueCapacity   int // per-token mailbox capacity; default 64
	NATSSubjectRoot string
}

// Manager is the notify hub (spec §4.8). Subscribe, unsubscribe, and every
// notify_* method serialize under an internal mutex for their table
// mutation; the (possibly blocking) mailbox sends happen after the mutex
// is released, so a slow reader's backpressure never stalls a concurrent
// subscribe or notify call.
type Manager struct {
	tokens   TokenRepository
	accounts AccountsRepository
	chats    ChatMembershipRepository
	metrics  *metrics.Registry
	logger   *zap.Logger

	queueCapacity int
	nc            *nats.Conn
	natsRoot      string

	guard sync.Mutex
	users map[string]map[string]chan Event // user_id -> token -> queue
}

func NewManager(tokens TokenRepository, accounts AccountsRepository, chats ChatMembershipRepository, metricsRegistry *metrics.Registry, logger *zap.Logger, cfg Config) *Manager {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	return &Manager{
		tokens:        tokens,
		accounts:      accounts,
		chats:         chats,
		metrics:       metricsRegistry,
		logger:        logger,
		queueCapacity: cfg.QueueCapacity,
		natsRoot:      cfg.NATSSubjectRoot,
		users:         make(map[string]map[string]chan Event),
	}
}

// WithNATS attaches an optional NATS connection; every NotifyUser call
// additionally publishes the event, best-effort, to
// "<NATSSubjectRoot>.<user_id>".
func (m *Manager) WithNATS(nc *nats.Conn) *Manager {
	m.nc = nc
	return m
}

// Subscription is a lazy iterator over one token's mailbox (spec §4.7-
// style scoped handle, reused here for the notify hub's own subscribe
// operation). Close must be called when done; it is not automatic.
type Subscription struct {
	mgr    *Manager
	userID string
	token  string
	queue  chan Event
	closed bool
}

// Subscribe resolves token to a user, atomically installs its mailbox,
// and — if this is the user's first active mailbox — broadcasts
// user_online before returning.
func (m *Manager) Subscribe(token string) (*Subscription, error) {
	userID, err := m.tokens.ResolveToken(token)
	if err != nil {
		return nil, fmt.Errorf("notify: resolve token: %w", err)
	}

	queue := make(chan Event, m.queueCapacity)
	wentOnline := false

	m.guard.Lock()
	byToken, ok := m.users[userID]
	if !ok {
		byToken = make(map[string]chan Event)
		m.users[userID] = byToken
		wentOnline = true
	}
	byToken[token] = queue
	onlineUsers := len(m.users)
	m.guard.Unlock()

	m.metrics.NotifyOnlineUsers.Set(float64(onlineUsers))

	if wentOnline {
		m.broadcastPresence(userID, "user_online")
	}

	return &Subscription{mgr: m, userID: userID, token: token, queue: queue}, nil
}

// Next blocks for the mailbox's next event.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.queue:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close atomically removes this mailbox. If it was the user's last
// mailbox, it records last_online_at and broadcasts user_offline. Close
// is idempotent.
func (s *Subscription) Close() {
	if s.closed {
		return
	}
	s.closed = true

	wentOffline := false
	m := s.mgr

	m.guard.Lock()
	if byToken, ok := m.users[s.userID]; ok {
		delete(byToken, s.token)
		if len(byToken) == 0 {
			delete(m.users, s.userID)
			wentOffline = true
		}
	}
	onlineUsers := len(m.users)
	m.guard.Unlock()

	m.metrics.NotifyOnlineUsers.Set(float64(onlineUsers))

	if wentOffline {
		if err := m.accounts.SetLastOnlineAt(s.userID, time.Now()); err != nil {
			m.logger.Warn("notify: failed to record last_online_at", zap.String("user_id", s.userID), zap.Error(err))
		}
		m.broadcastPresence(s.userID, "user_offline")
	}
}

// IsOnline reports whether userID currently has at least one open
// mailbox.
func (m *Manager) IsOnline(userID string) bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	byToken, ok := m.users[userID]
	return ok && len(byToken) > 0
}

// NotifyUser enqueues ev on every mailbox userID currently holds. A user
// with no open mailbox is a silent no-op.
func (m *Manager) NotifyUser(userID string, ev Event) {
	m.guard.Lock()
	byToken := m.users[userID]
	queues := make([]chan Event, 0, len(byToken))
	for _, q := range byToken {
		queues = append(queues, q)
	}
	m.guard.Unlock()

	for _, q := range queues {
		q <- ev
		m.metrics.NotifyQueueDepth.Set(float64(len(q)))
	}

	if m.nc != nil {
		m.publishNATS(userID, ev)
	}
}

// NotifyUsers is NotifyUser folded over ids.
func (m *Manager) NotifyUsers(ids []string, ev Event) {
	for _, id := range ids {
		m.NotifyUser(id, ev)
	}
}

// NotifyChat resolves chatID's members and notifies each except
// excludeUserID (pass "" to notify everyone).
func (m *Manager) NotifyChat(chatID string, ev Event, excludeUserID string) error {
	members, err := m.chats.MembersOfChat(chatID)
	if err != nil {
		return fmt.Errorf("notify: members of chat %s: %w", chatID, err)
	}
	filtered := members[:0:0]
	for _, id := range members {
		if id != excludeUserID {
			filtered = append(filtered, id)
		}
	}
	m.NotifyUsers(filtered, ev)
	return nil
}

// broadcastPresence sends eventType to every user who shares at least one
// chat with userID, deduplicated, excluding userID itself.
func (m *Manager) broadcastPresence(userID, eventType string) {
	peers, err := m.chats.ChatPeersOf(userID)
	if err != nil {
		m.logger.Warn("notify: failed to resolve chat peers for presence broadcast",
			zap.String("user_id", userID), zap.String("event", eventType), zap.Error(err))
		return
	}
	seen := make(map[string]struct{}, len(peers))
	dedup := peers[:0:0]
	for _, id := range peers {
		if id == userID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dedup = append(dedup, id)
	}
	m.NotifyUsers(dedup, Event{Type: eventType, Payload: value.String(userID)})
}

func (m *Manager) publishNATS(userID string, ev Event) {
	payload, err := value.Encode(ev.Payload)
	if err != nil {
		m.logger.Warn("notify: failed to encode event for NATS mirror", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", m.natsRoot, userID)
	if err := m.nc.Publish(subject, payload); err != nil {
		m.logger.Warn("notify: NATS publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
