package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/delivery"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

const defaultReconnectDelay = 3 * time.Second

// MessageGetter loads one outbound message by id.
type MessageGetter interface {
	Get(ctx context.Context, id string) (*model.OutboundMessage, error)
}

// Listener is a push channel on PostgreSQL LISTEN/NOTIFY. It holds one pool
// connection for as long as the subscription lives.
type Listener struct {
	pool           *pgxpool.Pool
	channel        string
	messages       MessageGetter
	reconnectDelay time.Duration
	log            log.Logger
}

var _ delivery.Subscriber = (*Listener)(nil)

func NewListener(pool *pgxpool.Pool, channel string, messages MessageGetter) *Listener {
	return &Listener{
		pool:           pool,
		channel:        channel,
		messages:       messages,
		reconnectDelay: defaultReconnectDelay,
		log:            log.WithName("pg-listener").WithValues("channel", channel),
	}
}

// Subscribe issues LISTEN and reports confirmed once it succeeded. A lost
// connection is reported as an error and re-established in the background.
func (l *Listener) Subscribe(ctx context.Context, onItem func(*model.OutboundMessage), onStatus func(delivery.Status, error)) (delivery.Subscription, error) {
	conn, err := l.listen(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &listenSubscription{cancel: cancel, done: make(chan struct{})}

	onStatus(delivery.StatusConfirmed, nil)
	go func() {
		defer close(sub.done)
		l.run(ctx, conn, onItem, onStatus)
	}()

	return sub, nil
}

func (l *Listener) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		discard(conn)
		return nil, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	return conn, nil
}

func (l *Listener) run(ctx context.Context, conn *pgxpool.Conn, onItem func(*model.OutboundMessage), onStatus func(delivery.Status, error)) {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			discard(conn)
			if ctx.Err() != nil {
				return
			}

			l.log.Error(err, "Listen connection lost")
			onStatus(delivery.StatusError, err)

			if conn = l.reconnect(ctx); conn == nil {
				return
			}
			onStatus(delivery.StatusConfirmed, nil)
			continue
		}

		id, err := parseNotification(n.Payload)
		if err != nil {
			l.log.Warn("Ignoring malformed notification", "err", err.Error())
			continue
		}

		msg, err := l.messages.Get(ctx, id)
		if err != nil {
			// The poll path picks it up if push stays broken.
			l.log.Error(err, "Failed to load notified message", "id", id)
			continue
		}
		if msg == nil || msg.Status != model.MessageStatusPending {
			continue
		}
		onItem(msg)
	}
}

// reconnect retries LISTEN until it works or ctx ends, in which case it returns nil.
func (l *Listener) reconnect(ctx context.Context) *pgxpool.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.reconnectDelay):
		}

		conn, err := l.listen(ctx)
		if err == nil {
			l.log.Info("Listen connection re-established")
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("Listen reconnect failed", "err", err.Error())
	}
}

// discard closes the connection so the pool drops it instead of handing out
// a session that is still listening.
func discard(conn *pgxpool.Conn) {
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Conn().Close(closeCtx)
	conn.Release()
}

type listenSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *listenSubscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(s.cancel)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type notification struct {
	ID string `json:"id"`
}

// parseNotification accepts the trigger's JSON object or a bare id.
func parseNotification(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", errors.New("empty payload")
	}
	if !strings.HasPrefix(payload, "{") {
		return payload, nil
	}

	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if n.ID == "" {
		return "", errors.New("payload has no id")
	}
	return n.ID, nil
}
