package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher pushes events to the external alerting channel. Delivery and retry
// semantics beyond a single attempt belong to that channel.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher only logs events; used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher builds a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.ID),
		zap.Any("payload", event.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// RedisStreamPublisher appends events to a capped Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher builds a publisher writing to stream, trimmed to roughly maxLen entries.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: []interface{}{
			"id", event.ID,
			"type", string(event.Type),
			"ticket_id", event.TicketID,
			"actor_id", event.Actor.ID,
			"actor_role", string(event.Actor.Role),
			"timestamp", event.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload", string(payload),
		},
	}).Err()
}

// Close is a no-op; the Redis client is owned by persistence.Redis.
func (p *RedisStreamPublisher) Close() error { return nil }

const (
	amqpMinBackoff = time.Second
	amqpMaxBackoff = 30 * time.Second
)

var errAMQPClosed = errors.New("amqp publisher closed")

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession is one broker connection with its channel. closed receives the
// connection's NotifyClose error.
type amqpSession struct {
	ch     amqpChannel
	conn   io.Closer
	closed <-chan *amqp.Error
}

func (s *amqpSession) close() error {
	return errors.Join(s.ch.Close(), s.conn.Close())
}

type amqpDialer func(url, queue string) (*amqpSession, error)

func dialAMQP(url, queue string) (*amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return &amqpSession{ch: ch, conn: conn, closed: closed}, nil
}

// AMQPPublisher sends events as persistent JSON messages to a durable queue.
// A lost broker connection is redialed on the next publish, backing off
// between failed dials.
type AMQPPublisher struct {
	mu      sync.Mutex
	url     string
	queue   string
	logger  *zap.Logger
	dial    amqpDialer
	now     func() time.Time
	session *amqpSession
	backoff time.Duration
	retryAt time.Time
	closed  bool
}

// NewAMQPPublisher dials the broker and declares the durable queue. The first
// dial must succeed.
func NewAMQPPublisher(url, queue string, logger *zap.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, queue, logger, dialAMQP, time.Now)
}

func newAMQPPublisher(url, queue string, logger *zap.Logger, dial amqpDialer, now func() time.Time) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	p := &AMQPPublisher{url: url, queue: queue, logger: logger, dial: dial, now: now}
	p.attach(session)
	return p, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := amqpMessage(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; ; attempt++ {
		session, err := p.connected()
		if err != nil {
			return err
		}
		err = session.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
		if err == nil || attempt > 0 || !errors.Is(err, amqp.ErrClosed) {
			return err
		}
		// The close notification may not have arrived yet; redial once.
		p.drop(session)
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.session == nil {
		return nil
	}
	err := p.session.close()
	p.session = nil
	return err
}

// connected returns the live session, redialing when the last one was lost.
// p.mu must be held.
func (p *AMQPPublisher) connected() (*amqpSession, error) {
	if p.closed {
		return nil, errAMQPClosed
	}
	if p.session != nil {
		return p.session, nil
	}
	if p.now().Before(p.retryAt) {
		return nil, fmt.Errorf("amqp reconnect backing off until %s", p.retryAt.Format(time.RFC3339))
	}
	session, err := p.dial(p.url, p.queue)
	if err != nil {
		p.retryAt = p.now().Add(p.backoff)
		p.logger.Warn("amqp redial failed", zap.String("queue", p.queue), zap.Duration("retry_in", p.backoff), zap.Error(err))
		if p.backoff < amqpMaxBackoff {
			p.backoff *= 2
		}
		return nil, err
	}
	p.logger.Info("amqp connection restored", zap.String("queue", p.queue))
	p.attach(session)
	return session, nil
}

// attach installs session and watches it for closure. p.mu must be held, or p
// not yet shared.
func (p *AMQPPublisher) attach(session *amqpSession) {
	p.session = session
	p.backoff = amqpMinBackoff
	p.retryAt = time.Time{}
	go p.watch(session)
}

func (p *AMQPPublisher) watch(session *amqpSession) {
	amqpErr := <-session.closed
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != session {
		return
	}
	if amqpErr != nil {
		p.logger.Warn("amqp connection lost; redialing on next publish", zap.String("queue", p.queue), zap.Error(amqpErr))
	}
	p.drop(session)
}

// drop discards a dead session. p.mu must be held.
func (p *AMQPPublisher) drop(session *amqpSession) {
	if p.session == session {
		p.session = nil
	}
	_ = session.close()
}

func amqpMessage(event Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.Timestamp.UTC(),
		Body:         body,
	}, nil
}
