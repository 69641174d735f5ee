package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/logx"
)

const retryHeader = "x-retry-count"

var ErrBadMessage = errors.New("rabbitmq: malformed persist message")

type ConsumerOptions struct {
	Concurrency int
	// MaxRetries is how many times a failed event goes through the retry
	// queue before it is dead-lettered.
	MaxRetries int
	RetryDelay time.Duration
}

// Consumer applies persistence events from the queue with a bounded pool.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	pub   *Publisher
	queue string
	opts  ConsumerOptions
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Concurrency > 50 {
		opts.Concurrency = 50
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:  conn,
		ch:    ch,
		pub:   &Publisher{ch: pubCh, queue: queue},
		queue: queue,
		opts:  opts,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.pub.Close()
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is done or the broker closes the delivery channel,
// then waits for in-flight events.
func (c *Consumer) Run(ctx context.Context, apply func(context.Context, chat.PersistEvent) error) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log := logx.FromContext(ctx)
	log.Info("worker started", "queue", c.queue, "concurrency", c.opts.Concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range deliveries {
				c.handle(logx.WithLogger(ctx, wlog), d, apply)
			}
		}(i)
	}

	defer func() {
		close(deliveries)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			deliveries <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, apply func(context.Context, chat.PersistEvent) error) {
	log := logx.FromContext(ctx)

	ev, err := DecodePersistEvent(d.Body)
	if err != nil {
		log.Error("bad message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	// the write should finish even when shutdown starts mid-event
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	err = apply(actx, ev)
	cancel()
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "session_id", ev.SessionID, "error", err)
		}
		return
	}

	attempt := retryCount(d.Headers)
	log.Warn("persist event failed",
		"kind", ev.Kind, "session_id", ev.SessionID, "attempt", attempt,
		"cost", time.Since(start).String(), "error", err)

	if attempt >= c.opts.MaxRetries {
		_ = d.Nack(false, false) // -> dlq
		return
	}
	if err := c.pub.publish(context.WithoutCancel(ctx), retryQueue(c.queue), retryPublishing(d, attempt+1, c.opts.RetryDelay)); err != nil {
		log.Error("retry publish failed", "session_id", ev.SessionID, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// DecodePersistEvent parses and checks one queued event.
func DecodePersistEvent(body []byte) (chat.PersistEvent, error) {
	var ev chat.PersistEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if ev.SessionID == "" || ev.UserID == 0 {
		return ev, fmt.Errorf("%w: missing session or user", ErrBadMessage)
	}
	switch ev.Kind {
	case chat.PersistUserTurn, chat.PersistAssistantTurn, chat.PersistTouchSession:
	default:
		return ev, fmt.Errorf("%w: unknown kind %q", ErrBadMessage, ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev, nil
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func retryPublishing(d amqp.Delivery, attempt int, delay time.Duration) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)

	return amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Type:         d.Type,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(delay.Milliseconds()*int64(attempt), 10),
	}
}
