package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, body []byte) error

type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queue       string
	exchange    string
	workerCount int
	baseDelay   time.Duration
	handler     MessageHandler
	logger      *zap.Logger
	failures    failureCounter
	wg          sync.WaitGroup
}

const (
	RequestRoutingKey = "keyframe.request"
	StatusRoutingKey  = "keyframe.status"

	maxBackoff = 60 * time.Second
)

type ConsumerConfig struct {
	URL         string
	Queue       string
	Exchange    string
	DLQ         string
	StatusQueue string
	Prefetch    int
	WorkerCount int
	BaseDelayMs int
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       cfg.Queue,
		exchange:    cfg.Exchange,
		workerCount: cfg.WorkerCount,
		baseDelay:   time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		handler:     handler,
		logger:      logger,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, q := range []string{cfg.Queue, cfg.DLQ, cfg.StatusQueue} {
		_, err = ch.QueueDeclare(q, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	if err := ch.QueueBind(cfg.Queue, RequestRoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind request queue: %w", err)
	}
	if err := ch.QueueBind(cfg.StatusQueue, StatusRoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind status queue: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// Start consumes keyframe requests until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Info("keyframe consumer started",
		zap.String("queue", c.queue),
		zap.String("exchange", c.exchange),
		zap.Int("workers", c.workerCount),
	)

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.runWorker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("keyframe consumer stopping, draining workers")
	c.wg.Wait()
	return nil
}

func (c *Consumer) runWorker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("request channel closed by broker")
				return
			}
			c.handleRequest(ctx, d, log)
		}
	}
}

// handleRequest acks a request the handler settled (done, parked in the DLQ
// or dropped) and requeues one it wants retried, after a backoff that grows
// with the number of failures seen for the same job.
func (c *Consumer) handleRequest(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	ref := peekRequest(d.Body)
	log = log.With(zap.String("job_id", ref.JobID), zap.String("video_key", ref.VideoKey))

	start := time.Now()
	err := c.handler(ctx, d.Body)
	if err == nil {
		c.failures.forget(ref.key(d.Body))
		log.Debug("keyframe request settled", zap.Duration("took", time.Since(start)))
		_ = d.Ack(false)
		return
	}

	attempt := max(c.failures.record(ref.key(d.Body)), attemptFromHeaders(d.Headers))
	delay := backoff(c.baseDelay, attempt)
	log.Warn("keyframe request failed, requeueing",
		zap.Error(err),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay),
		zap.Bool("redelivered", d.Redelivered),
	)

	// On shutdown the request goes back without waiting out the backoff.
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	_ = d.Nack(false, true)
}

// requestRef holds the fields of a keyframe request worth logging. It is
// decoded leniently; a body that is not JSON yields an empty ref.
type requestRef struct {
	JobID    string `json:"job_id"`
	VideoKey string `json:"src_file_name"`
}

func peekRequest(body []byte) requestRef {
	var ref requestRef
	_ = json.Unmarshal(body, &ref)
	return ref
}

func (r requestRef) key(body []byte) string {
	if r.JobID != "" {
		return r.JobID
	}
	return string(body)
}

// failureCounter counts consecutive failures per job across redeliveries.
type failureCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *failureCounter) record(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[key]++
	return f.counts[key]
}

func (f *failureCounter) forget(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
}

func attemptFromHeaders(headers amqp.Table) int {
	if headers == nil {
		return 1
	}
	if xDeath, ok := headers["x-death"]; ok {
		if deaths, ok := xDeath.([]interface{}); ok && len(deaths) > 0 {
			return len(deaths)
		}
	}
	return 1
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
