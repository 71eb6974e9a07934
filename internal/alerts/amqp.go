package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/vajraai/vajra/internal/circuitbreaker"
	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/metrics"
	"github.com/vajraai/vajra/internal/retry"
	"github.com/vajraai/vajra/internal/traces"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("alerts: publisher closed")

const breakerKey = "amqp"

// AMQPConfig locates the broker and the exchange alerts go to.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	PerSecond  float64
}

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel and returns it with the connection that owns it.
// It must give up once ctx is done.
type Dialer func(ctx context.Context, url string) (Channel, io.Closer, error)

// defaultDialTimeout bounds a dial whose context has no deadline.
const defaultDialTimeout = 10 * time.Second

func dialAMQP(ctx context.Context, url string) (Channel, io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// AMQPPublisher publishes alerts as persistent JSON messages to a durable
// topic exchange. The connection is opened lazily and re-dialed after a
// failed publish.
type AMQPPublisher struct {
	cfg         AMQPConfig
	dial        Dialer
	limiter     *rate.Limiter
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	baseDelay   time.Duration

	mu     sync.Mutex
	ch     Channel
	conn   io.Closer
	closed bool
}

// AMQPOption configures an AMQPPublisher.
type AMQPOption func(*AMQPPublisher)

// WithDialer replaces the broker dialer.
func WithDialer(d Dialer) AMQPOption {
	return func(p *AMQPPublisher) { p.dial = d }
}

// WithRetry sets the publish retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) AMQPOption {
	return func(p *AMQPPublisher) {
		p.maxAttempts = maxAttempts
		p.baseDelay = baseDelay
	}
}

// WithBreaker replaces the circuit breaker guarding the broker.
func WithBreaker(b *circuitbreaker.Breaker) AMQPOption {
	return func(p *AMQPPublisher) { p.breaker = b }
}

// NewAMQPPublisher creates a publisher. No connection is made until the
// first Publish or Ping.
func NewAMQPPublisher(cfg AMQPConfig, opts ...AMQPOption) (*AMQPPublisher, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, fmt.Errorf("alerts: broker url and exchange are required")
	}
	if cfg.PerSecond <= 0 {
		return nil, fmt.Errorf("alerts: publish rate must be positive")
	}
	burst := max(int(cfg.PerSecond), 1)
	p := &AMQPPublisher{
		cfg:         cfg,
		dial:        dialAMQP,
		limiter:     rate.NewLimiter(rate.Limit(cfg.PerSecond), burst),
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logging.L(context.Background()).Warn("alert broker circuit changed",
			"key", key, "from", from.String(), "to", to.String())
	})
	return p, nil
}

// Publish sends one alert, waiting for the rate limiter first.
func (p *AMQPPublisher) Publish(ctx context.Context, alert *Alert) error {
	ctx, span := traces.StartSpan(ctx, "alerts.Publish",
		traces.AlertID(alert.ID), traces.VendorID(alert.VendorID), traces.RunID(alert.RunID))
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		metrics.AlertsPublishedTotal.WithLabelValues("throttled").Inc()
		return fmt.Errorf("alerts: rate limit wait: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alerts: encode: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    alert.ID,
		Timestamp:    time.Now().UTC(),
		Type:         "risk.alert",
		AppId:        "vajra",
		Body:         body,
	}

	err = retry.Do(ctx, p.maxAttempts, p.baseDelay, func() error {
		err := p.breaker.Execute(breakerKey, func() error {
			ch, err := p.channel(ctx)
			if err != nil {
				return err
			}
			if err := ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
				p.reset()
				return err
			}
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		traces.Fail(span, err)
		metrics.AlertsPublishedTotal.WithLabelValues("failed").Inc()
		logging.L(ctx).Warn("alert publish failed",
			"alert_id", alert.ID, "transaction_id", alert.TransactionID, "error", err)
		return fmt.Errorf("alerts: publish %s: %w", alert.ID, err)
	}
	metrics.AlertsPublishedTotal.WithLabelValues("published").Inc()
	return nil
}

// Ping connects if needed and reports whether the broker is reachable. The
// dial gives up when ctx is done.
func (p *AMQPPublisher) Ping(ctx context.Context) error {
	if p.breaker.State(breakerKey) == circuitbreaker.StateOpen {
		return circuitbreaker.ErrOpen
	}
	_, err := p.channel(ctx)
	return err
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeLocked()
}

// channel returns the open channel, dialing a new one if needed. The dial
// runs without p.mu held so Close and concurrent publishes are not stuck
// behind an unreachable broker.
func (p *AMQPPublisher) channel(ctx context.Context) (Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.ch != nil {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	ch, conn, err := p.dial(ctx, p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		discard(ch, conn)
		return nil, fmt.Errorf("declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		discard(ch, conn)
		return nil, ErrClosed
	case p.ch != nil:
		// Another caller connected first.
		discard(ch, conn)
		return p.ch, nil
	}
	p.ch, p.conn = ch, conn
	return ch, nil
}

func discard(ch Channel, conn io.Closer) {
	_ = ch.Close()
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *AMQPPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}
