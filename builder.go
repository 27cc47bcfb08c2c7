package xpub

import (
	"context"
	"strconv"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// PublisherBuilder constructs publishers (Builder pattern).
type PublisherBuilder struct {
	factory    ConnectionFactory
	backend    string
	backendCfg map[string]any

	topic    string
	producer string

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	poolWorkers int
	poolBuffer  int
	logger      *xlog.Logger
	clock       xclock.Clock

	queueCapacity  int
	sendTimeout    time.Duration
	retryDelay     time.Duration
	connectTimeout time.Duration
}

// NewPublisherBuilder returns a new builder with the documented defaults.
func NewPublisherBuilder() *PublisherBuilder {
	return &PublisherBuilder{
		codecName:      "json",
		queueCapacity:  DefaultQueueCapacity,
		sendTimeout:    DefaultSendTimeout,
		retryDelay:     DefaultRetryDelay,
		connectTimeout: DefaultConnectTimeout,
	}
}

// WithConnectionFactory accepts a ready factory (e.g. from an adapter's Factory).
func (pb *PublisherBuilder) WithConnectionFactory(f ConnectionFactory) *PublisherBuilder {
	pb.factory = f
	return pb
}

// WithBackend resolves the connection factory through the backend registry.
func (pb *PublisherBuilder) WithBackend(name string, cfg map[string]any) *PublisherBuilder {
	pb.backend = name
	pb.backendCfg = cfg
	return pb
}

// WithTopic sets the topic. When empty, the topic reported by the first connection is used.
func (pb *PublisherBuilder) WithTopic(topic string) *PublisherBuilder {
	pb.topic = topic
	return pb
}

// WithProducerName names the producer in logs and metric labels.
func (pb *PublisherBuilder) WithProducerName(name string) *PublisherBuilder {
	pb.producer = name
	return pb
}

func (pb *PublisherBuilder) WithCodec(name string) *PublisherBuilder {
	pb.codecName = name
	return pb
}

// WithCodecInstance accepts a ready Codec instance.
func (pb *PublisherBuilder) WithCodecInstance(c Codec) *PublisherBuilder {
	pb.codecInst = c
	return pb
}

// WithMiddleware adds send middlewares. They run inside the timeout and recovery wrappers.
func (pb *PublisherBuilder) WithMiddleware(mw ...Middleware) *PublisherBuilder {
	if len(mw) == 0 {
		return pb
	}
	pb.middlewares = append(pb.middlewares, mw...)
	return pb
}

func (pb *PublisherBuilder) WithObserver(obs ...Observer) *PublisherBuilder {
	for _, o := range obs {
		if o != nil {
			pb.observers = append(pb.observers, o)
		}
	}
	return pb
}

// WithObserverPool dispatches events asynchronously through workers goroutines.
// Events are dropped when bufferSize events are already waiting.
func (pb *PublisherBuilder) WithObserverPool(workers, bufferSize int) *PublisherBuilder {
	pb.poolWorkers = workers
	pb.poolBuffer = bufferSize
	return pb
}

func (pb *PublisherBuilder) WithLogger(l *xlog.Logger) *PublisherBuilder {
	pb.logger = l
	return pb
}

func (pb *PublisherBuilder) WithClock(c xclock.Clock) *PublisherBuilder {
	pb.clock = c
	return pb
}

func (pb *PublisherBuilder) WithQueueCapacity(n int) *PublisherBuilder {
	if n > 0 {
		pb.queueCapacity = n
	}
	return pb
}

func (pb *PublisherBuilder) WithSendTimeout(d time.Duration) *PublisherBuilder {
	if d > 0 {
		pb.sendTimeout = d
	}
	return pb
}

func (pb *PublisherBuilder) WithRetryDelay(d time.Duration) *PublisherBuilder {
	if d > 0 {
		pb.retryDelay = d
	}
	return pb
}

func (pb *PublisherBuilder) WithConnectTimeout(d time.Duration) *PublisherBuilder {
	if d > 0 {
		pb.connectTimeout = d
	}
	return pb
}

// WithConfig applies the non-zero fields of cfg.
func (pb *PublisherBuilder) WithConfig(cfg Config) *PublisherBuilder {
	if cfg.Topic != "" {
		pb.topic = cfg.Topic
	}
	if cfg.ProducerName != "" {
		pb.producer = cfg.ProducerName
	}
	if cfg.Backend != "" {
		pb.WithBackend(cfg.Backend, cfg.BackendConfig)
	}
	return pb.
		WithQueueCapacity(cfg.QueueCapacity).
		WithSendTimeout(cfg.SendTimeout).
		WithRetryDelay(cfg.RetryDelay).
		WithConnectTimeout(cfg.ConnectTimeout)
}

// assembly is what Build and BuildPublisher share once the first connection is up.
type assembly struct {
	factory  ConnectionFactory
	conn     Connection
	topic    string
	producer string
	codec    Codec
	clock    xclock.Clock
	logger   *xlog.Logger
	notifier *notifier
}

// assemble resolves defaults and makes the eager first connection.
func (pb *PublisherBuilder) assemble(ctx context.Context) (*assembly, error) {
	factory := pb.factory
	if factory == nil {
		if pb.backend == "" {
			return nil, ErrNoConnectionFactory
		}
		f, err := NewConnectionFactory(pb.backend, pb.topic, pb.backendCfg)
		if err != nil {
			return nil, err
		}
		factory = f
	}

	codec := pb.codecInst
	if codec == nil {
		c, err := NewCodec(pb.codecName)
		if err != nil {
			return nil, err
		}
		codec = c
	}

	clk := pb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := pb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	producer := pb.producer
	if producer == "" {
		producer = defaultProducerName()
	}

	conn, err := callFactory(InjectAll(ctx, lg, clk, pb.topic, producer), factory, pb.connectTimeout)
	if err != nil {
		return nil, &ConnectionError{Topic: pb.topic, Err: err}
	}
	topic := pb.topic
	if topic == "" {
		topic = conn.Topic()
	}

	n := &notifier{}
	if pb.poolWorkers > 0 {
		n.pool = NewObserverPool(context.Background(), pb.poolWorkers, pb.poolBuffer)
	}
	// Attach logging observer first unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range pb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		n.add(LoggingObserver{Logger: lg})
	}
	for _, o := range pb.observers {
		n.add(o)
	}

	return &assembly{
		factory:  factory,
		conn:     conn,
		topic:    topic,
		producer: producer,
		codec:    codec,
		clock:    clk,
		logger:   lg,
		notifier: n,
	}, nil
}

// Build connects once, eagerly, and starts the dispatcher. A failing first
// connection is returned as *ConnectionError and nothing is started.
//
// ctx bounds the first connection only; the dispatcher keeps its values but not
// its cancellation. Stop the publisher with Handle.Close.
func (pb *PublisherBuilder) Build(ctx context.Context) (*Handle, error) {
	a, err := pb.assemble(ctx)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &core{
		topic:    a.topic,
		producer: a.producer,
		codec:    a.codec,
		queue:    newQueue(pb.queueCapacity),
		notifier: a.notifier,
		metrics:  &coreMetrics{},
		logger:   a.logger,
		clock:    a.clock,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.refs.Store(1)

	d := &dispatcher{
		topic:          a.topic,
		producer:       a.producer,
		queue:          c.queue,
		retry:          newRetryScheduler(pb.retryDelay, a.clock),
		notifier:       a.notifier,
		metrics:        c.metrics,
		logger:         a.logger,
		clock:          a.clock,
		factory:        a.factory,
		middlewares:    pb.middlewares,
		sendTimeout:    pb.sendTimeout,
		connectTimeout: pb.connectTimeout,
		done:           c.done,
	}
	d.adopt(a.conn)
	go d.run(dctx)

	a.logger.Info().
		Str("topic", a.topic).
		Str("producer", a.producer).
		Str("queue_capacity", strconv.Itoa(c.queue.cap())).
		Msg("xpub: publisher started")

	return newHandle(c), nil
}

// BuildPublisher connects once, eagerly, and returns a Publisher that delivers
// on the caller's goroutine. Queue capacity and retry delay do not apply.
func (pb *PublisherBuilder) BuildPublisher(ctx context.Context) (*Publisher, error) {
	a, err := pb.assemble(ctx)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		topic:          a.topic,
		producer:       a.producer,
		codec:          a.codec,
		clock:          a.clock,
		logger:         a.logger,
		notifier:       a.notifier,
		metrics:        &coreMetrics{},
		factory:        a.factory,
		connectTimeout: pb.connectTimeout,
		sendTimeout:    pb.sendTimeout,
		middlewares:    pb.middlewares,
	}
	p.adopt(a.conn)

	a.logger.Info().
		Str("topic", a.topic).
		Str("producer", a.producer).
		Msg("xpub: direct publisher started")
	return p, nil
}

// Option configures a PublisherBuilder for Spawn and the adapters' Use.
type Option func(*PublisherBuilder)

// Spawn builds a publisher around factory. It is shorthand for
// NewPublisherBuilder().WithConnectionFactory(factory), then opts, then Build(ctx).
func Spawn(ctx context.Context, factory ConnectionFactory, opts ...Option) (*Handle, error) {
	pb := NewPublisherBuilder().WithConnectionFactory(factory)
	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	return pb.Build(ctx)
}

// Connect builds a Publisher around factory, the direct counterpart of Spawn.
func Connect(ctx context.Context, factory ConnectionFactory, opts ...Option) (*Publisher, error) {
	pb := NewPublisherBuilder().WithConnectionFactory(factory)
	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	return pb.BuildPublisher(ctx)
}

// WithTopic sets the topic.
func WithTopic(topic string) Option {
	return func(b *PublisherBuilder) { b.WithTopic(topic) }
}

// WithProducerName names the producer in logs and metric labels.
func WithProducerName(name string) Option {
	return func(b *PublisherBuilder) { b.WithProducerName(name) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *PublisherBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *PublisherBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *PublisherBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds send middlewares.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *PublisherBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...Observer) Option {
	return func(b *PublisherBuilder) { b.WithObserver(obs...) }
}

func WithObserverPool(workers, bufferSize int) Option {
	return func(b *PublisherBuilder) { b.WithObserverPool(workers, bufferSize) }
}

func WithQueueCapacity(n int) Option {
	return func(b *PublisherBuilder) { b.WithQueueCapacity(n) }
}

func WithSendTimeout(d time.Duration) Option {
	return func(b *PublisherBuilder) { b.WithSendTimeout(d) }
}

func WithRetryDelay(d time.Duration) Option {
	return func(b *PublisherBuilder) { b.WithRetryDelay(d) }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(b *PublisherBuilder) { b.WithConnectTimeout(d) }
}

// WithConfig applies a Config loaded with LoadConfig.
func WithConfig(cfg Config) Option {
	return func(b *PublisherBuilder) { b.WithConfig(cfg) }
}
