package xevents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type sinkSpec struct {
	name string
	cfg  map[string]any
}

// PipelineBuilder constructs Pipeline instances (Builder pattern).
type PipelineBuilder struct {
	classifier  *Classifier
	assemblers  []assemblerSpec
	baseURL     string
	maxDepth    int
	identity    SystemIdentity
	routing     map[string]string
	codecName   string
	codecInst   Codec
	sinkSpecs   []sinkSpec
	sinkInsts   []Sink
	middlewares []Middleware
	asyncBuffer int
	observers   []Observer
	poolWorkers int
	poolBuffer  int
	logger      *xlog.Logger
	clock       xclock.Clock
	newID       func() string
}

type assemblerSpec struct {
	sample Record
	asm    Assembler
}

// NewPipelineBuilder returns a new builder with sensible defaults.
func NewPipelineBuilder() *PipelineBuilder {
	return &PipelineBuilder{
		classifier:  NewClassifier(),
		maxDepth:    DefaultMaxDepth,
		routing:     map[string]string{},
		codecName:   "json",
		poolWorkers: 4,
		poolBuffer:  1024,
	}
}

// WithConfig applies a declarative Config: identity, routing, aliases and sinks.
func (pb *PipelineBuilder) WithConfig(cfg Config) *PipelineBuilder {
	pb.identity = cfg.System
	pb.baseURL = cfg.BaseURL
	if cfg.MaxDepth > 0 {
		pb.maxDepth = cfg.MaxDepth
	}
	if cfg.Codec != "" {
		pb.codecName = cfg.Codec
	}
	if cfg.WebhookConfigURL != "" {
		pb.routing[HeaderWebhookConfigURL] = cfg.WebhookConfigURL
	}
	for typeName, alias := range cfg.Aliases {
		pb.classifier.AliasTypeName(typeName, alias)
	}
	for _, s := range cfg.Sinks {
		pb.WithSink(s.Type, s.Options)
	}
	if cfg.AsyncBuffer > 0 {
		pb.asyncBuffer = cfg.AsyncBuffer
	}
	return pb
}

func (pb *PipelineBuilder) WithClassifier(c *Classifier) *PipelineBuilder {
	if c != nil {
		pb.classifier = c
	}
	return pb
}

// WithAlias declares the entity name of sample's type.
func (pb *PipelineBuilder) WithAlias(sample Record, name string) *PipelineBuilder {
	pb.classifier.Alias(sample, name)
	return pb
}

func (pb *PipelineBuilder) WithAssembler(sample Record, asm Assembler) *PipelineBuilder {
	pb.assemblers = append(pb.assemblers, assemblerSpec{sample: sample, asm: asm})
	return pb
}

func (pb *PipelineBuilder) WithBaseURL(u string) *PipelineBuilder {
	pb.baseURL = u
	return pb
}

func (pb *PipelineBuilder) WithMaxDepth(n int) *PipelineBuilder {
	if n > 0 {
		pb.maxDepth = n
	}
	return pb
}

func (pb *PipelineBuilder) WithIdentity(id SystemIdentity) *PipelineBuilder {
	pb.identity = id
	return pb
}

// WithRouting adds a sink-routing header, e.g. HeaderWebhookConfigURL.
func (pb *PipelineBuilder) WithRouting(key, value string) *PipelineBuilder {
	pb.routing[key] = value
	return pb
}

func (pb *PipelineBuilder) WithCodec(name string) *PipelineBuilder {
	pb.codecName = name
	return pb
}

// WithCodecInstance accepts a ready Codec instance.
func (pb *PipelineBuilder) WithCodecInstance(c Codec) *PipelineBuilder {
	pb.codecInst = c
	return pb
}

// WithSink adds a registered sink type, constructed at Build.
func (pb *PipelineBuilder) WithSink(name string, cfg map[string]any) *PipelineBuilder {
	pb.sinkSpecs = append(pb.sinkSpecs, sinkSpec{name: name, cfg: cfg})
	return pb
}

// WithSinkInstance accepts ready sinks (e.g., from adapter constructors).
func (pb *PipelineBuilder) WithSinkInstance(s ...Sink) *PipelineBuilder {
	for _, x := range s {
		if x != nil {
			pb.sinkInsts = append(pb.sinkInsts, x)
		}
	}
	return pb
}

// WithSinkMiddleware wraps every sink's Send (retry, timeout...).
func (pb *PipelineBuilder) WithSinkMiddleware(mw ...Middleware) *PipelineBuilder {
	pb.middlewares = append(pb.middlewares, mw...)
	return pb
}

// WithAsyncSinks moves every sink behind an ordered AsyncSink queue of bufferSize.
func (pb *PipelineBuilder) WithAsyncSinks(bufferSize int) *PipelineBuilder {
	pb.asyncBuffer = bufferSize
	return pb
}

func (pb *PipelineBuilder) WithObserver(obs ...Observer) *PipelineBuilder {
	for _, o := range obs {
		if o != nil {
			pb.observers = append(pb.observers, o)
		}
	}
	return pb
}

func (pb *PipelineBuilder) WithObserverPool(workers, bufferSize int) *PipelineBuilder {
	pb.poolWorkers = workers
	pb.poolBuffer = bufferSize
	return pb
}

func (pb *PipelineBuilder) WithLogger(l *xlog.Logger) *PipelineBuilder {
	pb.logger = l
	return pb
}

func (pb *PipelineBuilder) WithClock(c xclock.Clock) *PipelineBuilder {
	pb.clock = c
	return pb
}

// WithIDGenerator overrides message id generation (default: random UUIDs).
func (pb *PipelineBuilder) WithIDGenerator(fn func() string) *PipelineBuilder {
	pb.newID = fn
	return pb
}

func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	var cd Codec
	var err error
	if pb.codecInst != nil {
		cd = pb.codecInst
	} else {
		cd, err = NewCodec(pb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := pb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := pb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	newID := pb.newID
	if newID == nil {
		newID = uuid.NewString
	}

	sinks := make([]Sink, 0, len(pb.sinkSpecs)+len(pb.sinkInsts))
	for _, spec := range pb.sinkSpecs {
		s, err := NewSink(spec.name, spec.cfg)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("xevents: sink %q: %w", spec.name, err)
		}
		sinks = append(sinks, s)
	}
	sinks = append(sinks, pb.sinkInsts...)
	for i := range sinks {
		_, queued := sinks[i].(*AsyncSink)
		sinks[i] = Wrap(sinks[i], pb.middlewares...)
		if pb.asyncBuffer > 0 && !queued {
			sinks[i] = NewAsyncSink(sinks[i], pb.asyncBuffer, lg)
		}
	}
	if len(sinks) == 0 {
		lg.Warn().Err(ErrNoSinks).Msg("xevents: change events will be processed and discarded")
	}

	transformer := NewTransformer(pb.classifier, pb.baseURL).SetMaxDepth(pb.maxDepth)
	for _, a := range pb.assemblers {
		transformer.Register(a.sample, a.asm)
	}

	p := &Pipeline{
		classifier:   pb.classifier,
		transformer:  transformer,
		enricher:     NewEnricher(pb.identity, pb.routing),
		serializer:   NewSerializer(cd),
		dispatcher:   NewDispatcher(sinks...),
		clock:        clk,
		logger:       lg,
		newID:        newID,
		observerPool: NewObserverPool(pb.poolWorkers, pb.poolBuffer),
		metrics:      &pipelineMetrics{},
	}
	p.dispatcher.notify = p.onDispatch
	p.dispatcher.now = clk.Now

	// Attach logging observer first unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range pb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		p.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range pb.observers {
		p.AddObserver(o)
	}

	return p, nil
}

func closeAll(sinks []Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range sinks {
		_ = s.Close(ctx)
	}
}

// New constructs a Pipeline via Builder and returns a close func for convenience.
func New(init func(b *PipelineBuilder)) (*Pipeline, func() error, error) {
	b := NewPipelineBuilder()
	if init != nil {
		init(b)
	}
	p, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return p.Close(context.Background()) }
	return p, closeFn, nil
}
