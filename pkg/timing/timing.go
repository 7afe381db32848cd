// Package timing measures operations and reports how long they took.
//
// A [Timer] is shared by a component; each operation calls Start and defers
// Stop on the returned [Guard]. Stop logs the elapsed time at a level chosen
// by two thresholds, ends the OpenTelemetry span opened by Start and
// publishes an [eventstream.OperationTimedEvent].
//
//	ctx, g := timer.Start(ctx, "memory.search")
//	defer g.Stop()
//
// A nil *Timer is valid and measures nothing.
package timing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/logger"
)

const (
	DefaultWarnThreshold  = 1000 * time.Millisecond
	DefaultDebugThreshold = 100 * time.Millisecond

	tracerName = "github.com/papercomputeco/twin/pkg/timing"
)

// Timer starts guards that share one logger, publisher, tracer and pair of
// thresholds.
type Timer struct {
	logger    *slog.Logger
	publisher eventstream.Publisher
	tracer    trace.Tracer
	source    eventstream.EventSource
	warn      time.Duration
	debug     time.Duration
	now       func() time.Time
}

// Option configures a Timer.
type Option func(*Timer)

// WithLogger sets the logger that receives timing records.
func WithLogger(l *slog.Logger) Option {
	return func(t *Timer) {
		t.logger = l
	}
}

// WithPublisher sets the publisher that receives timing events.
func WithPublisher(p eventstream.Publisher) Option {
	return func(t *Timer) {
		t.publisher = p
	}
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Timer) {
		t.tracer = tp.Tracer(tracerName)
	}
}

// WithThresholds sets the warn and debug thresholds. Non-positive values keep
// the defaults.
func WithThresholds(warn, debug time.Duration) Option {
	return func(t *Timer) {
		if warn > 0 {
			t.warn = warn
		}
		if debug > 0 {
			t.debug = debug
		}
	}
}

// WithSource sets the source stamped on published events.
func WithSource(source eventstream.EventSource) Option {
	return func(t *Timer) {
		t.source = source
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) {
		t.now = now
	}
}

// New creates a Timer.
func New(opts ...Option) *Timer {
	t := &Timer{
		warn:   DefaultWarnThreshold,
		debug:  DefaultDebugThreshold,
		source: eventstream.EventSource{Service: "twin"},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = logger.OrNop(t.logger)
	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}

	return t
}

// Level returns the log level used for an operation that took elapsed.
func (t *Timer) Level(elapsed time.Duration) slog.Level {
	switch {
	case elapsed >= t.warn:
		return slog.LevelWarn
	case elapsed >= t.debug:
		return slog.LevelDebug
	default:
		return logger.LevelTrace
	}
}

// Start opens a span for op and returns a context carrying it along with the
// guard that closes it.
func (t *Timer) Start(ctx context.Context, op string) (context.Context, *Guard) {
	if t == nil {
		return ctx, nil
	}

	ctx, span := t.tracer.Start(ctx, op)
	return ctx, &Guard{
		timer: t,
		ctx:   ctx,
		op:    op,
		start: t.now(),
		span:  span,
	}
}

// Guard measures one operation.
type Guard struct {
	timer *Timer
	ctx   context.Context
	op    string
	start time.Time
	span  trace.Span

	mu      sync.Mutex
	err     error
	once    sync.Once
	elapsed time.Duration
}

// Fail records err as the outcome of the operation. A nil err is ignored.
func (g *Guard) Fail(err error) {
	if g == nil || err == nil {
		return
	}
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// Stop reports the elapsed time and returns it. Only the first call reports.
func (g *Guard) Stop() time.Duration {
	if g == nil {
		return 0
	}

	g.once.Do(g.report)
	return g.elapsed
}

func (g *Guard) report() {
	t := g.timer
	g.elapsed = t.now().Sub(g.start)
	level := t.Level(g.elapsed)

	g.mu.Lock()
	err := g.err
	g.mu.Unlock()

	attrs := []any{
		"operation", g.op,
		"elapsed_ms", g.elapsed.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	t.logger.Log(g.ctx, level, "operation timed", attrs...)

	g.span.SetAttributes(attribute.Int64("elapsed_ms", g.elapsed.Milliseconds()))
	if err != nil {
		g.span.RecordError(err)
		g.span.SetStatus(codes.Error, err.Error())
	}
	g.span.End()

	if t.publisher == nil {
		return
	}

	event := eventstream.NewOperationTimedEvent(t.source, g.op, g.start, g.elapsed)
	event.Level = levelName(level)
	if err != nil {
		event.Error = err.Error()
	}
	if perr := t.publisher.PublishOperation(context.WithoutCancel(g.ctx), event); perr != nil {
		t.logger.Debug("publishing timing event failed", "operation", g.op, "error", perr)
	}
}

func levelName(l slog.Level) string {
	if l == logger.LevelTrace {
		return "TRACE"
	}
	return l.String()
}
