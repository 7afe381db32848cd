package timing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/timing"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.OperationTimedEvent
}

func (p *recordingPublisher) PublishOperation(_ context.Context, e *eventstream.OperationTimedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishMemoryChange(context.Context, *eventstream.MemoryChangedEvent) error {
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// steppingClock returns start on its first call and start+step afterwards.
func steppingClock(step time.Duration) func() time.Time {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	return func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(step)
	}
}

func records(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		Expect(json.Unmarshal([]byte(line), &m)).To(Succeed())
		out = append(out, m)
	}
	return out
}

var _ = Describe("Timer", func() {
	var (
		buf *bytes.Buffer
		log *slog.Logger
		pub *recordingPublisher
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		log = logger.New(logger.WithJSON(true), logger.WithWriter(buf), logger.WithLevel(logger.LevelTrace))
		pub = &recordingPublisher{}
	})

	DescribeTable("chooses the level from the thresholds",
		func(elapsed time.Duration, level string) {
			t := timing.New(
				timing.WithLogger(log),
				timing.WithPublisher(pub),
				timing.WithClock(steppingClock(elapsed)),
			)

			_, g := t.Start(context.Background(), "memory.store")
			Expect(g.Stop()).To(Equal(elapsed))

			recs := records(buf)
			Expect(recs).To(HaveLen(1))
			Expect(recs[0]).To(HaveKeyWithValue("level", level))
			Expect(recs[0]).To(HaveKeyWithValue("operation", "memory.store"))
			Expect(recs[0]).To(HaveKeyWithValue("elapsed_ms", BeNumerically("==", elapsed.Milliseconds())))

			Expect(pub.events).To(HaveLen(1))
			Expect(pub.events[0].Level).To(Equal(level))
			Expect(pub.events[0].DurationMs).To(Equal(elapsed.Milliseconds()))
		},
		Entry("fast operations at trace", 5*time.Millisecond, "TRACE"),
		Entry("at the debug threshold", 100*time.Millisecond, "DEBUG"),
		Entry("between thresholds", 500*time.Millisecond, "DEBUG"),
		Entry("at the warn threshold", time.Second, "WARN"),
		Entry("slow operations", 3*time.Second, "WARN"),
	)

	It("honours custom thresholds", func() {
		t := timing.New(timing.WithThresholds(50*time.Millisecond, 10*time.Millisecond))
		Expect(t.Level(9 * time.Millisecond)).To(Equal(logger.LevelTrace))
		Expect(t.Level(10 * time.Millisecond)).To(Equal(slog.LevelDebug))
		Expect(t.Level(50 * time.Millisecond)).To(Equal(slog.LevelWarn))
	})

	It("reports only once", func() {
		t := timing.New(timing.WithLogger(log), timing.WithPublisher(pub), timing.WithClock(steppingClock(time.Millisecond)))

		_, g := t.Start(context.Background(), "op")
		g.Stop()
		g.Stop()

		Expect(records(buf)).To(HaveLen(1))
		Expect(pub.events).To(HaveLen(1))
	})

	It("records failures on the log, the event and the span", func() {
		sr := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

		t := timing.New(
			timing.WithLogger(log),
			timing.WithPublisher(pub),
			timing.WithTracerProvider(tp),
			timing.WithClock(steppingClock(time.Millisecond)),
		)

		ctx, g := t.Start(context.Background(), "memory.update")
		Expect(ctx).NotTo(BeNil())
		g.Fail(errors.New("boom"))
		g.Stop()

		Expect(records(buf)[0]).To(HaveKeyWithValue("error", "boom"))
		Expect(pub.events[0].Error).To(Equal("boom"))

		spans := sr.Ended()
		Expect(spans).To(HaveLen(1))
		Expect(spans[0].Name()).To(Equal("memory.update"))
		Expect(spans[0].Status().Code).To(Equal(codes.Error))
	})

	It("treats a nil timer as disabled", func() {
		var t *timing.Timer
		ctx := context.Background()

		got, g := t.Start(ctx, "op")
		Expect(got).To(Equal(ctx))
		g.Fail(errors.New("ignored"))
		Expect(g.Stop()).To(BeZero())
	})
})
