package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/papercomputeco/twin/pkg/logger"
)

var _ = Describe("Worker Pool", func() {
	var (
		wp      *Pool
		buf     *bytes.Buffer
		ignored goleak.Option
	)

	BeforeEach(func() {
		ignored = goleak.IgnoreCurrent()
		buf = &bytes.Buffer{}

		var err error
		wp, err = NewPool(Config{
			Logger: logger.New(logger.WithJSON(true), logger.WithWriter(buf), logger.WithDebug(true)),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		wp.Close()
		Expect(goleak.Find(ignored)).To(Succeed())
	})

	Describe("Enqueue", func() {
		It("runs every enqueued job before Close returns", func() {
			var ran atomic.Int32
			for range 50 {
				Expect(wp.Enqueue(Job{
					Name: "count",
					Run: func(context.Context) error {
						ran.Add(1)
						return nil
					},
				})).To(BeTrue())
			}

			wp.Close()
			Expect(ran.Load()).To(Equal(int32(50)))
		})

		It("drops jobs once the queue is full", func() {
			blocked, err := NewPool(Config{NumWorkers: 1, QueueSize: 1})
			Expect(err).NotTo(HaveOccurred())

			release := make(chan struct{})
			started := make(chan struct{})
			Expect(blocked.Enqueue(Job{Name: "block", Run: func(context.Context) error {
				close(started)
				<-release
				return nil
			}})).To(BeTrue())
			Eventually(started).Should(BeClosed())

			noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}
			Expect(blocked.Enqueue(noop)).To(BeTrue())
			Expect(blocked.Enqueue(noop)).To(BeFalse())

			close(release)
			blocked.Close()
		})

		It("drops jobs after Close", func() {
			wp.Close()
			Expect(wp.Enqueue(Job{Name: "late", Run: func(context.Context) error { return nil }})).To(BeFalse())
		})
	})

	Describe("failures", func() {
		It("logs job errors without stopping the worker", func() {
			var ran atomic.Int32
			wp.Enqueue(Job{Name: "invalidate", Key: "memory:1", Run: func(context.Context) error {
				return errors.New("remote down")
			}})
			wp.Enqueue(Job{Name: "after", Run: func(context.Context) error {
				ran.Add(1)
				return nil
			}})

			wp.Close()
			Expect(ran.Load()).To(Equal(int32(1)))
			Expect(buf.String()).To(ContainSubstring(`"msg":"job failed"`))
			Expect(buf.String()).To(ContainSubstring(`"key":"memory:1"`))
		})

		It("recovers from panicking jobs", func() {
			wp.Enqueue(Job{Name: "boom", Run: func(context.Context) error {
				panic("boom")
			}})

			wp.Close()
			Expect(buf.String()).To(ContainSubstring(`"msg":"job panicked"`))
		})
	})

	Describe("JobTimeout", func() {
		It("bounds the job context", func() {
			timed, err := NewPool(Config{NumWorkers: 1, JobTimeout: 10 * time.Millisecond})
			Expect(err).NotTo(HaveOccurred())

			var (
				mu     sync.Mutex
				gotErr error
			)
			timed.Enqueue(Job{Name: "slow", Run: func(ctx context.Context) error {
				<-ctx.Done()
				mu.Lock()
				gotErr = ctx.Err()
				mu.Unlock()
				return ctx.Err()
			}})
			timed.Close()

			mu.Lock()
			defer mu.Unlock()
			Expect(gotErr).To(MatchError(context.DeadlineExceeded))
		})
	})

	It("is safe to Close twice", func() {
		wp.Close()
		wp.Close()
	})
})
