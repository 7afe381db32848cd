package cache_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/cache/local"
	"github.com/papercomputeco/twin/pkg/logger"
)

var errRemoteDown = errors.New("connection refused")

var _ = Describe("Hybrid", func() {
	var (
		ctx     context.Context
		remote  *stubBackend
		lru     *local.Backend
		logs    *bytes.Buffer
		hybrid  *cache.Hybrid
		newHybr func(opts cache.HybridOptions) *cache.Hybrid
	)

	BeforeEach(func() {
		ctx = context.Background()
		remote = newStubBackend()

		var err error
		lru, err = local.New(16, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		logs = &bytes.Buffer{}
		log := logger.New(logger.WithJSON(true), logger.WithWriter(logs), logger.WithDebug(true))

		newHybr = func(opts cache.HybridOptions) *cache.Hybrid {
			h, err := cache.NewHybrid(remote, lru, opts, log)
			Expect(err).NotTo(HaveOccurred())
			return h
		}
		hybrid = newHybr(cache.HybridOptions{})
	})

	warnings := func() int {
		return strings.Count(logs.String(), `"level":"WARN"`)
	}

	It("requires at least one tier", func() {
		_, err := cache.NewHybrid(nil, nil, cache.HybridOptions{}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("writes through to both tiers", func() {
		Expect(hybrid.Set(ctx, "k", []byte("v"), time.Minute)).To(Succeed())

		Expect(remote.has("k")).To(BeTrue())
		_, found, _ := lru.Get(ctx, "k")
		Expect(found).To(BeTrue())
	})

	It("serves remote hits without consulting local", func() {
		Expect(remote.Set(ctx, "k", []byte("remote"), 0)).To(Succeed())
		Expect(lru.Set(ctx, "k", []byte("local"), 0)).To(Succeed())

		v, found, err := hybrid.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(string(v)).To(Equal("remote"))
	})

	It("repopulates remote from a local hit with the local remaining lifetime", func() {
		Expect(lru.Set(ctx, "k", []byte("v"), 10*time.Minute)).To(Succeed())

		v, found, err := hybrid.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(string(v)).To(Equal("v"))

		Expect(remote.has("k")).To(BeTrue())
		ttl, ok := remote.ttl("k")
		Expect(ok).To(BeTrue())
		Expect(ttl).To(BeNumerically(">", 9*time.Minute))
		Expect(ttl).To(BeNumerically("<=", 10*time.Minute))
	})

	It("misses when neither tier has the key", func() {
		_, found, err := hybrid.Get(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	Context("when the remote tier fails", func() {
		BeforeEach(func() {
			Expect(hybrid.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
			remote.fail(errRemoteDown)
		})

		It("serves reads from local and warns exactly once", func() {
			for range 5 {
				v, found, err := hybrid.Get(ctx, "k")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(string(v)).To(Equal("v"))
			}

			Expect(warnings()).To(Equal(1))
			Expect(remote.callCount()).To(Equal(2))
			Expect(hybrid.RemoteAvailable()).To(BeFalse())
			Expect(hybrid.RemoteConfigured()).To(BeTrue())
		})

		It("keeps writes working on the local tier", func() {
			Expect(hybrid.Set(ctx, "other", []byte("w"), 0)).To(Succeed())

			v, found, err := hybrid.Get(ctx, "other")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(string(v)).To(Equal("w"))
		})

		It("reports a clear failure since remote entries survive", func() {
			err := hybrid.Clear(ctx)
			var ce *cache.Error
			Expect(errors.As(err, &ce)).To(BeTrue())
		})

		It("retries remote after the breaker timeout", func() {
			h := newHybr(cache.HybridOptions{BreakerTimeout: 20 * time.Millisecond})

			_, _, _ = h.Get(ctx, "k")
			Expect(h.RemoteAvailable()).To(BeFalse())

			remote.fail(nil)
			Eventually(h.RemoteAvailable).WithTimeout(time.Second).Should(BeTrue())

			Expect(h.Set(ctx, "again", []byte("v"), 0)).To(Succeed())
			Expect(remote.has("again")).To(BeTrue())
		})
	})

	Context("when remote recovers after missing writes", func() {
		var h *cache.Hybrid

		BeforeEach(func() {
			h = newHybr(cache.HybridOptions{BreakerTimeout: 20 * time.Millisecond})
			Expect(h.Set(ctx, "k", []byte("alpha"), 0)).To(Succeed())
			Expect(remote.has("k")).To(BeTrue())

			remote.fail(errRemoteDown)
			_, _, _ = h.Get(ctx, "tripwire")
			Expect(h.RemoteAvailable()).To(BeFalse())
			remote.fail(nil)
		})

		awaitRemote := func() {
			Eventually(h.RemoteAvailable).WithTimeout(time.Second).Should(BeTrue())
		}

		It("serves the newer local value instead of the stale remote one", func() {
			Expect(h.Set(ctx, "k", []byte("beta"), 0)).To(Succeed())

			v, found, err := h.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(string(v)).To(Equal("beta"))

			awaitRemote()

			v, found, err = h.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(string(v)).To(Equal("beta"))

			v, _, _ = remote.Get(ctx, "k")
			Expect(string(v)).To(Equal("beta"))
		})

		It("does not resurrect a key deleted while remote was skipped", func() {
			_, err := h.Delete(ctx, "k")
			Expect(err).NotTo(HaveOccurred())

			awaitRemote()

			_, found, err := h.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(remote.has("k")).To(BeFalse())

			exists, err := h.Exists(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("reconciles a prefix delete that was skipped", func() {
			_, err := h.DeletePrefix(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			awaitRemote()

			_, found, err := h.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(remote.has("k")).To(BeFalse())
		})

		It("trusts remote again once a later write lands", func() {
			Expect(h.Set(ctx, "k", []byte("beta"), 0)).To(Succeed())
			awaitRemote()

			Expect(h.Set(ctx, "k", []byte("gamma"), 0)).To(Succeed())
			Expect(remote.Set(ctx, "k", []byte("remote"), 0)).To(Succeed())

			v, found, err := h.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(string(v)).To(Equal("remote"))
		})
	})

	It("does not trip on caller cancellation", func() {
		remote.fail(context.Canceled)

		_, _, _ = hybrid.Get(ctx, "k")
		Expect(hybrid.RemoteAvailable()).To(BeTrue())
	})

	It("deletes from both tiers", func() {
		Expect(hybrid.Set(ctx, "search:a", []byte("v"), 0)).To(Succeed())
		Expect(hybrid.Set(ctx, "search:b", []byte("v"), 0)).To(Succeed())
		Expect(hybrid.Set(ctx, "memory:x", []byte("v"), 0)).To(Succeed())

		deleted, err := hybrid.Delete(ctx, "memory:x")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())
		Expect(remote.has("memory:x")).To(BeFalse())

		n, err := hybrid.DeletePrefix(ctx, "search:")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(4))
		Expect(lru.Len()).To(BeZero())
	})

	It("works with only a local tier", func() {
		h, err := cache.NewHybrid(nil, lru, cache.HybridOptions{}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(h.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
		exists, err := h.Exists(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())
		Expect(h.RemoteConfigured()).To(BeFalse())
	})
})
