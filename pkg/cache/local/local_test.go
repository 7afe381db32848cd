package local_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/cache/local"
)

var _ = Describe("Backend", func() {
	var (
		ctx   context.Context
		now   time.Time
		clock func() time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		clock = func() time.Time { return now }
	})

	It("rejects a non-positive capacity", func() {
		_, err := local.New(0, time.Minute)
		Expect(err).To(HaveOccurred())
	})

	It("stores and returns copies of values", func() {
		b, err := local.New(4, 0)
		Expect(err).NotTo(HaveOccurred())

		value := []byte("hello")
		Expect(b.Set(ctx, "k", value, 0)).To(Succeed())
		value[0] = 'j'

		got, found, err := b.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(string(got)).To(Equal("hello"))
	})

	It("never holds more than its capacity and evicts the least recently used key", func() {
		b, err := local.New(3, 0)
		Expect(err).NotTo(HaveOccurred())

		for i := range 3 {
			Expect(b.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)).To(Succeed())
		}

		_, found, _ := b.Get(ctx, "k0")
		Expect(found).To(BeTrue())

		Expect(b.Set(ctx, "k3", []byte("v"), 0)).To(Succeed())
		Expect(b.Len()).To(Equal(3))

		exists, _ := b.Exists(ctx, "k1")
		Expect(exists).To(BeFalse())
		Expect(b.Keys()).To(Equal([]string{"k2", "k0", "k3"}))

		for i := 4; i < 50; i++ {
			Expect(b.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)).To(Succeed())
			Expect(b.Len()).To(BeNumerically("<=", 3))
		}
	})

	It("does not touch recency on Exists", func() {
		b, err := local.New(2, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(b.Set(ctx, "a", []byte("1"), 0)).To(Succeed())
		Expect(b.Set(ctx, "b", []byte("2"), 0)).To(Succeed())

		exists, err := b.Exists(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		Expect(b.Set(ctx, "c", []byte("3"), 0)).To(Succeed())
		Expect(b.Keys()).To(Equal([]string{"b", "c"}))
	})

	Describe("expiry", func() {
		It("expires entries after an explicit ttl", func() {
			b, err := local.New(4, time.Hour, local.WithClock(clock))
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Set(ctx, "k", []byte("v"), time.Second)).To(Succeed())

			now = now.Add(999 * time.Millisecond)
			_, found, _ := b.Get(ctx, "k")
			Expect(found).To(BeTrue())

			now = now.Add(time.Millisecond)
			_, found, _ = b.Get(ctx, "k")
			Expect(found).To(BeFalse())
		})

		It("falls back to the default ttl", func() {
			b, err := local.New(4, time.Minute, local.WithClock(clock))
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Set(ctx, "k", []byte("v"), 0)).To(Succeed())

			remaining, ok := b.TTL(ctx, "k")
			Expect(ok).To(BeTrue())
			Expect(remaining).To(Equal(time.Minute))

			now = now.Add(time.Minute)
			exists, _ := b.Exists(ctx, "k")
			Expect(exists).To(BeFalse())
		})

		It("keeps entries forever without any ttl", func() {
			b, err := local.New(4, 0, local.WithClock(clock))
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Set(ctx, "k", []byte("v"), 0)).To(Succeed())
			now = now.Add(24 * 365 * time.Hour)

			remaining, ok := b.TTL(ctx, "k")
			Expect(ok).To(BeTrue())
			Expect(remaining).To(BeZero())
		})

		It("sweeps every expired entry on read", func() {
			b, err := local.New(8, 0, local.WithClock(clock))
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Set(ctx, "short1", []byte("v"), time.Second)).To(Succeed())
			Expect(b.Set(ctx, "short2", []byte("v"), time.Second)).To(Succeed())
			Expect(b.Set(ctx, "long", []byte("v"), time.Hour)).To(Succeed())
			Expect(b.Len()).To(Equal(3))

			now = now.Add(2 * time.Second)
			_, found, _ := b.Get(ctx, "long")
			Expect(found).To(BeTrue())
			Expect(b.Len()).To(Equal(1))
		})
	})

	It("deletes by key and by prefix", func() {
		b, err := local.New(8, 0)
		Expect(err).NotTo(HaveOccurred())

		for _, k := range []string{"search:a", "search:b", "memory:x"} {
			Expect(b.Set(ctx, k, []byte("v"), 0)).To(Succeed())
		}

		deleted, err := b.Delete(ctx, "memory:x")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())

		deleted, err = b.Delete(ctx, "memory:x")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeFalse())

		n, err := b.DeletePrefix(ctx, "search:")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(b.Len()).To(BeZero())
	})

	It("clears everything", func() {
		b, err := local.New(8, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(b.Set(ctx, "a", []byte("v"), 0)).To(Succeed())
		Expect(b.Clear(ctx)).To(Succeed())
		Expect(b.Len()).To(BeZero())
		Expect(b.Close()).To(Succeed())
	})
})
