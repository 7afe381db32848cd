package cached_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/cache/local"
	"github.com/papercomputeco/twin/pkg/cache/remote"
	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/memory/cached"
	"github.com/papercomputeco/twin/pkg/pool"
	testutils "github.com/papercomputeco/twin/pkg/utils/test"
)

var _ = Describe("Store", func() {
	var (
		ctx     context.Context
		inner   *testutils.MockMemoryDriver
		manager *cache.Manager
		events  *recordingPublisher
		store   *cached.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = testutils.NewMockMemoryDriver(testutils.ConformanceDimension)
		events = &recordingPublisher{}

		var err error
		manager, err = cache.New(cache.DefaultConfig(), nil, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		store = cached.New(inner, manager, cached.Options{Publisher: events}, logger.Nop())
	})

	It("implements memory.Driver", func() {
		var _ memory.Driver = store
	})

	Describe("Store", func() {
		It("writes through to the cache", func() {
			rec := newRecord("alpha", 1)
			id, err := store.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			content, ok := cachedContent(ctx, manager, id)
			Expect(ok).To(BeTrue())
			Expect(content).To(Equal("alpha"))
			Expect(events.actions()).To(Equal([]eventstream.MemoryAction{eventstream.MemoryStored}))
		})

		It("caches nothing when the inner store fails", func() {
			inner.Fail(testutils.OpStore, errors.New("disk full"))

			_, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).To(MatchError("disk full"))
			Expect(manager.DeleteNamespace(ctx, cache.NamespaceMemory)).To(Equal(0))
			Expect(events.actions()).To(BeEmpty())
		})
	})

	Describe("Retrieve", func() {
		It("serves repeated reads from the cache", func() {
			rec := newRecord("alpha", 1)
			id, err := store.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			for range 3 {
				got, err := store.Retrieve(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Content).To(Equal("alpha"))
				Expect(got.Embedding).To(Equal(rec.Embedding))
			}
			Expect(inner.CallCount(testutils.OpRetrieve)).To(Equal(0))
		})

		It("reads through on a miss and caches the result", func() {
			rec := newRecord("alpha", 1)
			id, err := inner.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Retrieve(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Retrieve(ctx, id)
			Expect(err).NotTo(HaveOccurred())

			Expect(inner.CallCount(testutils.OpRetrieve)).To(Equal(1))
		})

		It("does not cache NotFound", func() {
			id := uuid.New()
			for range 2 {
				_, err := store.Retrieve(ctx, id)
				Expect(memory.IsNotFound(err)).To(BeTrue())
			}
			Expect(inner.CallCount(testutils.OpRetrieve)).To(Equal(2))
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			for i, c := range []string{"a", "b", "c"} {
				_, err := store.Store(ctx, newRecord(c, 1, float32(i)))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("caches results per query and limit", func() {
			q := testutils.Embedding(4, 1, 0)

			first, err := store.Search(ctx, q, 2)
			Expect(err).NotTo(HaveOccurred())
			second, err := store.Search(ctx, q, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.CallCount(testutils.OpSearch)).To(Equal(1))
			Expect(second).To(HaveLen(2))
			Expect(second[0].ID).To(Equal(first[0].ID))

			_, err = store.Search(ctx, q, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.CallCount(testutils.OpSearch)).To(Equal(2))
		})

		It("does not cache errors", func() {
			q := testutils.Embedding(4, 1, 0)
			inner.Fail(testutils.OpSearch, errors.New("timeout"))
			_, err := store.Search(ctx, q, 2)
			Expect(err).To(HaveOccurred())

			inner.Fail(testutils.OpSearch, nil)
			recs, err := store.Search(ctx, q, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(inner.CallCount(testutils.OpSearch)).To(Equal(2))
		})

		It("passes invalid vectors to the inner store for validation", func() {
			_, err := store.Search(ctx, []float32{1, 2}, 2)
			Expect(err).To(MatchError(memory.ErrVectorShape))
		})

		It("keeps search results until swept", func() {
			q := testutils.Embedding(4, 1, 0)
			_, err := store.Search(ctx, q, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.InvalidateSearches(ctx)).To(Equal(1))

			_, err = store.Search(ctx, q, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.CallCount(testutils.OpSearch)).To(Equal(2))
		})
	})

	Describe("Update", func() {
		It("refreshes the cache with the updated record", func() {
			rec := newRecord("alpha", 1)
			id, err := store.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			got, err := store.Retrieve(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("alpha"))

			Expect(store.Update(ctx, id, "beta", testutils.Embedding(4, 0, 1))).To(Succeed())

			content, ok := cachedContent(ctx, manager, id)
			Expect(ok).To(BeTrue())
			Expect(content).To(Equal("beta"))

			got, err = store.Retrieve(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("beta"))
			Expect(got.Embedding).To(Equal(testutils.Embedding(4, 0, 1)))
			Expect(events.actions()).To(ContainElement(eventstream.MemoryUpdated))
		})

		It("invalidates when the refresh fails", func() {
			id, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).NotTo(HaveOccurred())

			inner.Fail(testutils.OpRetrieve, errors.New("replica lag"))
			Expect(store.Update(ctx, id, "beta", testutils.Embedding(4, 0, 1))).To(Succeed())

			_, ok := cachedContent(ctx, manager, id)
			Expect(ok).To(BeFalse())
		})

		It("invalidates and returns NotFound for a record missing from the inner store", func() {
			id, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.Delete(ctx, id)).To(Succeed())

			err = store.Update(ctx, id, "beta", testutils.Embedding(4, 0, 1))
			Expect(memory.IsNotFound(err)).To(BeTrue())

			_, ok := cachedContent(ctx, manager, id)
			Expect(ok).To(BeFalse())
		})

		It("leaves the cache alone on validation errors", func() {
			id, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).NotTo(HaveOccurred())

			err = store.Update(ctx, id, "beta", []float32{1})
			Expect(err).To(MatchError(memory.ErrVectorShape))

			content, ok := cachedContent(ctx, manager, id)
			Expect(ok).To(BeTrue())
			Expect(content).To(Equal("alpha"))
		})
	})

	Describe("Delete", func() {
		It("removes the record from the cache", func() {
			id, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Delete(ctx, id)).To(Succeed())
			_, err = store.Retrieve(ctx, id)
			Expect(memory.IsNotFound(err)).To(BeTrue())
			Expect(events.actions()).To(Equal([]eventstream.MemoryAction{
				eventstream.MemoryStored,
				eventstream.MemoryDeleted,
			}))
		})

		It("invalidates a stale entry when the inner store has no record", func() {
			id, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.Delete(ctx, id)).To(Succeed())

			Expect(memory.IsNotFound(store.Delete(ctx, id))).To(BeTrue())
			_, ok := cachedContent(ctx, manager, id)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("SweepSearchOnWrite", func() {
		It("drops cached searches after a write", func() {
			store = cached.New(inner, manager, cached.Options{SweepSearchOnWrite: true}, nil)

			id, err := store.Store(ctx, newRecord("alpha", 1))
			Expect(err).NotTo(HaveOccurred())
			q := testutils.Embedding(4, 1)
			_, err = store.Search(ctx, q, 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Update(ctx, id, "beta", q)).To(Succeed())

			recs, err := store.Search(ctx, q, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs[0].Content).To(Equal("beta"))
			Expect(inner.CallCount(testutils.OpSearch)).To(Equal(2))
		})
	})

	It("passes ListPaginated through", func() {
		_, err := store.Store(ctx, newRecord("alpha", 1))
		Expect(err).NotTo(HaveOccurred())

		page, err := store.ListPaginated(ctx, 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(page.Total).To(Equal(1))
		Expect(inner.CallCount(testutils.OpList)).To(Equal(1))
	})

	It("closes the inner store", func() {
		Expect(store.Close()).To(Succeed())
		Expect(inner.Closed()).To(BeTrue())
	})
})

var _ = Describe("Store with a remote tier", func() {
	var (
		ctx   context.Context
		mr    *miniredis.Miniredis
		kv    *pool.KVPool
		inner *testutils.MockMemoryDriver
		logs  *bytes.Buffer
		store *cached.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		kv, err = pool.NewKVPool(ctx, pool.KVConfig{
			URL:            "kv://" + mr.Addr(),
			MaxConnections: 2,
			MinConnections: 1,
			ConnectTimeout: time.Second,
			IdleTimeout:    time.Minute,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		logs = &bytes.Buffer{}
		log := logger.New(logger.WithJSON(true), logger.WithWriter(logs), logger.WithDebug(true))

		cfg := cache.DefaultConfig()
		cfg.BreakerTimeout = time.Hour
		manager, err := cache.New(cfg, remote.New(kv, "twin", log), log)
		Expect(err).NotTo(HaveOccurred())

		inner = testutils.NewMockMemoryDriver(testutils.ConformanceDimension)
		store = cached.New(inner, manager, cached.Options{}, log)
	})

	AfterEach(func() {
		kv.Close()
		mr.Close()
	})

	It("mirrors records into the remote tier", func() {
		id, err := store.Store(ctx, newRecord("alpha", 1))
		Expect(err).NotTo(HaveOccurred())
		Expect(mr.Exists("twin:memory:" + id.String())).To(BeTrue())
		Expect(mr.TTL("twin:memory:" + id.String())).To(Equal(cache.DefaultTTL))
	})

	It("falls back to the local tier with one warning when the remote is down", func() {
		id, err := store.Store(ctx, newRecord("alpha", 1))
		Expect(err).NotTo(HaveOccurred())

		mr.Close()

		got, err := store.Retrieve(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Content).To(Equal("alpha"))

		again, err := store.Retrieve(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Content).To(Equal("alpha"))

		Expect(strings.Count(logs.String(), `"level":"WARN"`)).To(Equal(1))
		Expect(inner.CallCount(testutils.OpRetrieve)).To(Equal(0))
	})
})

var _ = Describe("Store with a bounded local tier", func() {
	It("never holds more records than its capacity", func() {
		ctx := context.Background()
		inner := testutils.NewMockMemoryDriver(testutils.ConformanceDimension)

		lru, err := local.New(2, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		h, err := cache.NewHybrid(nil, lru, cache.HybridOptions{}, nil)
		Expect(err).NotTo(HaveOccurred())
		store := cached.New(inner, cache.NewManager(h, cache.DefaultConfig(), nil), cached.Options{}, nil)

		ids := make([]uuid.UUID, 0, 3)
		for _, c := range []string{"A", "B", "C"} {
			id, err := store.Store(ctx, newRecord(c, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(lru.Len()).To(BeNumerically("<=", 2))
			ids = append(ids, id)
		}

		for _, id := range ids {
			_, err := store.Retrieve(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(lru.Len()).To(BeNumerically("<=", 2))
		}
		Expect(lru.Keys()).To(Equal([]string{cache.MemoryKey(ids[1]), cache.MemoryKey(ids[2])}))

		misses := inner.CallCount(testutils.OpRetrieve)
		got, err := store.Retrieve(ctx, ids[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Content).To(Equal("A"))
		Expect(inner.CallCount(testutils.OpRetrieve)).To(Equal(misses + 1))
		Expect(lru.Len()).To(Equal(2))
	})
})
