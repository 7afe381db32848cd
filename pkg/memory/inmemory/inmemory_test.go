package inmemory_test

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/memory/inmemory"
	"github.com/papercomputeco/twin/pkg/timing"
	testutils "github.com/papercomputeco/twin/pkg/utils/test"
)

var _ = Describe("In-Memory Driver", func() {
	Describe("conformance", func() {
		testutils.DriverConformance(func() memory.Driver {
			return inmemory.NewDriver(inmemory.Config{
				Dimension: testutils.ConformanceDimension,
				Timer:     timing.New(),
			})
		})
	})

	var (
		ctx context.Context
		d   *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = inmemory.NewDriver(inmemory.Config{Dimension: 2})
	})

	It("defaults the dimension", func() {
		d := inmemory.NewDriver(inmemory.Config{})
		_, err := d.Store(ctx, &memory.Record{
			Kind:      memory.KindKnowledge,
			Content:   "x",
			Embedding: make([]float32, memory.DefaultDimension),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("hands out copies that cannot mutate stored state", func() {
		rec := &memory.Record{
			Kind:      memory.KindKnowledge,
			Content:   "alpha",
			Embedding: []float32{1, 0},
			Metadata:  map[string]any{"k": "v"},
		}
		_, err := d.Store(ctx, rec)
		Expect(err).NotTo(HaveOccurred())

		rec.Embedding[0] = 42
		rec.Metadata["k"] = "changed"

		got, err := d.Retrieve(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		got.Content = "mutated"

		again, err := d.Retrieve(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Content).To(Equal("alpha"))
		Expect(again.Embedding).To(Equal([]float32{1, 0}))
		Expect(again.Metadata).To(HaveKeyWithValue("k", "v"))
	})

	It("honours a cancelled context", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := d.ListPaginated(cancelled, 10, 0)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("is safe for concurrent use", func() {
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				rec := &memory.Record{
					Kind:      memory.KindExperience,
					Content:   fmt.Sprintf("r%d", i),
					Embedding: []float32{float32(i + 1), 1},
				}
				_, err := d.Store(ctx, rec)
				Expect(err).NotTo(HaveOccurred())

				_, err = d.Retrieve(ctx, rec.ID)
				Expect(err).NotTo(HaveOccurred())

				_, err = d.Search(ctx, []float32{1, 0}, 3)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(d.Len()).To(Equal(20))
	})
})
