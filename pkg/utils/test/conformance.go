package testutils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/memory"
)

// DriverConformance registers the behaviour every memory.Driver must share.
// newDriver is called before each test and must return an empty driver
// configured for ConformanceDimension.
func DriverConformance(newDriver func() memory.Driver) {
	var (
		ctx context.Context
		d   memory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = newDriver()
	})

	AfterEach(func() {
		Expect(d.Close()).To(Succeed())
	})

	store := func(kind memory.Kind, content string, embedding ...float32) *memory.Record {
		rec := &memory.Record{
			Kind:      kind,
			Content:   content,
			Embedding: Embedding(ConformanceDimension, embedding...),
			Metadata:  map[string]any{},
		}
		id, err := d.Store(ctx, rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(Equal(uuid.Nil))
		return rec
	}

	total := func() int {
		page, err := d.ListPaginated(ctx, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		return page.Total
	}

	Describe("Store and Retrieve", func() {
		It("round trips a record", func() {
			rec := store(memory.KindKnowledge, "alpha", 1, 0, 0, 0)

			got, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(rec.ID))
			Expect(got.Kind).To(Equal(memory.KindKnowledge))
			Expect(got.Content).To(Equal("alpha"))
			Expect(got.Embedding).To(Equal([]float32{1, 0, 0, 0}))
			Expect(got.Metadata).To(BeEmpty())
			Expect(got.CreatedAt).To(BeTemporally("==", rec.CreatedAt))
			Expect(got.LastAccessed).To(BeTemporally(">=", got.CreatedAt))
		})

		It("fills the stored record in place", func() {
			rec := &memory.Record{
				Kind:      memory.KindSkill,
				Content:   "be\x00ta\n",
				Embedding: Embedding(ConformanceDimension, 0, 1),
			}
			id, err := d.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.ID).To(Equal(id))
			Expect(rec.Content).To(Equal("beta\n"))
			Expect(rec.CreatedAt).NotTo(BeZero())
			Expect(rec.LastAccessed).To(BeTemporally("==", rec.CreatedAt))
		})

		It("keeps a caller supplied creation time", func() {
			created := time.Date(2020, 1, 2, 3, 4, 5, 123456789, time.FixedZone("CET", 3600))
			rec := &memory.Record{
				Kind:      memory.KindKnowledge,
				Content:   "dated",
				Embedding: Embedding(ConformanceDimension, 1),
				CreatedAt: created,
			}
			_, err := d.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			want := time.Date(2020, 1, 2, 2, 4, 5, 123456000, time.UTC)
			Expect(rec.CreatedAt).To(BeTemporally("==", want))

			got, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CreatedAt).To(BeTemporally("==", want))
			Expect(got.CreatedAt.Location()).To(Equal(time.UTC))
			Expect(got.LastAccessed).To(BeTemporally(">", want))
		})

		It("preserves metadata", func() {
			rec := &memory.Record{
				Kind:      memory.KindPreference,
				Content:   "prefers tea",
				Embedding: Embedding(ConformanceDimension, 0, 0, 1),
				Metadata: map[string]any{
					"source": "chat",
					"score":  0.5,
					"tags":   []any{"drinks", "morning"},
					"nested": map[string]any{"turn": "3"},
				},
			}
			_, err := d.Store(ctx, rec)
			Expect(err).NotTo(HaveOccurred())

			got, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Metadata).To(Equal(rec.Metadata))
		})

		It("bumps last accessed on every retrieve", func() {
			rec := store(memory.KindConversation, "hello", 1)

			first, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(2 * time.Millisecond)

			second, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.LastAccessed).To(BeTemporally(">", first.LastAccessed))
			Expect(second.CreatedAt).To(BeTemporally("==", first.CreatedAt))
		})

		It("returns NotFound for an unknown id", func() {
			_, err := d.Retrieve(ctx, uuid.New())
			Expect(memory.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("validation", func() {
		It("rejects a NaN component before touching the backend", func() {
			rec := &memory.Record{
				Kind:      memory.KindKnowledge,
				Content:   "alpha",
				Embedding: []float32{1, float32(math.NaN()), 0, 0},
			}
			_, err := d.Store(ctx, rec)

			var ve *memory.ValidationError
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Kind).To(Equal(memory.VectorShape))
			Expect(total()).To(BeZero())
		})

		It("rejects an embedding of the wrong length", func() {
			_, err := d.Store(ctx, &memory.Record{
				Kind:      memory.KindKnowledge,
				Content:   "alpha",
				Embedding: []float32{1, 0, 0},
			})
			Expect(err).To(MatchError(memory.ErrVectorShape))
		})

		It("rejects an unknown kind", func() {
			_, err := d.Store(ctx, &memory.Record{
				Kind:      "gossip",
				Content:   "alpha",
				Embedding: Embedding(ConformanceDimension, 1),
			})
			Expect(err).To(MatchError(memory.ErrInvalidContent))
		})

		It("rejects content that is empty after sanitizing", func() {
			_, err := d.Store(ctx, &memory.Record{
				Kind:      memory.KindKnowledge,
				Content:   "\x00\x01",
				Embedding: Embedding(ConformanceDimension, 1),
			})
			Expect(err).To(MatchError(memory.ErrInvalidContent))
			Expect(total()).To(BeZero())
		})

		It("rejects an invalid search vector", func() {
			_, err := d.Search(ctx, []float32{1, 0}, 3)
			Expect(err).To(MatchError(memory.ErrVectorShape))
		})
	})

	Describe("Search", func() {
		It("orders results by cosine distance", func() {
			a := store(memory.KindKnowledge, "a", 1, 0, 0, 0)
			b := store(memory.KindKnowledge, "b", 0, 1, 0, 0)
			c := store(memory.KindKnowledge, "c", 0.9, 0.1, 0, 0)

			results, err := d.Search(ctx, []float32{1, 0, 0, 0}, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].ID).To(Equal(a.ID))
			Expect(results[1].ID).To(Equal(c.ID))
			Expect(results[2].ID).To(Equal(b.ID))
		})

		It("returns non-decreasing distances for arbitrary queries", func() {
			r := rand.New(rand.NewPCG(7, 11))
			for i := range 12 {
				store(memory.KindExperience, fmt.Sprintf("r%d", i), RandomEmbedding(r, ConformanceDimension)...)
			}

			for range 5 {
				q := RandomEmbedding(r, ConformanceDimension)
				results, err := d.Search(ctx, q, 12)
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(12))

				for i := 1; i < len(results); i++ {
					prev := memory.CosineDistance(q, results[i-1].Embedding)
					cur := memory.CosineDistance(q, results[i].Embedding)
					Expect(cur).To(BeNumerically(">=", prev-1e-6))
				}
			}
		})

		It("returns at least one record from a non-empty store", func() {
			store(memory.KindKnowledge, "only", 0, 0, 0, 1)

			results, err := d.Search(ctx, []float32{1, 0, 0, 0}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("returns nothing for a limit below one", func() {
			store(memory.KindKnowledge, "only", 1)

			results, err := d.Search(ctx, []float32{1, 0, 0, 0}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("returns every record when the limit exceeds the count", func() {
			store(memory.KindKnowledge, "a", 1)
			store(memory.KindKnowledge, "b", 0, 1)

			results, err := d.Search(ctx, []float32{1, 0, 0, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})
	})

	Describe("Update", func() {
		It("replaces content and embedding only", func() {
			rec := store(memory.KindKnowledge, "alpha", 1, 0, 0, 0)
			before, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Update(ctx, rec.ID, "beta", []float32{0, 1, 0, 0})).To(Succeed())

			got, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("beta"))
			Expect(got.Embedding).To(Equal([]float32{0, 1, 0, 0}))
			Expect(got.Kind).To(Equal(rec.Kind))
			Expect(got.CreatedAt).To(BeTemporally("==", rec.CreatedAt))
			Expect(got.LastAccessed).To(BeTemporally(">=", before.LastAccessed))
		})

		It("returns NotFound for an unknown id", func() {
			err := d.Update(ctx, uuid.New(), "beta", Embedding(ConformanceDimension, 1))
			Expect(memory.IsNotFound(err)).To(BeTrue())
		})

		It("validates before writing", func() {
			rec := store(memory.KindKnowledge, "alpha", 1)

			err := d.Update(ctx, rec.ID, "beta", []float32{float32(math.Inf(1)), 0, 0, 0})
			Expect(err).To(MatchError(memory.ErrVectorShape))

			got, err := d.Retrieve(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("alpha"))
		})
	})

	Describe("Delete", func() {
		It("removes the record and reports NotFound the second time", func() {
			rec := store(memory.KindKnowledge, "alpha", 1)
			other := store(memory.KindKnowledge, "beta", 0, 1)

			Expect(d.Delete(ctx, rec.ID)).To(Succeed())
			Expect(memory.IsNotFound(d.Delete(ctx, rec.ID))).To(BeTrue())

			_, err := d.Retrieve(ctx, rec.ID)
			Expect(memory.IsNotFound(err)).To(BeTrue())

			_, err = d.Retrieve(ctx, other.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(total()).To(Equal(1))
		})
	})

	Describe("ListPaginated", func() {
		BeforeEach(func() {
			for i := range 5 {
				store(memory.KindConversation, fmt.Sprintf("r%d", i), float32(i+1))
				time.Sleep(2 * time.Millisecond)
			}
		})

		contents := func(page *memory.Page) []string {
			out := make([]string, 0, len(page.Records))
			for _, r := range page.Records {
				out = append(out, r.Content)
			}
			return out
		}

		DescribeTable("pages newest first with a stable total",
			func(limit, offset int, want []string) {
				page, err := d.ListPaginated(ctx, limit, offset)
				Expect(err).NotTo(HaveOccurred())
				Expect(page.Total).To(Equal(5))
				Expect(contents(page)).To(Equal(want))
			},
			Entry("first page", 2, 0, []string{"r4", "r3"}),
			Entry("middle page", 2, 2, []string{"r2", "r1"}),
			Entry("short last page", 2, 4, []string{"r0"}),
			Entry("past the end", 2, 10, []string{}),
			Entry("zero limit", 0, 0, []string{}),
			Entry("negative offset", 1, -3, []string{"r4"}),
		)
	})
}
