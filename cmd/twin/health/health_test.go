package healthcmder

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/pool"
)

var _ = Describe("poolDetail", func() {
	DescribeTable("summarizes a pool",
		func(s pool.PoolStatus, want string) {
			Expect(poolDetail(s)).To(Equal(want))
		},
		Entry("occupancy and latency", pool.PoolStatus{Available: 3, Max: 10, Total: 4, Latency: 2 * time.Millisecond},
			"3/10 available, 4 open, 2ms"),
		Entry("saturated", pool.PoolStatus{Saturated: true, Healthy: true, Max: 10},
			"saturated, all 10 connections in use"),
		Entry("error wins", pool.PoolStatus{Saturated: true, Error: "connection refused"},
			"connection refused"),
	)

	It("truncates long errors", func() {
		detail := poolDetail(pool.PoolStatus{Error: strings.Repeat("x", 500)})
		Expect(detail).To(HaveSuffix("..."))
		Expect(detail).To(HaveLen(maxDetailLen + len("...")))
	})
})
