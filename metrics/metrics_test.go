package metrics_test

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/renproject/rendezvous/metrics"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Metrics", func() {
	Context("when registering on a registry", func() {
		It("should export every collector", func() {
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			m.ConnsAccepted.Inc()
			m.ObserveRefused("blocked")
			m.ObserveRequest("REGISTER", "OK", time.Millisecond)
			m.Peers.Set(3)
			m.PersistErrors.Inc()

			families, err := reg.Gather()
			Expect(err).ToNot(HaveOccurred())
			Expect(families).To(HaveLen(6))
		})

		It("should fail to register twice on the same registry", func() {
			reg := prometheus.NewRegistry()
			metrics.New(reg)
			Expect(func() { metrics.New(reg) }).To(Panic())
		})
	})

	Context("when observing requests", func() {
		It("should count them by type and status", func() {
			m := metrics.New(nil)
			m.ObserveRequest("REGISTER", "OK", time.Millisecond)
			m.ObserveRequest("REGISTER", "OK", time.Millisecond)
			m.ObserveRequest("REGISTER", "ERROR", time.Millisecond)
			Expect(testutil.ToFloat64(m.Requests.WithLabelValues("REGISTER", "OK"))).To(Equal(2.0))
			Expect(testutil.ToFloat64(m.Requests.WithLabelValues("REGISTER", "ERROR"))).To(Equal(1.0))
			Expect(testutil.CollectAndCount(m.Durations)).To(Equal(1))
		})
	})
})
