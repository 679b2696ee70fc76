package policy_test

import (
	"errors"
	"net"
	"time"

	"github.com/renproject/rendezvous/policy"
	"github.com/renproject/rendezvous/testutil"
	"golang.org/x/time/rate"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Allow", func() {
	Context("when composing with All", func() {
		It("should stop at the first refusal and still clean up", func() {
			cleaned := []int{}
			calls := 0
			pass := func(i int) policy.Allow {
				return func(net.Conn) (error, policy.Cleanup) {
					calls++
					return nil, func() { cleaned = append(cleaned, i) }
				}
			}
			refuse := func(net.Conn) (error, policy.Cleanup) {
				calls++
				return errors.New("refused"), nil
			}

			err, cleanup := policy.All(pass(1), nil, pass(2), refuse, pass(3))(testutil.NewConn("203.0.113.5:1"))
			Expect(err).To(MatchError("refused"))
			Expect(calls).To(Equal(3))
			cleanup()
			Expect(cleaned).To(Equal([]int{2, 1}))
		})

		It("should pass when every function passes", func() {
			err, cleanup := policy.All()(testutil.NewConn("203.0.113.5:1"))
			Expect(err).ToNot(HaveOccurred())
			Expect(cleanup).ToNot(BeNil())
		})
	})

	Context("when rate limiting", func() {
		It("should refuse attempts beyond the burst", func() {
			allow := policy.RateLimit(rate.Every(time.Hour), 3, 16)
			for i := 0; i < 3; i++ {
				err, _ := allow(testutil.NewConn("203.0.113.5:1"))
				Expect(err).ToNot(HaveOccurred())
			}
			err, _ := allow(testutil.NewConn("203.0.113.5:2"))
			Expect(err).To(Equal(policy.ErrRateLimited))

			err, _ = allow(testutil.NewConn("198.51.100.1:1"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should never refuse with an infinite rate", func() {
			allow := policy.RateLimit(rate.Inf, 0, 16)
			for i := 0; i < 100; i++ {
				err, _ := allow(testutil.NewConn("203.0.113.5:1"))
				Expect(err).ToNot(HaveOccurred())
			}
		})
	})
})

var _ = Describe("Timeout", func() {
	It("should compose", func() {
		one := policy.ConstantTimeout(time.Second)
		Expect(one(7)).To(Equal(time.Second))
		Expect(policy.LinearBackoff(1.5, one)(2)).To(Equal(3 * time.Second))
		Expect(policy.ExponentialBackoff(2, one)(3)).To(Equal(8 * time.Second))
		Expect(policy.MaxTimeout(5*time.Second, policy.ExponentialBackoff(2, one))(10)).To(Equal(5 * time.Second))
		Expect(policy.ExponentialBackoff(10, one)(100)).To(BeNumerically(">", time.Hour))
	})
})
