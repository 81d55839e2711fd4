package client

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("backoff", func() {
	It("doubles up to the maximum with jitter", func() {
		b := backoff{min: 100 * time.Millisecond, max: 400 * time.Millisecond}

		for _, base := range []time.Duration{100, 200, 400, 400} {
			base *= time.Millisecond
			Expect(b.Next()).To(BeNumerically("~", base, base/10))
		}

		b.Reset()
		Expect(b.Next()).To(BeNumerically("~", 100*time.Millisecond, 10*time.Millisecond))
	})
})
