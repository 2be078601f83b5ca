/*
   Copyright The h5viewer Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package cache_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/scidata/h5viewer/internal/cache"
)

var _ = Describe("TTLCache", func() {
	It("returns a stored value before it expires", func() {
		c := cache.New(8, time.Minute)
		c.Set("k", "v")
		v, ok := c.Get("k")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("v"))
	})

	It("drops an entry once its TTL has elapsed", func() {
		c := cache.New(8, time.Millisecond)
		c.Set("k", "v")
		Eventually(func() bool {
			_, ok := c.Get("k")
			return ok
		}, time.Second, 5*time.Millisecond).Should(BeFalse())
	})

	It("drops an invalidated entry immediately", func() {
		c := cache.New(8, time.Minute)
		c.Set("k", "v")
		c.Invalidate("k")
		_, ok := c.Get("k")
		Expect(ok).To(BeFalse())
	})

	It("coalesces N concurrent misses on the same key into one producer call (property #3)", func() {
		c := cache.New(8, time.Minute)
		var calls int32
		const n = 50

		var wg sync.WaitGroup
		results := make([]interface{}, n)
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				v, err := c.GetOrLoad("shared-key", func() (interface{}, error) {
					atomic.AddInt32(&calls, 1)
					time.Sleep(20 * time.Millisecond)
					return "produced-once", nil
				})
				Expect(err).NotTo(HaveOccurred())
				results[i] = v
			}(i)
		}
		wg.Wait()

		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		for i := 0; i < n; i++ {
			Expect(results[i]).To(Equal("produced-once"))
		}
	})

	It("never caches a failed load", func() {
		c := cache.New(8, time.Minute)
		attempt := 0
		_, err := c.GetOrLoad("k", func() (interface{}, error) {
			attempt++
			return nil, fmt.Errorf("boom")
		})
		Expect(err).To(HaveOccurred())

		v, err := c.GetOrLoad("k", func() (interface{}, error) {
			attempt++
			return "ok", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("ok"))
		Expect(attempt).To(Equal(2))
	})
})
