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

package lifecycle_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/scidata/h5viewer/internal/herrors"
	"github.com/scidata/h5viewer/internal/lifecycle"
)

var _ = Describe("Manager", func() {
	It("admits a request and releases its slot on Done", func() {
		m := lifecycle.New(1)
		req, err := m.Begin(context.Background(), "", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Ctx.Err()).NotTo(HaveOccurred())
		req.Done()
		Expect(req.Ctx.Err()).To(HaveOccurred())
	})

	It("surfaces Busy when the concurrency limit is exhausted and the queue wait elapses", func() {
		m := lifecycle.New(1)
		first, err := m.Begin(context.Background(), "", time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer first.Done()

		_, err = m.Begin(context.Background(), "", 20*time.Millisecond)
		Expect(herrors.Classify(err)).To(Equal(herrors.KindBusy))
	})

	It("admits a second request once the first releases its slot", func() {
		m := lifecycle.New(1)
		first, err := m.Begin(context.Background(), "", time.Second)
		Expect(err).NotTo(HaveOccurred())

		done := make(chan struct{})
		go func() {
			defer close(done)
			defer GinkgoRecover()
			second, err := m.Begin(context.Background(), "", time.Second)
			Expect(err).NotTo(HaveOccurred())
			second.Done()
		}()

		time.Sleep(10 * time.Millisecond)
		first.Done()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("cancels a previous request registered under the same cancel key", func() {
		m := lifecycle.New(4)
		first, err := m.Begin(context.Background(), "widget-1", time.Second)
		Expect(err).NotTo(HaveOccurred())

		second, err := m.Begin(context.Background(), "widget-1", time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer second.Done()

		Eventually(first.Ctx.Done(), time.Second).Should(BeClosed())
		Expect(second.Ctx.Err()).NotTo(HaveOccurred())
	})

	It("does not cancel requests under different cancel keys", func() {
		m := lifecycle.New(4)
		a, err := m.Begin(context.Background(), "a", time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer a.Done()
		b, err := m.Begin(context.Background(), "b", time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer b.Done()

		Consistently(a.Ctx.Done(), 50*time.Millisecond).ShouldNot(BeClosed())
	})

	It("surfaces Cancelled when the parent context is already done while queued", func() {
		m := lifecycle.New(0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := m.Begin(ctx, "", time.Second)
		Expect(herrors.Classify(err)).To(Equal(herrors.KindCancelled))
	})

	It("Classify maps a cancelled context to KindCancelled regardless of the underlying error", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		got := lifecycle.Classify(ctx, herrors.New(herrors.KindNotFound, "whatever"))
		Expect(got).To(Equal(herrors.KindCancelled))
	})
})
