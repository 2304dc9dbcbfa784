package memsys_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/amt-rt/vt/memsys"
)

func TestMemsys(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "memsys suite")
}

var _ = Describe("Pool", func() {
	It("hands out buffers sized to the smallest fitting bucket", func() {
		p := memsys.NewPool(256, 4096, 65536)
		buf := p.Alloc(100, 0)
		Expect(buf.Cap()).To(Equal(256))
		p.Dealloc(buf)
	})

	It("conserves refcount: same bucket size before and after a full alloc/dealloc cycle", func() {
		p := memsys.NewPool(256, 4096, 65536)
		before := len(p.BucketFreeListForTest(0))
		buf := p.Alloc(10, 0)
		p.Dealloc(buf)
		after := len(p.BucketFreeListForTest(0))
		Expect(after).To(Equal(before))
	})

	It("never hands out the same buffer to two outstanding requests", func() {
		p := memsys.NewPool(256)
		a := p.Alloc(10, 0)
		b := p.Alloc(10, 0)
		Expect(a).NotTo(BeIdenticalTo(b))
		p.Dealloc(a)
		p.Dealloc(b)
	})

	It("falls through to a bare allocation for oversize requests", func() {
		p := memsys.NewPool(256, 4096)
		buf := p.Alloc(100000, 0)
		Expect(buf.Cap()).To(BeNumerically(">=", 100000))
		Expect(p.Stats.Overflows).To(Equal(int64(1)))
		p.Dealloc(buf)
	})

	It("reports remaining size after a partial write", func() {
		p := memsys.NewPool(256)
		buf := p.Alloc(10, 0)
		Expect(p.RemainingSize(buf, 100)).To(Equal(156))
		p.Dealloc(buf)
	})
})
