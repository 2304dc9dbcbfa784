// Package memsys is the size-classed slab allocator that amortizes
// allocation for the many small message buffers an AMT run produces
// (§4.2). It plays the role the teacher's memsys/transport "MMSA"
// (mem-manager slab allocator) plays for aistore's object transport.
package memsys

import (
	"github.com/amt-rt/vt/cmn/debug"
)

// Size-class boundaries (§4.2, design-level defaults; configurable via
// NewPool).
const (
	DefaultSmall  = 256
	DefaultMedium = 4 * 1024
	DefaultLarge  = 64 * 1024

	// PageSize and friends mirror the teacher's memsys constants
	// (transport/api.go: memsys.PageSize, memsys.DefaultBufSize,
	// memsys.MaxPageSlabSize) so Envelope/PDU sizing stays consistent
	// with slab boundaries.
	PageSize          = DefaultSmall
	DefaultBufSize    = DefaultMedium
	MaxPageSlabSize   = DefaultLarge
	initialSlabCount  = 64
)

// header is the prefix recorded ahead of every returned buffer,
// mirroring pool.Header{alloc_size, oversize} from the original
// allocator: it lets Dealloc find the owning bucket (or discover the
// buffer fell through to a plain allocation) without a side table.
type header struct {
	bucketIdx int // -1 => fell through to a bare allocation
	allocSize int // requested nbytes
	oversize  int
}

// Buffer is a pool-owned byte slab. All of Cap() is available to
// callers (the header is kept beside Data, not inside it); RemainingSize accounts for how much of it a
// caller has already consumed (e.g. an envelope + body already
// written), used to decide whether an inline "put" payload fits.
type Buffer struct {
	hdr  header
	Data []byte // Data[:hdr.allocSize] is logically "in use"
}

func (b *Buffer) Cap() int { return cap(b.Data) }

type bucket struct {
	size      int
	free      []*Buffer
	nextGrow  int // number of slabs to allocate on the next refill; doubles each time
}

func newBucket(size int) *bucket {
	bk := &bucket{size: size, nextGrow: initialSlabCount}
	bk.refill()
	return bk
}

func (bk *bucket) refill() {
	for i := 0; i < bk.nextGrow; i++ {
		bk.free = append(bk.free, &Buffer{Data: make([]byte, bk.size)})
	}
	bk.nextGrow *= 2
}

func (bk *bucket) pop() *Buffer {
	if len(bk.free) == 0 {
		bk.refill()
	}
	n := len(bk.free)
	buf := bk.free[n-1]
	bk.free = bk.free[:n-1]
	return buf
}

func (bk *bucket) push(buf *Buffer) {
	bk.free = append(bk.free, buf)
}

// Stats tracks counters surfaced by the diag package (vt_diag_enable).
type Stats struct {
	Allocs       int64
	Deallocs     int64
	Overflows    int64 // requests that fell through to a bare allocation
}

// Pool is a set of size-class buckets; oversized requests fall through
// to a plain make([]byte, ...) allocation (§4.2). Single-threaded: the
// scheduler is the pool's only caller (§5), so no lock is taken.
type Pool struct {
	buckets []*bucket
	Stats   Stats

	// OnAlloc/OnDealloc are optional diagnostics hooks (vt_diag_*):
	// the runtime wires these to its Stats collector so pool traffic
	// shows up alongside the rest of the diagnostics surface.
	OnAlloc   func()
	OnDealloc func()
}

// NewPool builds a pool with the given ascending bucket-size classes.
// Passing no sizes uses the design-level defaults {256B, 4KB, 64KB}.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = []int{DefaultSmall, DefaultMedium, DefaultLarge}
	}
	p := &Pool{}
	for _, sz := range sizes {
		p.buckets = append(p.buckets, newBucket(sz))
	}
	return p
}

// Alloc returns a buffer with capacity >= nbytes+over (§4.2). Inside a
// bucket, allocation is O(1) via pop-front (here pop-back) on the free
// list; over-size requests fall through to the system allocator with a
// header recording the true size.
func (p *Pool) Alloc(nbytes, over int) *Buffer {
	if p.OnAlloc != nil {
		p.OnAlloc()
	}
	total := nbytes + over
	for i, bk := range p.buckets {
		if total <= bk.size {
			buf := bk.pop()
			buf.hdr = header{bucketIdx: i, allocSize: nbytes, oversize: over}
			p.Stats.Allocs++
			return buf
		}
	}
	p.Stats.Allocs++
	p.Stats.Overflows++
	return &Buffer{
		hdr:  header{bucketIdx: -1, allocSize: nbytes, oversize: over},
		Data: make([]byte, total),
	}
}

// Dealloc reads the header and returns the buffer to its bucket, or
// drops it (for a bare allocation) letting the GC reclaim it. Every
// pointer returned from Alloc must be Dealloc'd exactly once (§4.2
// invariant); debug builds assert against a nil buffer.
func (p *Pool) Dealloc(buf *Buffer) {
	debug.Assert(buf != nil, "dealloc of nil buffer")
	if p.OnDealloc != nil {
		p.OnDealloc()
	}
	p.Stats.Deallocs++
	if buf.hdr.bucketIdx < 0 {
		return // bare allocation: nothing to return
	}
	debug.Assertf(buf.hdr.bucketIdx < len(p.buckets), "corrupt pool header: bucket %d", buf.hdr.bucketIdx)
	p.buckets[buf.hdr.bucketIdx].push(buf)
}

// RemainingSize is the free capacity in buf's slab after `used` bytes
// (typically an envelope + body) have been written; callers use this
// to decide whether an inline "put" payload fits (§4.2).
func (p *Pool) RemainingSize(buf *Buffer, used int) int {
	r := buf.Cap() - used
	if r < 0 {
		return 0
	}
	return r
}

// BucketFreeListForTest exposes a bucket's free-list length for tests
// that assert ref-count conservation; not part of the public API.
func (p *Pool) BucketFreeListForTest(i int) []*Buffer { return p.buckets[i].free }

// BucketSizeFor reports which bucket size class, if any, would serve a
// request of n bytes; zero means it would overflow to a bare alloc.
func (p *Pool) BucketSizeFor(n int) int {
	for _, bk := range p.buckets {
		if n <= bk.size {
			return bk.size
		}
	}
	return 0
}
