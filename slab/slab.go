package slab

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/allocgo"
	"github.com/hupe1980/allocgo/internal/conv"
	"github.com/hupe1980/allocgo/internal/mem"
	"github.com/hupe1980/allocgo/internal/mmap"
)

var (
	// ErrClosed is returned (wrapped in ErrAllocFailed) when allocating from
	// a closed slab.
	ErrClosed = errors.New("slab: closed")
	// ErrOutOfPages is returned when no contiguous run of free pages can
	// hold the request.
	ErrOutOfPages = errors.New("slab: no contiguous page run available")
	// ErrInvalidPageSize is returned when the configured page size is not a
	// power of two.
	ErrInvalidPageSize = errors.New("slab: page size must be a power of two")
	// ErrInvalidSize is returned when the requested capacity is not positive
	// or does not fit the page index range.
	ErrInvalidSize = errors.New("slab: invalid capacity")
)

// DefaultPageSize is the default allocation granule (4KB).
const DefaultPageSize = 4096

// Options represents the options for configuring a Slab.
type Options struct {
	// PageSize is the allocation granule in bytes. Must be a power of two.
	// Alignments above min(PageSize, 4096) are rejected, page starts are only
	// guaranteed to fall on OS page boundaries.
	PageSize int

	// DontNeed advises freed page ranges to the kernel with AccessDontNeed so
	// their physical memory can be reclaimed. The address range stays mapped
	// and is reused on the next allocation.
	DontNeed bool

	// Logger receives region lifecycle events.
	Logger *allocgo.Logger
}

var DefaultOptions = Options{
	PageSize: DefaultPageSize,
	DontNeed: true,
}

var _ allocgo.Allocator = (*Slab)(nil)

// Slab is a page-granular allocator over one anonymous mapping. The whole
// capacity is reserved at construction; a roaring bitmap tracks which pages
// are free.
type Slab struct {
	mapping  *mmap.Mapping
	base     unsafe.Pointer
	pageSize int
	pages    int
	maxAlign uintptr
	opts     Options

	mu     sync.Mutex
	free   *roaring.Bitmap
	closed bool
	allocs uint64
	frees  uint64
}

// New creates a Slab managing at least size bytes, rounded up to whole pages.
func New(size int, optFns ...func(o *Options)) (*Slab, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	if opts.PageSize&(opts.PageSize-1) != 0 {
		return nil, ErrInvalidPageSize
	}

	if opts.Logger == nil {
		opts.Logger = allocgo.NoopLogger()
	} else {
		opts.Logger = opts.Logger.WithComponent("slab")
	}

	if size <= 0 || size > math.MaxInt-(opts.PageSize-1) {
		return nil, ErrInvalidSize
	}

	pages := (size + opts.PageSize - 1) / opts.PageSize

	// Page indices live in a 32-bit bitmap.
	if _, err := conv.IntToUint32(pages); err != nil {
		return nil, fmt.Errorf("%w: %d pages", ErrInvalidSize, pages)
	}

	mapping, err := mmap.MapAnon(pages * opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("slab: map region: %w", err)
	}

	data := mapping.Bytes()

	free := roaring.New()
	free.AddRange(0, uint64(pages)) //nolint:gosec // pages > 0

	maxAlign := uintptr(opts.PageSize)
	if maxAlign > mem.MaxAlign {
		maxAlign = mem.MaxAlign
	}

	s := &Slab{
		mapping:  mapping,
		base:     unsafe.Pointer(&data[0]), //nolint:gosec // unsafe is required for page addressing
		pageSize: opts.PageSize,
		pages:    pages,
		maxAlign: maxAlign,
		opts:     opts,
		free:     free,
	}

	opts.Logger.LogChunkAllocated(0, pages*opts.PageSize)

	return s, nil
}

// Allocate implements allocgo.Allocator. The region occupies whole pages; the
// returned Block reports the full page extent.
func (s *Slab) Allocate(layout allocgo.Layout) (allocgo.Block, error) {
	if layout.Align() > s.maxAlign {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, allocgo.ErrAlignmentUnsupported)
	}

	if layout.Size() == 0 {
		return allocgo.Block{Ptr: mem.Dangling(layout.Align()), Size: 0}, nil
	}

	n := s.pagesFor(layout.Size())
	if n > s.pages {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, ErrOutOfPages)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, ErrClosed)
	}

	start, ok := s.findRun(n)
	if !ok {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, ErrOutOfPages)
	}

	s.free.RemoveRange(uint64(start), uint64(start)+uint64(n)) //nolint:gosec // n > 0
	s.allocs++

	return allocgo.Block{Ptr: s.pagePtr(start), Size: uintptr(n) * uintptr(s.pageSize)}, nil
}

// Deallocate implements allocgo.Allocator. The region's pages return to the
// free set immediately and may be advised away (see Options.DontNeed).
func (s *Slab) Deallocate(ptr unsafe.Pointer, layout allocgo.Layout) {
	if layout.Size() == 0 {
		return
	}

	n := s.pagesFor(layout.Size())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	start := s.pageIndex(ptr)
	s.free.AddRange(uint64(start), uint64(start)+uint64(n)) //nolint:gosec // n > 0
	s.frees++

	s.adviseDontNeed(start, n)
}

// Grow implements allocgo.Allocator. The region grows in place when it still
// fits its pages or when the pages directly behind it are free; otherwise it
// relocates to a fresh run.
func (s *Slab) Grow(ptr unsafe.Pointer, oldLayout, newLayout allocgo.Layout) (allocgo.Block, error) {
	if newLayout.Align() > s.maxAlign {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(newLayout, allocgo.ErrAlignmentUnsupported)
	}

	if oldLayout.Size() == 0 {
		return s.Allocate(newLayout)
	}

	oldPages := s.pagesFor(oldLayout.Size())
	newPages := s.pagesFor(newLayout.Size())

	if newPages <= oldPages {
		return allocgo.Block{Ptr: ptr, Size: uintptr(oldPages) * uintptr(s.pageSize)}, nil
	}

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return allocgo.Block{}, allocgo.NewErrAllocFailed(newLayout, ErrClosed)
	}

	start := s.pageIndex(ptr)

	if s.runFree(start+uint32(oldPages), newPages-oldPages) { //nolint:gosec // page counts fit uint32
		s.free.RemoveRange(uint64(start)+uint64(oldPages), uint64(start)+uint64(newPages)) //nolint:gosec // oldPages < newPages
		s.mu.Unlock()

		return allocgo.Block{Ptr: ptr, Size: uintptr(newPages) * uintptr(s.pageSize)}, nil
	}

	s.mu.Unlock()

	blk, err := s.Allocate(newLayout)
	if err != nil {
		return allocgo.Block{}, err
	}

	copyBytes(blk.Ptr, ptr, oldLayout.Size())
	s.Deallocate(ptr, oldLayout)

	return blk, nil
}

// Shrink implements allocgo.Allocator. The region is truncated in place and
// the surplus tail pages return to the free set.
func (s *Slab) Shrink(ptr unsafe.Pointer, oldLayout, newLayout allocgo.Layout) (allocgo.Block, error) {
	if newLayout.Align() > s.maxAlign {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(newLayout, allocgo.ErrAlignmentUnsupported)
	}

	if newLayout.Size() == 0 {
		s.Deallocate(ptr, oldLayout)
		return allocgo.Block{Ptr: mem.Dangling(newLayout.Align()), Size: 0}, nil
	}

	oldPages := s.pagesFor(oldLayout.Size())
	newPages := s.pagesFor(newLayout.Size())

	if newPages >= oldPages {
		return allocgo.Block{Ptr: ptr, Size: uintptr(oldPages) * uintptr(s.pageSize)}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		start := s.pageIndex(ptr)
		s.free.AddRange(uint64(start)+uint64(newPages), uint64(start)+uint64(oldPages)) //nolint:gosec // newPages < oldPages
		s.adviseDontNeed(start+uint32(newPages), oldPages-newPages)                     //nolint:gosec // page counts fit uint32
	}

	return allocgo.Block{Ptr: ptr, Size: uintptr(newPages) * uintptr(s.pageSize)}, nil
}

// pagesFor returns the number of pages covering size bytes.
func (s *Slab) pagesFor(size uintptr) int {
	ps := uintptr(s.pageSize)
	n, _ := conv.UintptrToInt((size + ps - 1) / ps) // Safe: size <= MaxInt
	return n
}

// findRun locates the first run of n consecutive free pages.
func (s *Slab) findRun(n int) (uint32, bool) {
	var (
		start, prev uint32
		run         int
	)

	it := s.free.Iterator()
	for it.HasNext() {
		p := it.Next()

		if run == 0 || p != prev+1 {
			start, run = p, 1
		} else {
			run++
		}

		prev = p

		if run == n {
			return start, true
		}
	}

	return 0, false
}

// runFree reports whether the n pages starting at from are all free.
func (s *Slab) runFree(from uint32, n int) bool {
	for i := 0; i < n; i++ {
		if !s.free.Contains(from + uint32(i)) { //nolint:gosec // page counts fit uint32
			return false
		}
	}

	return true
}

func (s *Slab) pagePtr(page uint32) unsafe.Pointer {
	return unsafe.Add(s.base, uintptr(page)*uintptr(s.pageSize)) //nolint:gosec // unsafe is required for page addressing
}

func (s *Slab) pageIndex(ptr unsafe.Pointer) uint32 {
	return uint32((uintptr(ptr) - uintptr(s.base)) / uintptr(s.pageSize)) //nolint:gosec // page indices fit uint32 by construction
}

func (s *Slab) adviseDontNeed(start uint32, n int) {
	if !s.opts.DontNeed {
		return
	}

	offset := int(start) * s.pageSize
	// Advisory only, a failure just keeps the pages resident.
	_ = s.mapping.AdviseRange(offset, n*s.pageSize, mmap.AccessDontNeed)
}

// Stats tracks slab usage.
type Stats struct {
	PageSize    int    // Allocation granule in bytes
	TotalPages  int    // Pages managed by the slab
	FreePages   int    // Pages currently free
	UsedPages   int    // Pages currently claimed
	TotalAllocs uint64 // Historical: total allocations
	TotalFrees  uint64 // Historical: total releases
}

// Stats returns the current slab statistics.
func (s *Slab) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	freePages, _ := conv.Uint64ToInt(s.free.GetCardinality()) // Safe: bounded by page count

	return Stats{
		PageSize:    s.pageSize,
		TotalPages:  s.pages,
		FreePages:   freePages,
		UsedPages:   s.pages - freePages,
		TotalAllocs: s.allocs,
		TotalFrees:  s.frees,
	}
}

// Usage returns the used fraction of the slab's pages as a percentage.
func (s *Slab) Usage() float64 {
	stats := s.Stats()
	if stats.TotalPages == 0 {
		return 0
	}

	return float64(stats.UsedPages) / float64(stats.TotalPages) * 100
}

// Close unmaps the region and renders the slab unusable. Every outstanding
// region becomes invalid. Calling Close again does nothing.
func (s *Slab) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.free.Clear()

	return s.mapping.Close()
}

func (s *Slab) String() string {
	stats := s.Stats()
	return fmt.Sprintf(
		"Slab{pages: %d/%d, page size: %d, usage: %.1f%%, allocs: %d, frees: %d}",
		stats.UsedPages,
		stats.TotalPages,
		stats.PageSize,
		float64(stats.UsedPages)/float64(stats.TotalPages)*100,
		stats.TotalAllocs,
		stats.TotalFrees,
	)
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
