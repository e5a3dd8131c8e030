package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/allocgo"
	"github.com/hupe1980/allocgo/internal/conv"
	"github.com/hupe1980/allocgo/internal/mem"
	"github.com/hupe1980/allocgo/internal/mmap"
)

var (
	// ErrClosed is returned (wrapped in ErrAllocFailed) when allocating from
	// a closed arena.
	ErrClosed = errors.New("arena: closed")
	// ErrMaxChunksExceeded is returned when the arena cannot map more chunks.
	ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")
)

const (
	// DefaultChunkSize is the default size of a shared chunk (1MB).
	DefaultChunkSize = 1024 * 1024
	// MaxChunks limits the number of chunks to prevent excessive memory usage.
	MaxChunks = 65536
)

// Stats tracks arena memory usage metrics.
//
// Note on semantics:
//   - BytesReserved: total memory currently mapped from the OS
//   - BytesUsed: actual bytes claimed by live allocations (before alignment)
//   - BytesWasted: padding added for alignment
//   - ActiveChunks: number of chunks currently held
//   - TotalAllocs: cumulative allocation count
type Stats struct {
	ChunksAllocated uint64 // Historical: total chunks ever mapped
	BytesReserved   uint64 // Current: total memory reserved
	BytesUsed       uint64 // Current: actual bytes used
	BytesWasted     uint64 // Current: alignment padding
	ActiveChunks    uint64 // Current: active chunk count
	TotalAllocs     uint64 // Historical: total allocations
}

type atomicStats struct {
	ChunksAllocated atomic.Uint64
	BytesReserved   atomic.Uint64
	BytesUsed       atomic.Uint64
	BytesWasted     atomic.Uint64
	ActiveChunks    atomic.Uint64
	TotalAllocs     atomic.Uint64
}

var _ allocgo.Allocator = (*Arena)(nil)

type chunk struct {
	data    []byte
	mapping *mmap.Mapping
	offset  atomic.Int64 // MUST be atomic - accessed concurrently without locks
	index   uint32
}

// Arena is a chunked bump allocator implementing allocgo.Allocator.
type Arena struct {
	chunkSize  int
	logger     *allocgo.Logger
	chunks     [MaxChunks]atomic.Pointer[chunk] // Fixed-size array to avoid slice race conditions
	chunkCount atomic.Uint32
	current    atomic.Pointer[chunk]
	mu         sync.Mutex
	closed     atomic.Bool
	stats      atomicStats
}

// Option is a configuration option for Arena.
type Option func(*Arena)

// WithChunkSize sets the size of the shared chunks. Values of 0 or less
// select DefaultChunkSize.
func WithChunkSize(size int) Option {
	return func(a *Arena) {
		a.chunkSize = size
	}
}

// WithLogger sets the logger used for chunk lifecycle events.
func WithLogger(logger *allocgo.Logger) Option {
	return func(a *Arena) {
		if logger != nil {
			a.logger = logger.WithComponent("arena")
		}
	}
}

// New creates a new Arena and eagerly maps its first chunk.
func New(optFns ...Option) (*Arena, error) {
	a := &Arena{
		chunkSize: DefaultChunkSize,
		logger:    allocgo.NoopLogger(),
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(a)
		}
	}

	if a.chunkSize <= 0 {
		a.chunkSize = DefaultChunkSize
	}

	a.mu.Lock()
	err := a.allocateChunkLocked()
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return a, nil
}

// Allocate implements allocgo.Allocator. Alignments above the page size are
// not supported.
func (a *Arena) Allocate(layout allocgo.Layout) (allocgo.Block, error) {
	size := layout.Size()
	align := layout.Align()

	if align > mem.MaxAlign {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, allocgo.ErrAlignmentUnsupported)
	}

	if size == 0 {
		return allocgo.Block{Ptr: mem.Dangling(align), Size: 0}, nil
	}

	if size+align > uintptr(a.chunkSize) {
		return a.allocateOversize(layout)
	}

	for {
		curr := a.current.Load()
		if curr == nil {
			return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, ErrClosed)
		}

		if ptr, ok := tryAllocInChunk(curr, size, align, &a.stats); ok {
			return allocgo.Block{Ptr: ptr, Size: size}, nil
		}

		// Chunk is full. One goroutine maps a new chunk; the rest retry once
		// current has changed.
		if a.current.Load() != curr {
			continue
		}

		a.mu.Lock()

		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}

		if err := a.allocateChunkLocked(); err != nil {
			a.mu.Unlock()
			return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, err)
		}

		a.mu.Unlock()
	}
}

// tryAllocInChunk claims size bytes at the chunk's bump offset, aligned to
// align. It reports false when the chunk cannot hold the request.
func tryAllocInChunk(c *chunk, size, align uintptr, stats *atomicStats) (unsafe.Pointer, bool) {
	for {
		old := c.offset.Load()

		start := (uintptr(old) + align - 1) &^ (align - 1) //nolint:gosec // offset is bounded by the chunk length
		end := start + size

		if end > uintptr(len(c.data)) {
			return nil, false
		}

		if !c.offset.CompareAndSwap(old, int64(end)) { //nolint:gosec // end is bounded by the chunk length
			continue
		}

		stats.BytesUsed.Add(uint64(size))
		stats.BytesWasted.Add(uint64(start) - uint64(old)) //nolint:gosec // start >= old
		stats.TotalAllocs.Add(1)

		return unsafe.Pointer(&c.data[start]), true
	}
}

func (a *Arena) allocateChunkLocked() error {
	idx := a.chunkCount.Load()
	if idx >= MaxChunks {
		return ErrMaxChunksExceeded
	}

	mapping, err := mmap.MapAnon(a.chunkSize)
	if err != nil {
		return fmt.Errorf("arena: map chunk: %w", err)
	}

	newChunk := &chunk{
		data:    mapping.Bytes(),
		mapping: mapping,
		index:   idx,
	}

	a.chunks[idx].Store(newChunk)

	a.stats.ChunksAllocated.Add(1)
	chunkSizeU64, _ := conv.IntToUint64(a.chunkSize)
	a.stats.BytesReserved.Add(chunkSizeU64)
	a.stats.ActiveChunks.Add(1)

	// Count first so lock-free readers never observe an index past it.
	a.chunkCount.Add(1)
	a.current.Store(newChunk)

	idxInt, _ := conv.Uint32ToInt(idx) // Safe: idx < MaxChunks
	a.logger.LogChunkAllocated(idxInt, a.chunkSize)

	return nil
}

// allocateOversize maps a dedicated chunk for a request too large to share.
// The shared bump chunk stays current, oversize chunks are fully claimed on
// creation.
func (a *Arena) allocateOversize(layout allocgo.Layout) (allocgo.Block, error) {
	size, err := conv.UintptrToInt(layout.Size())
	if err != nil {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed.Load() {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, ErrClosed)
	}

	idx := a.chunkCount.Load()
	if idx >= MaxChunks {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, ErrMaxChunksExceeded)
	}

	mapping, err := mmap.MapAnon(size)
	if err != nil {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(layout, fmt.Errorf("arena: map oversize chunk: %w", err))
	}

	oc := &chunk{
		data:    mapping.Bytes(),
		mapping: mapping,
		index:   idx,
	}
	oc.offset.Store(int64(size))

	a.chunks[idx].Store(oc)
	a.chunkCount.Add(1)

	sizeU64, _ := conv.IntToUint64(size)
	a.stats.ChunksAllocated.Add(1)
	a.stats.BytesReserved.Add(sizeU64)
	a.stats.ActiveChunks.Add(1)
	a.stats.BytesUsed.Add(sizeU64)
	a.stats.TotalAllocs.Add(1)

	idxInt, _ := conv.Uint32ToInt(idx) // Safe: idx < MaxChunks
	a.logger.LogChunkAllocated(idxInt, size)

	return allocgo.Block{Ptr: unsafe.Pointer(&oc.data[0]), Size: layout.Size()}, nil
}

// Deallocate implements allocgo.Allocator. Releasing the most recent
// allocation rewinds the bump offset; anything else is a no-op and is
// reclaimed in bulk by Reset or Close.
func (a *Arena) Deallocate(ptr unsafe.Pointer, layout allocgo.Layout) {
	if layout.Size() == 0 {
		return
	}

	a.reclaimTail(ptr, layout.Size(), 0)
}

// Grow implements allocgo.Allocator. The most recent allocation in the
// current chunk grows in place when the tail space suffices; everything else
// relocates into a fresh region.
func (a *Arena) Grow(ptr unsafe.Pointer, oldLayout, newLayout allocgo.Layout) (allocgo.Block, error) {
	if newLayout.Align() > mem.MaxAlign {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(newLayout, allocgo.ErrAlignmentUnsupported)
	}

	if oldLayout.Size() == 0 {
		return a.Allocate(newLayout)
	}

	if blk, ok := a.growInPlace(ptr, oldLayout, newLayout); ok {
		return blk, nil
	}

	blk, err := a.Allocate(newLayout)
	if err != nil {
		return allocgo.Block{}, err
	}

	copyBytes(blk.Ptr, ptr, oldLayout.Size())
	a.reclaimTail(ptr, oldLayout.Size(), 0)

	return blk, nil
}

// Shrink implements allocgo.Allocator. The region is truncated in place; the
// tail is rewound when it belongs to the most recent allocation.
func (a *Arena) Shrink(ptr unsafe.Pointer, oldLayout, newLayout allocgo.Layout) (allocgo.Block, error) {
	if newLayout.Align() > mem.MaxAlign {
		return allocgo.Block{}, allocgo.NewErrAllocFailed(newLayout, allocgo.ErrAlignmentUnsupported)
	}

	if newLayout.Size() == 0 {
		a.reclaimTail(ptr, oldLayout.Size(), 0)
		return allocgo.Block{Ptr: mem.Dangling(newLayout.Align()), Size: 0}, nil
	}

	if uintptr(ptr)&(newLayout.Align()-1) != 0 {
		// Stricter alignment than the region carries, relocate.
		blk, err := a.Allocate(newLayout)
		if err != nil {
			return allocgo.Block{}, err
		}

		copyBytes(blk.Ptr, ptr, newLayout.Size())
		a.reclaimTail(ptr, oldLayout.Size(), 0)

		return blk, nil
	}

	a.reclaimTail(ptr, oldLayout.Size(), newLayout.Size())

	return allocgo.Block{Ptr: ptr, Size: newLayout.Size()}, nil
}

// growInPlace extends the region when it is the most recent allocation in
// the current chunk and the chunk tail can absorb the delta.
func (a *Arena) growInPlace(ptr unsafe.Pointer, oldLayout, newLayout allocgo.Layout) (allocgo.Block, bool) {
	if uintptr(ptr)&(newLayout.Align()-1) != 0 {
		return allocgo.Block{}, false
	}

	curr := a.current.Load()
	if curr == nil {
		return allocgo.Block{}, false
	}

	base := uintptr(unsafe.Pointer(&curr.data[0]))
	p := uintptr(ptr)

	if p < base || p >= base+uintptr(len(curr.data)) {
		return allocgo.Block{}, false
	}

	start := p - base
	oldEnd := start + oldLayout.Size()
	newEnd := start + newLayout.Size()

	if newEnd > uintptr(len(curr.data)) {
		return allocgo.Block{}, false
	}

	if !curr.offset.CompareAndSwap(int64(oldEnd), int64(newEnd)) { //nolint:gosec // offsets are bounded by the chunk length
		return allocgo.Block{}, false
	}

	a.stats.BytesUsed.Add(uint64(newLayout.Size() - oldLayout.Size()))

	return allocgo.Block{Ptr: ptr, Size: newLayout.Size()}, true
}

// reclaimTail rewinds the bump offset from start+oldSize to start+newSize
// when the region at ptr is the most recent allocation in the current chunk.
// Best effort, a lost race leaves the tail to bulk reclamation.
func (a *Arena) reclaimTail(ptr unsafe.Pointer, oldSize, newSize uintptr) {
	curr := a.current.Load()
	if curr == nil {
		return
	}

	base := uintptr(unsafe.Pointer(&curr.data[0]))
	p := uintptr(ptr)

	if p < base || p >= base+uintptr(len(curr.data)) {
		return
	}

	start := p - base
	if curr.offset.CompareAndSwap(int64(start+oldSize), int64(start+newSize)) { //nolint:gosec // offsets are bounded by the chunk length
		delta := uint64(oldSize - newSize)
		a.stats.BytesUsed.Add(^(delta - 1)) // atomic subtract
	}
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() Stats {
	return Stats{
		ChunksAllocated: a.stats.ChunksAllocated.Load(),
		BytesReserved:   a.stats.BytesReserved.Load(),
		BytesUsed:       a.stats.BytesUsed.Load(),
		BytesWasted:     a.stats.BytesWasted.Load(),
		ActiveChunks:    a.stats.ActiveChunks.Load(),
		TotalAllocs:     a.stats.TotalAllocs.Load(),
	}
}

// Usage returns the memory usage percentage.
func (a *Arena) Usage() float64 {
	stats := a.Stats()
	if stats.BytesReserved == 0 {
		return 0
	}

	return float64(stats.BytesUsed) / float64(stats.BytesReserved) * 100
}

// Reset clears all allocations and releases extra chunks, keeping only the
// first chunk for reuse.
//
// IMPORTANT:
//  1. Do NOT call Reset concurrently with allocations
//  2. All regions handed out before Reset become invalid
//  3. Useful for reusing the arena across independent build phases
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := a.chunkCount.Load()
	if count == 0 {
		return
	}

	first := a.chunks[0].Load()
	first.offset.Store(0)

	countInt, _ := conv.Uint32ToInt(count) // Safe: count <= MaxChunks
	for i := 1; i < countInt; i++ {
		c := a.chunks[i].Load()
		if c != nil && c.mapping != nil {
			_ = c.mapping.Close()
		}

		a.chunks[i].Store(nil)
	}

	a.chunkCount.Store(1)
	a.current.Store(first)

	a.stats.ActiveChunks.Store(1)
	chunkSizeU64, _ := conv.IntToUint64(a.chunkSize)
	a.stats.BytesReserved.Store(chunkSizeU64)
	a.stats.BytesUsed.Store(0)
	a.stats.BytesWasted.Store(0)
}

// Close unmaps all chunks and renders the arena unusable. Calling Close
// again does nothing.
//
// Do NOT call Close concurrently with allocations.
func (a *Arena) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error

	count := a.chunkCount.Load()
	countInt, _ := conv.Uint32ToInt(count) // Safe: count <= MaxChunks
	for i := 0; i < countInt; i++ {
		c := a.chunks[i].Load()
		if c != nil && c.mapping != nil {
			if err := c.mapping.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		a.chunks[i].Store(nil)
	}

	a.chunkCount.Store(0)
	a.current.Store(nil)

	a.stats.ActiveChunks.Store(0)
	a.stats.BytesReserved.Store(0)
	a.stats.BytesUsed.Store(0)
	a.stats.BytesWasted.Store(0)

	return firstErr
}

func (a *Arena) String() string {
	stats := a.Stats()
	return fmt.Sprintf(
		"Arena{chunks: %d, reserved: %.2f MB, used: %.2f MB, wasted: %.2f KB, usage: %.1f%%, allocs: %d}",
		stats.ActiveChunks,
		float64(stats.BytesReserved)/(1024*1024),
		float64(stats.BytesUsed)/(1024*1024),
		float64(stats.BytesWasted)/1024,
		a.Usage(),
		stats.TotalAllocs,
	)
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
