// Package slab provides a page-granular Allocator over a single anonymous
// memory mapping.
//
// A Slab reserves its whole capacity up front and hands it out in multiples
// of the page size. A roaring bitmap indexes the free pages, so allocation is
// a first-fit search for a contiguous run and release is a range insert.
// Compared to the arena provider, a Slab gives every region back on
// Deallocate and can grow a region in place whenever the pages behind it are
// still free.
//
// # Page Granularity
//
// Every allocation occupies whole pages. Requests smaller than a page consume
// one page; the Block reports the full page extent so callers can use the
// excess. Alignments up to the page size are satisfied automatically because
// regions start on page boundaries.
//
// # Memory Return
//
// Freed page ranges are advised to the kernel with AccessDontNeed (enabled by
// default), so the physical memory behind them can be reclaimed while the
// address range stays mapped. Disable it via Options.DontNeed when freed
// pages are likely to be reused immediately.
//
// # Concurrency
//
// All operations are safe for concurrent use; a mutex guards the free-page
// index. Close invalidates every outstanding region.
//
// # GC Visibility
//
// Slab memory is an anonymous mapping outside the Go heap. The garbage
// collector does not scan it; values stored there must not contain Go
// pointers.
//
// # Usage
//
//	s, err := slab.New(64*1024*1024, func(o *slab.Options) {
//		o.DontNeed = false
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	buf := allocgo.NewRawBuffer[float64](1024, s)
//	defer buf.Release()
package slab
