// Package audio splits and normalizes uploaded audio.
package audio

import "iter"

// DefaultChunkBytes is the default upper bound for one provider request.
const DefaultChunkBytes = 5 << 20

// Range is a contiguous byte range of the source content.
type Range struct {
	Index int
	Start int64
	End   int64 // exclusive
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 { return r.End - r.Start }

// ChunkCount returns ceil(size/maxChunk), and 0 for empty content.
func ChunkCount(size, maxChunk int64) int {
	if size <= 0 || maxChunk <= 0 {
		return 0
	}
	return int((size + maxChunk - 1) / maxChunk)
}

// Chunks yields the ranges covering [0, size) in order. Every range is at
// most maxChunk bytes and the last one ends at size. The sequence can be
// iterated any number of times.
func Chunks(size, maxChunk int64) iter.Seq[Range] {
	return func(yield func(Range) bool) {
		if maxChunk <= 0 {
			return
		}
		for i, start := 0, int64(0); start < size; i++ {
			end := min(start+maxChunk, size)
			if !yield(Range{Index: i, Start: start, End: end}) {
				return
			}
			start = end
		}
	}
}

// Plan collects Chunks into a slice.
func Plan(size, maxChunk int64) []Range {
	ranges := make([]Range, 0, ChunkCount(size, maxChunk))
	for r := range Chunks(size, maxChunk) {
		ranges = append(ranges, r)
	}
	return ranges
}
