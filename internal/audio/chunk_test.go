package audio

import "testing"

func TestChunks(t *testing.T) {
	const mb = 1 << 20
	tests := []struct {
		name     string
		size     int64
		max      int64
		wantLens []int64
	}{
		{"empty", 0, 5 * mb, nil},
		{"exact_single", 5 * mb, 5 * mb, []int64{5 * mb}},
		{"smaller_than_max", 100, 5 * mb, []int64{100}},
		{"twelve_over_five", 12 * mb, 5 * mb, []int64{5 * mb, 5 * mb, 2 * mb}},
		{"exact_multiple", 10 * mb, 5 * mb, []int64{5 * mb, 5 * mb}},
		{"one_byte_over", 5*mb + 1, 5 * mb, []int64{5 * mb, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges := Plan(tt.size, tt.max)
			if len(ranges) != len(tt.wantLens) {
				t.Fatalf("len = %d, want %d", len(ranges), len(tt.wantLens))
			}
			if got := ChunkCount(tt.size, tt.max); got != len(tt.wantLens) {
				t.Errorf("ChunkCount = %d, want %d", got, len(tt.wantLens))
			}
			var next int64
			for i, r := range ranges {
				if r.Index != i {
					t.Errorf("ranges[%d].Index = %d", i, r.Index)
				}
				if r.Start != next {
					t.Errorf("ranges[%d].Start = %d, want %d (gap or overlap)", i, r.Start, next)
				}
				if r.Len() != tt.wantLens[i] {
					t.Errorf("ranges[%d].Len = %d, want %d", i, r.Len(), tt.wantLens[i])
				}
				if r.Len() > tt.max {
					t.Errorf("ranges[%d] exceeds max", i)
				}
				next = r.End
			}
			if len(ranges) > 0 && next != tt.size {
				t.Errorf("last End = %d, want %d", next, tt.size)
			}
		})
	}
}

func TestChunksRestartable(t *testing.T) {
	seq := Chunks(11, 4)
	first := 0
	for range seq {
		first++
	}
	second := 0
	for r := range seq {
		second++
		if r.Index == 0 {
			break
		}
	}
	if first != 3 {
		t.Errorf("first pass = %d ranges, want 3", first)
	}
	if second != 1 {
		t.Errorf("second pass stopped after %d, want 1", second)
	}
}
