// Package vectorindex is an append-only, exact (flat) squared-L2 vector index
// with a slot-to-record map, persisted as a pair of files that are always
// written and read together.
package vectorindex

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ent0n29/cinemate/internal/movie"
)

var (
	ErrDimensionMismatch    = errors.New("vector dimension mismatch")
	ErrInconsistentSnapshot = errors.New("inconsistent index snapshot")
)

// Record is what the index keeps per slot besides the vector.
type Record struct {
	Slot    int           `json:"slot"`
	Title   string        `json:"title"`
	Context movie.Context `json:"context"`
}

// Hit is one search result. Lower distance means more similar.
type Hit struct {
	Distance float32
	Slot     int
}

// Index is not safe for concurrent use; callers serialize writers and guard
// readers (see knowledge.Store).
type Index struct {
	dim     int
	vectors []float32
	count   int
	records map[int]Record
}

func New(dim int) *Index {
	return &Index{
		dim:     dim,
		records: make(map[int]Record),
	}
}

func (ix *Index) Dim() int { return ix.dim }

// Len is the number of vectors, which is also the next slot to be assigned.
func (ix *Index) Len() int { return ix.count }

// Add appends vec and returns its slot, equal to the number of vectors held
// before the call.
func (ix *Index) Add(vec []float32) (int, error) {
	if len(vec) != ix.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), ix.dim)
	}
	slot := ix.count
	ix.vectors = append(ix.vectors, vec...)
	ix.count++
	return slot, nil
}

// SetRecord attaches rec to an existing slot.
func (ix *Index) SetRecord(rec Record) error {
	if rec.Slot < 0 || rec.Slot >= ix.count {
		return fmt.Errorf("set record: slot %d out of range [0,%d)", rec.Slot, ix.count)
	}
	ix.records[rec.Slot] = rec
	return nil
}

func (ix *Index) Record(slot int) (Record, bool) {
	rec, ok := ix.records[slot]
	return rec, ok
}

// Records returns all records in slot order.
func (ix *Index) Records() []Record {
	out := make([]Record, 0, len(ix.records))
	for _, rec := range ix.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Truncate drops every slot >= n. It exists to undo an Add whose snapshot
// could not be written.
func (ix *Index) Truncate(n int) {
	if n < 0 || n >= ix.count {
		return
	}
	for slot := n; slot < ix.count; slot++ {
		delete(ix.records, slot)
	}
	ix.vectors = ix.vectors[:n*ix.dim]
	ix.count = n
}

// Search returns up to k hits ordered by ascending squared L2 distance. Ties
// keep insertion order.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	if k <= 0 || ix.count == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, ix.count)
	for slot := 0; slot < ix.count; slot++ {
		v := ix.vectors[slot*ix.dim : (slot+1)*ix.dim]
		hits = append(hits, Hit{Distance: squaredL2(query, v), Slot: slot})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	out := make([]Hit, 0, min(k, ix.count))
	for _, h := range hits {
		if h.Slot < 0 {
			continue
		}
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
