package movie

import (
	"bytes"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Recommendations maps movie titles to recommendations and remembers insertion
// order, so iteration (and therefore prompt and embedding text) is
// deterministic. Setting an existing title overwrites it in place.
type Recommendations struct {
	om *orderedmap.OrderedMap[string, Recommendation]
}

// NewRecommendations returns an empty, ready-to-use map.
func NewRecommendations() Recommendations {
	return Recommendations{om: orderedmap.New[string, Recommendation]()}
}

// Set stores rec under title, keeping the original position for known titles.
func (r *Recommendations) Set(title string, rec Recommendation) {
	if r.om == nil {
		r.om = orderedmap.New[string, Recommendation]()
	}
	r.om.Set(title, rec)
}

func (r Recommendations) Get(title string) (Recommendation, bool) {
	if r.om == nil {
		return Recommendation{}, false
	}
	return r.om.Get(title)
}

func (r Recommendations) Len() int {
	if r.om == nil {
		return 0
	}
	return r.om.Len()
}

// Titles returns titles in insertion order.
func (r Recommendations) Titles() []string {
	out := make([]string, 0, r.Len())
	r.Each(func(title string, _ Recommendation) { out = append(out, title) })
	return out
}

// Each calls fn for every entry in insertion order.
func (r Recommendations) Each(fn func(title string, rec Recommendation)) {
	if r.om == nil {
		return
	}
	for p := r.om.Oldest(); p != nil; p = p.Next() {
		fn(p.Key, p.Value)
	}
}

func (r Recommendations) Clone() Recommendations {
	out := NewRecommendations()
	r.Each(func(title string, rec Recommendation) {
		out.Set(title, rec.Clone())
	})
	return out
}

// MarshalJSON encodes the map as a JSON object whose keys follow insertion order.
func (r Recommendations) MarshalJSON() ([]byte, error) {
	if r.om == nil {
		return []byte("{}"), nil
	}
	return r.om.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, preserving the key order of the input.
func (r *Recommendations) UnmarshalJSON(data []byte) error {
	*r = NewRecommendations()
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '{' {
		return fmt.Errorf("decode recommendations: expected object")
	}
	if err := r.om.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode recommendations: %w", err)
	}
	return nil
}
