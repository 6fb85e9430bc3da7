package movie

import (
	"fmt"
	"slices"
	"strings"
)

// Record is the catalog metadata for a single movie. It is never mutated once
// fetched; larger structures copy it.
type Record struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview"`
	Genres      []string `json:"genres"`
	ReleaseDate string   `json:"release_date"`
	VoteAverage float64  `json:"vote_average"`
	Director    string   `json:"director,omitempty"`
	Cast        []string `json:"cast,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Year returns the release year or "" when the release date is unknown.
func (r Record) Year() string {
	if len(r.ReleaseDate) >= 4 {
		return r.ReleaseDate[:4]
	}
	return ""
}

// OpinionSummary is the structured audience opinion produced once per movie
// from a batch of commentary.
type OpinionSummary struct {
	EmotionalTone string   `json:"emotional_tone" jsonschema:"description=Key emotions expressed by the audience"`
	Sentiment     string   `json:"sentiment" jsonschema:"enum=positive,enum=negative,enum=mixed,enum=unknown"`
	Pros          []string `json:"pros" jsonschema:"description=Two or three most praised elements"`
	Cons          []string `json:"cons" jsonschema:"description=Two or three most criticized elements"`
	Themes        []string `json:"themes" jsonschema:"description=Two or three recurring themes"`
	Summary       string   `json:"summary" jsonschema:"description=Two or three sentence overview"`
	Rating        *float64 `json:"rating_out_of_10,omitempty" jsonschema:"minimum=0,maximum=10"`
}

const SentimentUnknown = "unknown"

// Insufficient is the summary used when there is no commentary to analyze or
// the analysis could not be produced.
func Insufficient() OpinionSummary {
	return OpinionSummary{
		EmotionalTone: "unknown",
		Sentiment:     SentimentUnknown,
		Pros:          []string{},
		Cons:          []string{},
		Themes:        []string{},
		Summary:       "Not enough audience commentary was available to summarize opinion.",
	}
}

// Clone returns a copy of s that shares no slices or pointers with it.
func (s OpinionSummary) Clone() OpinionSummary {
	out := s
	out.Pros = slices.Clone(s.Pros)
	out.Cons = slices.Clone(s.Cons)
	out.Themes = slices.Clone(s.Themes)
	if s.Rating != nil {
		rating := *s.Rating
		out.Rating = &rating
	}
	return out
}

// IsInsufficient reports whether s carries no real opinion data.
func (s OpinionSummary) IsInsufficient() bool {
	return strings.EqualFold(s.Sentiment, SentimentUnknown) &&
		len(s.Pros) == 0 && len(s.Cons) == 0 && len(s.Themes) == 0
}

// Text renders the summary as a compact single paragraph, used for embedding
// documents and prompt context.
func (s OpinionSummary) Text() string {
	var b strings.Builder
	if s.Summary != "" {
		b.WriteString(s.Summary)
	}
	add := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s: %s.", label, strings.Join(items, ", "))
	}
	if s.Sentiment != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Sentiment: %s.", s.Sentiment)
	}
	if s.EmotionalTone != "" && !strings.EqualFold(s.EmotionalTone, "unknown") {
		fmt.Fprintf(&b, " Tone: %s.", s.EmotionalTone)
	}
	add("Pros", s.Pros)
	add("Cons", s.Cons)
	add("Themes", s.Themes)
	if s.Rating != nil {
		fmt.Fprintf(&b, " Audience rating: %.1f/10.", *s.Rating)
	}
	return strings.TrimSpace(b.String())
}

// Recommendation is what the conversation keeps about a movie other than the
// main one.
type Recommendation struct {
	ID       int             `json:"id,omitempty"`
	Genres   []string        `json:"genres"`
	Overview string          `json:"overview"`
	Rating   float64         `json:"rating"`
	Analysis *OpinionSummary `json:"analysis,omitempty"`
}

// RecommendationFrom projects a catalog record into a Recommendation.
func RecommendationFrom(r Record) Recommendation {
	return Recommendation{
		ID:       r.ID,
		Genres:   append([]string(nil), r.Genres...),
		Overview: r.Overview,
		Rating:   r.VoteAverage,
	}
}

func (r Recommendation) Clone() Recommendation {
	out := r
	out.Genres = slices.Clone(r.Genres)
	if r.Analysis != nil {
		a := r.Analysis.Clone()
		out.Analysis = &a
	}
	return out
}

// Context is the knowledge accumulated by one conversation. It is passed by
// value into and out of every turn; the caller owns it between turns.
type Context struct {
	MainMovie     string          `json:"main_movie"`
	MainAnalysis  OpinionSummary  `json:"main_analysis"`
	MovieDetails  Record          `json:"movie_details"`
	SimilarMovies Recommendations `json:"similar_movies"`
	// AdditionalRecommendations is nil until a "more" request has been served.
	AdditionalRecommendations *Recommendations `json:"additional_recommendations,omitempty"`
}

// NewContext builds a Context for details, keeping MainMovie in sync with the
// record title.
func NewContext(details Record, analysis OpinionSummary, similar Recommendations) Context {
	return Context{
		MainMovie:     details.Title,
		MainAnalysis:  analysis,
		MovieDetails:  details,
		SimilarMovies: similar,
	}
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	out.MainAnalysis = c.MainAnalysis.Clone()
	out.MovieDetails.Genres = append([]string(nil), c.MovieDetails.Genres...)
	out.MovieDetails.Cast = append([]string(nil), c.MovieDetails.Cast...)
	out.MovieDetails.Keywords = append([]string(nil), c.MovieDetails.Keywords...)
	out.SimilarMovies = c.SimilarMovies.Clone()
	if c.AdditionalRecommendations != nil {
		extra := c.AdditionalRecommendations.Clone()
		out.AdditionalRecommendations = &extra
	}
	return out
}
