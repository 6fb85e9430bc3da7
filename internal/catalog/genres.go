package catalog

import (
	"sort"
	"strings"
)

// TMDB movie genre ids.
var genreIDs = map[string]int{
	"action":          28,
	"adventure":       12,
	"animation":       16,
	"comedy":          35,
	"crime":           80,
	"documentary":     99,
	"drama":           18,
	"family":          10751,
	"fantasy":         14,
	"history":         36,
	"horror":          27,
	"music":           10402,
	"mystery":         9648,
	"romance":         10749,
	"science fiction": 878,
	"tv movie":        10770,
	"thriller":        53,
	"war":             10752,
	"western":         37,
}

var genreNames = func() map[int]string {
	out := make(map[int]string, len(genreIDs))
	for name, id := range genreIDs {
		out[id] = titleCase(name)
	}
	// TMDB spells this one with a capital M.
	out[10770] = "TV Movie"
	return out
}()

// GenreID looks a genre name up case-insensitively.
func GenreID(name string) (int, bool) {
	id, ok := genreIDs[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// GenreIDs maps names to ids in input order, dropping unknown names and
// duplicates.
func GenreIDs(names []string) []int {
	out := make([]int, 0, len(names))
	seen := make(map[int]struct{}, len(names))
	for _, n := range names {
		id, ok := GenreID(n)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GenreName is the display name for a TMDB genre id.
func GenreName(id int) (string, bool) {
	n, ok := genreNames[id]
	return n, ok
}

// KnownGenres lists display names in alphabetical order.
func KnownGenres() []string {
	out := make([]string, 0, len(genreNames))
	for _, n := range genreNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
