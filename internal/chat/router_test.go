package chat

import "testing"

func TestKeywordRouter(t *testing.T) {
	cases := []struct {
		utterance   string
		initialized bool
		want        Intent
	}{
		{"yes", false, IntentNewMovie},
		{"Inception", false, IntentNewMovie},
		{"more like this", false, IntentNewMovie},
		{"yes", true, IntentAffirmative},
		{"  Yeah ", true, IntentAffirmative},
		{"Y", true, IntentAffirmative},
		{"ok", true, IntentAffirmative},
		{"sure", true, IntentAffirmative},
		{"yes please", true, IntentQuestion},
		{"nope", true, IntentQuestion},
		{"more", true, IntentMoreRecommendations},
		{"Tell me more similar movies", true, IntentMoreRecommendations},
		{"anything LIKE it?", true, IntentMoreRecommendations},
		{"What's similar about the acting style?", true, IntentMoreRecommendations},
		{"What are the main themes?", true, IntentQuestion},
		{"", true, IntentQuestion},
	}
	r := KeywordRouter{}
	for _, tc := range cases {
		if got := r.Route(tc.utterance, tc.initialized); got != tc.want {
			t.Fatalf("Route(%q, %v) = %q, want %q", tc.utterance, tc.initialized, got, tc.want)
		}
		if again := r.Route(tc.utterance, tc.initialized); again != tc.want {
			t.Fatalf("Route(%q, %v) not stable: %q then %q", tc.utterance, tc.initialized, tc.want, again)
		}
	}
}
