package chat

import "strings"

// Router classifies an utterance given whether the conversation already has
// a context. Implementations must be pure.
type Router interface {
	Route(utterance string, initialized bool) Intent
}

var (
	affirmatives        = map[string]struct{}{"yes": {}, "y": {}, "sure": {}, "ok": {}, "yeah": {}}
	recommendationWords = []string{"more", "similar", "like"}
)

// KeywordRouter is the substring heuristic. Rules apply in order: no context
// means a new movie; a short affirmative continues; any recommendation word
// asks for more; anything else is a question.
type KeywordRouter struct{}

func (KeywordRouter) Route(utterance string, initialized bool) Intent {
	if !initialized {
		return IntentNewMovie
	}
	trimmed := strings.ToLower(strings.TrimSpace(utterance))
	if len(trimmed) <= 4 {
		if _, ok := affirmatives[trimmed]; ok {
			return IntentAffirmative
		}
	}
	for _, w := range recommendationWords {
		if strings.Contains(trimmed, w) {
			return IntentMoreRecommendations
		}
	}
	return IntentQuestion
}
