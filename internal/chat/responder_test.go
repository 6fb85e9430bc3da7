package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/cinemate/internal/knowledge"
	"github.com/ent0n29/cinemate/internal/llm"
	"github.com/ent0n29/cinemate/internal/movie"
)

type blankGenerator struct{}

func (blankGenerator) Generate(context.Context, llm.Request) (string, error) { return " \n ", nil }

func TestResponderRejectsBlankOutput(t *testing.T) {
	r := NewResponder(blankGenerator{}, 0.9, time.Second)
	_, err := r.Respond(context.Background(), Assembly{Template: TemplateFollowUp}, "hi")
	require.ErrorIs(t, err, llm.ErrMalformed)
}

func TestBuildPromptPerTemplate(t *testing.T) {
	similar := movie.NewRecommendations()
	similar.Set("Heat", movie.Recommendation{Overview: "cops and robbers", Genres: []string{"Crime"}, Rating: 7.9})
	c := movie.NewContext(movie.Record{ID: 1, Title: "Collateral", Genres: []string{"Crime", "Thriller"}, ReleaseDate: "2004-08-05", Director: "Michael Mann"},
		movie.Insufficient(), similar)

	intro := BuildPrompt(Assembly{Template: TemplateIntroduction, Context: c}, "Collateral")
	assert.Contains(t, intro, "Movie: Collateral (2004)")
	assert.Contains(t, intro, "Director: Michael Mann")
	assert.Contains(t, intro, "- Heat [Crime] rated 7.9: cops and robbers")

	deeper := BuildPrompt(Assembly{Template: TemplateDeeper, Context: c}, "yes")
	assert.Contains(t, deeper, "Already suggested (do not repeat these): Heat")

	empty := movie.NewRecommendations()
	steered := BuildPrompt(Assembly{Template: TemplateGenreSteered, Context: c, Fresh: &empty}, "more")
	assert.Contains(t, steered, "ask a question")

	related := movie.NewContext(movie.Record{Title: "Thief", Overview: "a safecracker's last job"}, movie.Insufficient(), movie.NewRecommendations())
	follow := BuildPrompt(Assembly{
		Template: TemplateFollowUp,
		Context:  c,
		Relevant: []knowledge.Entry{{Title: "Thief", Context: related}},
	}, "Who directed it?")
	assert.Contains(t, follow, "- Thief: a safecracker's last job")
	assert.Contains(t, follow, "User question: Who directed it?")
	assert.Contains(t, follow, "say you don't know")
}
