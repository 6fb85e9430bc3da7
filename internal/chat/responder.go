package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/cinemate/internal/llm"
	"github.com/ent0n29/cinemate/internal/movie"
)

const DefaultTemperature = 0.7

// Responder renders an Assembly into a prompt and returns the model's reply.
type Responder struct {
	gen         llm.Generator
	temperature float32
	timeout     time.Duration
}

func NewResponder(gen llm.Generator, temperature float32, timeout time.Duration) *Responder {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Responder{gen: gen, temperature: temperature, timeout: timeout}
}

func (r *Responder) Respond(ctx context.Context, a Assembly, utterance string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.gen.Generate(ctx, llm.Request{
		Prompt:      BuildPrompt(a, utterance),
		Temperature: r.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate %s reply: %w", a.Template, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("generate %s reply: %w", a.Template, llm.ErrMalformed)
	}
	return text, nil
}

// BuildPrompt renders the template a was assembled for.
func BuildPrompt(a Assembly, utterance string) string {
	var b strings.Builder
	c := a.Context
	switch a.Template {
	case TemplateIntroduction:
		fmt.Fprintf(&b, "You are a movie expert chatting with someone who just mentioned %q.\n\n", c.MainMovie)
		writeMovieFacts(&b, c)
		writeSimilar(&b, "Similar movies", c.SimilarMovies)
		b.WriteString(`
Write a short, conversational introduction:
1. A two-sentence hook about the movie.
2. Its genres.
3. One standout feature audiences mention.
4. Two or three of the similar movies above, each with a one-line reason.
5. End with a question that invites the user to keep talking.
Use only the facts above.`)

	case TemplateDeeper:
		fmt.Fprintf(&b, "The user wants to go deeper on %q.\n\n", c.MainMovie)
		writeMovieFacts(&b, c)
		if titles := c.SimilarMovies.Titles(); len(titles) > 0 {
			fmt.Fprintf(&b, "\nAlready suggested (do not repeat these): %s\n", strings.Join(titles, "; "))
		}
		if c.AdditionalRecommendations != nil && c.AdditionalRecommendations.Len() > 0 {
			fmt.Fprintf(&b, "Also already suggested: %s\n", strings.Join(c.AdditionalRecommendations.Titles(), "; "))
		}
		b.WriteString(`
Take a different angle than before: focus on themes, style or craft rather than plot.
Suggest two or three new movies that fit that angle, with a reason for each.
End by asking which angle the user would like to explore next.`)

	case TemplateGenreSteered:
		fmt.Fprintf(&b, "The user is talking about %q and said: %q\n\n", c.MainMovie, utterance)
		writeMovieFacts(&b, c)
		if a.Fresh != nil && a.Fresh.Len() > 0 {
			writeSimilar(&b, "Genre recommendations", *a.Fresh)
			b.WriteString(`
Answer the user, connect your answer to one genre or theme the movies share,
then present each genre recommendation above with a short reason.`)
		} else {
			b.WriteString(`
No genre recommendations are available right now.
Answer the user, connect your answer to one genre or theme of the movie,
then ask a question that helps narrow down what they want to watch next.`)
		}

	default:
		fmt.Fprintf(&b, "As a movie expert, answer the user's question using only the analysis data below.\n\nMain movie: %s\n", c.MainMovie)
		writeMovieFacts(&b, c)
		writeSimilar(&b, "Similar movies", c.SimilarMovies)
		if c.AdditionalRecommendations != nil {
			writeSimilar(&b, "Other recommendations", *c.AdditionalRecommendations)
		}
		if len(a.Relevant) > 0 {
			b.WriteString("\nRelated movies from earlier research:\n")
			for _, e := range a.Relevant {
				fmt.Fprintf(&b, "- %s: %s", e.Title, e.Context.MovieDetails.Overview)
				if text := e.Context.MainAnalysis.Text(); text != "" && !e.Context.MainAnalysis.IsInsufficient() {
					fmt.Fprintf(&b, " Audience: %s", text)
				}
				b.WriteString("\n")
			}
		}
		fmt.Fprintf(&b, "\nUser question: %s\n", utterance)
		b.WriteString("\nIf the answer is not in the data above, say you don't know rather than guessing.")
	}
	return b.String()
}

func writeMovieFacts(b *strings.Builder, c movie.Context) {
	d := c.MovieDetails
	fmt.Fprintf(b, "Movie: %s", d.Title)
	if y := d.Year(); y != "" {
		fmt.Fprintf(b, " (%s)", y)
	}
	b.WriteString("\n")
	if len(d.Genres) > 0 {
		fmt.Fprintf(b, "Genres: %s\n", strings.Join(d.Genres, ", "))
	}
	if d.Director != "" {
		fmt.Fprintf(b, "Director: %s\n", d.Director)
	}
	if len(d.Cast) > 0 {
		fmt.Fprintf(b, "Cast: %s\n", strings.Join(d.Cast, ", "))
	}
	if d.VoteAverage > 0 {
		fmt.Fprintf(b, "Rating: %.1f/10\n", d.VoteAverage)
	}
	if d.Overview != "" {
		fmt.Fprintf(b, "Overview: %s\n", d.Overview)
	}
	if c.MainAnalysis.IsInsufficient() {
		b.WriteString("Audience opinion: not enough commentary available.\n")
	} else {
		fmt.Fprintf(b, "Audience opinion: %s\n", c.MainAnalysis.Text())
	}
}

func writeSimilar(b *strings.Builder, heading string, recs movie.Recommendations) {
	if recs.Len() == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	recs.Each(func(title string, r movie.Recommendation) {
		fmt.Fprintf(b, "- %s", title)
		if len(r.Genres) > 0 {
			fmt.Fprintf(b, " [%s]", strings.Join(r.Genres, ", "))
		}
		if r.Rating > 0 {
			fmt.Fprintf(b, " rated %.1f", r.Rating)
		}
		if r.Overview != "" {
			fmt.Fprintf(b, ": %s", r.Overview)
		}
		if r.Analysis != nil && !r.Analysis.IsInsufficient() {
			fmt.Fprintf(b, " Audience: %s", r.Analysis.Text())
		}
		b.WriteString("\n")
	})
}
