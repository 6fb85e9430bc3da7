package chat

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ent0n29/cinemate/internal/catalog"
	"github.com/ent0n29/cinemate/internal/llm"
	"github.com/ent0n29/cinemate/internal/movie"
)

const (
	apologyText   = "Sorry, I ran into a problem while working on that. Please try again in a moment."
	emptyTitle    = "Tell me the name of a movie you enjoyed and I'll take it from there."
	followUpHint  = "You can ask me specific questions about these movies or request more recommendations!"
	notFoundFmt   = "I couldn't find a movie called %q. Could you check the spelling or try another title?"
	outcomeOK     = "ok"
	outcomePanic  = "panic"
	maxTitleChars = 200
)

// Reply is the result of one turn. Context is nil while the conversation has
// no movie yet.
type Reply struct {
	Text    string         `json:"text"`
	Hint    string         `json:"hint,omitempty"`
	Context *movie.Context `json:"context,omitempty"`
	Intent  Intent         `json:"intent"`
	Err     ErrorKind      `json:"error,omitempty"`
}

// Engine runs turns. It keeps no conversation state: the caller passes the
// prior context in and stores the returned one.
type Engine struct {
	router    Router
	assembler *Assembler
	responder *Responder
	observer  Observer
	logger    zerolog.Logger
}

func NewEngine(router Router, assembler *Assembler, responder *Responder, observer Observer, logger zerolog.Logger) *Engine {
	if router == nil {
		router = KeywordRouter{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		router:    router,
		assembler: assembler,
		responder: responder,
		observer:  observer,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// Turn handles one utterance. It always returns a usable reply: a title the
// catalog does not know yields a friendly negative with a nil context, and
// any other failure yields an apology with prior untouched.
func (e *Engine) Turn(ctx context.Context, utterance string, prior *movie.Context) (reply Reply) {
	start := time.Now()
	intent := e.router.Route(utterance, prior != nil)
	reply = Reply{Intent: intent, Context: prior}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("intent", string(intent)).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("turn panicked")
			reply = Reply{Text: apologyText, Context: prior, Intent: intent, Err: ErrorInternal}
			e.observer.ObserveTurn(string(intent), outcomePanic, time.Since(start))
		}
	}()

	assembly, err := e.assemble(ctx, intent, utterance, prior)
	if err == nil {
		var text string
		genStart := time.Now()
		text, err = e.responder.Respond(ctx, assembly, utterance)
		e.observer.ObserveTurnStage("generate", time.Since(genStart))
		if err == nil {
			next := assembly.Context
			reply.Text = text
			reply.Context = &next
			if intent == IntentNewMovie {
				reply.Hint = followUpHint
			}
			e.observer.ObserveTurn(string(intent), outcomeOK, time.Since(start))
			return reply
		}
		e.observer.ObserveUpstreamError("llm")
	}

	kind := classify(err)
	reply.Err = kind
	switch kind {
	case ErrorMovieNotFound:
		reply.Context = nil
		if strings.TrimSpace(utterance) == "" {
			reply.Text = emptyTitle
		} else {
			reply.Text = fmt.Sprintf(notFoundFmt, truncate(strings.TrimSpace(utterance), maxTitleChars))
		}
		e.logger.Info().Str("intent", string(intent)).Str("title", utterance).Msg("movie not found")
	default:
		reply.Text = apologyText
		reply.Context = prior
		e.logger.Error().Err(err).Str("intent", string(intent)).Str("kind", string(kind)).Str("utterance", truncate(utterance, maxTitleChars)).Msg("turn failed")
	}
	e.observer.ObserveTurn(string(intent), string(kind), time.Since(start))
	return reply
}

func (e *Engine) assemble(ctx context.Context, intent Intent, utterance string, prior *movie.Context) (Assembly, error) {
	switch intent {
	case IntentNewMovie:
		return e.assembler.NewMovie(ctx, utterance)
	case IntentAffirmative:
		return e.assembler.Affirmative(*prior), nil
	case IntentMoreRecommendations:
		return e.assembler.More(ctx, *prior), nil
	case IntentQuestion:
		return e.assembler.Question(ctx, *prior, utterance), nil
	default:
		return Assembly{}, fmt.Errorf("unknown intent %q", intent)
	}
}

func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrMovieNotFound):
		return ErrorMovieNotFound
	case errors.Is(err, catalog.ErrUpstream),
		errors.Is(err, llm.ErrUnreachable),
		errors.Is(err, llm.ErrMalformed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorUpstreamTransient
	default:
		return ErrorInternal
	}
}

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
