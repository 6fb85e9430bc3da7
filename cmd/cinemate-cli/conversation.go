package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ent0n29/cinemate/internal/chat"
	"github.com/ent0n29/cinemate/internal/movie"
)

const banner = `Tell me a movie you liked and I'll find similar ones.
Reply "yes" for details, "more" for genre picks, or ask anything about them.
Type "new" to start over and "quit" to leave.`

type turnRunner interface {
	Turn(ctx context.Context, utterance string, prior *movie.Context) chat.Reply
}

// runChat reads one utterance per line until EOF or "quit".
func runChat(ctx context.Context, engine turnRunner, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, banner)
	scanner := bufio.NewScanner(in)
	var state chat.State
	for {
		fmt.Fprint(out, "\nyou> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		switch normalizeCommand(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "new", "reset":
			state = chat.State{}
			fmt.Fprintln(out, "Starting a new search. Which movie did you enjoy?")
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		state = turn(ctx, engine, line, state, out)
	}
}

// runScript runs utterances in order: the first names a movie, the rest
// are follow-ups on the same conversation.
func runScript(ctx context.Context, engine turnRunner, utterances []string, out io.Writer) error {
	var state chat.State
	for i, u := range utterances {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintf(out, "\nyou> %s\n", u)
		}
		state = turn(ctx, engine, u, state, out)
		if i == 0 && !state.Initialized() {
			return errors.New("no conversation to continue")
		}
	}
	return nil
}

func turn(ctx context.Context, engine turnRunner, utterance string, state chat.State, out io.Writer) chat.State {
	reply := engine.Turn(ctx, utterance, state.Context)
	fmt.Fprintf(out, "\ncinemate> %s\n", reply.Text)
	if reply.Hint != "" {
		fmt.Fprintf(out, "\n(%s)\n", reply.Hint)
	}
	if reply.Err != chat.ErrorNone && reply.Err != chat.ErrorMovieNotFound {
		return state
	}
	return chat.State{Context: reply.Context}
}
