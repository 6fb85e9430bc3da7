// Package convstore persists chat sessions: the transcript and the movie
// context threaded between turns.
package convstore

import (
	"context"
	"time"

	"github.com/ent0n29/cinemate/internal/movie"
)

// TurnRecord stores a single user or assistant message.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Intent      string    `json:"intent,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves conversation state.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	// SaveContext replaces the session's context; nil clears it.
	SaveContext(ctx context.Context, sessionID string, c *movie.Context) error
	// LoadContext returns nil when the session has no context yet.
	LoadContext(ctx context.Context, sessionID string) (*movie.Context, error)
	Close() error
}
