package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/cinemate/internal/chat"
	"github.com/ent0n29/cinemate/internal/config"
	"github.com/ent0n29/cinemate/internal/convstore"
	"github.com/ent0n29/cinemate/internal/knowledge"
	"github.com/ent0n29/cinemate/internal/logging"
	"github.com/ent0n29/cinemate/internal/movie"
	"github.com/ent0n29/cinemate/internal/observability"
	"github.com/ent0n29/cinemate/internal/protocol"
	"github.com/ent0n29/cinemate/internal/session"
)

// TurnEngine runs one conversation turn.
type TurnEngine interface {
	Turn(ctx context.Context, utterance string, prior *movie.Context) chat.Reply
}

// KnowledgeReader is the read side of the knowledge store.
type KnowledgeReader interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Entry, error)
	FindByTitle(title string) (knowledge.Entry, bool)
	Len() int
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	engine    TurnEngine
	store     convstore.Store
	knowledge KnowledgeReader
	metrics   *observability.Metrics
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, engine TurnEngine, store convstore.Store, kb KnowledgeReader, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	if store == nil {
		store = convstore.NewInMemoryStore()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		engine:    engine,
		store:     store,
		knowledge: kb,
		metrics:   metrics,
		logger:    logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/turn", s.handleTurn)

	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Get("/v1/chat/session/{id}", s.handleGetSession)
	r.Post("/v1/chat/session/{id}/messages", s.handleSessionMessage)
	r.Post("/v1/chat/session/{id}/reset", s.handleResetSession)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/chat/ws", s.handleSessionWS)

	r.Get("/v1/knowledge/search", s.handleKnowledgeSearch)
	r.Get("/v1/knowledge/movies/{title}", s.handleKnowledgeMovie)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_sessions":   s.sessions.ActiveCount(),
		"knowledge_records": s.knowledgeRecords(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "conversation engine not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"knowledge_records":  s.knowledgeRecords(),
		"conversation_store": storeMode(s.store),
	})
}

type turnRequest struct {
	Text    string         `json:"text"`
	Context *movie.Context `json:"context,omitempty"`
}

// handleTurn is the stateless turn: the client carries the context.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Text) > protocol.MaxUserTextLength {
		respondError(w, http.StatusBadRequest, "invalid_request", "text too long")
		return
	}
	if req.Context != nil && req.Context.MainMovie == "" {
		req.Context = nil
	}
	respondJSON(w, http.StatusOK, s.engine.Turn(r.Context(), req.Text, req.Context))
}

func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "knowledge store not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	k := parseIntDefault(r.URL.Query().Get("k"), 3)
	if k <= 0 || k > 50 {
		respondError(w, http.StatusBadRequest, "invalid_request", "k must be between 1 and 50")
		return
	}
	hits, err := s.knowledge.Search(r.Context(), q, k)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "knowledge_search_failed", err.Error())
		return
	}
	out := make([]knowledgeHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, hitFrom(h))
	}
	respondJSON(w, http.StatusOK, map[string]any{"query": q, "results": out})
}

func (s *Server) handleKnowledgeMovie(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "knowledge store not configured")
		return
	}
	title := strings.TrimSpace(chi.URLParam(r, "title"))
	if unescaped, err := url.PathUnescape(title); err == nil {
		title = unescaped
	}
	entry, ok := s.knowledge.FindByTitle(title)
	if !ok {
		respondError(w, http.StatusNotFound, "movie_not_found", "no stored context for "+title)
		return
	}
	respondJSON(w, http.StatusOK, hitFrom(entry))
}

type knowledgeHit struct {
	Slot     int           `json:"slot"`
	Title    string        `json:"title"`
	Distance float32       `json:"distance"`
	Context  movie.Context `json:"context"`
}

func hitFrom(e knowledge.Entry) knowledgeHit {
	return knowledgeHit{Slot: e.Slot, Title: e.Title, Distance: e.Distance, Context: e.Context}
}

func (s *Server) knowledgeRecords() int {
	if s.knowledge == nil {
		return 0
	}
	return s.knowledge.Len()
}

func storeMode(st convstore.Store) string {
	switch st.(type) {
	case *convstore.PostgresStore:
		return "postgres"
	case *convstore.InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func parseIntDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantMessage:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
