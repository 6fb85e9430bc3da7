package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/cinemate/internal/chat"
	"github.com/ent0n29/cinemate/internal/convstore"
	"github.com/ent0n29/cinemate/internal/policy"
	"github.com/ent0n29/cinemate/internal/protocol"
	"github.com/ent0n29/cinemate/internal/reliability"
	"github.com/ent0n29/cinemate/internal/session"
)

const transcriptLimit = 20

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.ResponseFor(sess, s.sessions.InactivityTimeout()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	turns, err := s.store.RecentTurns(r.Context(), sess.ID, transcriptLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	if turns == nil {
		turns = []convstore.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session":    sess,
		"transcript": turns,
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Text) > protocol.MaxUserTextLength {
		respondError(w, http.StatusBadRequest, "invalid_request", "text too long")
		return
	}

	reply, _, err := s.runSessionTurn(r.Context(), id, req.Text)
	if err != nil {
		status, code := sessionErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.resetSession(r.Context(), id); err != nil {
		status, code := sessionErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	sess, _ := s.sessions.Get(id)
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err := s.store.SaveContext(r.Context(), id, nil); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("clear conversation context failed")
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

// runSessionTurn runs one turn against the session's stored context and
// stores the context the turn returns.
func (s *Server) runSessionTurn(ctx context.Context, sessionID, text string) (chat.Reply, string, error) {
	turnID, err := s.sessions.StartTurn(sessionID)
	if err != nil {
		return chat.Reply{}, "", err
	}
	mainMovie := ""
	defer func() {
		_ = s.sessions.EndTurn(sessionID, turnID, mainMovie)
	}()

	prior, err := s.store.LoadContext(ctx, sessionID)
	if err != nil {
		return chat.Reply{}, turnID, err
	}
	if prior != nil {
		mainMovie = prior.MainMovie
	}

	reply := s.engine.Turn(ctx, text, prior)
	if err := s.store.SaveContext(ctx, sessionID, reply.Context); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("save conversation context failed")
	} else if reply.Context != nil {
		mainMovie = reply.Context.MainMovie
	} else {
		mainMovie = ""
	}
	s.saveTranscript(ctx, sessionID, text, reply)
	return reply, turnID, nil
}

func (s *Server) saveTranscript(ctx context.Context, sessionID, text string, reply chat.Reply) {
	userText, userRedacted := policy.RedactPII(text)
	records := []convstore.TurnRecord{
		{SessionID: sessionID, Role: "user", Content: userText, Intent: string(reply.Intent), PIIRedacted: userRedacted},
		{SessionID: sessionID, Role: "assistant", Content: reply.Text, Intent: string(reply.Intent)},
	}
	for _, rec := range records {
		if err := s.store.SaveTurn(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("save transcript failed")
			return
		}
	}
}

func (s *Server) resetSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Reset(sessionID); err != nil {
		return err
	}
	if err := s.store.SaveContext(ctx, sessionID, nil); err != nil {
		return err
	}
	s.metrics.SessionEvents.WithLabelValues("reset").Inc()
	return nil
}

func sessionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return http.StatusGone, "session_ended"
	case errors.Is(err, session.ErrTurnInProgress):
		return http.StatusConflict, "turn_in_progress"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}

	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 32)
	outbound := make(chan any, 32)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		parsed, err := protocol.ParseClientMessage(data)
		if err == nil {
			err = checkSessionID(parsed, sessionID)
		}
		if err != nil {
			select {
			case outbound <- errorEvent(sessionID, "invalid_client_message", "gateway", err.Error()):
			default:
				// Writes stay single-threaded; drop if the queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// runConnection handles inbound messages one at a time until inbound closes.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}
	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ready"})

	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.UserMessage:
			reply, turnID, err := s.runSessionTurn(ctx, sessionID, m.Text)
			if err != nil {
				_, code := sessionErrorStatus(err)
				send(errorEvent(sessionID, code, "session", err.Error()))
				continue
			}
			if reply.Err != "" {
				send(errorEvent(sessionID, string(reply.Err), "engine", reply.Text))
			}
			out := protocol.AssistantMessage{
				Type:      protocol.TypeAssistantMessage,
				SessionID: sessionID,
				TurnID:    turnID,
				Text:      reply.Text,
				Hint:      reply.Hint,
				Intent:    string(reply.Intent),
			}
			if reply.Context != nil {
				out.MainMovie = reply.Context.MainMovie
			}
			send(out)
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionReset:
				if err := s.resetSession(ctx, sessionID); err != nil {
					_, code := sessionErrorStatus(err)
					send(errorEvent(sessionID, code, "session", err.Error()))
					continue
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "context_reset"})
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sessionID); err == nil {
					_ = s.store.SaveContext(ctx, sessionID, nil)
					s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
					s.metrics.SessionEvents.WithLabelValues("ended").Inc()
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
			}
		}
	}
}

func checkSessionID(msg any, sessionID string) error {
	var got string
	switch m := msg.(type) {
	case protocol.UserMessage:
		got = m.SessionID
	case protocol.ClientControl:
		got = m.SessionID
	}
	if got != sessionID {
		return errors.New("session_id does not match the connection")
	}
	return nil
}

func errorEvent(sessionID, code, source, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: reliability.IsRetryableErrorCode(code),
		Detail:    detail,
	}
}
