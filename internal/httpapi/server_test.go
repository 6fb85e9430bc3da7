package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/cinemate/internal/chat"
	"github.com/ent0n29/cinemate/internal/config"
	"github.com/ent0n29/cinemate/internal/convstore"
	"github.com/ent0n29/cinemate/internal/embedding"
	"github.com/ent0n29/cinemate/internal/knowledge"
	"github.com/ent0n29/cinemate/internal/movie"
	"github.com/ent0n29/cinemate/internal/observability"
	"github.com/ent0n29/cinemate/internal/protocol"
	"github.com/ent0n29/cinemate/internal/session"
)

// scriptedEngine treats any utterance without a prior context as a movie
// title and answers everything else with the prior main movie.
type scriptedEngine struct {
	mu     sync.Mutex
	priors []*movie.Context
}

func (e *scriptedEngine) Turn(_ context.Context, utterance string, prior *movie.Context) chat.Reply {
	e.mu.Lock()
	e.priors = append(e.priors, prior)
	e.mu.Unlock()

	if utterance == "Nonexistent" {
		return chat.Reply{Text: "not found", Intent: chat.IntentNewMovie, Err: chat.ErrorMovieNotFound}
	}
	if prior == nil {
		c := movie.NewContext(movie.Record{ID: 1, Title: utterance}, movie.Insufficient(), movie.NewRecommendations())
		return chat.Reply{Text: "about " + utterance, Hint: "ask more", Context: &c, Intent: chat.IntentNewMovie}
	}
	c := prior.Clone()
	return chat.Reply{Text: "still " + prior.MainMovie, Context: &c, Intent: chat.IntentQuestion}
}

type testEnv struct {
	ts       *httptest.Server
	engine   *scriptedEngine
	store    *convstore.InMemoryStore
	sessions *session.Manager
	kb       *knowledge.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	kb, err := knowledge.Open("", embedding.NewHashEmbedder(64), zerolog.Nop())
	if err != nil {
		t.Fatalf("knowledge.Open() error = %v", err)
	}
	env := &testEnv{
		engine:   &scriptedEngine{},
		store:    convstore.NewInMemoryStore(),
		sessions: sessions,
		kb:       kb,
	}
	srv := New(cfg, sessions, env.engine, env.store, kb, metrics, zerolog.Nop())
	env.ts = httptest.NewServer(srv.Router())
	t.Cleanup(env.ts.Close)
	return env
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, env *testEnv) string {
	t.Helper()
	res := postJSON(t, env.ts.URL+"/v1/chat/session", map[string]string{"user_id": "user-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	decode(t, res, &created)
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return id
}

func TestCreateAndEndSession(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	endRes := postJSON(t, env.ts.URL+"/v1/chat/session/"+id+"/end", nil)
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	msgRes := postJSON(t, env.ts.URL+"/v1/chat/session/"+id+"/messages", map[string]string{"text": "Heat"})
	if msgRes.StatusCode != http.StatusGone {
		t.Fatalf("message after end status = %d, want %d", msgRes.StatusCode, http.StatusGone)
	}
}

func TestSessionMessagesThreadStoredContext(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	base := env.ts.URL + "/v1/chat/session/" + id

	var first chat.Reply
	res := postJSON(t, base+"/messages", map[string]string{"text": "Inception"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first message status = %d", res.StatusCode)
	}
	decode(t, res, &first)
	if first.Context == nil || first.Context.MainMovie != "Inception" {
		t.Fatalf("first reply context = %+v", first.Context)
	}

	var second chat.Reply
	decode(t, postJSON(t, base+"/messages", map[string]string{"text": "who directed it? call me at 555-123-4567"}), &second)
	if second.Text != "still Inception" {
		t.Fatalf("second reply text = %q", second.Text)
	}

	stored, _ := env.store.LoadContext(context.Background(), id)
	if stored == nil || stored.MainMovie != "Inception" {
		t.Fatalf("stored context = %+v", stored)
	}
	sess, _ := env.sessions.Get(id)
	if sess.TurnCount != 2 || sess.MainMovie != "Inception" {
		t.Fatalf("session after turns = %+v", sess)
	}

	turns, _ := env.store.RecentTurns(context.Background(), id, 10)
	if len(turns) != 4 {
		t.Fatalf("transcript length = %d, want 4", len(turns))
	}
	if strings.Contains(turns[2].Content, "555-123-4567") || !turns[2].PIIRedacted {
		t.Fatalf("user transcript not redacted: %+v", turns[2])
	}

	if res := postJSON(t, base+"/reset", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", res.StatusCode)
	}
	if stored, _ := env.store.LoadContext(context.Background(), id); stored != nil {
		t.Fatalf("context after reset = %+v, want nil", stored)
	}

	var third chat.Reply
	decode(t, postJSON(t, base+"/messages", map[string]string{"text": "Heat"}), &third)
	if third.Context == nil || third.Context.MainMovie != "Heat" {
		t.Fatalf("reply after reset = %+v", third)
	}
}

func TestMovieNotFoundClearsStoredContext(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	base := env.ts.URL + "/v1/chat/session/" + id

	postJSON(t, base+"/messages", map[string]string{"text": "Inception"})
	var reply chat.Reply
	decode(t, postJSON(t, base+"/messages", map[string]string{"text": "Nonexistent"}), &reply)
	if reply.Err != chat.ErrorMovieNotFound {
		t.Fatalf("reply error = %q", reply.Err)
	}
	if stored, _ := env.store.LoadContext(context.Background(), id); stored != nil {
		t.Fatalf("stored context = %+v, want nil", stored)
	}
}

func TestStatelessTurnUsesClientContext(t *testing.T) {
	env := newTestEnv(t)
	c := movie.NewContext(movie.Record{ID: 7, Title: "Alien"}, movie.Insufficient(), movie.NewRecommendations())

	var reply chat.Reply
	res := postJSON(t, env.ts.URL+"/v1/turn", map[string]any{"text": "is it scary?", "context": c})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", res.StatusCode)
	}
	decode(t, res, &reply)
	if reply.Text != "still Alien" {
		t.Fatalf("reply text = %q", reply.Text)
	}

	long := postJSON(t, env.ts.URL+"/v1/turn", map[string]any{"text": strings.Repeat("x", protocol.MaxUserTextLength+1)})
	if long.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized turn status = %d, want %d", long.StatusCode, http.StatusBadRequest)
	}
}

func TestKnowledgeRoutes(t *testing.T) {
	env := newTestEnv(t)
	c := movie.NewContext(movie.Record{ID: 27205, Title: "Inception", Overview: "A thief steals secrets through dreams."}, movie.Insufficient(), movie.NewRecommendations())
	if _, err := env.kb.Add(context.Background(), "Inception", c); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	res, err := http.Get(env.ts.URL + "/v1/knowledge/search?q=" + url.QueryEscape("dream thief") + "&k=2")
	if err != nil {
		t.Fatalf("GET search error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Results []knowledgeHit `json:"results"`
	}
	decode(t, res, &payload)
	if len(payload.Results) != 1 || payload.Results[0].Title != "Inception" {
		t.Fatalf("search results = %+v", payload.Results)
	}

	movieRes, err := http.Get(env.ts.URL + "/v1/knowledge/movies/inception")
	if err != nil {
		t.Fatalf("GET movie error = %v", err)
	}
	defer movieRes.Body.Close()
	if movieRes.StatusCode != http.StatusOK {
		t.Fatalf("movie status = %d, want %d", movieRes.StatusCode, http.StatusOK)
	}

	missing, err := http.Get(env.ts.URL + "/v1/knowledge/movies/Heat")
	if err != nil {
		t.Fatalf("GET missing movie error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing movie status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}

	bad, err := http.Get(env.ts.URL + "/v1/knowledge/search?q=x&k=0")
	if err != nil {
		t.Fatalf("GET bad search error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad search status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestHealthAndPerfRoutes(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency"} {
		res, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestPerfLatencyReset(t *testing.T) {
	cfg := config.Config{SessionInactivityTimeout: time.Minute}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_perf")
	metrics.ObserveTurnStage("generate", 40*time.Millisecond)
	srv := New(cfg, session.NewManager(time.Minute), &scriptedEngine{}, nil, nil, metrics, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	get := func(path string) (int, observability.TurnStageSnapshot) {
		t.Helper()
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		defer res.Body.Close()
		var snap observability.TurnStageSnapshot
		if res.StatusCode == http.StatusOK {
			decode(t, res, &snap)
		}
		return res.StatusCode, snap
	}

	if status, snap := get("/v1/perf/latency?reset=true"); status != http.StatusOK || len(snap.Stages) != 1 {
		t.Fatalf("first snapshot = %d %+v", status, snap.Stages)
	}
	if _, snap := get("/v1/perf/latency"); len(snap.Stages) != 0 {
		t.Fatalf("stages after reset = %+v, want none", snap.Stages)
	}
	if status, _ := get("/v1/perf/latency?reset=maybe"); status != http.StatusBadRequest {
		t.Fatalf("bad reset status = %d, want %d", status, http.StatusBadRequest)
	}
}

func TestSessionWebSocketConversation(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/chat/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readType := func() map[string]any {
		t.Helper()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	if msg := readType(); msg["type"] != string(protocol.TypeSystemEvent) || msg["code"] != "session_ready" {
		t.Fatalf("first message = %+v", msg)
	}

	_ = conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, SessionID: id, Text: "Inception"})
	msg := readType()
	if msg["type"] != string(protocol.TypeAssistantMessage) || msg["main_movie"] != "Inception" {
		t.Fatalf("assistant message = %+v", msg)
	}

	_ = conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, SessionID: "other", Text: "Heat"})
	if msg := readType(); msg["type"] != string(protocol.TypeErrorEvent) || msg["code"] != "invalid_client_message" {
		t.Fatalf("mismatched session message = %+v", msg)
	}

	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: id, Action: protocol.ActionReset})
	if msg := readType(); msg["code"] != "context_reset" {
		t.Fatalf("reset ack = %+v", msg)
	}
	if stored, _ := env.store.LoadContext(context.Background(), id); stored != nil {
		t.Fatalf("context after ws reset = %+v, want nil", stored)
	}
}

func TestSessionWebSocketRequiresKnownSession(t *testing.T) {
	env := newTestEnv(t)
	res, err := http.Get(env.ts.URL + "/v1/chat/ws?session_id=missing")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
