package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/command"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/embedding"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/summarize"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// newTestHandler creates a Handler over an in-memory index and the hashing embedder.
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	db, err := vectorstore.OpenChromem("", false)
	if err != nil {
		t.Fatal(err)
	}
	mems, err := db.Collection("memories", 64)
	if err != nil {
		t.Fatal(err)
	}
	eps, err := db.Collection("episodes", 64)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := memory.NewService(context.Background(), memory.Deps{
		Memories:   mems,
		Episodes:   eps,
		Embedder:   embedding.NewHashingProvider(64),
		Summarizer: summarize.Concat{},
	}, memory.Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })

	reg := command.NewRegistry()
	command.RegisterBuiltins(reg)
	command.RegisterMemoryCommands(reg, svc)

	h := NewHandler(svc, reg, logger)
	return h, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, kind string) errorBody {
	t.Helper()
	if resp.StatusCode != status {
		t.Errorf("expected %d, got %d", status, resp.StatusCode)
	}
	var body errorBody
	decodeJSON(t, resp, &body)
	if body.Kind != kind {
		t.Errorf("expected kind %q, got %q (%s)", kind, body.Kind, body.Message)
	}
	return body
}

func remember(t *testing.T, ts *httptest.Server, body map[string]interface{}) memory.Memory {
	t.Helper()
	resp := postJSON(t, ts, "/api/memories", body)
	if resp.StatusCode != 201 {
		t.Fatalf("remember: expected 201, got %d", resp.StatusCode)
	}
	var out rememberResponse
	decodeJSON(t, resp, &out)
	return out.Memory
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["memories"] != float64(0) {
		t.Errorf("expected 0 memories, got %v", body["memories"])
	}
}

func TestMemoryLifecycle(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	m := remember(t, ts, map[string]interface{}{
		"content":    "drank tea with Kota on the balcony",
		"emotion":    "happy",
		"category":   "daily",
		"importance": 4,
		"tags":       []string{"tea", "Kota"},
	})
	if m.ID == "" || m.Emotion != memory.EmotionHappy || m.Importance != 4 {
		t.Fatalf("unexpected memory %+v", m)
	}

	// Get
	resp := getJSON(t, ts, "/api/memories/"+m.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var got struct {
		Memory memory.Memory `json:"memory"`
	}
	decodeJSON(t, resp, &got)
	if got.Memory.Content != m.Content {
		t.Errorf("got content %q", got.Memory.Content)
	}

	// Search finds the exact text first
	resp = getJSON(t, ts, "/api/memories/search?q=drank+tea+with+Kota+on+the+balcony&k=3")
	if resp.StatusCode != 200 {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	var hits []memory.SearchHit
	decodeJSON(t, resp, &hits)
	if len(hits) != 1 || hits[0].Memory.ID != m.ID {
		t.Errorf("unexpected hits %+v", hits)
	}

	// Category filter excludes it
	resp = getJSON(t, ts, "/api/memories/search?q=tea&category=technical")
	decodeJSON(t, resp, &hits)
	if len(hits) != 0 {
		t.Errorf("expected no technical hits, got %d", len(hits))
	}

	// List recent
	resp = getJSON(t, ts, "/api/memories?limit=5")
	var recent []memory.Memory
	decodeJSON(t, resp, &recent)
	if len(recent) != 1 {
		t.Errorf("expected 1 recent memory, got %d", len(recent))
	}

	// Stats
	resp = getJSON(t, ts, "/api/memories/stats")
	var st struct {
		Memories memory.Stats `json:"memories"`
	}
	decodeJSON(t, resp, &st)
	if st.Memories.Total != 1 || st.Memories.ByEmotion["happy"] != 1 {
		t.Errorf("unexpected stats %+v", st.Memories)
	}
}

func TestMemoryValidation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memories", map[string]interface{}{"content": "x", "emotion": "furious"})
	expectError(t, resp, 400, memory.KindValidation)

	resp = postJSON(t, ts, "/api/memories", map[string]interface{}{"content": "   "})
	expectError(t, resp, 400, memory.KindValidation)

	resp = postJSON(t, ts, "/api/memories", map[string]interface{}{"content": "x", "importance": 9})
	expectError(t, resp, 400, memory.KindValidation)

	resp, err := http.Post(ts.URL+"/api/memories", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	expectError(t, resp, 400, memory.KindValidation)

	resp = getJSON(t, ts, "/api/memories/search?q=")
	expectError(t, resp, 400, memory.KindValidation)

	resp = getJSON(t, ts, "/api/memories/search?q=tea&from=2025-03-02&to=2025-03-01")
	expectError(t, resp, 400, memory.KindValidation)

	resp = getJSON(t, ts, "/api/memories/search?q=tea&from=last-week")
	expectError(t, resp, 400, memory.KindValidation)

	resp = getJSON(t, ts, "/api/memories/nope")
	expectError(t, resp, 404, memory.KindNotFound)
}

func TestLinksAndChains(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	cause := remember(t, ts, map[string]interface{}{"content": "stayed up late reading", "skip_auto_link": true})
	effect := remember(t, ts, map[string]interface{}{"content": "sleepy at breakfast", "skip_auto_link": true})

	resp := postJSON(t, ts, "/api/links", map[string]string{
		"source_id": effect.ID, "target_id": cause.ID, "link_type": "caused_by", "note": "no sleep",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("link: expected 201, got %d", resp.StatusCode)
	}
	var l memory.Link
	decodeJSON(t, resp, &l)
	if l.Type != memory.LinkCausedBy || l.Note != "no sleep" {
		t.Errorf("unexpected link %+v", l)
	}

	resp = getJSON(t, ts, "/api/memories/"+effect.ID+"/causes?direction=backward&depth=2")
	if resp.StatusCode != 200 {
		t.Fatalf("causes: expected 200, got %d", resp.StatusCode)
	}
	var steps []memory.CausalStep
	decodeJSON(t, resp, &steps)
	if len(steps) != 1 || steps[0].Memory.ID != cause.ID || steps[0].Hops != 1 {
		t.Errorf("unexpected causal chain %+v", steps)
	}

	resp = getJSON(t, ts, "/api/memories/"+effect.ID+"/chain?depth=1")
	var nodes []memory.ChainNode
	decodeJSON(t, resp, &nodes)
	if len(nodes) != 1 || nodes[0].Memory.ID != cause.ID {
		t.Errorf("unexpected chain %+v", nodes)
	}

	// Self link
	resp = postJSON(t, ts, "/api/links", map[string]string{"source_id": cause.ID, "target_id": cause.ID})
	expectError(t, resp, 409, memory.KindConflict)

	// Missing endpoint names the id
	resp = postJSON(t, ts, "/api/links", map[string]string{"source_id": cause.ID, "target_id": "ghost"})
	body := expectError(t, resp, 404, memory.KindNotFound)
	if len(body.IDs) != 1 || body.IDs[0] != "ghost" {
		t.Errorf("expected ids [ghost], got %v", body.IDs)
	}

	// Depth out of range
	resp = getJSON(t, ts, "/api/memories/"+cause.ID+"/chain?depth=9")
	expectError(t, resp, 400, memory.KindValidation)
}

func TestEpisodes(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	a := remember(t, ts, map[string]interface{}{"content": "arrived at the beach", "emotion": "excited", "importance": 3})
	b := remember(t, ts, map[string]interface{}{"content": "watched the sunset", "emotion": "moved", "importance": 5})

	resp := postJSON(t, ts, "/api/episodes", map[string]interface{}{
		"title":        "Beach day",
		"memory_ids":   []string{b.ID, a.ID, a.ID},
		"participants": []string{"Kota"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create episode: expected 201, got %d", resp.StatusCode)
	}
	var ep memory.Episode
	decodeJSON(t, resp, &ep)
	if len(ep.MemoryIDs) != 2 || ep.Importance != 5 || ep.Summary == "" {
		t.Errorf("unexpected episode %+v", ep)
	}

	resp = getJSON(t, ts, "/api/episodes/"+ep.ID+"/memories")
	var ms []memory.Memory
	decodeJSON(t, resp, &ms)
	if len(ms) != 2 || ms[0].ID != a.ID {
		t.Errorf("expected members oldest first, got %+v", ms)
	}

	resp = getJSON(t, ts, "/api/episodes/search?q=Beach+day&k=1")
	var hits []memory.EpisodeHit
	decodeJSON(t, resp, &hits)
	if len(hits) != 1 || hits[0].Episode.ID != ep.ID {
		t.Errorf("unexpected episode hits %+v", hits)
	}

	resp = getJSON(t, ts, "/api/episodes")
	var eps []memory.Episode
	decodeJSON(t, resp, &eps)
	if len(eps) != 1 {
		t.Errorf("expected 1 episode, got %d", len(eps))
	}

	resp = postJSON(t, ts, "/api/episodes", map[string]interface{}{
		"title": "Ghost", "memory_ids": []string{a.ID, "missing"},
	})
	body := expectError(t, resp, 404, memory.KindNotFound)
	if len(body.IDs) != 1 || body.IDs[0] != "missing" {
		t.Errorf("expected ids [missing], got %v", body.IDs)
	}

	resp = getJSON(t, ts, "/api/episodes/nope")
	expectError(t, resp, 404, memory.KindNotFound)
}

func TestSensoryAndCameraRecall(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memories/visual", map[string]interface{}{
		"content": "a cat on the fence", "image_ref": "img/cat.jpg", "pan": 30, "tilt": 0,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("visual: expected 201, got %d", resp.StatusCode)
	}
	var vis rememberResponse
	decodeJSON(t, resp, &vis)
	if vis.Memory.Category != memory.CategoryObservation {
		t.Errorf("expected observation, got %q", vis.Memory.Category)
	}

	resp = postJSON(t, ts, "/api/memories/audio", map[string]interface{}{"transcript": "good morning"})
	if resp.StatusCode != 201 {
		t.Fatalf("audio: expected 201, got %d", resp.StatusCode)
	}
	var aud rememberResponse
	decodeJSON(t, resp, &aud)
	if aud.Memory.Content != "good morning" || aud.Memory.Category != memory.CategoryConversation {
		t.Errorf("unexpected audio memory %+v", aud.Memory)
	}

	resp = getJSON(t, ts, "/api/recall/camera?pan=32&tilt=1&tolerance=5")
	var hits []memory.PoseHit
	decodeJSON(t, resp, &hits)
	if len(hits) != 1 || hits[0].Memory.ID != vis.Memory.ID {
		t.Errorf("unexpected pose hits %+v", hits)
	}

	resp = getJSON(t, ts, "/api/recall/camera?pan=120&tilt=1")
	decodeJSON(t, resp, &hits)
	if len(hits) != 0 {
		t.Errorf("expected no hits far from the pose, got %d", len(hits))
	}

	resp = getJSON(t, ts, "/api/recall/camera?tilt=1")
	expectError(t, resp, 400, memory.KindValidation)
}

func TestRecallAndWorkingMemory(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	first := remember(t, ts, map[string]interface{}{"content": "Kota lost his glasses", "importance": 5})
	last := remember(t, ts, map[string]interface{}{"content": "cooked curry for dinner"})

	resp := postJSON(t, ts, "/api/recall", map[string]interface{}{"context": "Kota lost his glasses"})
	var hits []memory.SearchHit
	decodeJSON(t, resp, &hits)
	if len(hits) == 0 || hits[0].Memory.ID != first.ID {
		t.Errorf("unexpected recall %+v", hits)
	}

	resp = postJSON(t, ts, "/api/recall/associations", map[string]interface{}{"context": "glasses", "k": 1})
	if resp.StatusCode != 200 {
		t.Fatalf("associations: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/recall/scored", map[string]interface{}{"context": "curry", "k": 2})
	var scored []memory.ScoredHit
	decodeJSON(t, resp, &scored)
	if len(scored) != 2 {
		t.Errorf("expected 2 scored hits, got %d", len(scored))
	}

	resp = getJSON(t, ts, "/api/working?n=1")
	var ms []memory.Memory
	decodeJSON(t, resp, &ms)
	if len(ms) != 1 || ms[0].ID != last.ID {
		t.Errorf("expected newest in working memory, got %+v", ms)
	}

	resp = getJSON(t, ts, "/api/working?n=0")
	expectError(t, resp, 400, memory.KindValidation)

	resp = postJSON(t, ts, "/api/working/refresh", nil)
	decodeJSON(t, resp, &ms)
	if len(ms) != 2 || ms[0].ID != last.ID || ms[1].ID != first.ID {
		t.Errorf("refresh should return newest first, got %+v", ms)
	}

	resp = postJSON(t, ts, "/api/recall", map[string]interface{}{"context": ""})
	expectError(t, resp, 400, memory.KindValidation)
}

func TestCommandEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/command", map[string]string{"input": "/remember emotion=curious why is the sky blue"})
	var res command.CommandResult
	decodeJSON(t, resp, &res)
	if !strings.Contains(res.Content, "Memory stored") {
		t.Errorf("unexpected remember output %q", res.Content)
	}

	resp = postJSON(t, ts, "/api/command", map[string]string{"input": "/stats"})
	decodeJSON(t, resp, &res)
	if !strings.Contains(res.Content, "Total memories: 1") {
		t.Errorf("unexpected stats output %q", res.Content)
	}
}
