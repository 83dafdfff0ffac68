package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/tbxark/intakeagent/dialogue"
	"github.com/tbxark/intakeagent/extract"
	"github.com/tbxark/intakeagent/fields"
	"github.com/tbxark/intakeagent/session"
	"github.com/tbxark/intakeagent/simcache"
	"github.com/tbxark/intakeagent/types"
)

type stubExtractor map[string]extract.Extraction

func (s stubExtractor) Extract(_ context.Context, utterance string, _ fields.Set) (extract.Extraction, error) {
	return s[utterance], nil
}

type stubGenerator struct{}

func (stubGenerator) GenerateReply(_ context.Context, _ *dialogue.Request) (string, error) {
	return "Noted. What else can you tell me?", nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		var a float64
		for j, r := range text {
			a += float64(r) * float64(j+1)
		}
		out[i] = []float64{a, float64(len(text)), 1}
	}
	return out, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := session.NewStore(session.Config{
		Extractor: stubExtractor{
			"SFSU":        {types.FieldU1: {Value: "SFSU", Confidence: 0.9}},
			"Biology":     {types.FieldC1: {Value: "Biology", Confidence: 0.9}},
			"Berkeley":    {types.FieldU2: {Value: "Berkeley", Confidence: 0.9}},
			"Calculus II": {types.FieldC2: {Value: "Calculus II", Confidence: 0.9}},
		},
		Generator: stubGenerator{},
		Cache:     simcache.New(stubEmbedder{}, simcache.NewMemoryIndex(), 0.5),
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ts := httptest.NewServer(New(store, "*").Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var created struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", "", &created); code != http.StatusOK {
		t.Fatalf("create session status %d", code)
	}
	if created.SessionID == "" || created.Message == "" {
		t.Fatalf("create response incomplete: %+v", created)
	}
	return created.SessionID
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	var body map[string]string
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/health", "", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body %v", body)
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	id := createSession(t, ts)

	var reply session.Reply
	code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages",
		`{"message":"SFSU"}`, &reply)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if reply.SessionID != id {
		t.Errorf("session_id %q, want %q", reply.SessionID, id)
	}
	if reply.AssistantText == "" {
		t.Error("empty assistant text")
	}
	if !reply.Fields.U1.IsSet() {
		t.Error("u1 not set after message")
	}
	if reply.Status != types.StatusCollecting {
		t.Errorf("status %s", reply.Status)
	}
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	id := createSession(t, ts)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"message":`},
		{"empty message", `{"message":"  "}`},
		{"missing message", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e struct {
				Error string `json:"error"`
			}
			code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages", tt.body, &e)
			if code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", code)
			}
			if e.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	paths := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/sessions/nope/messages", `{"message":"hi"}`},
		{http.MethodGet, "/api/sessions/nope/messages", ""},
		{http.MethodGet, "/api/sessions/nope/info", ""},
		{http.MethodGet, "/api/sessions/nope/completion", ""},
		{http.MethodGet, "/api/sessions/nope/status", ""},
		{http.MethodPost, "/api/sessions/nope/search", `{"query":"x"}`},
		{http.MethodDelete, "/api/sessions/nope", ""},
	}
	for _, p := range paths {
		if code := doJSON(t, p.method, ts.URL+p.path, p.body, nil); code != http.StatusNotFound {
			t.Errorf("%s %s: status %d, want 404", p.method, p.path, code)
		}
	}
}

func TestCompletionFlow(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	id := createSession(t, ts)

	for _, msg := range []string{"SFSU", "Biology", "Berkeley", "Calculus II"} {
		body, _ := sonic.MarshalString(map[string]string{"message": msg})
		if code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages", body, nil); code != http.StatusOK {
			t.Fatalf("send %q: status %d", msg, code)
		}
	}

	var comp struct {
		Completion session.Completion `json:"completion"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/completion", "", &comp); code != http.StatusOK {
		t.Fatalf("completion status %d", code)
	}
	if !comp.Completion.IsComplete || comp.Completion.CollectedCount != 4 {
		t.Errorf("completion %+v", comp.Completion)
	}
	if comp.Completion.NextField != nil {
		t.Errorf("next field %v after completion", *comp.Completion.NextField)
	}

	var status struct {
		Status    types.Status `json:"status"`
		TurnCount int          `json:"turn_count"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/status", "", &status); code != http.StatusOK {
		t.Fatalf("status status %d", code)
	}
	if status.Status != types.StatusComplete {
		t.Errorf("status %s, want complete", status.Status)
	}
	if status.TurnCount != 4 {
		t.Errorf("turn_count %d, want 4", status.TurnCount)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	id := createSession(t, ts)

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages", `{"message":"hello"}`, nil); code != http.StatusOK {
		t.Fatalf("send: status %d", code)
	}

	var hist struct {
		Turns []session.Turn `json:"turns"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/messages", "", &hist); code != http.StatusOK {
		t.Fatalf("history status %d", code)
	}
	if len(hist.Turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(hist.Turns))
	}
	if hist.Turns[0].UserText != "hello" || hist.Turns[0].AssistantText == "" {
		t.Errorf("turn %+v", hist.Turns[0])
	}
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	id := createSession(t, ts)

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages", `{"message":"hello"}`, nil); code != http.StatusOK {
		t.Fatalf("send: status %d", code)
	}

	var res struct {
		Results []simcache.Result `json:"results"`
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/search", `{"query":"hello","limit":5}`, &res); code != http.StatusOK {
		t.Fatalf("search status %d", code)
	}
	if len(res.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(res.Results))
	}
	if res.Results[0].UserText != "hello" {
		t.Errorf("result %+v", res.Results[0])
	}

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/search", `{"query":" "}`, nil); code != http.StatusBadRequest {
		t.Errorf("empty query status %d, want 400", code)
	}
}

func TestCloseSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	id := createSession(t, ts)

	if code := doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, "", nil); code != http.StatusOK {
		t.Fatalf("delete status %d", code)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/info", "", nil); code != http.StatusNotFound {
		t.Errorf("info after delete: status %d, want 404", code)
	}
}
