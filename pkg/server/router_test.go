package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KodaTao/PluginKernel/pkg/chassis"
	"github.com/KodaTao/PluginKernel/pkg/llm"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
	"github.com/KodaTao/PluginKernel/pkg/storage"
)

type stubProvider struct {
	completions []*llm.Completion
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	if len(p.completions) == 0 {
		return &llm.Completion{Content: "ok"}, nil
	}
	c := p.completions[0]
	p.completions = p.completions[1:]
	return c, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, query string, k int) ([]retrieval.Document, error) {
	return []retrieval.Document{
		{ID: "a", Source: "guide.md", Text: "Lamps are in the living room.", Score: 0.9},
		{ID: "b", Source: "faq.md", Text: "The porch light has a motion sensor.", Score: 0.5},
	}, nil
}

func setupServer(t *testing.T, provider llm.Provider, opts ...chassis.Option) *Server {
	t.Helper()
	cfg := chassis.DefaultConfig()
	cfg.Database.Path = storage.MemoryPath
	cfg.Log.Level = "error"
	cfg.Session.SweepInterval = ""

	all := append([]chassis.Option{chassis.WithConfig(cfg), chassis.WithProvider(provider)}, opts...)
	app := chassis.New(all...)
	if err := app.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown() })

	return NewServer(app, &ServerConfig{Mode: "test", MetricsPath: "/metrics"})
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.GetEngine().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON response: %v", err)
		}
	}
	return w, out
}

func TestServer_Health(t *testing.T) {
	s := setupServer(t, &stubProvider{})
	w, body := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v", w.Code, body)
	}
	if body["functions"].(float64) != 4 {
		t.Errorf("functions = %v, want 4", body["functions"])
	}
}

func TestServer_Functions(t *testing.T) {
	s := setupServer(t, &stubProvider{})

	w, body := do(t, s, http.MethodGet, "/api/v1/functions", "")
	if w.Code != http.StatusOK || body["count"].(float64) != 4 {
		t.Fatalf("list = %d %v", w.Code, body)
	}
	first := body["functions"].([]any)[0].(map[string]any)
	if first["tool"] != "menu-get_specials" {
		t.Errorf("first function = %v", first)
	}

	w, body = do(t, s, http.MethodGet, "/api/v1/functions/lights/change_state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d %v", w.Code, body)
	}
	params := body["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Errorf("parameters = %v", params)
	}

	w, _ = do(t, s, http.MethodGet, "/api/v1/functions/lights/explode", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown function status = %d, want 404", w.Code)
	}
}

func TestServer_InvokeFunction(t *testing.T) {
	s := setupServer(t, &stubProvider{})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"success", "/api/v1/functions/lights/change_state/invoke", `{"id":"2","on":true}`, http.StatusOK},
		{"no arguments", "/api/v1/functions/menu/get_specials/invoke", "", http.StatusOK},
		{"missing argument", "/api/v1/functions/lights/change_state/invoke", `{"id":"2"}`, http.StatusBadRequest},
		{"unknown light", "/api/v1/functions/lights/change_state/invoke", `{"id":"9","on":true}`, http.StatusInternalServerError},
		{"unknown function", "/api/v1/functions/lights/explode/invoke", `{}`, http.StatusNotFound},
		{"bad json", "/api/v1/functions/lights/change_state/invoke", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, s, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%v)", w.Code, tt.status, body)
			}
		})
	}

	_, body := do(t, s, http.MethodPost, "/api/v1/functions/lights/get_lights/invoke", "")
	lights := body["result"].([]any)
	porch := lights[1].(map[string]any)
	if porch["name"] != "Porch light" || porch["on"] != true {
		t.Errorf("porch light = %v, want on", porch)
	}
}

func TestServer_Retrieve(t *testing.T) {
	s := setupServer(t, &stubProvider{})
	w, _ := do(t, s, http.MethodPost, "/api/v1/retrieve", `{"query":"lamp"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("retrieve without search = %d, want 503", w.Code)
	}

	s = setupServer(t, &stubProvider{}, chassis.WithSearcher(stubSearcher{}))
	w, body := do(t, s, http.MethodPost, "/api/v1/retrieve", `{"query":"lamp","k":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("retrieve = %d %v", w.Code, body)
	}
	payload := body["payload"].(map[string]any)
	sources := payload["sources"].([]any)
	if len(sources) != 1 || sources[0].(map[string]any)["source"] != "guide.md" {
		t.Errorf("sources = %v", sources)
	}
	if !strings.Contains(body["context"].(string), "guide.md") {
		t.Errorf("context = %q", body["context"])
	}

	w, _ = do(t, s, http.MethodPost, "/api/v1/retrieve", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("retrieve without query = %d, want 400", w.Code)
	}
}

func TestServer_ChatAndSessions(t *testing.T) {
	provider := &stubProvider{completions: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "menu-get_item_price", Arguments: `{"menu_item":"Clam Chowder"}`}}},
		{Content: "The chowder is $9.99."},
	}}
	s := setupServer(t, provider)

	w, body := do(t, s, http.MethodPost, "/api/v1/chat", `{"session_id":"s1","message":"How much is the chowder?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("chat = %d %v", w.Code, body)
	}
	if body["reply"] != "The chowder is $9.99." || body["session_id"] != "s1" {
		t.Errorf("chat body = %v", body)
	}
	calls := body["function_calls"].([]any)
	if len(calls) != 1 || calls[0].(map[string]any)["result"] != "$9.99" {
		t.Errorf("function_calls = %v", calls)
	}

	w, _ = do(t, s, http.MethodPost, "/api/v1/chat", `{"session_id":"s1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("chat without message = %d, want 400", w.Code)
	}

	w, body = do(t, s, http.MethodGet, "/api/v1/sessions", "")
	if w.Code != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("sessions = %d %v", w.Code, body)
	}

	w, body = do(t, s, http.MethodGet, "/api/v1/sessions/s1", "")
	if w.Code != http.StatusOK || len(body["turns"].([]any)) != 5 {
		t.Errorf("session = %d %v", w.Code, body)
	}

	w, _ = do(t, s, http.MethodDelete, "/api/v1/sessions/s1", "")
	if w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
	w, _ = do(t, s, http.MethodGet, "/api/v1/sessions/s1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted session = %d, want 404", w.Code)
	}
	w, _ = do(t, s, http.MethodDelete, "/api/v1/sessions/s1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestServer_MaxHopsStatus(t *testing.T) {
	loop := &llm.Completion{ToolCalls: []llm.ToolCall{{ID: "c", Name: "lights-get_lights", Arguments: `{}`}}}
	provider := &stubProvider{completions: []*llm.Completion{loop, loop, loop, loop, loop, loop, loop, loop, loop}}
	s := setupServer(t, provider)

	w, _ := do(t, s, http.MethodPost, "/api/v1/chat", `{"message":"loop forever"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("max hops status = %d, want 422", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := setupServer(t, &stubProvider{})
	_, _ = do(t, s, http.MethodPost, "/api/v1/functions/menu/get_specials/invoke", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.GetEngine().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pluginkernel_function_calls_total") {
		t.Error("metrics should include function call counters")
	}
}

func TestServer_Addr(t *testing.T) {
	s := &Server{config: &ServerConfig{Host: "127.0.0.1", Port: 8080}}
	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", s.Addr())
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Run = %v", err)
	}
}
