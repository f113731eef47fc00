package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/KodaTao/PluginKernel/pkg/llm"
)

type staticCredential struct {
	scopes []string
}

func (c *staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.scopes = opts.Scopes
	return azcore.AccessToken{Token: "aad-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

const toolCallResponse = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"choices": [{
		"index": 0,
		"finish_reason": "tool_calls",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "lights-change_state", "arguments": "{\"id\":1,\"on\":true}"}
			}]
		}
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func azureConfig(endpoint string) llm.Config {
	return llm.Config{
		Provider:   "azure",
		Endpoint:   endpoint,
		APIKey:     "secret-key-123",
		Deployment: "gpt-4o",
		APIVersion: "2024-06-01",
	}
}

func TestProvider_Complete_ToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-4o/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-06-01" {
			t.Errorf("api-version = %s", got)
		}
		if got := r.Header.Get("api-key"); got != "secret-key-123" {
			t.Errorf("api-key = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["tool_choice"] != "required" {
			t.Errorf("tool_choice = %v", body["tool_choice"])
		}
		tools, _ := body["tools"].([]any)
		if len(tools) != 1 {
			t.Errorf("tools = %v", body["tools"])
		} else if fn := tools[0].(map[string]any)["function"].(map[string]any); fn["name"] != "lights-change_state" {
			t.Errorf("tool name = %v", fn["name"])
		}

		messages, _ := body["messages"].([]any)
		last := messages[len(messages)-1].(map[string]any)
		if last["role"] != "tool" || last["tool_call_id"] != "call_0" {
			t.Errorf("last message = %v", last)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolCallResponse))
	}))
	defer server.Close()

	p, err := NewProvider(azureConfig(server.URL))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	completion, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "sys"},
			{Role: llm.RoleUser, Content: "turn on the lamp"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "lights-get_lights", Arguments: "{}"}}},
			{Role: llm.RoleTool, ToolCallID: "call_0", Content: `[{"id":1}]`},
		},
		Tools: []llm.Tool{{
			Name:        "lights-change_state",
			Description: "Changes the state of the light",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: llm.ToolChoiceRequired,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(completion.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", completion.ToolCalls)
	}
	call := completion.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "lights-change_state" || call.Arguments != `{"id":1,"on":true}` {
		t.Errorf("call = %+v", call)
	}
	if completion.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v", completion.Usage)
	}
}

func TestProvider_Complete_NoToolsOmitsToolChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["tool_choice"]; ok {
			t.Error("tool_choice must be omitted without tools")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer server.Close()

	p, _ := NewProvider(azureConfig(server.URL))
	completion, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		ToolChoice: llm.ToolChoiceAuto,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Content != "hello" || len(completion.ToolCalls) != 0 {
		t.Errorf("completion = %+v", completion)
	}
}

func TestProvider_Complete_Unavailable(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			}))
			defer server.Close()

			p, _ := NewProvider(azureConfig(server.URL))
			_, err := p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})

			var unavailable *llm.CompletionUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("expected CompletionUnavailableError, got %v", err)
			}
			if unavailable.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", unavailable.StatusCode, tt.status)
			}
			if unavailable.Temporary() != tt.temporary {
				t.Errorf("Temporary() = %v, want %v", unavailable.Temporary(), tt.temporary)
			}
		})
	}
}

func TestProvider_Complete_Credential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer aad-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("api-key") != "" {
			t.Error("api-key must not be sent with a credential")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	cfg := azureConfig(server.URL)
	cfg.APIKey = ""
	cred := &staticCredential{}

	p, err := NewProvider(cfg, WithCredential(cred))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(cred.scopes) != 1 || cred.scopes[0] != cognitiveServicesScope {
		t.Errorf("scopes = %v", cred.scopes)
	}
}

func TestNewProvider_Validation(t *testing.T) {
	cfg := azureConfig("")
	if _, err := NewProvider(cfg); !errors.Is(err, llm.ErrMissingEndpoint) {
		t.Errorf("missing endpoint: got %v", err)
	}

	cfg = azureConfig("https://example.openai.azure.com")
	cfg.APIKey = ""
	if _, err := NewProvider(cfg); !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Errorf("missing key: got %v", err)
	}

	cfg = azureConfig("https://example.openai.azure.com")
	cfg.Provider = "ollama"
	if _, err := NewProvider(cfg); err == nil {
		t.Error("unsupported provider should fail")
	}

	t.Setenv("PK_TEST_KEY", "from-env-key")
	cfg = azureConfig("https://example.openai.azure.com")
	cfg.APIKey = "${PK_TEST_KEY}"
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.config.APIKey != "from-env-key" {
		t.Errorf("APIKey = %q", p.config.APIKey)
	}
}
