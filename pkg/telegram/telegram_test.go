package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/KodaTao/PluginKernel/pkg/types"
)

func TestSessionStore_SetGet(t *testing.T) {
	store := NewSessionStore(time.Hour)
	store.Set(100, 1, "tg_100_1")
	store.Set(100, 2, "tg_100_1")
	store.Set(200, 1, "tg_200_1")

	if got := store.Get(100, 2); got != "tg_100_1" {
		t.Errorf("Get(100, 2) = %q", got)
	}
	if got := store.Get(200, 1); got != "tg_200_1" {
		t.Errorf("Get(200, 1) = %q", got)
	}
	if got := store.Get(100, 99); got != "" {
		t.Errorf("Get() for unknown message = %q, want empty", got)
	}

	chats, entries := store.Stats()
	if chats != 2 || entries != 3 {
		t.Errorf("Stats() = %d, %d, want 2, 3", chats, entries)
	}
}

func TestSessionStore_Cleanup(t *testing.T) {
	store := NewSessionStore(time.Minute)
	store.Set(100, 1, "old")
	store.Set(100, 2, "fresh")
	store.Set(200, 1, "old")

	// 手动让部分条目过期
	store.mu.Lock()
	store.sessions[100][1].CreatedAt = time.Now().Add(-time.Hour)
	store.sessions[200][1].CreatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	if got := store.Get(100, 1); got != "" {
		t.Errorf("expired entry should not be returned, got %q", got)
	}

	if removed := store.Cleanup(); removed != 2 {
		t.Errorf("Cleanup() = %d, want 2", removed)
	}
	chats, entries := store.Stats()
	if chats != 1 || entries != 1 {
		t.Errorf("Stats() after cleanup = %d, %d, want 1, 1", chats, entries)
	}
	if store.Get(100, 2) != "fresh" {
		t.Error("fresh entry should survive cleanup")
	}
}

func TestGenerateSessionID(t *testing.T) {
	id := GenerateSessionID(42)
	if !strings.HasPrefix(id, "tg_42_") {
		t.Errorf("GenerateSessionID() = %q", id)
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"exact", "abcde", 5, []string{"abcde"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline", "one\ntwo three", 8, []string{"one\n", "two thre", "e"}},
		{"runes", "灯灯灯灯灯", 2, []string{"灯灯", "灯灯", "灯"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("splitMessage() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if strings.Join(got, "") != tt.text {
				t.Error("parts should join back to the input text")
			}
		})
	}
}

func TestFormatReply(t *testing.T) {
	resp := &types.ChatResponse{
		Reply: "The Table Lamp is now on.",
		FunctionCalls: []types.FunctionCall{
			{Name: "lights-change_state", Arguments: `{"id":"1","on":true}`, Status: "success"},
			{Name: "lights-explode", Arguments: `{}`, Status: "error"},
		},
	}

	if got := formatReply(resp, false); got != resp.Reply {
		t.Errorf("formatReply() hidden = %q", got)
	}

	want := "The Table Lamp is now on.\n\n🔧 Functions called:\n" +
		"✅ lights-change_state {\"id\":\"1\",\"on\":true}\n" +
		"❌ lights-explode {}"
	if got := formatReply(resp, true); got != want {
		t.Errorf("formatReply() = %q, want %q", got, want)
	}

	plain := &types.ChatResponse{Reply: "Hello!"}
	if got := formatReply(plain, true); got != "Hello!" {
		t.Errorf("formatReply() without calls = %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("hello", 10); got != "hello" {
		t.Errorf("truncateText() = %q", got)
	}
	if got := truncateText("hello world", 5); got != "hello..." {
		t.Errorf("truncateText() = %q", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{Enabled: true}).Validate(); err != ErrTokenRequired {
		t.Errorf("Validate() = %v, want ErrTokenRequired", err)
	}
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("Validate() disabled = %v", err)
	}
}
