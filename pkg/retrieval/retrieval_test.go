package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockSearcher 测试用检索服务
type mockSearcher struct {
	docs   []Document
	err    error
	gotK   int
	called int
}

func (m *mockSearcher) Search(ctx context.Context, query string, k int) ([]Document, error) {
	m.called++
	m.gotK = k
	if m.err != nil {
		return nil, m.err
	}
	return m.docs, nil
}

func fiveDocs() []Document {
	return []Document{
		{ID: "1", Source: "a.md", Text: "alpha one two three four five six", Score: 0.2},
		{ID: "2", Source: "b.md", Text: "bravo", Score: 0.9},
		{ID: "3", Source: "c.md", Text: "charlie", Score: 0.5},
		{ID: "4", Source: "d.md", Text: "delta", Score: 0.7},
		{ID: "5", Source: "e.md", Text: "echo", Score: 0.1},
	}
}

func TestRetriever_Retrieve_TopK(t *testing.T) {
	searcher := &mockSearcher{docs: fiveDocs()}
	retriever := NewRetriever(searcher, Config{ExcerptMaxWords: 3})

	fragments, err := retriever.Retrieve(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(fragments) != 3 {
		t.Fatalf("Retrieve() returned %d fragments, want 3", len(fragments))
	}
	if searcher.gotK != 3 {
		t.Errorf("searcher got k = %d, want 3", searcher.gotK)
	}

	wantSources := []string{"b.md", "d.md", "c.md"}
	for i, f := range fragments {
		if f.Source != wantSources[i] {
			t.Errorf("fragments[%d].Source = %s, want %s", i, f.Source, wantSources[i])
		}
		if f.Rank != i+1 {
			t.Errorf("fragments[%d].Rank = %d, want %d", i, f.Rank, i+1)
		}
		if i > 0 && f.Score > fragments[i-1].Score {
			t.Errorf("fragments not sorted by descending score: %v", fragments)
		}
		if n := len(strings.Fields(f.Excerpt)); n > 3 {
			t.Errorf("fragments[%d] excerpt has %d words, max 3", i, n)
		}
	}
}

func TestRetriever_Retrieve_StableTies(t *testing.T) {
	searcher := &mockSearcher{docs: []Document{
		{Source: "first", Text: "x", Score: 0.5},
		{Source: "second", Text: "x", Score: 0.5},
		{Source: "top", Text: "x", Score: 0.8},
		{Source: "third", Text: "x", Score: 0.5},
	}}
	retriever := NewRetriever(searcher, DefaultConfig())

	fragments, err := retriever.Retrieve(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	want := []string{"top", "first", "second", "third"}
	for i, f := range fragments {
		if f.Source != want[i] {
			t.Errorf("fragments[%d].Source = %s, want %s", i, f.Source, want[i])
		}
	}
}

func TestRetriever_Retrieve_DefaultsAndBounds(t *testing.T) {
	searcher := &mockSearcher{}
	retriever := NewRetriever(searcher, Config{TopK: 4})

	if _, err := retriever.Retrieve(context.Background(), "q", 0); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if searcher.gotK != 4 {
		t.Errorf("k = %d, want configured default 4", searcher.gotK)
	}

	if _, err := retriever.Retrieve(context.Background(), "q", 1000); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if searcher.gotK != MaxTopK {
		t.Errorf("k = %d, want cap %d", searcher.gotK, MaxTopK)
	}

	if got := NewRetriever(searcher, Config{}).Config(); got.TopK != DefaultTopK || got.ExcerptMaxWords != DefaultExcerptMaxWords {
		t.Errorf("zero config not defaulted: %+v", got)
	}
}

func TestRetriever_Retrieve_EmptyFields(t *testing.T) {
	searcher := &mockSearcher{docs: []Document{{Score: 1}}}
	retriever := NewRetriever(searcher, DefaultConfig())

	fragments, err := retriever.Retrieve(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if fragments[0].Source != "Unknown file" {
		t.Errorf("Source = %q, want Unknown file", fragments[0].Source)
	}
	if fragments[0].Excerpt != "[No text]" {
		t.Errorf("Excerpt = %q, want [No text]", fragments[0].Excerpt)
	}
}

func TestRetriever_Retrieve_KeepsFullTextAndErrors(t *testing.T) {
	searcher := &mockSearcher{docs: []Document{
		{Source: "a.md", Text: "one two three four", Score: 0.9},
		{ID: "2", Err: errors.New("bad payload"), Score: 0.5},
	}}
	retriever := NewRetriever(searcher, Config{ExcerptMaxWords: 2})

	fragments, err := retriever.Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if fragments[0].Excerpt != "one two" || fragments[0].Text != "one two three four" {
		t.Errorf("fragments[0] = %+v", fragments[0])
	}
	if fragments[1].Error != "bad payload" || fragments[1].Excerpt != "" || fragments[1].Rank != 2 {
		t.Errorf("fragments[1] = %+v", fragments[1])
	}
}

func TestRetriever_Retrieve_Unavailable(t *testing.T) {
	cause := errors.New("connection refused")
	searcher := &mockSearcher{err: cause}
	retriever := NewRetriever(searcher, DefaultConfig())

	_, err := retriever.Retrieve(context.Background(), "q", 3)
	var unavailable *RetrievalUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Retrieve() error = %v, want *RetrievalUnavailableError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("RetrievalUnavailableError should wrap the cause")
	}
	if searcher.called != 1 {
		t.Errorf("searcher called %d times, retriever must not retry", searcher.called)
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"one two three", 2, "one two"},
		{"  one\n\ttwo  ", 5, "one two"},
		{"", 3, ""},
		{"a b c", 0, "a b c"},
	}

	for _, tt := range tests {
		if got := TruncateWords(tt.text, tt.max); got != tt.want {
			t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
		}
	}
}

func TestAssemble(t *testing.T) {
	fragments := []Fragment{
		{Source: "menu.pdf", Rank: 1, Excerpt: "Clam Chowder is the soup of the day", Score: 0.9},
		{Source: "prices.csv", Rank: 2, Excerpt: "Chowder 9.99", Score: 0.4},
	}

	payload := Assemble("What is the special soup?", fragments)
	if payload.NoDocuments {
		t.Error("NoDocuments should be false")
	}

	out := payload.String()
	for _, want := range []string{
		"Based on the following documents:",
		"[📄 menu.pdf]\nClam Chowder is the soup of the day",
		"[📄 prices.csv]\nChowder 9.99",
		"Answer the question: What is the special soup?",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("payload missing %q:\n%s", want, out)
		}
	}

	// 来源按片段顺序出现
	if strings.Index(out, "menu.pdf") > strings.Index(out, "prices.csv") {
		t.Error("sources out of order")
	}

	// Assemble 不共享调用方切片
	fragments[0].Source = "changed"
	if payload.Sources[0].Source != "menu.pdf" {
		t.Error("Assemble should copy fragments")
	}
}

func TestFullText(t *testing.T) {
	fragments := []Fragment{
		{Source: "a.pdf", Rank: 1, Excerpt: "[No text]"},
		{Source: "b.pdf", Rank: 2, Excerpt: "one two", Text: "one two three"},
		{Source: "c.pdf", Rank: 3, Error: "bad payload"},
	}

	got := FullText(fragments)
	if len(got) != 1 || got[0].Source != "b.pdf" || got[0].Rank != 1 || got[0].Excerpt != "one two three" {
		t.Errorf("FullText() = %+v", got)
	}
	if fragments[1].Excerpt != "one two" {
		t.Error("FullText should not modify the input")
	}

	payload := Assemble("q", fragments[2:])
	if !payload.NoDocuments {
		t.Error("fragments with errors should not count as documents")
	}
}

func TestAssemble_Empty(t *testing.T) {
	payload := Assemble("Anything about llamas?", nil)

	if !payload.NoDocuments {
		t.Error("NoDocuments should be true for empty fragments")
	}
	out := payload.String()
	if !strings.Contains(out, "No relevant documents found.") {
		t.Errorf("empty payload should say no documents were found:\n%s", out)
	}
	if !strings.Contains(out, "Anything about llamas?") {
		t.Errorf("empty payload should keep the query:\n%s", out)
	}
}

func TestPreview(t *testing.T) {
	out := Preview([]Fragment{
		{Source: "a.md", Excerpt: "first"},
		{Source: "b.md", Excerpt: "second"},
	})
	want := "📄 a.md\nfirst\n\n---\n\n📄 b.md\nsecond"
	if out != want {
		t.Errorf("Preview() = %q, want %q", out, want)
	}

	out = Preview([]Fragment{{Source: "Unknown file", Error: "unexpected end of JSON input"}})
	if out != "❌ Error parsing payload: unexpected end of JSON input" {
		t.Errorf("Preview() with error = %q", out)
	}

	if got := Preview(nil); got != "No relevant documents found." {
		t.Errorf("Preview(nil) = %q", got)
	}
}
