package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nevindra/taskgate/provider"
)

func TestCompleteParsesAdditionalData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"answer <additional_data key=confidence>0.9</additional_data>"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	p := New("key", nil)
	p.baseURL = srv.URL

	out, err := p.Complete(context.Background(), "", "test-model", []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, map[string]string{"confidence": "how sure are you"}, 0.5, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out.Content != "answer " {
		t.Errorf("Content = %q, want %q", out.Content, "answer ")
	}
	if out.AdditionalData["confidence"] != "0.9" {
		t.Errorf("AdditionalData[confidence] = %q, want %q", out.AdditionalData["confidence"], "0.9")
	}
	if out.PromptTokens != 10 || out.CompletionTokens != 5 {
		t.Errorf("usage = %d/%d, want 10/5", out.PromptTokens, out.CompletionTokens)
	}
}

func TestCompleteRejectsReservedKey(t *testing.T) {
	p := New("key", nil)
	_, err := p.Complete(context.Background(), "", "m", nil, map[string]string{provider.ReservedKeyInternalReasoning: "x"}, 0, nil)
	if err != provider.ErrReservedAdditionalDataKey {
		t.Errorf("err = %v, want ErrReservedAdditionalDataKey", err)
	}
}

func TestCompleteUnknownModel(t *testing.T) {
	lookup := func(model string) (provider.ModelCapabilities, bool) { return provider.ModelCapabilities{}, false }
	p := New("key", lookup)
	_, err := p.Complete(context.Background(), "", "ghost-model", nil, nil, 0, nil)
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestCompleteRejectsUnsupportedModality(t *testing.T) {
	lookup := func(model string) (provider.ModelCapabilities, bool) {
		return provider.ModelCapabilities{InputModalities: map[provider.FileKind]bool{provider.FileKindText: true}}, true
	}
	p := New("key", lookup)
	msgs := []provider.Message{{Role: provider.RoleUser, Attachments: []provider.Attachment{{Kind: provider.FileKindImage}}}}
	_, err := p.Complete(context.Background(), "", "m", msgs, nil, 0, nil)
	if err == nil {
		t.Fatal("expected error for unsupported modality")
	}
}

func TestCompleteDowngradesNativeWebSearch(t *testing.T) {
	lookup := func(model string) (provider.ModelCapabilities, bool) {
		return provider.ModelCapabilities{SupportsNativeWebSearch: false}, true
	}
	p := New("key", lookup)
	cfg := &provider.Config{WebSearch: &provider.WebSearchConfig{UseNative: true}}
	resolved, err := p.resolve("m", nil, cfg)
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if resolved.WebSearch.UseNative || !resolved.WebSearch.UseExa {
		t.Errorf("expected downgrade to exa, got %+v", resolved.WebSearch)
	}
}

func TestStreamEmitsChunksInOrder(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n" +
		"data: {\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}\n\n" +
		"data: [DONE]\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := New("key", nil)
	p.baseURL = srv.URL
	ch := make(chan provider.Chunk, 10)
	out, err := p.Stream(context.Background(), "", "m", []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil, 0, nil, ch)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	var got string
	for c := range ch {
		got += c.Content
	}
	if got != "Hello world" {
		t.Errorf("streamed content = %q, want %q", got, "Hello world")
	}
	if out.PromptTokens != 3 || out.CompletionTokens != 2 {
		t.Errorf("usage = %d/%d, want 3/2", out.PromptTokens, out.CompletionTokens)
	}
}
