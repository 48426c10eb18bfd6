package webfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchExtractsArticleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Article</title></head><body><article><h1>Headline</h1><p>This is the body text of the article, long enough for readability to treat it as the main content block.</p></article></body></html>`))
	}))
	defer srv.Close()

	f := New()
	text, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(text, "body text of the article") {
		t.Errorf("Fetch() = %q, missing expected article text", text)
	}
}

func TestFetchPropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestLooksLikeURL(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/article": true,
		"http://example.com":          true,
		"example.com":                 false,
		"what is the weather today":   false,
		"":                            false,
	}
	for in, want := range cases {
		if got := LooksLikeURL(in); got != want {
			t.Errorf("LooksLikeURL(%q) = %v, want %v", in, got, want)
		}
	}
}
