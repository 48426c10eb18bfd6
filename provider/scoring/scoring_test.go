package scoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetInferencesParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/infer" {
			t.Errorf("path = %q, want /infer", r.URL.Path)
		}
		w.Write([]byte(`{"inferences":[{"model_id":"a","score":0.8,"predicted_length":120},{"model_id":"b","score":0.6,"predicted_length":80}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.GetInferences(context.Background(), []string{"a", "b"}, "prompt text", 0)
	if err != nil {
		t.Fatalf("GetInferences() error = %v", err)
	}
	if len(got) != 2 || got[0].ModelID != "a" || got[0].Score != 0.8 {
		t.Errorf("got %+v", got)
	}
}

func TestGetInferencesBatches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"inferences":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetInferences(context.Background(), []string{"a", "b", "c", "d", "e"}, "p", 2)
	if err != nil {
		t.Fatalf("GetInferences() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (batches of 2,2,1)", calls)
	}
}

func TestHealthCheckUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:0")
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable service")
	}
}

func TestGetInferencesDiagnosesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetInferences(context.Background(), []string{"a"}, "p", 0)
	if err == nil {
		t.Fatal("expected error")
	}
}
