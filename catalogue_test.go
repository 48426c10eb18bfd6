package taskgate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	calls   int64
	models  []ModelDescription
	delay   time.Duration
}

func (f *fakeSource) FetchModels(ctx context.Context) ([]ModelDescription, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.models, nil
}

func TestCatalogueFetchesOnceWithinTTL(t *testing.T) {
	src := &fakeSource{models: []ModelDescription{{ID: "a", Provider: "p1"}, {ID: "b", Provider: "p2"}}}
	c := NewCatalogue(src, time.Hour)

	for i := 0; i < 5; i++ {
		if _, err := c.GetAll(context.Background(), ""); err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
	}
	if atomic.LoadInt64(&src.calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", src.calls)
	}
}

func TestCatalogueRefetchesAfterTTL(t *testing.T) {
	src := &fakeSource{models: []ModelDescription{{ID: "a"}}}
	c := NewCatalogue(src, time.Millisecond)

	if _, err := c.GetAll(context.Background(), ""); err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.GetAll(context.Background(), ""); err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if atomic.LoadInt64(&src.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", src.calls)
	}
}

func TestCatalogueGetAllFiltersByProvider(t *testing.T) {
	src := &fakeSource{models: []ModelDescription{{ID: "a", Provider: "p1"}, {ID: "b", Provider: "p2"}}}
	c := NewCatalogue(src, time.Hour)

	got, err := c.GetAll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %+v, want only model a", got)
	}
}

func TestCatalogueGetByID(t *testing.T) {
	src := &fakeSource{models: []ModelDescription{{ID: "a"}}}
	c := NewCatalogue(src, time.Hour)

	m, ok, err := c.GetByID(context.Background(), "a")
	if err != nil || !ok || m.ID != "a" {
		t.Errorf("GetByID(a) = %+v, %v, %v", m, ok, err)
	}
	_, ok, err = c.GetByID(context.Background(), "ghost")
	if err != nil || ok {
		t.Errorf("GetByID(ghost) ok = %v, err = %v, want false, nil", ok, err)
	}
}

func TestCatalogueConcurrentRefreshCollapses(t *testing.T) {
	src := &fakeSource{models: []ModelDescription{{ID: "a"}}, delay: 20 * time.Millisecond}
	c := NewCatalogue(src, time.Hour)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.GetAll(context.Background(), "")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if atomic.LoadInt64(&src.calls) != 1 {
		t.Errorf("fetch calls = %d, want 1 (single in-flight refetch)", src.calls)
	}
}
