package taskgate

import (
	"context"
	"testing"
	"time"
)

func TestEventFilterMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter EventFilter
		ev     Event
		want   bool
	}{
		{
			name:   "empty filter matches everything",
			filter: EventFilter{},
			ev:     Event{EventType: EventTaskCompleted},
			want:   true,
		},
		{
			name:   "event type not in allow-list",
			filter: EventFilter{EventTypes: []string{EventTaskCompleted}},
			ev:     Event{EventType: EventTaskStepCompleted},
			want:   false,
		},
		{
			name:   "event type in allow-list",
			filter: EventFilter{EventTypes: []string{EventTaskCompleted, EventTaskFailed}},
			ev:     Event{EventType: EventTaskFailed},
			want:   true,
		},
		{
			name: "metadata filter excludes non-member value",
			filter: EventFilter{
				MetadataFilters: map[string]map[string]struct{}{
					"task_id": {"t1": {}},
				},
			},
			ev:   Event{Metadata: map[string]string{"task_id": "t2"}},
			want: false,
		},
		{
			name: "metadata filter admits member value",
			filter: EventFilter{
				MetadataFilters: map[string]map[string]struct{}{
					"task_id": {"t1": {}, "t2": {}},
				},
			},
			ev:   Event{Metadata: map[string]string{"task_id": "t2"}},
			want: true,
		},
		{
			name: "metadata filter key missing from event fails",
			filter: EventFilter{
				MetadataFilters: map[string]map[string]struct{}{
					"task_id": {"t1": {}},
				},
			},
			ev:   Event{Metadata: map[string]string{}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.matches(tt.ev); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestEventBusFanOut mirrors S6: two connections for one user, one
// filtered to task.completed, one unfiltered.
func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()
	a := bus.Register("u1", EventFilter{EventTypes: []string{EventTaskCompleted}})
	b := bus.Register("u1", EventFilter{})
	defer bus.Unregister(a)
	defer bus.Unregister(b)

	bus.Emit("u1", Event{EventType: EventTaskStepCompleted})
	bus.Emit("u1", Event{EventType: EventTaskCompleted})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, ok := a.Next(ctx)
	if !ok || ev.EventType != EventTaskCompleted {
		t.Errorf("connection A: got (%v, %v), want (task.completed, true)", ev, ok)
	}

	first, ok := b.Next(ctx)
	if !ok || first.EventType != EventTaskStepCompleted {
		t.Errorf("connection B first event = (%v, %v), want task.step_completed", first, ok)
	}
	second, ok := b.Next(ctx)
	if !ok || second.EventType != EventTaskCompleted {
		t.Errorf("connection B second event = (%v, %v), want task.completed", second, ok)
	}
}

func TestEventBusUnregisterRemovesConnection(t *testing.T) {
	bus := NewEventBus()
	c := bus.Register("u1", EventFilter{})
	if bus.ConnectionCount("u1") != 1 {
		t.Fatalf("expected 1 connection after register")
	}
	bus.Unregister(c)
	if bus.ConnectionCount("u1") != 0 {
		t.Errorf("expected 0 connections after unregister")
	}
}

func TestEventBusEmitIsNonBlockingWithNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{})
	go func() {
		bus.Emit("ghost", Event{EventType: EventTaskCompleted})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with no subscribers")
	}
}

func TestConnectionNextRespectsContextCancellation(t *testing.T) {
	bus := NewEventBus()
	c := bus.Register("u1", EventFilter{})
	defer bus.Unregister(c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := c.Next(ctx)
	if ok {
		t.Error("expected Next to return false after context cancellation with no events")
	}
}
