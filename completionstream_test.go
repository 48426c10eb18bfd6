package taskgate

import (
	"context"
	"testing"

	"github.com/nevindra/taskgate/provider"
)

type streamingLLM struct {
	chunks []provider.Chunk
	final  provider.AssistantMessage
}

func (f *streamingLLM) Name() string { return "fake" }

func (f *streamingLLM) Complete(ctx context.Context, apiKey, model string, messages []provider.Message, requested map[string]string, temperature float64, cfg *provider.Config) (provider.AssistantMessage, error) {
	return f.final, nil
}

func (f *streamingLLM) Stream(ctx context.Context, apiKey, model string, messages []provider.Message, requested map[string]string, temperature float64, cfg *provider.Config, ch chan<- provider.Chunk) (provider.AssistantMessage, error) {
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return f.final, nil
}

func TestCompletionStreamEmitsStartedChunksFinished(t *testing.T) {
	llm := &streamingLLM{
		chunks: []provider.Chunk{{Content: "Hello "}, {Content: "world"}},
		final:  provider.AssistantMessage{Content: "Hello world"},
	}
	cs := NewCompletionStream(llm)
	out := make(chan Event, 8)

	msg, err := cs.Run(context.Background(), "key", "m1", []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil, 0.7, nil, out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.Content != "Hello world" {
		t.Errorf("final content = %q", msg.Content)
	}
	close(out)

	var events []Event
	for ev := range out {
		events = append(events, ev)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4 (started, 2 chunks, finished)", len(events))
	}
	if events[0].EventType != EventCompletionStarted {
		t.Errorf("events[0] = %s", events[0].EventType)
	}
	if events[1].EventType != EventCompletionChunk || events[1].Content != "Hello " {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[2].EventType != EventCompletionChunk || events[2].Content != "world" {
		t.Errorf("events[2] = %+v", events[2])
	}
	if events[3].EventType != EventCompletionFinished || events[3].Content != "Hello world" {
		t.Errorf("events[3] = %+v", events[3])
	}
	completionID := events[0].Content
	for _, ev := range events {
		if ev.Metadata["completion_id"] != completionID {
			t.Errorf("event %+v has mismatched completion_id, want %s", ev, completionID)
		}
	}
}

func TestCompletionStreamPreservesAdditionalDataKeys(t *testing.T) {
	llm := &streamingLLM{
		chunks: []provider.Chunk{{Content: "plain"}, {Content: "v1", Key: "output"}},
		final:  provider.AssistantMessage{Content: "plainv1"},
	}
	cs := NewCompletionStream(llm)
	out := make(chan Event, 8)

	_, err := cs.Run(context.Background(), "key", "m1", nil, map[string]string{"output": "desc"}, 0.7, nil, out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(out)

	var sawTagged bool
	for ev := range out {
		if ev.EventType == EventCompletionChunk && ev.Metadata["additional_data_key"] == "output" && ev.Content == "v1" {
			sawTagged = true
		}
	}
	if !sawTagged {
		t.Error("expected a chunk event carrying additional_data_key=output")
	}
}

func TestCompletionStreamPropagatesUpstreamError(t *testing.T) {
	llm := &fakeLLM{err: errTransport}
	cs := NewCompletionStream(llm)
	out := make(chan Event, 8)

	_, err := cs.Run(context.Background(), "key", "m1", nil, nil, 0.7, nil, out)
	if err == nil {
		t.Fatal("expected error from Run()")
	}
	close(out)

	var gotFinished bool
	for ev := range out {
		if ev.EventType == EventCompletionFinished {
			gotFinished = true
		}
	}
	if !gotFinished {
		t.Error("expected completion.finished to be emitted even on upstream error")
	}
}
