package taskgate

import (
	"context"

	"github.com/nevindra/taskgate/provider"
)

// CompletionStream wraps a single call to the LLM Adapter's Stream method
// into the client-facing completion.* event sequence (C11, §4.11). It is
// used only by the direct completions endpoint; task execution never
// streams to clients (§1 non-goals).
type CompletionStream struct {
	llm provider.Provider
}

// NewCompletionStream creates a CompletionStream.
func NewCompletionStream(llm provider.Provider) *CompletionStream {
	return &CompletionStream{llm: llm}
}

// Run streams one completion, sending a completion.started event, one
// completion.chunk event per adapter Chunk, and a completion.finished event,
// in order, to out. out is never closed by Run; the caller owns its
// lifetime (mirrors the SSE handler's own framing loop).
func (c *CompletionStream) Run(ctx context.Context, apiKey, model string, messages []provider.Message, additionalRequestedData map[string]string, temperature float64, cfg *provider.Config, out chan<- Event) (provider.AssistantMessage, error) {
	completionID := NewID()
	out <- NewEvent(EventCompletionStarted, completionID, map[string]string{"completion_id": completionID})

	chunks := make(chan provider.Chunk)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range chunks {
			out <- NewEvent(EventCompletionChunk, chunk.Content, map[string]string{
				"completion_id":       completionID,
				"additional_data_key": chunk.Key,
			})
		}
	}()

	msg, err := c.llm.Stream(ctx, apiKey, model, messages, additionalRequestedData, temperature, cfg, chunks)
	<-done

	out <- NewEvent(EventCompletionFinished, msg.Content, map[string]string{"completion_id": completionID})
	return msg, err
}
