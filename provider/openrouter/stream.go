package openrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/nevindra/taskgate/provider"
)

func (p *Provider) Stream(ctx context.Context, apiKey, model string, messages []provider.Message, additionalRequestedData map[string]string, temperature float64, cfg *provider.Config, ch chan<- provider.Chunk) (provider.AssistantMessage, error) {
	defer close(ch)

	if err := provider.ValidateRequestedKeys(additionalRequestedData); err != nil {
		return provider.AssistantMessage{}, err
	}
	cfg, err := p.resolve(model, messages, cfg)
	if err != nil {
		return provider.AssistantMessage{}, err
	}
	messages = p.augmentWithFetch(ctx, messages, cfg)

	body := buildRequest(model, messages, additionalRequestedData, temperature, cfg, true)
	resp, err := p.send(ctx, apiKey, body)
	if err != nil {
		return provider.AssistantMessage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.AssistantMessage{}, p.httpErr(resp)
	}

	return streamSSE(ctx, resp.Body, ch)
}

// streamSSE reads an OpenRouter SSE stream, forwarding text and reasoning
// deltas to ch as they arrive and returning the fully accumulated response
// once the stream ends. Content deltas pass through a TagParser so that
// additional_data segments are split out exactly as they would be for a
// non-streaming response (§4.2).
func streamSSE(ctx context.Context, body io.Reader, ch chan<- provider.Chunk) (provider.AssistantMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	parser := provider.NewTagParser()
	var out provider.AssistantMessage
	var content strings.Builder
	var reasoning strings.Builder

	emit := func(chunks []provider.Chunk) error {
		for _, c := range chunks {
			if c.Key == "" {
				content.WriteString(c.Content)
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			out.PromptTokens = chunk.Usage.PromptTokens
			out.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}
		if delta.Reasoning != "" {
			reasoning.WriteString(delta.Reasoning)
			if err := emit([]provider.Chunk{{Content: delta.Reasoning, Key: provider.ReservedKeyInternalReasoning}}); err != nil {
				return out, err
			}
		}
		if delta.Content != "" {
			if err := emit(parser.Feed(delta.Content)); err != nil {
				return out, err
			}
		}
	}
	if err := emit(parser.Close()); err != nil {
		return out, err
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}

	data := parser.Data()
	if reasoning.Len() > 0 {
		data[provider.ReservedKeyInternalReasoning] = reasoning.String()
	}
	out.Content = content.String()
	out.AdditionalData = data
	return out, nil
}
