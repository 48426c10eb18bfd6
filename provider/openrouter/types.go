// Package openrouter implements provider.Provider against the OpenRouter
// chat completions API, which follows the OpenAI wire format with a handful
// of OpenRouter-specific extensions (plugins, reasoning, provider routing).
package openrouter

import "encoding/json"

const defaultBaseURL = "https://openrouter.ai/api/v1"

// chatRequest is the OpenRouter/OpenAI chat completions request body.
type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	Plugins     []plugin       `json:"plugins,omitempty"`
	Reasoning   *reasoningSpec `json:"reasoning,omitempty"`
}

// message is a single chat message in the OpenAI content-block format,
// multimodal when Content is a []contentBlock rather than a plain string.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentBlock struct {
	Type     string    `json:"type"` // "text", "image_url", "file", "input_audio"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *fileData `json:"file,omitempty"`
	Audio    *audioData `json:"input_audio,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type fileData struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"` // data: URI or remote URL
}

type audioData struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// plugin configures an OpenRouter request-time plugin, used here for web
// search (web plugin) and PDF parsing (file-parser plugin).
type plugin struct {
	ID  string          `json:"id"`
	Raw json.RawMessage `json:"-"`
}

func (p plugin) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(struct {
		ID string `json:"id"`
	}{p.ID})
}

type reasoningSpec struct {
	Effort string `json:"effort,omitempty"`
}

// chatResponse is the non-streaming / accumulated response body.
type chatResponse struct {
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Message      *choiceMessage `json:"message,omitempty"`
	Delta        *choiceMessage `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type choiceMessage struct {
	Content          string `json:"content,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
	ReasoningDetails []struct {
		Text string `json:"text,omitempty"`
	} `json:"reasoning_details,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
