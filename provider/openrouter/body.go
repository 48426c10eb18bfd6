package openrouter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/taskgate/provider"
)

// additionalDataSystemPrompt builds the system message instructing the model
// to emit <additional_data key=NAME>VALUE</additional_data> segments for each
// requested field (§4.2).
func additionalDataSystemPrompt(requested map[string]string) string {
	var sb strings.Builder
	sb.WriteString("In addition to your normal response, provide the following fields by wrapping each one anywhere in your output as `<additional_data key=NAME>VALUE</additional_data>`:\n")
	for name, desc := range requested {
		fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
	}
	sb.WriteString("Emit each field exactly once, using the literal key name given above.")
	return sb.String()
}

func buildMessages(messages []provider.Message, requested map[string]string) []message {
	out := make([]message, 0, len(messages)+1)
	if len(requested) > 0 {
		out = append(out, message{Role: "system", Content: additionalDataSystemPrompt(requested)})
	}
	for _, m := range messages {
		out = append(out, buildMessage(m))
	}
	return out
}

func buildMessage(m provider.Message) message {
	if len(m.Attachments) == 0 {
		return message{Role: string(m.Role), Content: m.Content}
	}
	blocks := make([]contentBlock, 0, len(m.Attachments)+1)
	if m.Content != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
	}
	for _, a := range m.Attachments {
		blocks = append(blocks, buildAttachmentBlock(a))
	}
	return message{Role: string(m.Role), Content: blocks}
}

func buildAttachmentBlock(a provider.Attachment) contentBlock {
	url := a.URL
	if url == "" {
		url = fmt.Sprintf("data:%s;base64,%s", a.MimeType, base64.StdEncoding.EncodeToString(a.Bytes))
	}
	switch a.Kind {
	case provider.FileKindImage:
		return contentBlock{Type: "image_url", ImageURL: &imageURL{URL: url}}
	case provider.FileKindAudio:
		return contentBlock{Type: "input_audio", Audio: &audioData{
			Data:   base64.StdEncoding.EncodeToString(a.Bytes),
			Format: strings.TrimPrefix(a.MimeType, "audio/"),
		}}
	default:
		// pdf, video, and plain text attachments travel as a file block;
		// OpenRouter's file-parser plugin handles PDF extraction server-side.
		return contentBlock{Type: "file", File: &fileData{FileData: url}}
	}
}

func buildPlugins(cfg *provider.Config) []plugin {
	if cfg == nil {
		return nil
	}
	var plugins []plugin
	if cfg.WebSearch != nil && cfg.WebSearch.UseNative {
		raw, _ := json.Marshal(struct {
			ID          string `json:"id"`
			MaxResults  int    `json:"max_results,omitempty"`
			SearchPrompt string `json:"search_prompt,omitempty"`
		}{ID: "web", MaxResults: cfg.WebSearch.MaxResults, SearchPrompt: cfg.WebSearch.SearchPrompt})
		plugins = append(plugins, plugin{ID: "web", Raw: raw})
	}
	if cfg.PDF != nil && cfg.PDF.Engine != provider.PDFEngineNative {
		engine := "pdf-text"
		if cfg.PDF.Engine == provider.PDFEngineMistralOCR {
			engine = "mistral-ocr"
		}
		raw, _ := json.Marshal(struct {
			ID  string `json:"id"`
			PDF struct {
				Engine string `json:"engine"`
			} `json:"pdf"`
		}{ID: "file-parser", PDF: struct {
			Engine string `json:"engine"`
		}{Engine: engine}})
		plugins = append(plugins, plugin{ID: "file-parser", Raw: raw})
	}
	return plugins
}

func buildReasoning(cfg *provider.Config) *reasoningSpec {
	if cfg == nil || cfg.Reasoning == nil || cfg.Reasoning.Effort == provider.ReasoningNone {
		return nil
	}
	return &reasoningSpec{Effort: string(cfg.Reasoning.Effort)}
}

func buildRequest(model string, messages []provider.Message, requested map[string]string, temperature float64, cfg *provider.Config, stream bool) chatRequest {
	return chatRequest{
		Model:       model,
		Messages:    buildMessages(messages, requested),
		Temperature: &temperature,
		Stream:      stream,
		Plugins:     buildPlugins(cfg),
		Reasoning:   buildReasoning(cfg),
	}
}
