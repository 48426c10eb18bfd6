package app

import (
	"encoding/json"
	"io"
	"net/http"

	taskgate "github.com/nevindra/taskgate"
	"github.com/nevindra/taskgate/provider"
)

const maxCompletionBodyBytes = 8 << 20

type messageDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webSearchDTO struct {
	UseExa       bool   `json:"use_exa"`
	UseNative    bool   `json:"use_native"`
	MaxResults   int    `json:"max_results"`
	ContextSize  string `json:"context_size"`
	SearchPrompt string `json:"search_prompt"`
}

type reasoningDTO struct {
	Effort string `json:"effort"`
}

type pdfDTO struct {
	Engine string `json:"engine"`
}

type configDTO struct {
	WebSearch *webSearchDTO `json:"web_search"`
	Reasoning *reasoningDTO `json:"reasoning"`
	PDF       *pdfDTO       `json:"pdf"`
}

type completionRequest struct {
	Model                   string            `json:"model"`
	Messages                []messageDTO      `json:"messages"`
	AdditionalRequestedData map[string]string `json:"additional_requested_data"`
	Temperature             float64           `json:"temperature"`
	Config                  *configDTO        `json:"config"`
}

func (c *configDTO) toProvider() *provider.Config {
	if c == nil {
		return nil
	}
	cfg := &provider.Config{}
	if c.WebSearch != nil {
		cfg.WebSearch = &provider.WebSearchConfig{
			UseExa:       c.WebSearch.UseExa,
			UseNative:    c.WebSearch.UseNative,
			MaxResults:   c.WebSearch.MaxResults,
			ContextSize:  provider.ContextSize(c.WebSearch.ContextSize),
			SearchPrompt: c.WebSearch.SearchPrompt,
		}
	}
	if c.Reasoning != nil {
		cfg.Reasoning = &provider.ReasoningConfig{Effort: provider.ReasoningEffort(c.Reasoning.Effort)}
	}
	if c.PDF != nil {
		cfg.PDF = &provider.PDFConfig{Engine: provider.PDFEngine(c.PDF.Engine)}
	}
	return cfg
}

func (m messageDTO) toProvider() provider.Message {
	return provider.Message{Role: provider.Role(m.Role), Content: m.Content}
}

func decodeCompletionRequest(r *http.Request) (completionRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCompletionBodyBytes))
	if err != nil {
		return completionRequest{}, err
	}
	var req completionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return completionRequest{}, err
	}
	return req, nil
}

type completionResponse struct {
	Content          string            `json:"content"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	AdditionalData   map[string]string `json:"additional_data"`
}

// handleCompletions implements POST /completions ★: a synchronous
// pass-through to the LLM Adapter (C2), no decomposition or model
// selection involved (§1 scope: direct completions are a thin surface).
func (a *App) handleCompletions(w http.ResponseWriter, r *http.Request, _ taskgate.APIKey) {
	orKey, err := requireOpenRouterKey(r)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	req, err := decodeCompletionRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	messages := make([]provider.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = m.toProvider()
	}

	msg, err := a.llm.Complete(r.Context(), orKey, req.Model, messages, req.AdditionalRequestedData, req.Temperature, req.Config.toProvider())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		Content:          msg.Content,
		PromptTokens:     msg.PromptTokens,
		CompletionTokens: msg.CompletionTokens,
		AdditionalData:   msg.AdditionalData,
	})
}

// handleCompletionsStream implements POST /completions/stream ★: wraps C11
// around a single call to the LLM Adapter's Stream method, writing each
// client-facing event as an SSE frame (§6, §4.11).
func (a *App) handleCompletionsStream(w http.ResponseWriter, r *http.Request, _ taskgate.APIKey) {
	orKey, err := requireOpenRouterKey(r)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	req, err := decodeCompletionRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	messages := make([]provider.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = m.toProvider()
	}

	events := make(chan taskgate.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			writeSSEFrame(w, ev)
			flusher.Flush()
		}
	}()

	_, err = a.completion.Run(r.Context(), orKey, req.Model, messages, req.AdditionalRequestedData, req.Temperature, req.Config.toProvider(), events)
	close(events)
	<-done
	if err != nil {
		// The stream has already started; per §5 the connection ends on any
		// exception in the generator rather than retroactively changing the
		// status code.
		return
	}
}
