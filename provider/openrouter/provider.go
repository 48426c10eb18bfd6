package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/taskgate/provider"
	"github.com/nevindra/taskgate/provider/webfetch"
)

// ErrUnknownModel is returned when the model is absent from the injected
// ModelLookup. It carries no gateway error kind: no caller maps it to
// NotFound, so the Step Executor reports it as UpstreamLLMFailure and the
// direct-completion handler as an internal error.
var ErrUnknownModel = errors.New("openrouter: unknown model")

// ErrUnsupportedModality is returned when an attached file's kind is not in
// the model's input_modalities. It carries no gateway error kind: no caller
// maps it to Unsupported, so it surfaces the same way as ErrUnknownModel.
var ErrUnsupportedModality = errors.New("openrouter: attachment modality unsupported by model")

// Provider implements provider.Provider against the OpenRouter chat
// completions API.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	lookup  provider.ModelLookup
	fetcher *webfetch.Fetcher
}

// Option customizes a Provider built by New.
type Option func(*Provider)

// WithBaseURL overrides the OpenRouter API base URL, for self-hosted
// gateways or test doubles that proxy the chat completions endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// New creates an OpenRouter adapter. lookup resolves a model name to its
// cached capabilities (§4.2 steps 1-3); pass nil to skip validation (tests).
func New(apiKey string, lookup provider.ModelLookup, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
		lookup:  lookup,
		fetcher: webfetch.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "openrouter" }

// resolve validates the model and attachments against the catalogue and
// returns a copy of cfg with native web search downgraded to exa when the
// model doesn't support it (§4.2).
func (p *Provider) resolve(model string, messages []provider.Message, cfg *provider.Config) (*provider.Config, error) {
	if p.lookup == nil {
		return cfg, nil
	}
	caps, ok := p.lookup(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	for _, m := range messages {
		for _, a := range m.Attachments {
			if !caps.InputModalities[a.Kind] {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedModality, a.Kind)
			}
		}
	}
	if cfg == nil || cfg.WebSearch == nil || !cfg.WebSearch.UseNative || caps.SupportsNativeWebSearch {
		return cfg, nil
	}
	downgraded := *cfg
	ws := *cfg.WebSearch
	ws.UseNative = false
	ws.UseExa = true
	downgraded.WebSearch = &ws
	return &downgraded, nil
}

// augmentWithFetch covers the gap §4.2's downgrade rule leaves open: exa
// search is itself an OpenRouter plugin the gateway never calls directly,
// so when a step's SearchPrompt already names a concrete URL rather than a
// free-text query, fetching and inlining that page's readable text is a
// strictly better result than leaving exa to guess at a query. It only
// fires when web search was requested and resolved to exa (native already
// handles URLs server-side); anything else passes messages through
// unchanged.
func (p *Provider) augmentWithFetch(ctx context.Context, messages []provider.Message, cfg *provider.Config) []provider.Message {
	if p.fetcher == nil || cfg == nil || cfg.WebSearch == nil || !cfg.WebSearch.UseExa {
		return messages
	}
	prompt := cfg.WebSearch.SearchPrompt
	if !webfetch.LooksLikeURL(prompt) {
		return messages
	}
	text, err := p.fetcher.Fetch(ctx, prompt)
	if err != nil || text == "" {
		return messages
	}
	augmented := make([]provider.Message, 0, len(messages)+1)
	augmented = append(augmented, provider.Message{
		Role:    provider.RoleSystem,
		Content: fmt.Sprintf("Fetched context from %s:\n\n%s", prompt, text),
	})
	return append(augmented, messages...)
}

func (p *Provider) Complete(ctx context.Context, apiKey, model string, messages []provider.Message, additionalRequestedData map[string]string, temperature float64, cfg *provider.Config) (provider.AssistantMessage, error) {
	if err := provider.ValidateRequestedKeys(additionalRequestedData); err != nil {
		return provider.AssistantMessage{}, err
	}
	cfg, err := p.resolve(model, messages, cfg)
	if err != nil {
		return provider.AssistantMessage{}, err
	}
	messages = p.augmentWithFetch(ctx, messages, cfg)

	body := buildRequest(model, messages, additionalRequestedData, temperature, cfg, false)
	resp, err := p.send(ctx, apiKey, body)
	if err != nil {
		return provider.AssistantMessage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.AssistantMessage{}, p.httpErr(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.AssistantMessage{}, &provider.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("decode response: %v", err)}
	}
	return toAssistantMessage(parsed), nil
}

func toAssistantMessage(resp chatResponse) provider.AssistantMessage {
	var out provider.AssistantMessage
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
	}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return out
	}
	cleaned, data := provider.ParseComplete(msg.Content)
	out.Content = cleaned
	out.AdditionalData = data
	if msg.Reasoning != "" {
		if out.AdditionalData == nil {
			out.AdditionalData = map[string]string{}
		}
		out.AdditionalData[provider.ReservedKeyInternalReasoning] = msg.Reasoning
	}
	return out
}

func (p *Provider) send(ctx context.Context, apiKey string, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &provider.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	key := apiKey
	if key == "" {
		key = p.apiKey
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return p.client.Do(req)
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &provider.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}

var _ provider.Provider = (*Provider)(nil)
