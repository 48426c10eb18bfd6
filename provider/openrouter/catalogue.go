package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

// CatalogueSource implements taskgate.ModelSource against OpenRouter's
// public /models endpoint. Model catalogue refresh from upstream is an
// external collaborator per spec; this is the one concrete adapter that
// plugs it into the Model Catalogue Cache (C3).
type CatalogueSource struct {
	baseURL string
	client  *http.Client
}

// NewCatalogueSource creates a ModelSource backed by OpenRouter's model
// listing. No API key is required; /models is a public endpoint.
func NewCatalogueSource() *CatalogueSource {
	return &CatalogueSource{baseURL: defaultBaseURL, client: &http.Client{}}
}

type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID            string           `json:"id"`
	ContextLength int              `json:"context_length"`
	Pricing       modelEntryPrices `json:"pricing"`
	Architecture  struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture"`
	SupportedParameters []string `json:"supported_parameters"`
}

// modelEntryPrices carries OpenRouter's per-unit prices as strings (its API
// returns decimal prices as JSON strings to avoid float precision loss).
type modelEntryPrices struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Image      string `json:"image"`
	Request    string `json:"request"`
	WebSearch  string `json:"web_search"`
}

// FetchModels implements taskgate.ModelSource.
func (s *CatalogueSource) FetchModels(ctx context.Context) ([]taskgate.ModelDescription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openrouter catalogue: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter catalogue: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter catalogue: unexpected status %d", resp.StatusCode)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openrouter catalogue: decode: %w", err)
	}

	out := make([]taskgate.ModelDescription, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, toModelDescription(m))
	}
	return out, nil
}

func toModelDescription(m modelEntry) taskgate.ModelDescription {
	desc := taskgate.ModelDescription{
		ID:            m.ID,
		Provider:      "openrouter",
		ContextLength: m.ContextLength,
		Pricing: taskgate.ModelPricing{
			PromptPerMillion:     parsePerMillion(m.Pricing.Prompt),
			CompletionPerMillion: parsePerMillion(m.Pricing.Completion),
			PerImage:             parseFloat(m.Pricing.Image),
			PerRequest:           parseFloat(m.Pricing.Request),
			NativeSearchPer1000:  parseFloat(m.Pricing.WebSearch) * 1000,
		},
		InputModalities: toModalities(m.Architecture.InputModalities),
	}
	for _, p := range m.SupportedParameters {
		switch p {
		case "reasoning", "include_reasoning":
			desc.SupportsReasoning = true
		case "structured_outputs", "response_format":
			desc.SupportsStructuredOutputs = true
		case "web_search_options":
			desc.SupportsNativeWebSearch = true
		}
	}
	return desc
}

func toModalities(raw []string) []taskgate.Modality {
	out := make([]taskgate.Modality, 0, len(raw))
	for _, m := range raw {
		switch m {
		case "text":
			out = append(out, taskgate.ModalityText)
		case "image":
			out = append(out, taskgate.ModalityImage)
		case "file":
			out = append(out, taskgate.ModalityFile)
		case "audio":
			out = append(out, taskgate.ModalityAudio)
		case "video":
			out = append(out, taskgate.ModalityVideo)
		}
	}
	return out
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	var f float64
	_, _ = fmt.Sscanf(s, "%g", &f)
	return f
}

// parsePerMillion converts OpenRouter's per-token USD price (e.g.
// "0.0000015") to a per-million-token price for pricing.go's formulas.
func parsePerMillion(s string) float64 {
	return parseFloat(s) * 1_000_000
}

var _ taskgate.ModelSource = (*CatalogueSource)(nil)
