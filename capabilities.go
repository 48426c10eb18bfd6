package taskgate

import "github.com/nevindra/taskgate/provider"

// defaultWebSearchMaxResults and defaultWebSearchContextSize are applied
// when a step requests web search via a capability flag rather than an
// explicit config (there is no per-step tuning surface for these in the
// decomposition/reevaluation output).
const defaultWebSearchMaxResults = 5

const defaultWebSearchContextSize = provider.ContextSizeMedium

// DeriveConfig builds the adapter Config implied by a NormalStep's required
// capabilities (§4.8 step 5): reasoning maps to medium effort, exa/native
// search capabilities map to a WebSearchConfig, and the three PDF
// capabilities each select a PDF engine.
func DeriveConfig(capabilities []Capability) *provider.Config {
	cfg := &provider.Config{}
	for _, c := range capabilities {
		switch c {
		case CapReasoning:
			cfg.Reasoning = &provider.ReasoningConfig{Effort: provider.ReasoningMedium}
		case CapExaSearch:
			cfg.WebSearch = mergeWebSearch(cfg.WebSearch, true, false)
		case CapNativeWebSearch:
			cfg.WebSearch = mergeWebSearch(cfg.WebSearch, false, true)
		case CapOCRPdf:
			cfg.PDF = &provider.PDFConfig{Engine: provider.PDFEngineMistralOCR}
		case CapTextPdf:
			cfg.PDF = &provider.PDFConfig{Engine: provider.PDFEngineText}
		case CapNativePdf:
			cfg.PDF = &provider.PDFConfig{Engine: provider.PDFEngineNative}
		}
	}
	return cfg
}

func mergeWebSearch(existing *provider.WebSearchConfig, useExa, useNative bool) *provider.WebSearchConfig {
	ws := existing
	if ws == nil {
		ws = &provider.WebSearchConfig{
			MaxResults:  defaultWebSearchMaxResults,
			ContextSize: defaultWebSearchContextSize,
		}
	}
	ws.UseExa = ws.UseExa || useExa
	ws.UseNative = ws.UseNative || useNative
	return ws
}

// RequiredModalities returns the set of input modalities a NormalStep's
// attached files require, derived from each file's kind.
func RequiredModalities(files []UploadedFile) []Modality {
	seen := map[Modality]bool{}
	var out []Modality
	for _, f := range files {
		mod := f.RequiredModality()
		if !seen[mod] {
			seen[mod] = true
			out = append(out, mod)
		}
	}
	return out
}
