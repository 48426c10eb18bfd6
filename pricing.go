package taskgate

import (
	"github.com/nevindra/taskgate/provider"
)

// reasoningEffortMultiplier scales the estimated reasoning-token cost by
// requested effort level (§4.4).
var reasoningEffortMultiplier = map[provider.ReasoningEffort]float64{
	provider.ReasoningNone:    0,
	provider.ReasoningMinimal: 0.5,
	provider.ReasoningLow:     1,
	provider.ReasoningMedium:  2,
	provider.ReasoningHigh:    4,
}

// pdfEngineTokensPerPage approximates the prompt-token cost of one PDF page
// under each extraction engine: native rendering sends far more tokens per
// page than a plain text-extraction pass.
var pdfEngineTokensPerPage = map[provider.PDFEngine]float64{
	provider.PDFEngineNative:     1500,
	provider.PDFEngineMistralOCR: 800,
	provider.PDFEngineText:       400,
}

// bytesPerTokenApprox is the rough bytes-per-token ratio used to estimate
// token counts for plain text attachments from file size alone.
const bytesPerTokenApprox = 4.0

const defaultAudioMBPerMinute = 1.0

// audioCodecMBPerMinute approximates encoded size per minute by MIME type,
// used to derive audio duration from byte size when no duration is stored.
var audioCodecMBPerMinute = map[string]float64{
	"audio/mpeg": 1.0,
	"audio/mp3":  1.0,
	"audio/wav":  10.0,
	"audio/ogg":  1.0,
}

var webSearchContextMultiplier = map[provider.ContextSize]float64{
	provider.ContextSizeLow:    1,
	provider.ContextSizeMedium: 2,
	provider.ContextSizeHigh:   4,
}

// ActualCost computes the real USD cost of a completed call (§4.4). It
// trusts msg's reported token counts, which already include any text/PDF
// attachment content the provider folded into the prompt. On top of the
// token cost it adds the model's per-request fee and the per-image and
// per-audio-minute fees, which token counts do not reflect.
func ActualCost(model ModelDescription, msg provider.AssistantMessage, attachedFiles []UploadedFile, cfg *provider.Config) float64 {
	p := model.Pricing
	cost := float64(msg.PromptTokens)*p.PromptPerMillion/1e6 +
		float64(msg.CompletionTokens)*p.CompletionPerMillion/1e6 +
		p.PerRequest

	for _, f := range attachedFiles {
		if f.Kind == "image" {
			cost += p.PerImage
		}
	}
	cost += audioCost(attachedFiles, p)
	return cost
}

// EstimateCost computes a predicted USD cost before the call is made
// (§4.4), used by the Model Selector to rank candidates. Unlike ActualCost,
// it must approximate the prompt-token contribution of text and PDF
// attachments itself, since there is no real token count yet, and adds
// reasoning and web-search cost implied by cfg.
func EstimateCost(model ModelDescription, promptTokens, predictedCompletionTokens int, attachedFiles []UploadedFile, cfg *provider.Config) float64 {
	p := model.Pricing
	cost := float64(promptTokens)*p.PromptPerMillion/1e6 +
		float64(predictedCompletionTokens)*p.CompletionPerMillion/1e6 +
		p.PerRequest

	for _, f := range attachedFiles {
		switch f.Kind {
		case "image":
			cost += p.PerImage
		case "text":
			cost += estimateTextFileCost(f, p)
		case "pdf":
			cost += estimatePDFCost(f, cfg, p)
		}
	}
	cost += audioCost(attachedFiles, p)
	cost += estimateReasoningCost(cfg, predictedCompletionTokens, p)
	cost += estimateWebSearchCost(cfg, p)
	return cost
}

func estimateTextFileCost(f UploadedFile, p ModelPricing) float64 {
	tokens := float64(f.ByteSize) / bytesPerTokenApprox
	return tokens * p.PromptPerMillion / 1e6
}

func estimatePDFCost(f UploadedFile, cfg *provider.Config, p ModelPricing) float64 {
	engine := provider.PDFEngineText
	if cfg != nil && cfg.PDF != nil {
		engine = cfg.PDF.Engine
	}
	pages := 1.0
	if f.PageCount != nil {
		pages = float64(*f.PageCount)
	}
	tokens := pages * pdfEngineTokensPerPage[engine]
	return tokens * p.PromptPerMillion / 1e6
}

// estimateReasoningCost prices hidden reasoning tokens at the completion
// rate, scaled by effort level: the catalogue carries no separate
// internal-reasoning price, and providers typically bill reasoning tokens
// like completion tokens.
func estimateReasoningCost(cfg *provider.Config, predictedCompletionTokens int, p ModelPricing) float64 {
	if cfg == nil || cfg.Reasoning == nil {
		return 0
	}
	mult := reasoningEffortMultiplier[cfg.Reasoning.Effort]
	return mult * float64(predictedCompletionTokens) * p.CompletionPerMillion / 1e6
}

func estimateWebSearchCost(cfg *provider.Config, p ModelPricing) float64 {
	if cfg == nil || cfg.WebSearch == nil {
		return 0
	}
	ws := cfg.WebSearch
	switch {
	case ws.UseExa:
		return float64(ws.MaxResults) / 1000 * p.ExaSearchPer1000
	case ws.UseNative:
		mult := webSearchContextMultiplier[ws.ContextSize]
		return float64(ws.MaxResults) * mult / 1000 * p.NativeSearchPer1000
	default:
		return 0
	}
}

func audioMinutes(f UploadedFile) float64 {
	mbPerMinute := audioCodecMBPerMinute[f.MimeType]
	if mbPerMinute == 0 {
		mbPerMinute = defaultAudioMBPerMinute
	}
	return float64(f.ByteSize) / (mbPerMinute * 1024 * 1024)
}

func audioCost(files []UploadedFile, p ModelPricing) float64 {
	var cost float64
	for _, f := range files {
		if f.Kind == "audio" {
			cost += audioMinutes(f) * p.PerAudioMinute
		}
	}
	return cost
}
