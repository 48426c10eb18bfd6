package taskgate

import (
	"testing"

	"github.com/nevindra/taskgate/provider"
)

func testModel() ModelDescription {
	return ModelDescription{
		ID: "m",
		Pricing: ModelPricing{
			PromptPerMillion:     1_000_000, // $1 per token, for round numbers
			CompletionPerMillion: 2_000_000,
			PerImage:             0.01,
			PerAudioMinute:       0.006,
			PerRequest:           0.001,
			ExaSearchPer1000:     5,
			NativeSearchPer1000:  10,
		},
	}
}

func TestActualCostBaseTokens(t *testing.T) {
	m := testModel()
	msg := provider.AssistantMessage{PromptTokens: 10, CompletionTokens: 5}
	got := ActualCost(m, msg, nil, nil)
	want := 10*1.0 + 5*2.0 + 0.001
	if got != want {
		t.Errorf("ActualCost() = %v, want %v", got, want)
	}
}

func TestActualCostAddsPerImageNotText(t *testing.T) {
	m := testModel()
	msg := provider.AssistantMessage{PromptTokens: 0, CompletionTokens: 0}
	files := []UploadedFile{{Kind: "image"}, {Kind: "text", ByteSize: 100000}}
	got := ActualCost(m, msg, files, nil)
	want := 0.001 + 0.01 // per-request + one image; text is already in prompt_tokens
	if got != want {
		t.Errorf("ActualCost() = %v, want %v", got, want)
	}
}

func TestEstimateCostIncludesTextFileTokens(t *testing.T) {
	m := testModel()
	files := []UploadedFile{{Kind: "text", ByteSize: 4_000_000}} // ~1M tokens
	got := EstimateCost(m, 0, 0, files, nil)
	want := 0.001 + 1_000_000.0*1.0
	if got != want {
		t.Errorf("EstimateCost() = %v, want %v", got, want)
	}
}

func TestEstimateCostPDFEngineAffectsTokens(t *testing.T) {
	m := testModel()
	pages := 2
	nativeCost := EstimateCost(m, 0, 0, []UploadedFile{{Kind: "pdf", PageCount: &pages}}, &provider.Config{PDF: &provider.PDFConfig{Engine: provider.PDFEngineNative}})
	textCost := EstimateCost(m, 0, 0, []UploadedFile{{Kind: "pdf", PageCount: &pages}}, &provider.Config{PDF: &provider.PDFConfig{Engine: provider.PDFEngineText}})
	if nativeCost <= textCost {
		t.Errorf("native PDF cost %v should exceed text-extraction cost %v", nativeCost, textCost)
	}
}

func TestEstimateCostReasoningScalesWithEffort(t *testing.T) {
	m := testModel()
	low := EstimateCost(m, 0, 100, nil, &provider.Config{Reasoning: &provider.ReasoningConfig{Effort: provider.ReasoningLow}})
	high := EstimateCost(m, 0, 100, nil, &provider.Config{Reasoning: &provider.ReasoningConfig{Effort: provider.ReasoningHigh}})
	none := EstimateCost(m, 0, 100, nil, &provider.Config{Reasoning: &provider.ReasoningConfig{Effort: provider.ReasoningNone}})
	if !(none < low && low < high) {
		t.Errorf("expected none < low < high, got none=%v low=%v high=%v", none, low, high)
	}
}

func TestEstimateCostWebSearchExaVsNative(t *testing.T) {
	m := testModel()
	exa := EstimateCost(m, 0, 0, nil, &provider.Config{WebSearch: &provider.WebSearchConfig{UseExa: true, MaxResults: 1000}})
	native := EstimateCost(m, 0, 0, nil, &provider.Config{WebSearch: &provider.WebSearchConfig{UseNative: true, MaxResults: 1000, ContextSize: provider.ContextSizeHigh}})
	wantExa := 0.001 + 5.0
	wantNative := 0.001 + 1000*4.0/1000*10.0
	if exa != wantExa {
		t.Errorf("exa cost = %v, want %v", exa, wantExa)
	}
	if native != wantNative {
		t.Errorf("native cost = %v, want %v", native, wantNative)
	}
}

func TestAudioCostScalesWithByteSize(t *testing.T) {
	m := testModel()
	small := []UploadedFile{{Kind: "audio", MimeType: "audio/mpeg", ByteSize: 1024 * 1024}}
	large := []UploadedFile{{Kind: "audio", MimeType: "audio/mpeg", ByteSize: 10 * 1024 * 1024}}
	gotSmall := ActualCost(m, provider.AssistantMessage{}, small, nil)
	gotLarge := ActualCost(m, provider.AssistantMessage{}, large, nil)
	if gotLarge <= gotSmall {
		t.Errorf("expected larger audio file to cost more: small=%v large=%v", gotSmall, gotLarge)
	}
}
