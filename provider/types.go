// Package provider defines the LLM adapter contract (C2): translating a
// structured completion request to an upstream provider and parsing
// tagged additional-data fields out of both non-streaming and streaming
// responses. Concrete adapters (e.g. package openrouter) implement
// Provider against a specific upstream wire format.
package provider

import "context"

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FileKind names the kind of binary content an Attachment carries.
type FileKind string

const (
	FileKindPDF   FileKind = "pdf"
	FileKindImage FileKind = "image"
	FileKindAudio FileKind = "audio"
	FileKindVideo FileKind = "video"
	FileKindText  FileKind = "text"
)

// Attachment is binary content attached to a Message. At most one of
// Bytes or URL is set, matching the "bytes or URL" shape spec.md §4.2
// allows for pdf/image/video attachments (audio is always inline bytes).
// Attachments the Step Executor builds from inline uploads carry neither.
type Attachment struct {
	Kind     FileKind
	MimeType string
	Bytes    []byte
	URL      string
}

// Message is one turn sent to the adapter.
type Message struct {
	Role        Role
	Content     string
	Attachments []Attachment
}

// ContextSize controls how much native web-search context a model pulls in.
type ContextSize string

const (
	ContextSizeLow    ContextSize = "low"
	ContextSizeMedium ContextSize = "medium"
	ContextSizeHigh   ContextSize = "high"
)

// WebSearchConfig requests web-search augmentation for a completion.
type WebSearchConfig struct {
	UseExa       bool
	UseNative    bool
	MaxResults   int
	ContextSize  ContextSize
	SearchPrompt string
}

// ReasoningEffort is the requested depth of a model's internal reasoning.
type ReasoningEffort string

const (
	ReasoningNone    ReasoningEffort = "none"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

type ReasoningConfig struct {
	Effort ReasoningEffort
}

// PDFEngine selects how PDF attachments are processed.
type PDFEngine string

const (
	PDFEngineNative     PDFEngine = "native"
	PDFEngineMistralOCR PDFEngine = "mistral_ocr"
	PDFEngineText       PDFEngine = "pdf_text"
)

type PDFConfig struct {
	Engine PDFEngine
}

// Config carries the per-request options derived from a step's required
// capabilities (§4.8 step 5).
type Config struct {
	WebSearch *WebSearchConfig
	Reasoning *ReasoningConfig
	PDF       *PDFConfig
}

// Reserved additional-data keys. A caller may not request these as
// ordinary additional_requested_data names; the adapter uses them to
// deliver the model's own reasoning trace as synthesized chunks.
const (
	ReservedKeyInternalReasoning        = "_internal_reasoning"
	ReservedKeyInternalReasoningSummary = "_internal_reasoning_summary"
)

// AssistantMessage is the complete, non-streaming response from Complete.
type AssistantMessage struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	AdditionalData   map[string]string
}

// Chunk is one unit of a streaming response. Key is empty for plain text
// and set to the additional-data name for a tag-body segment.
type Chunk struct {
	Content string
	Key     string
}

// ModelCapabilities is the subset of a cached model description the adapter
// needs to validate a request before it reaches the upstream (§4.2 step 1-3):
// which input modalities the model accepts and whether it supports native
// web search. Concrete adapters take a ModelLookup rather than importing the
// catalogue package directly, keeping provider free of a dependency on the
// rest of the gateway.
type ModelCapabilities struct {
	InputModalities         map[FileKind]bool
	SupportsNativeWebSearch bool
}

// ModelLookup resolves a model name to its cached capabilities. It returns
// ok=false for an unknown model, which the OpenRouter adapter reports as
// ErrUnknownModel.
type ModelLookup func(model string) (caps ModelCapabilities, ok bool)

// Provider is the LLM adapter's public contract (§4.2).
type Provider interface {
	// Complete sends a non-streaming request and returns the full response.
	// additionalRequestedData maps requested field name to a human
	// description of what the model should put there; when non-empty, the
	// adapter asks the model to emit <additional_data key=NAME>...</additional_data>
	// segments and strips/collects them into AssistantMessage.AdditionalData.
	Complete(ctx context.Context, apiKey, model string, messages []Message, additionalRequestedData map[string]string, temperature float64, cfg *Config) (AssistantMessage, error)
	// Stream sends a streaming request, emitting Chunks to ch as they
	// arrive, and returns the fully accumulated response once the stream
	// ends. ch is closed before Stream returns, on success or error.
	Stream(ctx context.Context, apiKey, model string, messages []Message, additionalRequestedData map[string]string, temperature float64, cfg *Config, ch chan<- Chunk) (AssistantMessage, error)
	// Name returns the provider's identifier (e.g. "openrouter").
	Name() string
}
