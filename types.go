// Package taskgate implements a multi-tenant gateway that decomposes
// complex user prompts into multi-step task plans, executes each step
// against a pool of third-party LLMs with per-step model selection, and
// supports mid-plan reevaluation driven by live results.
package taskgate

// --- Task ---

// TaskStatus is the monotonically-advancing lifecycle state of a Task.
type TaskStatus string

const (
	TaskDecomposing TaskStatus = "decomposing"
	TaskInProgress  TaskStatus = "in_progress"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
)

// Task is the unit of work a user submits. Prompt is immutable once
// created; Title is set exactly once, on successful decomposition.
type Task struct {
	ID             string
	UserID         string
	Prompt         string
	Title          string
	Status         TaskStatus
	Output         string
	StepsGenerated bool
	CreatedAt      int64
	CompletedAt    *int64
}

// --- TaskStep (tagged union: NormalStep / ReevaluateStep) ---

type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepInProgress       StepStatus = "in_progress"
	StepCompleted        StepStatus = "completed"
	StepCouldNotComplete StepStatus = "could_not_complete"
	StepFailed           StepStatus = "failed"
	StepAbandoned        StepStatus = "abandoned"
)

type StepType string

const (
	StepTypeNormal     StepType = "normal"
	StepTypeReevaluate StepType = "reevaluate"
)

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Capability names a required model capability a NormalStep may declare.
type Capability string

const (
	CapReasoning       Capability = "reasoning"
	CapExaSearch       Capability = "exa_search"
	CapNativeWebSearch Capability = "native_web_search"
	CapOCRPdf          Capability = "ocr_pdf"
	CapTextPdf         Capability = "text_pdf"
	CapNativePdf       Capability = "native_pdf"
)

// TaskStep is the common header shared by both step variants. Exactly one
// of Normal or Reevaluate is set, selected by Type; the persistence layer
// stores Type as a discriminator column and the variant as a JSON payload.
type TaskStep struct {
	ID              string
	TaskID          string
	StepNumber      int
	Prompt          string
	Status          StepStatus
	Type            StepType
	StartedAt       *int64
	CompletedAt     *int64
	ResponseContent string

	Normal     *NormalStepDetails
	Reevaluate *ReevaluateStepDetails
}

// NormalStepDetails carries the fields specific to a NormalStep.
// ModelName, PredictedScore and PredictedLength are unset until the step
// executor performs model selection for this step (§4.8 step 1).
type NormalStepDetails struct {
	Complexity           Complexity
	RequiredCapabilities []Capability
	RequiredFileIDs      []string
	ModelName            string
	PredictedScore       *float64
	PredictedLength      *int
	Output               string
	FailureReason        string
}

// ReevaluateStepDetails carries the fields specific to a ReevaluateStep.
// IsPlanned is true when the decomposer emitted the step, false when the
// step executor synthesized it in response to a failure.
type ReevaluateStepDetails struct {
	IsPlanned bool
}

// --- ModelDescription ---

// Modality names an input type a model may accept.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityFile  Modality = "file"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// ModelPricing holds per-unit USD pricing for one model, as reported by
// the model catalogue.
type ModelPricing struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
	PerImage             float64
	PerAudioMinute       float64
	PerRequest           float64
	ExaSearchPer1000     float64
	NativeSearchPer1000  float64
}

// ModelDescription is a read-only, cached model record (C3).
type ModelDescription struct {
	ID              string
	Provider        string
	ContextLength   int
	Pricing         ModelPricing
	InputModalities []Modality

	SupportsReasoning         bool
	SupportsNativeWebSearch   bool
	SupportsStructuredOutputs bool
}

// SupportsModality reports whether m accepts the given input modality.
func (m ModelDescription) SupportsModality(mod Modality) bool {
	for _, x := range m.InputModalities {
		if x == mod {
			return true
		}
	}
	return false
}

// --- Cost ledger ---

// CostIncrement is an append-only charge recorded against a task. The
// task's total cost is the sum of all increments recorded for it.
type CostIncrement struct {
	ID        string
	TaskID    string
	USD       float64
	CreatedAt int64
}

// --- Work queue ---

// WorkKind identifies what the work queue consumer should do with a WorkItem.
type WorkKind string

const (
	WorkDecompose  WorkKind = "DECOMPOSE"
	WorkExecute    WorkKind = "EXECUTE"
	WorkReevaluate WorkKind = "REEVALUATE"
)

// WorkItem is an ephemeral unit of queued work. StepID is empty for
// WorkDecompose (the task itself is the unit of work) and set otherwise.
type WorkItem struct {
	TaskID string
	UserID string
	APIKey string
	Kind   WorkKind
	StepID string
}

// --- Events ---

// Event type names emitted by the core (§6). Chat-related event types
// live alongside these but are produced by the ancillary chat surface,
// not by C1-C11.
const (
	EventConnectionEstablished = "connection.established"
	EventTaskCreated           = "task.created"
	EventTaskStepsGenerated    = "task.steps_generated"
	EventTaskStepsRegenerated  = "task.steps_regenerated"
	EventTaskStepCompleted     = "task.step_completed"
	EventTaskCompleted         = "task.completed"
	EventTaskFailed            = "task.failed"
	EventCompletionStarted     = "completion.started"
	EventCompletionChunk       = "completion.chunk"
	EventCompletionFinished    = "completion.finished"
)

// Event is the envelope delivered to subscribers of the Event Bus (C1).
// Metadata carries routing keys such as task_id, step_id, thread_id.
type Event struct {
	EventType string
	Content   string
	Metadata  map[string]string
	EventID   string
}

// EventFilter restricts which events a connection receives. An event
// matches iff EventTypes is empty or contains the event's type, AND for
// every key in MetadataFilters with a non-empty value set, the event's
// metadata value for that key is a member of the set.
type EventFilter struct {
	EventTypes      []string
	MetadataFilters map[string]map[string]struct{}
}

// --- Supplemented records (§11: users, api keys, files, chat) ---

// User owns tasks, API keys, files, and chat threads.
type User struct {
	ID        string
	CreatedAt int64
}

// APIKey authenticates requests. Plaintext is returned once at creation
// and never persisted; Hash is what's stored and compared against.
type APIKey struct {
	ID        string
	UserID    string
	Name      string
	Hash      string
	CreatedAt int64
	RevokedAt *int64
}

// Revoked reports whether the key has been soft-deleted.
func (k APIKey) Revoked() bool { return k.RevokedAt != nil }

// ChatThread is the ancillary chat surface's conversation container,
// distinct from a Task.
type ChatThread struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt int64
	UpdatedAt int64
}

// ChatMessage is one message within a ChatThread.
type ChatMessage struct {
	ID        string
	ThreadID  string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt int64
}

// FileSource distinguishes an inline upload from a registered remote URL.
type FileSource string

const (
	FileSourceInline FileSource = "inline"
	FileSourceURL    FileSource = "url"
)

// UploadedFile is a user-owned file attachable to a task step.
// PageCount is populated for PDFs and drives the PDF-engine cost estimate.
type UploadedFile struct {
	ID        string
	UserID    string
	Kind      string
	MimeType  string
	Source    FileSource
	URL       string
	ByteSize  int64
	PageCount *int
	CreatedAt int64
}

// RequiredModality maps an UploadedFile's kind to the Modality a model
// must support to accept it.
func (f UploadedFile) RequiredModality() Modality {
	switch f.Kind {
	case "image":
		return ModalityImage
	case "audio":
		return ModalityAudio
	case "video":
		return ModalityVideo
	case "pdf":
		return ModalityFile
	default:
		return ModalityText
	}
}
