package taskgate

import "context"

// Store abstracts persistence for tasks, steps, the cost ledger, and the
// ancillary surfaces (users, API keys, files, chat threads). All task/step
// mutations are expected to be crash-safe to the storage tier; the Work
// Queue guarantees there is only ever one writer per task at a time (§5),
// so the Store itself does not need to serialize per-task writes.
type Store interface {
	// --- Users ---
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)

	// --- API keys ---
	CreateAPIKey(ctx context.Context, key APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, revokedAt int64) error

	// --- Files ---
	CreateFile(ctx context.Context, file UploadedFile) error
	GetFile(ctx context.Context, id string) (UploadedFile, error)
	GetFiles(ctx context.Context, ids []string) ([]UploadedFile, error)
	ListFiles(ctx context.Context, userID string) ([]UploadedFile, error)

	// --- Chat threads (ancillary, thin) ---
	CreateThread(ctx context.Context, thread ChatThread) error
	GetThread(ctx context.Context, id string) (ChatThread, error)
	ListThreads(ctx context.Context, userID string) ([]ChatThread, error)
	StoreMessage(ctx context.Context, msg ChatMessage) error
	GetMessages(ctx context.Context, threadID string, limit int) ([]ChatMessage, error)

	// --- Tasks ---
	CreateTask(ctx context.Context, prompt, userID string) (Task, error)
	GetTask(ctx context.Context, id, userID string) (Task, error)
	ListTasks(ctx context.Context, userID string) ([]Task, error)
	// UpdateAfterDecomposition atomically sets title, status=in_progress,
	// steps_generated=true, and inserts all step rows.
	UpdateAfterDecomposition(ctx context.Context, taskID, title string, steps []TaskStep) error
	// UpdateTaskFinal sets the task's terminal status, completion time, and
	// (for status=completed) output.
	UpdateTaskFinal(ctx context.Context, taskID string, status TaskStatus, completedAt int64, output string) error

	// --- Steps ---
	GetStep(ctx context.Context, stepID string) (TaskStep, error)
	// GetSteps returns a task's steps ordered by step_number. When
	// excludeAbandoned is true, steps with status=abandoned are omitted.
	GetSteps(ctx context.Context, taskID, userID string, excludeAbandoned bool) ([]TaskStep, error)
	// UpdateStep persists the mutable fields of step (status, timestamps,
	// response content, and variant-specific fields).
	UpdateStep(ctx context.Context, step TaskStep) error
	// MarkStepsAbandonedAfter marks every non-terminal step of taskID with
	// step_number > stepNumber as abandoned.
	MarkStepsAbandonedAfter(ctx context.Context, taskID string, stepNumber int) error
	// InsertNewStepsAfterReevaluation inserts defs as new steps numbered
	// sequentially starting at afterStepNumber+1.
	InsertNewStepsAfterReevaluation(ctx context.Context, taskID string, afterStepNumber int, defs []StepDefinition) ([]TaskStep, error)
	// CreateSynthesizedReevaluateStep inserts an unplanned ReevaluateStep at
	// the given step number.
	CreateSynthesizedReevaluateStep(ctx context.Context, taskID, prompt string, stepNumber int) (TaskStep, error)

	// --- Cost ledger ---
	AddCostIncrement(ctx context.Context, taskID string, usd float64) error
	TotalCost(ctx context.Context, taskID string) (float64, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
