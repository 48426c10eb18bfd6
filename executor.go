package taskgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/taskgate/observer"
	"github.com/nevindra/taskgate/provider"
)

const stepExecutionTemperature = 0.7

var stepExecutionRequestedData = map[string]string{
	"output":         "the result of completing this step",
	"failure_reason": "non-empty only if you could not complete this step; describe why",
}

// Executor implements the Step Executor (C8).
type Executor struct {
	store     Store
	catalogue *Catalogue
	selector  *Selector
	llm       provider.Provider
	bus       *EventBus
	inst      *observer.Instruments
}

// NewExecutor creates an Executor. inst may be nil, in which case no metrics
// are recorded.
func NewExecutor(store Store, catalogue *Catalogue, selector *Selector, llm provider.Provider, bus *EventBus, inst *observer.Instruments) *Executor {
	return &Executor{store: store, catalogue: catalogue, selector: selector, llm: llm, bus: bus, inst: inst}
}

// Execute runs a NormalStep to completion and returns the follow-up work
// items implied by its outcome (§4.8). Preconditions (step exists, is a
// NormalStep, status=pending) are the caller's responsibility to have
// established by loading the step before calling Execute.
func (e *Executor) Execute(ctx context.Context, task Task, step TaskStep, apiKey string) ([]WorkItem, error) {
	if e.inst != nil {
		start := time.Now()
		defer func() {
			e.inst.StepDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}()
	}
	if step.Normal == nil {
		return nil, NewError(KindInvalidArgument, "step %s is not a NormalStep", step.ID)
	}

	if step.Normal.ModelName == "" {
		eval, err := e.selector.SelectModel(ctx, step, step.Prompt)
		if err != nil {
			return e.handleSelectionFailure(ctx, task, step, apiKey, err)
		}
		step.Normal.ModelName = eval.ModelID
		step.Normal.PredictedScore = &eval.Score
		step.Normal.PredictedLength = &eval.PredictedLength
	}

	step.Status = StepInProgress
	startedAt := NowUnix()
	step.StartedAt = &startedAt
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return nil, WrapError(KindInternal, err, "mark step %s in_progress", step.ID)
	}

	prompt, err := e.buildPrompt(ctx, task, step)
	if err != nil {
		return e.fail(ctx, task, step, err)
	}
	files, err := e.store.GetFiles(ctx, step.Normal.RequiredFileIDs)
	if err != nil {
		return e.fail(ctx, task, step, WrapError(KindInternal, err, "load attached files for step %s", step.ID))
	}
	attachments, err := loadAttachments(files)
	if err != nil {
		return e.fail(ctx, task, step, err)
	}
	cfg := DeriveConfig(step.Normal.RequiredCapabilities)

	messages := []provider.Message{{Role: provider.RoleUser, Content: prompt, Attachments: attachments}}
	assistantMsg, err := e.llm.Complete(ctx, apiKey, step.Normal.ModelName, messages, stepExecutionRequestedData, stepExecutionTemperature, cfg)
	if err != nil {
		return e.fail(ctx, task, step, WrapError(KindUpstreamLLMFailure, err, "completion call failed for step %s", step.ID))
	}

	if model, ok, err := e.catalogue.GetByID(ctx, step.Normal.ModelName); err == nil && ok {
		cost := ActualCost(model, assistantMsg, files, cfg)
		if err := e.store.AddCostIncrement(ctx, task.ID, cost); err != nil {
			return e.fail(ctx, task, step, WrapError(KindInternal, err, "record cost for task %s", task.ID))
		}
	}

	failureReason := assistantMsg.AdditionalData["failure_reason"]
	completedAt := NowUnix()
	step.CompletedAt = &completedAt

	if failureReason != "" {
		step.Status = StepCouldNotComplete
		step.Normal.FailureReason = failureReason
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return nil, WrapError(KindInternal, err, "persist could_not_complete step %s", step.ID)
		}
		e.emitStepCompleted(task, step)
		return e.synthesizeReevaluation(ctx, task, step, apiKey, failureReason)
	}

	step.Status = StepCompleted
	step.Normal.Output = assistantMsg.AdditionalData["output"]
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return nil, WrapError(KindInternal, err, "persist completed step %s", step.ID)
	}
	e.emitStepCompleted(task, step)

	return e.advance(ctx, task, step, apiKey)
}

// handleSelectionFailure converts a NoSuitableModel failure from C5 into an
// unplanned reevaluate step rather than failing the task outright (§4.8,
// §7); any other selection error fails the step and task.
func (e *Executor) handleSelectionFailure(ctx context.Context, task Task, step TaskStep, apiKey string, err error) ([]WorkItem, error) {
	if KindOf(err) != KindNoSuitableModel {
		return e.fail(ctx, task, step, err)
	}
	step.Status = StepCouldNotComplete
	completedAt := NowUnix()
	step.CompletedAt = &completedAt
	step.Normal.FailureReason = err.Error()
	if updateErr := e.store.UpdateStep(ctx, step); updateErr != nil {
		return nil, WrapError(KindInternal, updateErr, "persist could_not_complete step %s", step.ID)
	}
	e.emitStepCompleted(task, step)
	return e.synthesizeReevaluation(ctx, task, step, apiKey, err.Error())
}

// synthesizeReevaluation creates the unplanned ReevaluateStep that follows a
// could_not_complete / NoSuitableModel outcome (§4.8 step 8, §7) and returns
// a REEVALUATE work item for it.
func (e *Executor) synthesizeReevaluation(ctx context.Context, task Task, failed TaskStep, apiKey, reason string) ([]WorkItem, error) {
	reevaluate, err := e.store.CreateSynthesizedReevaluateStep(ctx, task.ID, reason, failed.StepNumber+1)
	if err != nil {
		return nil, WrapError(KindInternal, err, "synthesize reevaluate step after step %s", failed.ID)
	}
	return []WorkItem{{TaskID: task.ID, UserID: task.UserID, APIKey: apiKey, Kind: WorkReevaluate, StepID: reevaluate.ID}}, nil
}

// advance enqueues the next sibling step, or finalizes the task if step was
// the last non-abandoned one (§4.8 step 8).
func (e *Executor) advance(ctx context.Context, task Task, step TaskStep, apiKey string) ([]WorkItem, error) {
	siblings, err := e.store.GetSteps(ctx, task.ID, task.UserID, true)
	if err != nil {
		return nil, WrapError(KindInternal, err, "load sibling steps for task %s", task.ID)
	}

	var next *TaskStep
	allCompleted := true
	for i := range siblings {
		s := siblings[i]
		if s.StepNumber <= step.StepNumber {
			continue
		}
		if next == nil {
			next = &siblings[i]
		}
	}
	for i := range siblings {
		// A could_not_complete step has already been superseded by the
		// reevaluation it triggered; it is a satisfying terminal state
		// here, not a stuck one (§7: could_not_complete must not block
		// the task from ever reaching completed).
		if siblings[i].Status != StepCompleted && siblings[i].Status != StepCouldNotComplete {
			allCompleted = false
			break
		}
	}

	if next != nil {
		kind := WorkExecute
		if next.Type == StepTypeReevaluate {
			kind = WorkReevaluate
		}
		return []WorkItem{{TaskID: task.ID, UserID: task.UserID, APIKey: apiKey, Kind: kind, StepID: next.ID}}, nil
	}

	if allCompleted {
		if err := e.store.UpdateTaskFinal(ctx, task.ID, TaskCompleted, NowUnix(), step.Normal.Output); err != nil {
			return nil, WrapError(KindInternal, err, "finalize task %s", task.ID)
		}
		e.bus.Emit(task.UserID, NewEvent(EventTaskCompleted, step.Normal.Output, map[string]string{"task_id": task.ID}))
	}
	return nil, nil
}

// fail marks step and task failed and emits task.failed; it always returns
// the triggering error to the caller (no automatic retry, §7).
func (e *Executor) fail(ctx context.Context, task Task, step TaskStep, cause error) ([]WorkItem, error) {
	step.Status = StepFailed
	completedAt := NowUnix()
	step.CompletedAt = &completedAt
	e.store.UpdateStep(ctx, step)
	e.store.UpdateTaskFinal(ctx, task.ID, TaskFailed, completedAt, "")
	e.bus.Emit(task.UserID, NewEvent(EventTaskFailed, cause.Error(), map[string]string{"task_id": task.ID, "step_id": step.ID}))
	return nil, cause
}

func (e *Executor) emitStepCompleted(task Task, step TaskStep) {
	e.bus.Emit(task.UserID, NewEvent(EventTaskStepCompleted, step.Prompt, map[string]string{"task_id": task.ID, "step_id": step.ID}))
}

// buildPrompt assembles the step's execution prompt from the task title (or
// prompt, if decomposition hasn't set a title) and every completed,
// non-abandoned prior sibling's output (§4.8 step 3).
func (e *Executor) buildPrompt(ctx context.Context, task Task, step TaskStep) (string, error) {
	siblings, err := e.store.GetSteps(ctx, task.ID, task.UserID, true)
	if err != nil {
		return "", WrapError(KindInternal, err, "load prior steps for task %s", task.ID)
	}

	title := task.Title
	if title == "" {
		title = task.Prompt
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\nPrevious step results:\n", title)
	for _, s := range siblings {
		if s.StepNumber >= step.StepNumber || s.Status != StepCompleted {
			continue
		}
		output := ""
		if s.Normal != nil {
			output = s.Normal.Output
		}
		fmt.Fprintf(&sb, "Step %d: %s\nOutput: %s\n", s.StepNumber, s.Prompt, output)
	}
	fmt.Fprintf(&sb, "\nCurrent step (Step %d):\n%s", step.StepNumber, step.Prompt)
	return sb.String(), nil
}

// loadAttachments translates stored file metadata into adapter Attachments.
// Remote files travel by URL; this gateway does not re-fetch file bytes
// into memory for URL-sourced uploads. Inline uploads yield attachments
// with neither Bytes nor URL set, since the Store keeps file metadata only.
func loadAttachments(files []UploadedFile) ([]provider.Attachment, error) {
	out := make([]provider.Attachment, 0, len(files))
	for _, f := range files {
		kind, err := fileAttachmentKind(f)
		if err != nil {
			return nil, err
		}
		out = append(out, provider.Attachment{Kind: kind, MimeType: f.MimeType, URL: f.URL})
	}
	return out, nil
}

func fileAttachmentKind(f UploadedFile) (provider.FileKind, error) {
	switch f.Kind {
	case "pdf":
		return provider.FileKindPDF, nil
	case "image":
		return provider.FileKindImage, nil
	case "audio":
		return provider.FileKindAudio, nil
	case "video":
		return provider.FileKindVideo, nil
	case "text":
		return provider.FileKindText, nil
	default:
		return "", NewError(KindInvalidArgument, "file %s has unknown kind %q", f.ID, f.Kind)
	}
}
