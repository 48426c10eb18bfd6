package taskgate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/taskgate/observer"
	"github.com/nevindra/taskgate/provider"
)

const reevaluationModel = decompositionModel

const reevaluationSystemPrompt = `You are a planning assistant revising an in-progress task plan. Given the
original task, its title, the results of every step completed so far, and
the reevaluation step's own prompt, decide what remaining work is needed and
respond using the output_steps additional-data field only: a JSON array with
the same shape as a decomposition's step list (each element has "prompt",
"step_type", and for normal steps "complexity" and "required_capabilities").`

// Reevaluator implements the Reevaluator (C9): on a ReevaluateStep's
// activation it regenerates the remainder of the plan from live results and
// splices it in after marking superseded steps abandoned.
type Reevaluator struct {
	llm   provider.Provider
	store Store
	bus   *EventBus
	inst  *observer.Instruments
}

// NewReevaluator creates a Reevaluator. inst may be nil, in which case no
// metrics are recorded.
func NewReevaluator(llm provider.Provider, store Store, bus *EventBus, inst *observer.Instruments) *Reevaluator {
	return &Reevaluator{llm: llm, store: store, bus: bus, inst: inst}
}

// Reevaluate runs a ReevaluateStep to completion (§4.9) and returns the
// follow-up work item for the first newly inserted step, if any.
//
// Preconditions: step is a ReevaluateStep and every prior non-abandoned
// step of task is completed; violating that fails with DecompositionError.
func (r *Reevaluator) Reevaluate(ctx context.Context, task Task, step TaskStep, apiKey string) ([]WorkItem, error) {
	if r.inst != nil {
		start := time.Now()
		defer func() {
			r.inst.StepDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}()
	}
	if step.Reevaluate == nil {
		return nil, NewError(KindInvalidArgument, "step %s is not a ReevaluateStep", step.ID)
	}

	priorSteps, err := r.store.GetSteps(ctx, task.ID, task.UserID, true)
	if err != nil {
		return nil, WrapError(KindInternal, err, "load prior steps for task %s", task.ID)
	}
	if err := requirePriorStepsCompleted(priorSteps, step.StepNumber); err != nil {
		return nil, err
	}

	step.Status = StepInProgress
	startedAt := NowUnix()
	step.StartedAt = &startedAt
	if err := r.store.UpdateStep(ctx, step); err != nil {
		return nil, WrapError(KindInternal, err, "mark reevaluate step %s in_progress", step.ID)
	}

	contextMsg := r.buildContext(task, step, priorSteps)
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: reevaluationSystemPrompt},
		{Role: provider.RoleUser, Content: contextMsg},
	}
	requested := map[string]string{"output_steps": "a JSON array of step definitions, as instructed above"}
	msg, err := r.llm.Complete(ctx, apiKey, reevaluationModel, messages, requested, 0.3, nil)
	if err != nil {
		return r.fail(ctx, task, step, WrapError(KindDecompositionError, err, "reevaluation call failed for step %s", step.ID))
	}

	var defs []rawStepDefinition
	if err := json.Unmarshal([]byte(msg.AdditionalData["output_steps"]), &defs); err != nil {
		return r.fail(ctx, task, step, WrapError(KindDecompositionError, err, "reevaluation output_steps is not valid JSON"))
	}
	steps, err := parseStepDefinitions(defs)
	if err != nil {
		return r.fail(ctx, task, step, err)
	}

	completedAt := NowUnix()
	step.CompletedAt = &completedAt
	step.Status = StepCompleted
	if err := r.store.UpdateStep(ctx, step); err != nil {
		return nil, WrapError(KindInternal, err, "persist completed reevaluate step %s", step.ID)
	}
	r.bus.Emit(task.UserID, NewEvent(EventTaskStepCompleted, step.Prompt, map[string]string{"task_id": task.ID, "step_id": step.ID}))

	if err := r.store.MarkStepsAbandonedAfter(ctx, task.ID, step.StepNumber); err != nil {
		return nil, WrapError(KindInternal, err, "abandon superseded steps after %d for task %s", step.StepNumber, task.ID)
	}

	inserted, err := r.store.InsertNewStepsAfterReevaluation(ctx, task.ID, step.StepNumber, steps)
	if err != nil {
		return nil, WrapError(KindInternal, err, "insert regenerated steps for task %s", task.ID)
	}
	r.bus.Emit(task.UserID, NewEvent(EventTaskStepsRegenerated, fmt.Sprintf("regenerated %d steps after step %d", len(inserted), step.StepNumber), map[string]string{"task_id": task.ID}))

	if len(inserted) == 0 {
		return nil, nil
	}
	return []WorkItem{workItemFor(task, apiKey, inserted[0])}, nil
}

// requirePriorStepsCompleted enforces the reevaluator's precondition: every
// non-abandoned step numbered below the activating step must have finished
// running. A could_not_complete predecessor counts as finished — it is the
// step that triggers a synthesized reevaluation (§4.8 step 8, §7) and must
// be let through rather than blocking the very recovery it caused.
func requirePriorStepsCompleted(steps []TaskStep, reevaluateStepNumber int) error {
	for _, s := range steps {
		if s.StepNumber >= reevaluateStepNumber {
			continue
		}
		if s.Status == StepPending || s.Status == StepInProgress {
			return NewError(KindDecompositionError, "step %d is not completed (status=%s); cannot reevaluate at step %d", s.StepNumber, s.Status, reevaluateStepNumber)
		}
	}
	return nil
}

// buildContext assembles the reevaluation prompt: task prompt, title, every
// prior step's prompt+output, and the reevaluate step's own prompt (§4.9
// step 2).
func (r *Reevaluator) buildContext(task Task, step TaskStep, priorSteps []TaskStep) string {
	title := task.Title
	if title == "" {
		title = task.Prompt
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original task prompt: %s\nTitle: %s\n\n", task.Prompt, title)
	for _, s := range priorSteps {
		if s.StepNumber >= step.StepNumber {
			continue
		}
		output := ""
		if s.Normal != nil {
			output = s.Normal.Output
		}
		fmt.Fprintf(&sb, "Step %d: %s\nOutput: %s\n", s.StepNumber, s.Prompt, output)
	}
	fmt.Fprintf(&sb, "Step %d (Reevaluate): %s", step.StepNumber, step.Prompt)
	return sb.String()
}

// fail marks the reevaluate step and task failed and emits task.failed; it
// always returns the triggering error (no automatic retry, §7).
func (r *Reevaluator) fail(ctx context.Context, task Task, step TaskStep, cause error) ([]WorkItem, error) {
	step.Status = StepFailed
	completedAt := NowUnix()
	step.CompletedAt = &completedAt
	r.store.UpdateStep(ctx, step)
	r.store.UpdateTaskFinal(ctx, task.ID, TaskFailed, completedAt, "")
	r.bus.Emit(task.UserID, NewEvent(EventTaskFailed, cause.Error(), map[string]string{"task_id": task.ID, "step_id": step.ID}))
	return nil, cause
}
