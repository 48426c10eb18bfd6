package taskgate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nevindra/taskgate/provider"
)

// StepDefinition is one planned step from a decomposition or reevaluation
// call, before it has been persisted as a TaskStep.
type StepDefinition struct {
	Prompt               string       `json:"prompt"`
	StepType             StepType     `json:"step_type"`
	Complexity           Complexity   `json:"complexity,omitempty"`
	RequiredCapabilities []Capability `json:"required_capabilities,omitempty"`
}

// DecompositionResult is the Decomposer's (C7) output.
type DecompositionResult struct {
	Title string
	Steps []StepDefinition
}

const decompositionModel = "openai/gpt-4.1"

const decompositionSystemPrompt = `You are a planning assistant. Given a user's request, break it into an ordered
list of steps. Respond using the output_title and output_steps additional-data
fields. output_title is a short task title. output_steps is a JSON array; each
element has "prompt" (string), "step_type" ("normal" or "reevaluate", default
"normal"), and for normal steps "complexity" (one of low, medium, high) and
"required_capabilities" (a subset of reasoning, exa_search, native_web_search,
ocr_pdf, text_pdf, native_pdf). A trivial request may legitimately produce a
single step.`

// Decomposer implements C7: it asks a fixed high-capability model to turn a
// user prompt into a DecompositionResult.
type Decomposer struct {
	llm   provider.Provider
	store Store
	bus   *EventBus
}

// NewDecomposer creates a Decomposer.
func NewDecomposer(llm provider.Provider, store Store, bus *EventBus) *Decomposer {
	return &Decomposer{llm: llm, store: store, bus: bus}
}

// Decompose calls the LLM and parses its output into a DecompositionResult.
// Parsing is strict (§4.7): a missing prompt, or an unrecognized complexity
// or capability value, fails with DecompositionError.
func (d *Decomposer) Decompose(ctx context.Context, apiKey, prompt string) (DecompositionResult, error) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: decompositionSystemPrompt},
		{Role: provider.RoleUser, Content: prompt},
	}
	requested := map[string]string{
		"output_title": "a short, human-readable title for this task",
		"output_steps": "a JSON array of step definitions, as instructed above",
	}
	msg, err := d.llm.Complete(ctx, apiKey, decompositionModel, messages, requested, 0.3, nil)
	if err != nil {
		return DecompositionResult{}, WrapError(KindDecompositionError, err, "decomposition call failed")
	}

	title := msg.AdditionalData["output_title"]
	rawSteps := msg.AdditionalData["output_steps"]
	if title == "" {
		return DecompositionResult{}, NewError(KindDecompositionError, "decomposition response missing output_title")
	}

	var defs []rawStepDefinition
	if err := json.Unmarshal([]byte(rawSteps), &defs); err != nil {
		return DecompositionResult{}, WrapError(KindDecompositionError, err, "decomposition output_steps is not valid JSON")
	}
	steps, err := parseStepDefinitions(defs)
	if err != nil {
		return DecompositionResult{}, err
	}
	return DecompositionResult{Title: title, Steps: steps}, nil
}

// rawStepDefinition mirrors the untyped JSON the model returns, before
// complexity/capability/step_type strings are validated against the known
// enums.
type rawStepDefinition struct {
	Prompt               string   `json:"prompt"`
	StepType             string   `json:"step_type"`
	Complexity           string   `json:"complexity"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

func parseStepDefinitions(raws []rawStepDefinition) ([]StepDefinition, error) {
	out := make([]StepDefinition, 0, len(raws))
	for i, raw := range raws {
		if raw.Prompt == "" {
			return nil, NewError(KindDecompositionError, "step %d missing prompt", i)
		}
		stepType := StepTypeNormal
		if raw.StepType != "" {
			stepType = StepType(raw.StepType)
			if stepType != StepTypeNormal && stepType != StepTypeReevaluate {
				return nil, NewError(KindDecompositionError, "step %d has unknown step_type %q", i, raw.StepType)
			}
		}
		def := StepDefinition{Prompt: raw.Prompt, StepType: stepType}
		if stepType == StepTypeNormal {
			complexity, err := parseComplexity(raw.Complexity, i)
			if err != nil {
				return nil, err
			}
			def.Complexity = complexity
			caps, err := parseCapabilities(raw.RequiredCapabilities, i)
			if err != nil {
				return nil, err
			}
			def.RequiredCapabilities = caps
		}
		out = append(out, def)
	}
	return out, nil
}

func parseComplexity(s string, stepIndex int) (Complexity, error) {
	if s == "" {
		return ComplexityMedium, nil
	}
	c := Complexity(s)
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return c, nil
	default:
		return "", NewError(KindDecompositionError, "step %d has unknown complexity %q", stepIndex, s)
	}
}

func parseCapabilities(names []string, stepIndex int) ([]Capability, error) {
	out := make([]Capability, 0, len(names))
	for _, n := range names {
		c := Capability(n)
		switch c {
		case CapReasoning, CapExaSearch, CapNativeWebSearch, CapOCRPdf, CapTextPdf, CapNativePdf:
			out = append(out, c)
		default:
			return nil, NewError(KindDecompositionError, "step %d has unknown capability %q", stepIndex, n)
		}
	}
	return out, nil
}

// DecomposeAndQueue runs Decompose, persists the plan, emits
// task.steps_generated, and returns the follow-up work items implied by the
// plan: one EXECUTE (or REEVALUATE) for step 0, if any step exists.
func (d *Decomposer) DecomposeAndQueue(ctx context.Context, task Task, apiKey string) ([]WorkItem, error) {
	result, err := d.Decompose(ctx, apiKey, task.Prompt)
	if err != nil {
		return nil, err
	}
	steps := make([]TaskStep, len(result.Steps))
	for i, def := range result.Steps {
		steps[i] = stepFromDefinition(task.ID, i, def)
	}
	if err := d.store.UpdateAfterDecomposition(ctx, task.ID, result.Title, steps); err != nil {
		return nil, WrapError(KindInternal, err, "persist decomposition for task %s", task.ID)
	}
	d.bus.Emit(task.UserID, NewEvent(EventTaskStepsGenerated, fmt.Sprintf("generated %d steps", len(steps)), map[string]string{"task_id": task.ID}))

	if len(steps) == 0 {
		return nil, nil
	}
	return []WorkItem{workItemFor(task, apiKey, steps[0])}, nil
}

func stepFromDefinition(taskID string, number int, def StepDefinition) TaskStep {
	step := TaskStep{
		ID:         NewID(),
		TaskID:     taskID,
		StepNumber: number,
		Prompt:     def.Prompt,
		Status:     StepPending,
		Type:       def.StepType,
	}
	switch def.StepType {
	case StepTypeReevaluate:
		step.Reevaluate = &ReevaluateStepDetails{IsPlanned: true}
	default:
		step.Normal = &NormalStepDetails{
			Complexity:           def.Complexity,
			RequiredCapabilities: def.RequiredCapabilities,
		}
	}
	return step
}

func workItemFor(task Task, apiKey string, step TaskStep) WorkItem {
	kind := WorkExecute
	if step.Type == StepTypeReevaluate {
		kind = WorkReevaluate
	}
	return WorkItem{TaskID: task.ID, UserID: task.UserID, APIKey: apiKey, Kind: kind, StepID: step.ID}
}
