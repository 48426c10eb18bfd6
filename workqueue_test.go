package taskgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nevindra/taskgate/provider"
	"github.com/nevindra/taskgate/provider/scoring"
)

// fakeQueueStore is a minimal in-memory Store sufficient to drive the
// WorkQueue end to end across DECOMPOSE -> EXECUTE -> EXECUTE (S2, §8).
type fakeQueueStore struct {
	Store
	mu    sync.Mutex
	tasks map[string]Task
	steps map[string]TaskStep
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{tasks: map[string]Task{}, steps: map[string]TaskStep{}}
}

func (s *fakeQueueStore) CreateTask(ctx context.Context, prompt, userID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := Task{ID: NewID(), UserID: userID, Prompt: prompt, Status: TaskDecomposing}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *fakeQueueStore) GetTask(ctx context.Context, id, userID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id], nil
}

func (s *fakeQueueStore) GetStep(ctx context.Context, stepID string) (TaskStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps[stepID], nil
}

func (s *fakeQueueStore) GetSteps(ctx context.Context, taskID, userID string, excludeAbandoned bool) ([]TaskStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskStep
	for _, st := range s.steps {
		if st.TaskID == taskID && (!excludeAbandoned || st.Status != StepAbandoned) {
			out = append(out, st)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StepNumber < out[j-1].StepNumber; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *fakeQueueStore) UpdateStep(ctx context.Context, step TaskStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.ID] = step
	return nil
}

func (s *fakeQueueStore) GetFiles(ctx context.Context, ids []string) ([]UploadedFile, error) {
	return nil, nil
}

func (s *fakeQueueStore) AddCostIncrement(ctx context.Context, taskID string, usd float64) error {
	return nil
}

func (s *fakeQueueStore) UpdateAfterDecomposition(ctx context.Context, taskID, title string, steps []TaskStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	task.Title = title
	task.Status = TaskInProgress
	task.StepsGenerated = true
	s.tasks[taskID] = task
	for _, st := range steps {
		s.steps[st.ID] = st
	}
	return nil
}

func (s *fakeQueueStore) UpdateTaskFinal(ctx context.Context, taskID string, status TaskStatus, completedAt int64, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	task.Status = status
	task.CompletedAt = &completedAt
	task.Output = output
	s.tasks[taskID] = task
	return nil
}

func (s *fakeQueueStore) CreateSynthesizedReevaluateStep(ctx context.Context, taskID, prompt string, stepNumber int) (TaskStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := TaskStep{ID: NewID(), TaskID: taskID, StepNumber: stepNumber, Prompt: prompt, Type: StepTypeReevaluate, Status: StepPending, Reevaluate: &ReevaluateStepDetails{IsPlanned: false}}
	s.steps[step.ID] = step
	return step, nil
}

func (s *fakeQueueStore) MarkStepsAbandonedAfter(ctx context.Context, taskID string, stepNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.steps {
		if st.TaskID == taskID && st.StepNumber > stepNumber {
			st.Status = StepAbandoned
			s.steps[id] = st
		}
	}
	return nil
}

func (s *fakeQueueStore) InsertNewStepsAfterReevaluation(ctx context.Context, taskID string, afterStepNumber int, defs []StepDefinition) ([]TaskStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStep, len(defs))
	for i, def := range defs {
		step := stepFromDefinition(taskID, afterStepNumber+1+i, def)
		s.steps[step.ID] = step
		out[i] = step
	}
	return out, nil
}

// sequencedLLM returns one canned response per call, in order, regardless of
// which model/messages are requested; used to script a decompose-then-two-
// executes pipeline deterministically.
type sequencedLLM struct {
	mu        sync.Mutex
	responses []provider.AssistantMessage
	calls     int
}

func (f *sequencedLLM) Name() string { return "fake" }

func (f *sequencedLLM) Complete(ctx context.Context, apiKey, model string, messages []provider.Message, requested map[string]string, temperature float64, cfg *provider.Config) (provider.AssistantMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return provider.AssistantMessage{}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *sequencedLLM) Stream(ctx context.Context, apiKey, model string, messages []provider.Message, requested map[string]string, temperature float64, cfg *provider.Config, ch chan<- provider.Chunk) (provider.AssistantMessage, error) {
	close(ch)
	return provider.AssistantMessage{}, nil
}

// TestWorkQueueDrivesTwoStepTaskToCompletion exercises S2 (§8): decomposition
// into two normal steps, then sequential execution of both, observed via the
// event bus in task.steps_generated -> step_completed(S0) ->
// step_completed(S1) -> task.completed order.
func TestWorkQueueDrivesTwoStepTaskToCompletion(t *testing.T) {
	store := newFakeQueueStore()
	bus := NewEventBus()
	conn := bus.Register("u1", EventFilter{})

	llm := &sequencedLLM{responses: []provider.AssistantMessage{
		{AdditionalData: map[string]string{
			"output_title": "Two steps",
			"output_steps": `[{"prompt":"first"},{"prompt":"second"}]`,
		}},
		{AdditionalData: map[string]string{"output": "first done"}},
		{AdditionalData: map[string]string{"output": "second done"}},
	}}

	scoringSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inferences":[{"model_id":"m1","score":1.0,"predicted_length":50}]}`))
	}))
	defer scoringSrv.Close()

	cat := NewCatalogue(&fakeSource{models: []ModelDescription{{ID: "m1"}}}, time.Hour)
	sel := NewSelector(cat, scoring.New(scoringSrv.URL), store, 0, nil)
	decomposer := NewDecomposer(llm, store, bus)
	executor := NewExecutor(store, cat, sel, llm, bus, nil)
	reevaluator := NewReevaluator(llm, store, bus, nil)
	queue := NewWorkQueue(store, bus, decomposer, executor, reevaluator, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Start(ctx)

	task, err := queue.CreateTask(context.Background(), "do two things", "u1", "apikey")
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	wantOrder := []string{
		EventTaskCreated,
		EventTaskStepsGenerated,
		EventTaskStepCompleted,
		EventTaskStepCompleted,
		EventTaskCompleted,
	}
	deadline, cancelDeadline := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDeadline()
	for i, want := range wantOrder {
		ev, ok := conn.Next(deadline)
		if !ok {
			t.Fatalf("event %d: channel closed waiting for %s", i, want)
		}
		if ev.EventType != want {
			t.Errorf("event %d = %s, want %s", i, ev.EventType, want)
		}
	}

	final, _ := store.GetTask(context.Background(), task.ID, "u1")
	if final.Status != TaskCompleted {
		t.Errorf("task status = %v, want completed", final.Status)
	}
}

func TestWorkQueueDecompositionFailureMarksTaskFailed(t *testing.T) {
	store := newFakeQueueStore()
	bus := NewEventBus()
	conn := bus.Register("u1", EventFilter{})

	llm := &fakeLLM{err: errTransport}
	cat := NewCatalogue(&fakeSource{}, time.Hour)
	sel := NewSelector(cat, nil, store, 0, nil)
	decomposer := NewDecomposer(llm, store, bus)
	executor := NewExecutor(store, cat, sel, llm, bus, nil)
	reevaluator := NewReevaluator(llm, store, bus, nil)
	queue := NewWorkQueue(store, bus, decomposer, executor, reevaluator, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Start(ctx)

	task, err := queue.CreateTask(context.Background(), "impossible", "u1", "apikey")
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	deadline, cancelDeadline := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDeadline()
	// created, then failed
	if ev, ok := conn.Next(deadline); !ok || ev.EventType != EventTaskCreated {
		t.Fatalf("first event = %+v, ok=%v", ev, ok)
	}
	ev, ok := conn.Next(deadline)
	if !ok || ev.EventType != EventTaskFailed {
		t.Fatalf("second event = %+v, ok=%v", ev, ok)
	}

	final, _ := store.GetTask(context.Background(), task.ID, "u1")
	if final.Status != TaskFailed {
		t.Errorf("task status = %v, want failed", final.Status)
	}
}

// TestWorkQueueCouldNotCompleteRecoversAndCompletes exercises S4 (§8) end to
// end through the WorkQueue: a step reporting could_not_complete must not
// stall the task. Its synthesized reevaluate step activates with the
// could_not_complete predecessor as its only prior step (reevaluate.go's
// requirePriorStepsCompleted must let that predecessor through), regenerates
// a new step, and the task still reaches completed once that new step
// finishes (executor.go's advance must count could_not_complete as a
// satisfying terminal state, not a stuck one).
//
// Observed order: task.created, task.steps_generated,
// task.step_completed(S0, could_not_complete), task.step_completed(S1,
// the reevaluate step), task.steps_regenerated, task.step_completed(S2),
// task.completed.
func TestWorkQueueCouldNotCompleteRecoversAndCompletes(t *testing.T) {
	store := newFakeQueueStore()
	bus := NewEventBus()
	conn := bus.Register("u1", EventFilter{})

	llm := &sequencedLLM{responses: []provider.AssistantMessage{
		{AdditionalData: map[string]string{
			"output_title": "One step, needs browsing",
			"output_steps": `[{"prompt":"first"}]`,
		}},
		{AdditionalData: map[string]string{"failure_reason": "cannot answer without browsing"}},
		{AdditionalData: map[string]string{"output_steps": `[{"prompt":"second, with browsing"}]`}},
		{AdditionalData: map[string]string{"output": "second done"}},
	}}

	scoringSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inferences":[{"model_id":"m1","score":1.0,"predicted_length":50}]}`))
	}))
	defer scoringSrv.Close()

	cat := NewCatalogue(&fakeSource{models: []ModelDescription{{ID: "m1"}}}, time.Hour)
	sel := NewSelector(cat, scoring.New(scoringSrv.URL), store, 0, nil)
	decomposer := NewDecomposer(llm, store, bus)
	executor := NewExecutor(store, cat, sel, llm, bus, nil)
	reevaluator := NewReevaluator(llm, store, bus, nil)
	queue := NewWorkQueue(store, bus, decomposer, executor, reevaluator, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Start(ctx)

	task, err := queue.CreateTask(context.Background(), "do one browsing-heavy thing", "u1", "apikey")
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	wantOrder := []string{
		EventTaskCreated,
		EventTaskStepsGenerated,
		EventTaskStepCompleted,
		EventTaskStepCompleted,
		EventTaskStepsRegenerated,
		EventTaskStepCompleted,
		EventTaskCompleted,
	}
	deadline, cancelDeadline := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDeadline()
	for i, want := range wantOrder {
		ev, ok := conn.Next(deadline)
		if !ok {
			t.Fatalf("event %d: channel closed waiting for %s", i, want)
		}
		if ev.EventType != want {
			t.Errorf("event %d = %s, want %s", i, ev.EventType, want)
		}
	}

	final, _ := store.GetTask(context.Background(), task.ID, "u1")
	if final.Status != TaskCompleted {
		t.Errorf("task status = %v, want completed", final.Status)
	}
	if final.Output != "second done" {
		t.Errorf("task output = %q, want %q", final.Output, "second done")
	}

	steps, _ := store.GetSteps(context.Background(), task.ID, "u1", true)
	if len(steps) != 3 {
		t.Fatalf("got %d non-abandoned steps, want 3 (could_not_complete original, reevaluate, regenerated)", len(steps))
	}
	if steps[0].Status != StepCouldNotComplete {
		t.Errorf("step 0 status = %v, want could_not_complete", steps[0].Status)
	}
}

func TestWorkQueueStopIsCooperative(t *testing.T) {
	store := newFakeQueueStore()
	bus := NewEventBus()
	queue := NewWorkQueue(store, bus, nil, nil, nil, 4, nil)

	ctx := context.Background()
	started := make(chan struct{})
	go func() {
		close(started)
		queue.Start(ctx)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)
	queue.Stop()
}
