package taskgate

import (
	"context"
	"log"
	"time"

	"github.com/nevindra/taskgate/observer"
	"go.opentelemetry.io/otel/metric"
)

// WorkQueue is the single-consumer async queue that drives one WorkItem at a
// time through the Decomposer (C7), Step Executor (C8), and Reevaluator (C9)
// (§4.10). Follow-up items returned by a dispatch are pushed back onto the
// same queue by the consumer loop, so the loop body is a pure
// dispatch-and-forward: handlers never enqueue directly.
//
// The queue is not durable across process restart; recovering in-flight
// work after a crash is a stated non-goal (§4.10, §12).
type WorkQueue struct {
	store       Store
	bus         *EventBus
	decomposer  *Decomposer
	executor    *Executor
	reevaluator *Reevaluator

	items chan WorkItem
	done  chan struct{}
	inst  *observer.Instruments
}

// NewWorkQueue creates a WorkQueue with the given buffer size. A size of 0
// makes enqueue synchronous with the consumer picking it up. inst may be
// nil, in which case no metrics are recorded.
func NewWorkQueue(store Store, bus *EventBus, decomposer *Decomposer, executor *Executor, reevaluator *Reevaluator, buffer int, inst *observer.Instruments) *WorkQueue {
	return &WorkQueue{
		store:       store,
		bus:         bus,
		decomposer:  decomposer,
		executor:    executor,
		reevaluator: reevaluator,
		items:       make(chan WorkItem, buffer),
		done:        make(chan struct{}),
		inst:        inst,
	}
}

// Enqueue pushes one item onto the queue. Blocks if the buffer is full.
func (q *WorkQueue) Enqueue(item WorkItem) {
	q.items <- item
}

// EnqueueMany pushes every item in order.
func (q *WorkQueue) EnqueueMany(items []WorkItem) {
	for _, item := range items {
		q.Enqueue(item)
	}
}

// Start runs the consumer loop in the current goroutine, draining items one
// at a time until ctx is cancelled or Stop is called. Call it from its own
// goroutine.
func (q *WorkQueue) Start(ctx context.Context) {
	log.Printf("[queue] started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("[queue] stopped: %v", ctx.Err())
			return
		case <-q.done:
			log.Printf("[queue] stopped")
			return
		case item := <-q.items:
			follow := q.dispatch(ctx, item)
			for _, f := range follow {
				q.Enqueue(f)
			}
		}
	}
}

// Stop requests the consumer loop to exit after its current item, if any,
// finishes. Cooperative: an in-flight item is allowed to complete.
func (q *WorkQueue) Stop() {
	close(q.done)
}

// CreateTask persists a new task, emits task.created, and enqueues its
// DECOMPOSE work item — the client → C6 → enqueue(DECOMPOSE) entry point of
// the control flow in spec.md §2.
func (q *WorkQueue) CreateTask(ctx context.Context, prompt, userID, apiKey string) (Task, error) {
	task, err := q.store.CreateTask(ctx, prompt, userID)
	if err != nil {
		return Task{}, WrapError(KindInternal, err, "create task for user %s", userID)
	}
	q.bus.Emit(userID, NewEvent(EventTaskCreated, task.ID, map[string]string{"task_id": task.ID}))
	q.Enqueue(WorkItem{TaskID: task.ID, UserID: userID, APIKey: apiKey, Kind: WorkDecompose})
	return task, nil
}

// dispatch routes item to the right component by kind. Errors never crash
// the loop (§4.10). A decomposition error marks the task failed here via
// failTask. Errors from Execute and Reevaluate are only logged: the task
// is failed only where the handler did so itself (Executor.fail,
// Reevaluator.fail), and other error paths leave the task's status as is.
func (q *WorkQueue) dispatch(ctx context.Context, item WorkItem) []WorkItem {
	start := time.Now()
	defer q.recordDispatch(ctx, item.Kind, start)

	switch item.Kind {
	case WorkDecompose:
		return q.dispatchDecompose(ctx, item)
	case WorkExecute:
		return q.dispatchExecute(ctx, item)
	case WorkReevaluate:
		return q.dispatchReevaluate(ctx, item)
	default:
		log.Printf("[queue] unknown work kind %q for task %s", item.Kind, item.TaskID)
		return nil
	}
}

func (q *WorkQueue) recordDispatch(ctx context.Context, kind WorkKind, start time.Time) {
	if q.inst == nil {
		return
	}
	q.inst.QueueItemsHandled.Add(ctx, 1, metric.WithAttributes(observer.AttrWorkKind.String(string(kind))))
	q.inst.QueueItemDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(observer.AttrWorkKind.String(string(kind))))
}

func (q *WorkQueue) dispatchDecompose(ctx context.Context, item WorkItem) []WorkItem {
	task, err := q.store.GetTask(ctx, item.TaskID, item.UserID)
	if err != nil {
		log.Printf("[queue] decompose: load task %s: %v", item.TaskID, err)
		return nil
	}
	follow, err := q.decomposer.DecomposeAndQueue(ctx, task, item.APIKey)
	if err != nil {
		q.failTask(ctx, task, err)
		return nil
	}
	return follow
}

func (q *WorkQueue) dispatchExecute(ctx context.Context, item WorkItem) []WorkItem {
	task, err := q.store.GetTask(ctx, item.TaskID, item.UserID)
	if err != nil {
		log.Printf("[queue] execute: load task %s: %v", item.TaskID, err)
		return nil
	}
	step, err := q.store.GetStep(ctx, item.StepID)
	if err != nil {
		log.Printf("[queue] execute: load step %s: %v", item.StepID, err)
		return nil
	}
	follow, err := q.executor.Execute(ctx, task, step, item.APIKey)
	if err != nil {
		log.Printf("[queue] execute: step %s: %v", item.StepID, err)
		return nil
	}
	return follow
}

func (q *WorkQueue) dispatchReevaluate(ctx context.Context, item WorkItem) []WorkItem {
	task, err := q.store.GetTask(ctx, item.TaskID, item.UserID)
	if err != nil {
		log.Printf("[queue] reevaluate: load task %s: %v", item.TaskID, err)
		return nil
	}
	step, err := q.store.GetStep(ctx, item.StepID)
	if err != nil {
		log.Printf("[queue] reevaluate: load step %s: %v", item.StepID, err)
		return nil
	}
	follow, err := q.reevaluator.Reevaluate(ctx, task, step, item.APIKey)
	if err != nil {
		log.Printf("[queue] reevaluate: step %s: %v", item.StepID, err)
		return nil
	}
	return follow
}

// failTask marks task failed and emits task.failed for errors that occur
// before a step-level handler (e.g. Executor, Reevaluator) has had a chance
// to terminalize the task itself — currently only decomposition failure.
func (q *WorkQueue) failTask(ctx context.Context, task Task, cause error) {
	completedAt := NowUnix()
	if err := q.store.UpdateTaskFinal(ctx, task.ID, TaskFailed, completedAt, ""); err != nil {
		log.Printf("[queue] failTask: persist failure for task %s: %v", task.ID, err)
	}
	q.bus.Emit(task.UserID, NewEvent(EventTaskFailed, cause.Error(), map[string]string{"task_id": task.ID}))
}
