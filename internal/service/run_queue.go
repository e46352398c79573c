package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
)

type RunRecorder interface {
	UpdateRunStartedOn(ctx context.Context, id string, status types.RunStatus, startedOn time.Time) error
	UpdateRunEndedOn(ctx context.Context, id string, status types.RunStatus, endedOn time.Time) error
	CreateJobResult(ctx context.Context, runID string, result types.ExecutionResult) (*store.JobResult, error)
}

type RunnerRegistry interface {
	Registry(ctx context.Context) ([]types.Runner, error)
}

// RunEvent is sent to event stream clients whenever a run changes status or
// one of its jobs finishes.
type RunEvent struct {
	RunID  string           `json:"run_id"`
	Status types.RunStatus  `json:"status,omitempty"`
	Job    *store.JobResult `json:"job,omitempty"`
}

type queuedRun struct {
	ctx  context.Context
	run  *types.PipelineRun
	jobs []types.JobDefinition
}

// RunQueue holds accepted runs until one of its workers is free. Runs are
// started in the order they were enqueued.
type RunQueue struct {
	recorder   RunRecorder
	registry   RunnerRegistry
	pool       *RunnerPool
	dispatcher *Dispatcher
	workers    int64
	Events     *SSEClientMap[RunEvent]

	queue        chan *queuedRun
	done         chan struct{}
	cancelRunMap *CancelMap[string]

	mu     sync.Mutex
	queued map[string]bool
}

func NewRunQueue(
	recorder RunRecorder,
	registry RunnerRegistry,
	pool *RunnerPool,
	executor JobExecutor,
	queueSize, workers int64,
) *RunQueue {
	rq := &RunQueue{
		recorder:     recorder,
		registry:     registry,
		pool:         pool,
		workers:      max(workers, 1),
		Events:       NewSSEClientMap[RunEvent](),
		queue:        make(chan *queuedRun, max(queueSize, 1)),
		done:         make(chan struct{}),
		cancelRunMap: NewCancelMap[string](),
		queued:       make(map[string]bool),
	}
	rq.dispatcher = NewDispatcher(pool, executor, rq.recordResult)
	return rq
}

// Enqueue accepts run for execution. It returns ErrRunQueueFull when the
// queue has no room left.
func (rq *RunQueue) Enqueue(run *types.PipelineRun, jobs []types.JobDefinition) error {
	ctx, cancel := context.WithCancel(context.Background())
	qr := &queuedRun{ctx: ctx, run: run, jobs: jobs}

	rq.mu.Lock()
	rq.queued[run.ID] = true
	rq.mu.Unlock()
	rq.cancelRunMap.AddCancel(run.ID, cancel)

	select {
	case rq.queue <- qr:
		rq.Events.SendToClients(RunEvent{RunID: run.ID, Status: types.RunQueued})
		return nil
	default:
		rq.mu.Lock()
		delete(rq.queued, run.ID)
		rq.mu.Unlock()
		rq.cancelRunMap.RemoveCancel(run.ID)
		cancel()
		return NewErrRunQueueFull()
	}
}

// CancelRun cancels a queued or running run and reports whether it was
// known to the queue. A queued run is finished as cancelled right away.
func (rq *RunQueue) CancelRun(runID string) bool {
	rq.mu.Lock()
	queued := rq.queued[runID]
	delete(rq.queued, runID)
	rq.mu.Unlock()

	ok := rq.cancelRunMap.Call(runID)
	if queued {
		rq.cancelRunMap.RemoveCancel(runID)
		rq.finishRun(runID, types.RunCancelled)
	}
	return ok
}

// ActiveRuns returns the ids of runs that are queued or running.
func (rq *RunQueue) ActiveRuns() []string {
	return rq.cancelRunMap.Keys()
}

// Run starts the workers and blocks until Shutdown is called.
func (rq *RunQueue) Run() {
	var wg sync.WaitGroup
	for range rq.workers {
		wg.Go(func() {
			for {
				select {
				case qr := <-rq.queue:
					rq.process(qr)
				case <-rq.done:
					return
				}
			}
		})
	}
	wg.Wait()
}

// Shutdown stops the workers and cancels every active run.
func (rq *RunQueue) Shutdown() {
	rq.mu.Lock()
	select {
	case <-rq.done:
	default:
		close(rq.done)
	}
	rq.mu.Unlock()
	for _, id := range rq.cancelRunMap.Keys() {
		rq.cancelRunMap.Call(id)
	}
}

func (rq *RunQueue) process(qr *queuedRun) {
	id := qr.run.ID
	defer rq.cancelRunMap.RemoveCancel(id)

	rq.mu.Lock()
	queued := rq.queued[id]
	delete(rq.queued, id)
	rq.mu.Unlock()
	if !queued {
		// cancelled while waiting in the queue
		return
	}

	if err := rq.recorder.UpdateRunStartedOn(
		context.Background(), id, types.RunRunning, time.Now().UTC(),
	); err != nil {
		log.Printf("err updating run %s started on: %+v\n", id, err)
	}
	rq.Events.SendToClients(RunEvent{RunID: id, Status: types.RunRunning})

	if rq.registry != nil {
		registry, err := rq.registry.Registry(qr.ctx)
		if err != nil {
			log.Printf("err reading runner registry: %+v\n", err)
		} else {
			rq.pool.Sync(registry)
		}
	}

	status := rq.dispatcher.Dispatch(qr.ctx, qr.run, qr.jobs)
	rq.finishRun(id, status)
}

func (rq *RunQueue) finishRun(id string, status types.RunStatus) {
	if err := rq.recorder.UpdateRunEndedOn(
		context.Background(), id, status, time.Now().UTC(),
	); err != nil {
		log.Printf("err updating run %s ended on: %+v\n", id, err)
	}
	rq.Events.SendToClients(RunEvent{RunID: id, Status: status})
}

func (rq *RunQueue) recordResult(run *types.PipelineRun, result types.ExecutionResult) {
	jr, err := rq.recorder.CreateJobResult(context.Background(), run.ID, result)
	if err != nil {
		log.Printf("err storing result of job %s in run %s: %+v\n", result.JobName, run.ID, err)
		return
	}
	rq.Events.SendToClients(RunEvent{RunID: run.ID, Job: jr})
}
