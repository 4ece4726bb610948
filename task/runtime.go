package task

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/taskrun-go/task/checkpoint"
	"github.com/dshills/taskrun-go/task/emit"
	"github.com/dshills/taskrun-go/task/guard"
	"github.com/dshills/taskrun-go/task/provider"
)

// Runtime drives tasks to completion, pause, or cancellation. It is the sole
// mutator of task state, the sole effect interpreter, and the owner of every
// per-task drive loop.
//
// Many tasks execute concurrently, each on its own goroutine; the guard
// chain and checkpoint store are shared, thread-safe resources. For any
// single task ID the runtime guarantees at most one active drive loop.
type Runtime struct {
	store   checkpoint.Store
	emitter emit.Emitter
	guards  []guard.Guard
	policy  RetryPolicy
	metrics *PrometheusMetrics

	readiness guard.ReadinessSource

	taskTimeout        time.Duration
	checkpointInterval time.Duration
	deferPoll          time.Duration
	healthCheck        bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	active map[string]*execution
	closed bool
}

// New creates a Runtime backed by the given checkpoint store and event
// emitter. A nil emitter discards events.
func New(store checkpoint.Store, emitter emit.Emitter, opts ...Option) (*Runtime, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	r := &Runtime{
		store:              store,
		emitter:            emitter,
		policy:             DefaultRetryPolicy(),
		taskTimeout:        5 * time.Minute,
		checkpointInterval: time.Minute,
		deferPoll:          100 * time.Millisecond,
		now:                time.Now,
		rng:                rand.New(rand.NewSource(time.Now().UnixNano())),
		active:             make(map[string]*execution),
	}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("invalid runtime option: %w", err)
		}
	}
	return r, nil
}

// ExecuteRequest describes one unit of work to run.
type ExecuteRequest struct {
	// TaskID is optional; a UUID is generated when empty.
	TaskID string

	// AgentName identifies the owning actor.
	AgentName string

	// ManifestVersion tags the submitted plan.
	ManifestVersion string

	// Dependencies are names checked against the runtime's readiness source
	// before execution starts. Empty means ready immediately.
	Dependencies []string

	// Prompt, System, Model, and MaxTokens are forwarded to the completion
	// provider.
	Prompt    string
	System    string
	Model     string
	MaxTokens int

	// Payload is an optional JSON document validated by schema guards.
	Payload []byte

	// Metadata seeds the task context's metadata bag. Set MetaDeferPark to
	// "true" to park unready tasks in WaitingOnDependency instead of
	// polling in place.
	Metadata map[string]string
}

// TaskResult is the outcome of one drive-loop run.
type TaskResult struct {
	TaskID     string
	AgentName  string
	FinalState State

	// Response is the completion provider's response, when execution got
	// that far.
	Response *provider.Response

	// Err is the task-level failure, nil on Completed, Canceled, and
	// paused runs.
	Err error

	// Paused reports that the loop exited at a pause point; the last
	// checkpoint is the resume point.
	Paused bool

	// Checkpoints is the in-run checkpoint trail, oldest first.
	Checkpoints []checkpoint.Checkpoint

	// History is the task's transition log.
	History []HistoryEntry

	// Retries is the number of scheduled retries consumed.
	Retries int

	// Duration is wall-clock time from acquisition to release.
	Duration time.Duration
}

// Status is a point-in-time view of a task.
type Status struct {
	TaskID    string
	AgentName string
	State     State
	Active    bool
	Paused    bool
	Elapsed   time.Duration
	UpdatedAt time.Time
}

// ActiveExecution describes one currently-running drive loop.
type ActiveExecution struct {
	TaskID    string
	AgentName string
	State     State
	StartedAt time.Time
	Elapsed   time.Duration
}

// execution is the in-memory record of one active drive loop.
type execution struct {
	task      *Task
	prov      provider.CompletionProvider
	req       ExecuteRequest
	startedAt time.Time
	deadline  time.Time

	mu           sync.Mutex
	seq          int
	paused       bool
	cancelActor  string
	cancelAsked  bool
	providerDone bool
	providerResp *provider.Response
	providerErr  error
	retries      int
	trail        []checkpoint.Checkpoint

	// drive-loop bookkeeping, only touched by the owning goroutine
	submitted     bool
	guardsChecked bool
	lastRetryable bool
	failedThisRun bool
	failReason    string
}

func (e *execution) nextSeq() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

func (e *execution) pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *execution) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *execution) requestCancel(actor string) {
	e.mu.Lock()
	if !e.cancelAsked {
		e.cancelAsked = true
		e.cancelActor = actor
	}
	e.mu.Unlock()
}

func (e *execution) cancelRequested() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelActor, e.cancelAsked
}

// Execute creates a task and drives it until a terminal state, a pause, or a
// cancellation. It returns ErrTaskActive when the task ID already has a
// drive loop and ErrRuntimeClosed after Close.
func (r *Runtime) Execute(ctx context.Context, prov provider.CompletionProvider, req ExecuteRequest) (*TaskResult, error) {
	if prov == nil {
		return nil, fmt.Errorf("completion provider is required")
	}
	if err := r.checkProviderHealth(ctx, prov); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	now := r.now()
	t := &Task{
		ID:        req.TaskID,
		AgentName: req.AgentName,
		State:     StateBootstrapping,
		Context:   NewContext(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for k, v := range req.Metadata {
		t.Context.Metadata[k] = v
	}
	if req.ManifestVersion != "" {
		t.Context.Metadata[MetaManifestVersion] = req.ManifestVersion
	}

	exec, err := r.acquire(t, prov, req)
	if err != nil {
		return nil, err
	}
	r.emitTask(exec, emit.MsgTaskStarted, nil)
	return r.drive(ctx, exec)
}

// Resume loads the task's latest checkpoint and continues the drive loop
// from the persisted state. Returns ErrTaskNotFound when no checkpoint
// exists and ErrTaskActive when the task is already running.
func (r *Runtime) Resume(ctx context.Context, taskID string, prov provider.CompletionProvider, req ExecuteRequest) (*TaskResult, error) {
	if prov == nil {
		return nil, fmt.Errorf("completion provider is required")
	}
	if err := r.checkProviderHealth(ctx, prov); err != nil {
		return nil, err
	}

	cp, err := r.store.Load(ctx, taskID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return nil, ErrTaskNotFound
		}
		return nil, &RuntimeError{Code: "persistence", Message: "failed to load checkpoint", Err: err}
	}

	c, err := UnmarshalContext(cp.Context)
	if err != nil {
		return nil, &RuntimeError{Code: "persistence", Message: "corrupt checkpoint context", Err: err}
	}

	req.TaskID = taskID
	if req.AgentName == "" {
		req.AgentName = cp.AgentName
	}

	t := &Task{
		ID:        taskID,
		AgentName: cp.AgentName,
		State:     State(cp.State),
		Context:   c,
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.Timestamp,
	}

	exec, err := r.acquire(t, prov, req)
	if err != nil {
		return nil, err
	}
	r.emitTask(exec, emit.MsgTaskResumed, nil)
	return r.drive(ctx, exec)
}

// Pause marks the task's drive loop as paused. The loop observes the flag at
// its next transition boundary and exits cleanly, leaving the last
// checkpoint as the resume point. Returns ErrTaskNotFound when the task has
// no active execution.
func (r *Runtime) Pause(taskID string) error {
	r.mu.Lock()
	exec, ok := r.active[taskID]
	r.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	exec.pause()
	return nil
}

// Cancel requests cancellation of a task. For an active task it signals the
// drive loop, which applies the CancelRequest at its next transition
// boundary; callers may poll Status to confirm. For an inactive task it
// applies the cancellation transition to the persisted checkpoint directly.
//
// Cancel is idempotent: cancelling a task already in Canceled is a no-op.
func (r *Runtime) Cancel(ctx context.Context, taskID, requestedBy string) error {
	r.mu.Lock()
	exec, ok := r.active[taskID]
	r.mu.Unlock()
	if ok {
		exec.requestCancel(requestedBy)
		return nil
	}

	cp, err := r.store.Load(ctx, taskID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return ErrTaskNotFound
		}
		return &RuntimeError{Code: "persistence", Message: "failed to load checkpoint", Err: err}
	}

	if State(cp.State) == StateCanceled {
		return nil
	}

	c, err := UnmarshalContext(cp.Context)
	if err != nil {
		return &RuntimeError{Code: "persistence", Message: "corrupt checkpoint context", Err: err}
	}
	c.CancellationRequested = true

	out := Transition(State(cp.State), CancelRequest(requestedBy), c)
	if !out.Transitioned() {
		return &RuntimeError{Code: "rejected", Message: out.Reason}
	}
	for _, ef := range out.Effects {
		if ef.Kind == EffectRecordCancellation {
			c.Metadata[MetaCancelActor] = ef.Arg
		}
	}

	data, err := c.Marshal()
	if err != nil {
		return &RuntimeError{Code: "persistence", Message: "failed to snapshot context", Err: err}
	}
	saveErr := r.store.Save(ctx, checkpoint.Checkpoint{
		TaskID:    taskID,
		AgentName: cp.AgentName,
		State:     string(out.ToState),
		Context:   data,
		Timestamp: r.now(),
		CreatedAt: cp.CreatedAt,
	})
	r.metrics.Checkpoint(saveErr)
	if saveErr != nil {
		return &RuntimeError{Code: "persistence", Message: "failed to save checkpoint", Err: saveErr}
	}

	r.emitter.Emit(emit.Event{
		TaskID: taskID,
		State:  string(out.ToState),
		Msg:    emit.MsgTaskCancelled,
		Meta:   map[string]interface{}{"requestedBy": requestedBy},
	})
	return nil
}

// Status returns a point-in-time view of the task: live data for active
// executions, checkpoint data otherwise. Returns ErrTaskNotFound when the
// task is neither active nor checkpointed.
func (r *Runtime) Status(ctx context.Context, taskID string) (Status, error) {
	r.mu.Lock()
	exec, ok := r.active[taskID]
	r.mu.Unlock()
	if ok {
		exec.mu.Lock()
		st := Status{
			TaskID:    taskID,
			AgentName: exec.task.AgentName,
			State:     exec.task.State,
			Active:    true,
			Paused:    exec.paused,
			Elapsed:   r.now().Sub(exec.startedAt),
			UpdatedAt: exec.task.UpdatedAt,
		}
		exec.mu.Unlock()
		return st, nil
	}

	cp, err := r.store.Load(ctx, taskID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return Status{}, ErrTaskNotFound
		}
		return Status{}, &RuntimeError{Code: "persistence", Message: "failed to load checkpoint", Err: err}
	}
	return Status{
		TaskID:    taskID,
		AgentName: cp.AgentName,
		State:     State(cp.State),
		UpdatedAt: cp.Timestamp,
	}, nil
}

// ListCheckpoints returns persisted checkpoints ordered newest first,
// optionally filtered by agent name.
func (r *Runtime) ListCheckpoints(ctx context.Context, agentName string) ([]checkpoint.Checkpoint, error) {
	return r.store.List(ctx, agentName)
}

// DeleteCheckpoint removes the task's persisted checkpoint.
func (r *Runtime) DeleteCheckpoint(ctx context.Context, taskID string) error {
	return r.store.Delete(ctx, taskID)
}

// ActiveExecutions returns a snapshot of every running drive loop.
func (r *Runtime) ActiveExecutions() []ActiveExecution {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]ActiveExecution, 0, len(r.active))
	for _, exec := range r.active {
		exec.mu.Lock()
		out = append(out, ActiveExecution{
			TaskID:    exec.task.ID,
			AgentName: exec.task.AgentName,
			State:     exec.task.State,
			StartedAt: exec.startedAt,
			Elapsed:   now.Sub(exec.startedAt),
		})
		exec.mu.Unlock()
	}
	return out
}

// Close stops admitting new work. Running drive loops finish on their own;
// callers should drain via ActiveExecutions before shutting down the store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// checkProviderHealth probes the provider before admitting work. A no-op
// unless WithHealthCheck is set and the provider implements HealthChecker.
func (r *Runtime) checkProviderHealth(ctx context.Context, prov provider.CompletionProvider) error {
	if !r.healthCheck {
		return nil
	}
	hc, ok := prov.(provider.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return &RuntimeError{Code: "provider", Message: "provider failed health check", Err: err}
	}
	return nil
}

// acquire registers t as the single active execution for its task ID.
func (r *Runtime) acquire(t *Task, prov provider.CompletionProvider, req ExecuteRequest) (*execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if _, exists := r.active[t.ID]; exists {
		return nil, ErrTaskActive
	}

	exec := &execution{
		task:      t,
		prov:      prov,
		req:       req,
		startedAt: r.now(),
	}
	// Resumed tasks carry their retry budget in metadata.
	if n, err := strconv.Atoi(t.Context.Meta(MetaRetryCount)); err == nil && n > 0 {
		exec.retries = n
	}
	if r.taskTimeout > 0 {
		exec.deadline = exec.startedAt.Add(r.taskTimeout)
	}
	r.active[t.ID] = exec
	r.metrics.TaskStarted()
	return exec, nil
}

// release removes the execution and records its final metrics.
func (r *Runtime) release(exec *execution) time.Duration {
	r.mu.Lock()
	delete(r.active, exec.task.ID)
	r.mu.Unlock()

	d := r.now().Sub(exec.startedAt)
	r.metrics.TaskFinished(exec.task.State, d)
	return d
}

// emitTask emits a runtime event for the execution. Fire-and-forget: the
// configured emitter must not block.
func (r *Runtime) emitTask(exec *execution, msg string, meta map[string]interface{}) {
	r.emitter.Emit(emit.Event{
		TaskID: exec.task.ID,
		Seq:    exec.nextSeq(),
		State:  string(exec.task.State),
		Msg:    msg,
		Meta:   meta,
	})
}

// saveCheckpoint persists the task's current snapshot and appends it to the
// in-run trail. A save failure aborts the drive loop: the runtime never
// proceeds past a transition it could not make durable.
func (r *Runtime) saveCheckpoint(ctx context.Context, exec *execution) error {
	data, err := exec.task.Context.Marshal()
	if err != nil {
		return &RuntimeError{Code: "persistence", Message: "failed to snapshot context", Err: err}
	}

	cp := checkpoint.Checkpoint{
		TaskID:    exec.task.ID,
		AgentName: exec.task.AgentName,
		State:     string(exec.task.State),
		Context:   data,
		Timestamp: r.now(),
		CreatedAt: exec.task.CreatedAt,
	}
	saveErr := r.store.Save(ctx, cp)
	r.metrics.Checkpoint(saveErr)
	if saveErr != nil {
		return &RuntimeError{Code: "persistence", Message: "failed to save checkpoint", Err: saveErr}
	}

	exec.mu.Lock()
	exec.trail = append(exec.trail, cp)
	exec.mu.Unlock()

	r.emitTask(exec, emit.MsgCheckpointCreated, nil)
	return nil
}

func (r *Runtime) backoff(attempt int) time.Duration {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.policy.computeBackoff(attempt, r.rng)
}
