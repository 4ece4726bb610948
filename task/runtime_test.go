package task_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/taskrun-go/task"
	"github.com/dshills/taskrun-go/task/checkpoint"
	"github.com/dshills/taskrun-go/task/emit"
	"github.com/dshills/taskrun-go/task/guard"
	"github.com/dshills/taskrun-go/task/provider"
)

// readyFlag is a toggleable dependency-readiness source.
type readyFlag struct {
	mu    sync.Mutex
	ready bool
}

func (f *readyFlag) Ready(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *readyFlag) set(v bool) {
	f.mu.Lock()
	f.ready = v
	f.mu.Unlock()
}

func fastRetry(maxRetries int) task.RetryPolicy {
	return task.RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
	}
}

func newTestRuntime(t *testing.T, opts ...task.Option) (*task.Runtime, *checkpoint.MemStore, *emit.BufferedEmitter) {
	t.Helper()
	store := checkpoint.NewMemStore()
	buffered := emit.NewBufferedEmitter()
	base := []task.Option{
		task.WithDeferPollInterval(2 * time.Millisecond),
		task.WithRetryPolicy(fastRetry(4)),
	}
	rt, err := task.New(store, buffered, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = rt.Close()
		_ = store.Close()
	})
	return rt, store, buffered
}

func waitForState(t *testing.T, rt *task.Runtime, taskID string, want task.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := rt.Status(context.Background(), taskID)
		if err == nil && st.State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", taskID, want)
}

func TestExecuteHappyPath(t *testing.T) {
	rt, store, buffered := newTestRuntime(t)
	mock := &provider.MockProvider{Responses: []provider.Response{{Text: "plan applied"}}}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{
		TaskID:          "t1",
		AgentName:       "research-agent",
		ManifestVersion: "v1",
		Prompt:          "summarize corpus",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalState != task.StateCompleted {
		t.Fatalf("FinalState = %s, want Completed (err %v)", res.FinalState, res.Err)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
	if res.Response == nil || res.Response.Text != "plan applied" {
		t.Errorf("Response = %+v, want text 'plan applied'", res.Response)
	}
	if res.Retries != 0 {
		t.Errorf("Retries = %d, want 0", res.Retries)
	}

	wantPath := []task.State{task.StateIdle, task.StatePreparing, task.StateExecuting, task.StateCompleted}
	if len(res.History) != len(wantPath) {
		t.Fatalf("History = %+v, want %d transitions", res.History, len(wantPath))
	}
	for i, h := range res.History {
		if h.To != wantPath[i] {
			t.Errorf("History[%d].To = %s, want %s", i, h.To, wantPath[i])
		}
	}

	// Every transition produced a checkpoint; the store keeps the latest.
	if len(res.Checkpoints) != len(wantPath) {
		t.Errorf("Checkpoints trail has %d entries, want %d", len(res.Checkpoints), len(wantPath))
	}
	cp, err := store.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.State != string(task.StateCompleted) || cp.AgentName != "research-agent" {
		t.Errorf("stored checkpoint = %+v, want Completed for research-agent", cp)
	}

	// Observer events bracket the run.
	msgs := map[string]bool{}
	for _, ev := range buffered.History("t1") {
		msgs[ev.Msg] = true
	}
	for _, want := range []string{emit.MsgTaskStarted, emit.MsgStateChanged, emit.MsgCheckpointCreated, emit.MsgExecutionAttempt, emit.MsgTaskCompleted} {
		if !msgs[want] {
			t.Errorf("missing runtime event %q", want)
		}
	}
}

func TestExecuteGeneratesTaskID(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	mock := &provider.MockProvider{}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{AgentName: "a"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.TaskID == "" {
		t.Error("TaskID was not generated")
	}
}

// TestRetryBound verifies a task whose provider always fails retryably
// reaches Failed after exactly MaxRetries scheduled retries.
func TestRetryBound(t *testing.T) {
	rt, _, _ := newTestRuntime(t, task.WithRetryPolicy(fastRetry(2)))
	mock := &provider.MockProvider{
		Errs: []error{provider.ErrRateLimited, provider.ErrRateLimited, provider.ErrRateLimited, provider.ErrRateLimited},
	}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{TaskID: "t-retry", AgentName: "a", Prompt: "p"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalState != task.StateFailed {
		t.Fatalf("FinalState = %s, want Failed", res.FinalState)
	}
	if !errors.Is(res.Err, task.ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", res.Err)
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, want 2", res.Retries)
	}
	// Initial attempt plus one per scheduled retry.
	if mock.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", mock.CallCount())
	}
}

func TestFatalProviderFailureDoesNotRetry(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	mock := &provider.MockProvider{Errs: []error{provider.ErrInvalidAPIKey}}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{TaskID: "t-fatal", AgentName: "a"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalState != task.StateFailed {
		t.Fatalf("FinalState = %s, want Failed", res.FinalState)
	}
	if mock.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retries)", mock.CallCount())
	}
	var re *task.RuntimeError
	if !errors.As(res.Err, &re) || re.Code != "provider" {
		t.Errorf("Err = %v, want RuntimeError with code provider", res.Err)
	}
}

// TestAtMostOneExecution verifies concurrent Execute calls for one task ID
// admit exactly one drive loop.
func TestAtMostOneExecution(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	slow := &provider.MockProvider{Delay: 200 * time.Millisecond}

	done := make(chan *task.TaskResult, 1)
	go func() {
		res, _ := rt.Execute(context.Background(), slow, task.ExecuteRequest{TaskID: "t-dup", AgentName: "a"})
		done <- res
	}()
	waitForState(t, rt, "t-dup", task.StateExecuting)

	_, err := rt.Execute(context.Background(), &provider.MockProvider{}, task.ExecuteRequest{TaskID: "t-dup", AgentName: "a"})
	if !errors.Is(err, task.ErrTaskActive) {
		t.Errorf("second Execute error = %v, want ErrTaskActive", err)
	}

	res := <-done
	if res.FinalState != task.StateCompleted {
		t.Errorf("first execution FinalState = %s, want Completed", res.FinalState)
	}
}

func TestGuardBlockedExecution(t *testing.T) {
	rt, _, _ := newTestRuntime(t,
		task.WithGuards(guard.AlwaysFail("change-freeze", "deploy window closed")),
	)
	mock := &provider.MockProvider{}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{TaskID: "t-guard", AgentName: "a"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalState != task.StatePreparing {
		t.Fatalf("FinalState = %s, want Preparing", res.FinalState)
	}
	var re *task.RuntimeError
	if !errors.As(res.Err, &re) || re.Code != "guard_blocked" {
		t.Fatalf("Err = %v, want RuntimeError guard_blocked", res.Err)
	}
	if !strings.Contains(re.Message, "deploy window closed") {
		t.Errorf("Message = %q, want guard reason", re.Message)
	}
	if mock.CallCount() != 0 {
		t.Errorf("provider was called %d times despite guard block", mock.CallCount())
	}
}

func TestHealthCheckGatesAdmission(t *testing.T) {
	rt, store, _ := newTestRuntime(t, task.WithHealthCheck())
	sick := &provider.MockProvider{HealthErr: provider.ErrOverloaded}

	_, err := rt.Execute(context.Background(), sick, task.ExecuteRequest{TaskID: "t-health", AgentName: "a"})
	var re *task.RuntimeError
	if !errors.As(err, &re) || re.Code != "provider" {
		t.Fatalf("Execute err = %v, want RuntimeError provider", err)
	}
	if sick.CallCount() != 0 {
		t.Errorf("Complete was called %d times for an unadmitted task", sick.CallCount())
	}
	// Admission is rejected before any execution exists, so nothing was
	// checkpointed.
	if _, err := store.Load(context.Background(), "t-health"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Load after rejected admission = %v, want ErrNotFound", err)
	}

	healthy := &provider.MockProvider{Responses: []provider.Response{{Text: "ok"}}}
	res, err := rt.Execute(context.Background(), healthy, task.ExecuteRequest{TaskID: "t-health", AgentName: "a"})
	if err != nil {
		t.Fatalf("Execute with healthy provider: %v", err)
	}
	if res.FinalState != task.StateCompleted {
		t.Fatalf("FinalState = %s, want Completed (err %v)", res.FinalState, res.Err)
	}
}

func TestHealthCheckOffByDefault(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	sick := &provider.MockProvider{
		HealthErr: provider.ErrOverloaded,
		Responses: []provider.Response{{Text: "still works"}},
	}

	res, err := rt.Execute(context.Background(), sick, task.ExecuteRequest{TaskID: "t-nohealth", AgentName: "a"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalState != task.StateCompleted {
		t.Fatalf("FinalState = %s, want Completed (err %v)", res.FinalState, res.Err)
	}
}

func TestDependencyWaitPreservesRateLimitBudget(t *testing.T) {
	flag := &readyFlag{}
	rt, _, _ := newTestRuntime(t,
		task.WithReadiness(flag),
		task.WithGuards(guard.NewRateLimitGuard("submit-rate", time.Minute, 2)),
	)
	mock := &provider.MockProvider{Responses: []provider.Response{{Text: "done"}}}

	done := make(chan *task.TaskResult, 1)
	go func() {
		res, _ := rt.Execute(context.Background(), mock, task.ExecuteRequest{
			TaskID:       "t-rate-wait",
			AgentName:    "a",
			Prompt:       "p",
			Dependencies: []string{"upstream-etl"},
		})
		done <- res
	}()
	waitForState(t, rt, "t-rate-wait", task.StatePreparing)

	// Long enough for many poll ticks; a per-tick guard evaluation would
	// burn through the budget of 2 before the dependency came up.
	time.Sleep(30 * time.Millisecond)
	flag.set(true)

	res := <-done
	if res.FinalState != task.StateCompleted {
		t.Fatalf("FinalState = %s (err %v), want Completed", res.FinalState, res.Err)
	}

	// The wait consumed at most one rate-limit slot, so a second task by
	// the same agent still fits the window.
	res2, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{
		TaskID:    "t-rate-next",
		AgentName: "a",
		Prompt:    "p",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res2.FinalState != task.StateCompleted {
		t.Fatalf("second task FinalState = %s (err %v), want Completed", res2.FinalState, res2.Err)
	}
}

func TestPauseAndResume(t *testing.T) {
	flag := &readyFlag{}
	rt, _, _ := newTestRuntime(t, task.WithReadiness(flag))
	mock := &provider.MockProvider{Responses: []provider.Response{{Text: "resumed fine"}}}

	req := task.ExecuteRequest{
		TaskID:       "t-pause",
		AgentName:    "a",
		Prompt:       "p",
		Dependencies: []string{"corpus-index"},
	}

	done := make(chan *task.TaskResult, 1)
	go func() {
		res, _ := rt.Execute(context.Background(), mock, req)
		done <- res
	}()
	waitForState(t, rt, "t-pause", task.StatePreparing)

	if err := rt.Pause("t-pause"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	res := <-done
	if !res.Paused {
		t.Fatalf("result not marked paused: %+v", res)
	}
	if res.Err != nil {
		t.Errorf("paused run Err = %v, want nil", res.Err)
	}

	// The last checkpoint is the resume point.
	st, err := rt.Status(context.Background(), "t-pause")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Active {
		t.Error("task still active after pause")
	}
	if st.State != task.StatePreparing {
		t.Errorf("checkpointed state = %s, want Preparing", st.State)
	}

	flag.set(true)
	resumed, err := rt.Resume(context.Background(), "t-pause", mock, req)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.FinalState != task.StateCompleted {
		t.Fatalf("resumed FinalState = %s (err %v), want Completed", resumed.FinalState, resumed.Err)
	}
	if resumed.Response == nil || resumed.Response.Text != "resumed fine" {
		t.Errorf("resumed Response = %+v", resumed.Response)
	}
}

func TestResumeNotFound(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	_, err := rt.Resume(context.Background(), "ghost", &provider.MockProvider{}, task.ExecuteRequest{})
	if !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("Resume error = %v, want ErrTaskNotFound", err)
	}
}

func TestPauseInactiveTask(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	if err := rt.Pause("nobody"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("Pause error = %v, want ErrTaskNotFound", err)
	}
}

func TestCancelActiveTask(t *testing.T) {
	flag := &readyFlag{}
	rt, store, _ := newTestRuntime(t, task.WithReadiness(flag))
	mock := &provider.MockProvider{}

	done := make(chan *task.TaskResult, 1)
	go func() {
		res, _ := rt.Execute(context.Background(), mock, task.ExecuteRequest{
			TaskID:       "t-cancel",
			AgentName:    "a",
			Dependencies: []string{"never-ready"},
		})
		done <- res
	}()
	waitForState(t, rt, "t-cancel", task.StatePreparing)

	if err := rt.Cancel(context.Background(), "t-cancel", "ops"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	res := <-done
	if res.FinalState != task.StateCanceled {
		t.Fatalf("FinalState = %s, want Canceled", res.FinalState)
	}
	if res.Err != nil {
		t.Errorf("canceled run Err = %v, want nil", res.Err)
	}

	cp, err := store.Load(context.Background(), "t-cancel")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.State != string(task.StateCanceled) {
		t.Errorf("stored state = %s, want Canceled", cp.State)
	}

	// Second cancel of the now-inactive, already-canceled task is a no-op.
	if err := rt.Cancel(context.Background(), "t-cancel", "ops"); err != nil {
		t.Errorf("second Cancel = %v, want nil", err)
	}
}

func TestCancelInactiveTask(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()

	// Seed a checkpoint as if a previous run paused in Preparing.
	c := task.NewContext()
	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("marshal context: %v", err)
	}
	now := time.Now().UTC()
	if err := store.Save(ctx, checkpoint.Checkpoint{
		TaskID:    "t-offline",
		AgentName: "a",
		State:     string(task.StatePreparing),
		Context:   data,
		Timestamp: now,
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := rt.Cancel(ctx, "t-offline", "ops"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cp, err := store.Load(ctx, "t-offline")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.State != string(task.StateCanceled) {
		t.Errorf("state = %s, want Canceled", cp.State)
	}

	if err := rt.Cancel(ctx, "t-offline", "ops"); err != nil {
		t.Errorf("repeat Cancel = %v, want nil", err)
	}
	if err := rt.Cancel(ctx, "ghost", "ops"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("Cancel(ghost) = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskTimeout(t *testing.T) {
	rt, _, _ := newTestRuntime(t,
		task.WithTaskTimeout(10*time.Millisecond),
	)
	mock := &provider.MockProvider{}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{
		TaskID:       "t-timeout",
		AgentName:    "a",
		Dependencies: []string{"never-ready"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FinalState != task.StateFailed {
		t.Fatalf("FinalState = %s, want Failed", res.FinalState)
	}
	var re *task.RuntimeError
	if !errors.As(res.Err, &re) || re.Code != "timeout" {
		t.Errorf("Err = %v, want RuntimeError timeout", res.Err)
	}
}

func TestParkInWaitingOnDependency(t *testing.T) {
	flag := &readyFlag{}
	rt, _, _ := newTestRuntime(t, task.WithReadiness(flag))
	mock := &provider.MockProvider{}

	done := make(chan *task.TaskResult, 1)
	go func() {
		res, _ := rt.Execute(context.Background(), mock, task.ExecuteRequest{
			TaskID:       "t-park",
			AgentName:    "a",
			Dependencies: []string{"upstream"},
			Metadata:     map[string]string{task.MetaDeferPark: "true"},
		})
		done <- res
	}()
	waitForState(t, rt, "t-park", task.StateWaitingOnDependency)

	flag.set(true)
	res := <-done
	if res.FinalState != task.StateCompleted {
		t.Fatalf("FinalState = %s (err %v), want Completed", res.FinalState, res.Err)
	}

	var visited []task.State
	for _, h := range res.History {
		visited = append(visited, h.To)
	}
	found := false
	for _, s := range visited {
		if s == task.StateWaitingOnDependency {
			found = true
		}
	}
	if !found {
		t.Errorf("history %v never visited WaitingOnDependency", visited)
	}
}

// failingStore wraps a MemStore and fails Save after a set number of writes.
type failingStore struct {
	*checkpoint.MemStore
	mu        sync.Mutex
	failAfter int
	saves     int
}

func (f *failingStore) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	f.mu.Lock()
	f.saves++
	n := f.saves
	f.mu.Unlock()
	if n > f.failAfter {
		return errors.New("disk full")
	}
	return f.MemStore.Save(ctx, cp)
}

// TestCheckpointFailureAbortsDriveLoop verifies the runtime never proceeds
// past a transition it could not persist.
func TestCheckpointFailureAbortsDriveLoop(t *testing.T) {
	store := &failingStore{MemStore: checkpoint.NewMemStore(), failAfter: 1}
	rt, err := task.New(store, emit.NewNullEmitter(), task.WithDeferPollInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mock := &provider.MockProvider{}

	res, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{TaskID: "t-disk", AgentName: "a"})
	if err == nil {
		t.Fatal("Execute: want persistence error, got nil")
	}
	var re *task.RuntimeError
	if !errors.As(err, &re) || re.Code != "persistence" {
		t.Errorf("error = %v, want RuntimeError persistence", err)
	}
	if res.FinalState == task.StateCompleted {
		t.Error("drive loop completed despite checkpoint failure")
	}
	if mock.CallCount() != 0 {
		t.Errorf("provider called %d times after lost checkpoint", mock.CallCount())
	}
}

func TestStatusAndActiveExecutions(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	slow := &provider.MockProvider{Delay: 100 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rt.Execute(context.Background(), slow, task.ExecuteRequest{TaskID: "t-status", AgentName: "agent-x"})
	}()
	waitForState(t, rt, "t-status", task.StateExecuting)

	st, err := rt.Status(context.Background(), "t-status")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Active || st.State != task.StateExecuting || st.AgentName != "agent-x" {
		t.Errorf("Status = %+v, want active Executing for agent-x", st)
	}

	actives := rt.ActiveExecutions()
	if len(actives) != 1 || actives[0].TaskID != "t-status" {
		t.Errorf("ActiveExecutions = %+v, want exactly t-status", actives)
	}

	<-done
	st, err = rt.Status(context.Background(), "t-status")
	if err != nil {
		t.Fatalf("Status after completion: %v", err)
	}
	if st.Active || st.State != task.StateCompleted {
		t.Errorf("Status after completion = %+v, want inactive Completed", st)
	}
	if len(rt.ActiveExecutions()) != 0 {
		t.Error("ActiveExecutions not empty after completion")
	}

	if _, err := rt.Status(context.Background(), "ghost"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("Status(ghost) = %v, want ErrTaskNotFound", err)
	}
}

func TestListAndDeleteCheckpoints(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	mock := &provider.MockProvider{}

	for _, id := range []string{"t-a", "t-b"} {
		if _, err := rt.Execute(context.Background(), mock, task.ExecuteRequest{TaskID: id, AgentName: "agent-" + id}); err != nil {
			t.Fatalf("Execute %s: %v", id, err)
		}
	}

	all, err := rt.ListCheckpoints(context.Background(), "")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListCheckpoints returned %d, want 2", len(all))
	}

	only, err := rt.ListCheckpoints(context.Background(), "agent-t-a")
	if err != nil {
		t.Fatalf("ListCheckpoints(agent-t-a): %v", err)
	}
	if len(only) != 1 || only[0].TaskID != "t-a" {
		t.Errorf("filtered list = %+v, want just t-a", only)
	}

	if err := rt.DeleteCheckpoint(context.Background(), "t-a"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if _, err := rt.Status(context.Background(), "t-a"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("Status after delete = %v, want ErrTaskNotFound", err)
	}
}

func TestClosedRuntimeRejectsWork(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := rt.Execute(context.Background(), &provider.MockProvider{}, task.ExecuteRequest{AgentName: "a"})
	if !errors.Is(err, task.ErrRuntimeClosed) {
		t.Errorf("Execute after Close = %v, want ErrRuntimeClosed", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	c := task.NewContext()
	c.DependenciesReady = true
	c.TelemetryPending = true
	c.GuardVerdict = guard.Defer("waiting on corpus")
	c.Metadata["manifest.version"] = "v2"

	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := task.UnmarshalContext(data)
	if err != nil {
		t.Fatalf("UnmarshalContext: %v", err)
	}
	if !got.DependenciesReady || !got.TelemetryPending {
		t.Errorf("flags lost in round trip: %+v", got)
	}
	if !got.GuardVerdict.IsDefer() || got.GuardVerdict.Reason != "waiting on corpus" {
		t.Errorf("verdict lost in round trip: %+v", got.GuardVerdict)
	}
	if got.Metadata["manifest.version"] != "v2" {
		t.Errorf("metadata lost in round trip: %+v", got.Metadata)
	}

	// Empty snapshot restores defaults.
	empty, err := task.UnmarshalContext(nil)
	if err != nil {
		t.Fatalf("UnmarshalContext(nil): %v", err)
	}
	if !empty.GuardVerdict.IsPass() || empty.Metadata == nil {
		t.Errorf("empty snapshot defaults wrong: %+v", empty)
	}
}
