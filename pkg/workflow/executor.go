// Package workflow contains the automation engine: trigger matching, step
// graph validation, and the execution state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/schedule"
)

const (
	defaultRetryBase = time.Second
	maxRetryBackoff  = 30 * time.Second
)

// errParked signals that the execution hit a delay step and was parked; it
// is not a failure.
var errParked = errors.New("execution parked on delay")

// errCancelled signals that the execution was cancelled while running.
var errCancelled = errors.New("execution cancelled")

// Executor drives workflow executions through their step graphs. A single
// executor instance is shared by all worker subscriptions; per-execution
// state lives in the run struct.
type Executor struct {
	workerID    string
	persistence persistence.Persistence
	registry    *registry.Registry
	delays      schedule.DelayStore
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	retryBase   time.Duration
	maxSteps    int
}

type ExecutorOption func(*Executor)

// WithRetryBase overrides the base retry backoff. Tests use millisecond
// bases to keep retry scenarios fast.
func WithRetryBase(base time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.retryBase = base
	}
}

// WithMaxSteps overrides the per-execution step limit.
func WithMaxSteps(limit int) ExecutorOption {
	return func(e *Executor) {
		e.maxSteps = limit
	}
}

func NewExecutor(
	workerID string,
	persistence persistence.Persistence,
	registry *registry.Registry,
	delays schedule.DelayStore,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	executor := &Executor{
		workerID:    workerID,
		persistence: persistence,
		registry:    registry,
		delays:      delays,
		eventBus:    eventBus,
		logger:      logger.With("module", "workflow_executor", "worker_id", workerID),
		retryBase:   defaultRetryBase,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// run carries the per-execution state while walking the step graph.
type run struct {
	workflow   *models.Workflow
	execution  *models.WorkflowExecution
	ec         *models.ExecutionContext
	steps      int
	failedStep string
}

// Run claims a pending execution and walks its workflow from the start
// step. A claim that loses the guarded transition (another worker got there
// first, or the execution was cancelled while queued) is not an error.
func (e *Executor) Run(ctx context.Context, tenantID, executionID string) error {
	logger := e.logger.With("tenant_id", tenantID, "execution_id", executionID)

	execRepo := e.persistence.ExecutionRepository()

	execution, err := execRepo.GetByID(ctx, tenantID, executionID)
	if err != nil {
		return fmt.Errorf("failed to fetch execution: %w", err)
	}

	err = execRepo.TransitionStatus(ctx, tenantID, executionID, models.ExecutionStatusPending, models.ExecutionStatusRunning)
	if err != nil {
		if persistence.IsInvalidStatusTransition(err) {
			logger.InfoContext(ctx, "Execution not claimable, skipping")

			return nil
		}

		return fmt.Errorf("failed to claim execution: %w", err)
	}

	execution.Status = models.ExecutionStatusRunning

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, tenantID, execution.WorkflowID)
	if err != nil {
		e.fail(ctx, logger, execution, "", fmt.Errorf("failed to fetch workflow: %w", err))

		return nil
	}

	r := &run{
		workflow:  workflow,
		execution: execution,
		ec:        models.NewExecutionContext(execution),
	}

	logger.InfoContext(ctx, "Starting execution", "workflow_id", workflow.ID)

	start, ok := workflow.StartStep()
	if !ok {
		e.finish(ctx, logger, r, nil)

		return nil
	}

	e.finish(ctx, logger, r, e.walkBranch(ctx, r, start.ID, ""))

	return nil
}

// Resume continues an execution parked on a delay step, starting at the
// delay's successor. Executions that went terminal while parked are dropped.
func (e *Executor) Resume(ctx context.Context, tenantID, executionID, stepID string) error {
	logger := e.logger.With("tenant_id", tenantID, "execution_id", executionID, "step_id", stepID)

	execRepo := e.persistence.ExecutionRepository()

	execution, err := execRepo.GetByID(ctx, tenantID, executionID)
	if err != nil {
		return fmt.Errorf("failed to fetch execution: %w", err)
	}

	if execution.Status != models.ExecutionStatusRunning {
		logger.InfoContext(ctx, "Dropping resumption for non-running execution", "status", execution.Status)

		return nil
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, tenantID, execution.WorkflowID)
	if err != nil {
		e.fail(ctx, logger, execution, stepID, fmt.Errorf("failed to fetch workflow: %w", err))

		return nil
	}

	step, ok := workflow.StepByID(stepID)
	if !ok {
		e.fail(ctx, logger, execution, stepID, fmt.Errorf("delay step %s no longer exists", stepID))

		return nil
	}

	r := &run{
		workflow:  workflow,
		execution: execution,
		ec:        models.NewExecutionContext(execution),
	}

	logger.InfoContext(ctx, "Resuming execution", "workflow_id", workflow.ID)

	next := ""
	if len(step.NextSteps) > 0 {
		next = step.NextSteps[0]
	}

	e.finish(ctx, logger, r, e.walkBranch(ctx, r, next, ""))

	return nil
}

// finish settles the execution after a walk: completed, parked, cancelled,
// or failed.
func (e *Executor) finish(ctx context.Context, logger *slog.Logger, r *run, walkErr error) {
	switch {
	case walkErr == nil:
		e.saveContext(ctx, logger, r)

		err := e.persistence.ExecutionRepository().TransitionStatus(ctx,
			r.execution.TenantID, r.execution.ID,
			models.ExecutionStatusRunning, models.ExecutionStatusCompleted,
		)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to complete execution", "error", err)

			return
		}

		logger.InfoContext(ctx, "Execution completed", "steps_executed", r.steps)
		e.publish(ctx, logger, r.execution.ID, events.ExecutionCompleted{
			BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, r.execution.TenantID),
			ExecutionID:   r.execution.ID,
			WorkflowID:    r.execution.WorkflowID,
			Duration:      time.Since(r.execution.CreatedAt),
			StepsExecuted: r.steps,
		})
	case errors.Is(walkErr, errParked):
		logger.InfoContext(ctx, "Execution parked on delay")
	case errors.Is(walkErr, errCancelled):
		logger.InfoContext(ctx, "Execution cancelled, stopping")
	default:
		e.fail(ctx, logger, r.execution, r.failedStep, walkErr)
	}
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, stepID string, cause error) {
	logger.ErrorContext(ctx, "Execution failed", "step_id", stepID, "error", cause)

	execRepo := e.persistence.ExecutionRepository()

	if err := execRepo.SetError(ctx, execution.TenantID, execution.ID, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "Failed to record execution error", "error", err)
	}

	err := execRepo.TransitionStatus(ctx,
		execution.TenantID, execution.ID,
		models.ExecutionStatusRunning, models.ExecutionStatusFailed,
	)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution failed", "error", err)

		return
	}

	e.publish(ctx, logger, execution.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.TenantID),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		StepID:      stepID,
		Error:       cause.Error(),
	})
}

// maxStepsFor bounds one execution's walk. Validation rejects undeclared
// cycles up front; this limit stops a graph that slipped past it (saved
// before the cycle check existed, or mutated by another process) from
// running forever.
func (e *Executor) maxStepsFor(workflow *models.Workflow) int {
	if e.maxSteps > 0 {
		return e.maxSteps
	}

	limit := len(workflow.Steps) * models.MaxLoopIterations
	if limit < models.MaxLoopIterations {
		limit = models.MaxLoopIterations
	}

	return limit
}

// walkBranch executes steps from stepID until a dead end, the stopAt step
// (loop back-edges), a park, a cancellation, or a failure.
func (e *Executor) walkBranch(ctx context.Context, r *run, stepID, stopAt string) error {
	current := stepID

	for current != "" && current != stopAt {
		if limit := e.maxStepsFor(r.workflow); r.steps >= limit {
			r.failedStep = current

			return fmt.Errorf("execution exceeded %d steps, aborting walk", limit)
		}

		if err := e.checkCancelled(ctx, r); err != nil {
			return err
		}

		step, ok := r.workflow.StepByID(current)
		if !ok {
			r.failedStep = current

			return fmt.Errorf("step %s not found in workflow %s", current, r.workflow.ID)
		}

		e.setCurrentStep(ctx, r, step.ID)

		next, err := e.executeStep(ctx, r, step)
		if err != nil {
			if !errors.Is(err, errParked) && !errors.Is(err, errCancelled) {
				r.failedStep = step.ID
			}

			return err
		}

		r.steps++
		e.saveContext(ctx, e.logger, r)

		current = next
	}

	return nil
}

// executeStep runs one step and returns the successor to walk next.
func (e *Executor) executeStep(ctx context.Context, r *run, step *models.WorkflowStep) (string, error) {
	logger := e.logger.With(
		"tenant_id", r.execution.TenantID,
		"execution_id", r.execution.ID,
		"step_id", step.ID,
		"step_type", step.Type,
	)
	logger.InfoContext(ctx, "Executing step")

	switch step.Type {
	case models.StepTypeTrigger:
		e.appendLog(ctx, r, step.ID, 1, models.OutcomeSuccess, "", "")

		return firstSuccessor(step), nil

	case models.StepTypeAction:
		config := step.Config.Action

		return e.runGatewayStep(ctx, r, step, config.Kind, config.Params, config.MaxRetries, config.Timeout())

	case models.StepTypeAIResponse:
		config := step.Config.AIResponse
		params := map[string]any{"prompt": config.Prompt}

		return e.runGatewayStep(ctx, r, step, "ai_response", params, config.MaxRetries, config.Timeout())

	case models.StepTypeCondition:
		result, err := EvaluateCondition(step.Config.Condition, r.ec)
		if err != nil {
			e.appendLog(ctx, r, step.ID, 1, models.OutcomeFailure, "", err.Error())

			return "", err
		}

		branch, next := "false", step.FalseBranch()
		if result {
			branch, next = "true", step.TrueBranch()
		}

		e.appendLog(ctx, r, step.ID, 1, models.OutcomeSuccess, branch, "")
		logger.InfoContext(ctx, "Condition evaluated", "branch", branch)

		return next, nil

	case models.StepTypeDelay:
		return "", e.parkOnDelay(ctx, r, step)

	case models.StepTypeParallel:
		return e.runParallel(ctx, r, step)

	case models.StepTypeLoop:
		return e.runLoop(ctx, r, step)

	case models.StepTypeMerge:
		e.appendLog(ctx, r, step.ID, 1, models.OutcomeSuccess, "", "")

		return firstSuccessor(step), nil

	case models.StepTypeCustomCode:
		err := fmt.Errorf("custom_code steps are not executable in this runtime")
		e.appendLog(ctx, r, step.ID, 1, models.OutcomeFailure, "", err.Error())

		return "", err

	default:
		return "", fmt.Errorf("unknown step type %q", step.Type)
	}
}

// runGatewayStep executes an action through the registry with bounded
// retries and exponential backoff. Every attempt gets its own log entry.
func (e *Executor) runGatewayStep(ctx context.Context, r *run, step *models.WorkflowStep, kind string, params map[string]any, maxRetries int, timeout time.Duration) (string, error) {
	action, err := e.registry.CreateAction(kind, params)
	if err != nil {
		// Config errors are permanent, never retried.
		e.appendLog(ctx, r, step.ID, 1, models.OutcomeFailure, "", err.Error())

		return "", err
	}

	attempts := maxRetries + 1

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := e.backoff(ctx, attempt); err != nil {
				return "", err
			}

			if err := e.checkCancelled(ctx, r); err != nil {
				return "", err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := action.Execute(attemptCtx, *r.ec, e.logger)

		cancel()

		if err == nil {
			if r.ec.StepResults == nil {
				r.ec.StepResults = make(map[string]any)
			}

			r.ec.StepResults[step.ID] = result
			e.appendLog(ctx, r, step.ID, attempt, models.OutcomeSuccess, "", "")

			return firstSuccessor(step), nil
		}

		lastErr = err
		e.appendLog(ctx, r, step.ID, attempt, models.OutcomeFailure, "", err.Error())
		e.logger.WarnContext(ctx, "Step attempt failed",
			"execution_id", r.execution.ID,
			"step_id", step.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	return "", fmt.Errorf("action %s failed after %d attempts: %w", kind, attempts, lastErr)
}

func (e *Executor) parkOnDelay(ctx context.Context, r *run, step *models.WorkflowStep) error {
	resumeAt := time.Now().UTC().Add(step.Config.Delay.Duration())

	err := e.delays.Schedule(ctx, schedule.Resumption{
		ExecutionID: r.execution.ID,
		TenantID:    r.execution.TenantID,
		StepID:      step.ID,
		ResumeAt:    resumeAt,
	})
	if err != nil {
		e.appendLog(ctx, r, step.ID, 1, models.OutcomeFailure, "", err.Error())

		return fmt.Errorf("failed to schedule delay resumption: %w", err)
	}

	e.appendLog(ctx, r, step.ID, 1, models.OutcomeSuccess, "", "")
	e.saveContext(ctx, e.logger, r)

	return errParked
}

func (e *Executor) runLoop(ctx context.Context, r *run, step *models.WorkflowStep) (string, error) {
	config := step.Config.Loop
	bodyID := step.TrueBranch()
	exitID := step.FalseBranch()

	iterations := 0

	for iterations < config.IterationCap() {
		proceed, err := EvaluateCondition(&config.Condition, r.ec)
		if err != nil {
			e.appendLog(ctx, r, step.ID, 1, models.OutcomeFailure, "", err.Error())

			return "", err
		}

		if !proceed || bodyID == "" {
			break
		}

		iterations++

		if err := e.walkBranch(ctx, r, bodyID, step.ID); err != nil {
			return "", err
		}
	}

	if r.ec.StepResults == nil {
		r.ec.StepResults = make(map[string]any)
	}

	r.ec.StepResults[step.ID] = map[string]any{"iterations": iterations}
	e.appendLog(ctx, r, step.ID, 1, models.OutcomeSuccess, "", "")

	return exitID, nil
}

// runParallel fans the branches out as goroutines, each walking its branch
// on a cloned context until it reaches a merge step. Branch results are
// folded back into the run's context before the merge's successor is walked.
func (e *Executor) runParallel(ctx context.Context, r *run, step *models.WorkflowStep) (string, error) {
	e.appendLog(ctx, r, step.ID, 1, models.OutcomeSuccess, "", "")

	type branchResult struct {
		mergeID string
		results map[string]any
		err     error
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]branchResult, 0, len(step.NextSteps))
	)

	for _, branchID := range step.NextSteps {
		wg.Add(1)

		go func(branchID string) {
			defer wg.Done()

			branchRun := &run{
				workflow:  r.workflow,
				execution: r.execution,
				ec:        cloneContext(r.ec),
			}

			mergeID, err := e.walkToMerge(ctx, branchRun, branchID)

			mu.Lock()
			defer mu.Unlock()

			r.steps += branchRun.steps
			results = append(results, branchResult{
				mergeID: mergeID,
				results: branchRun.ec.StepResults,
				err:     err,
			})
		}(branchID)
	}

	wg.Wait()

	mergeID := ""
	succeeded := 0

	var firstErr error

	for _, result := range results {
		if result.err != nil {
			if errors.Is(result.err, errParked) || errors.Is(result.err, errCancelled) {
				return "", result.err
			}

			if firstErr == nil {
				firstErr = result.err
			}

			continue
		}

		succeeded++

		if result.mergeID != "" {
			mergeID = result.mergeID
		}

		for stepID, stepResult := range result.results {
			if r.ec.StepResults == nil {
				r.ec.StepResults = make(map[string]any)
			}

			r.ec.StepResults[stepID] = stepResult
		}
	}

	required := len(step.NextSteps)

	if mergeID != "" {
		if mergeStep, ok := r.workflow.StepByID(mergeID); ok && mergeStep.Config.Merge != nil {
			if mergeStep.Config.Merge.RequiredBranches > 0 {
				required = mergeStep.Config.Merge.RequiredBranches
			}
		}
	}

	if succeeded < required {
		r.failedStep = step.ID

		if firstErr != nil {
			return "", fmt.Errorf("parallel branches failed (%d/%d succeeded): %w", succeeded, len(step.NextSteps), firstErr)
		}

		return "", fmt.Errorf("parallel branches failed (%d/%d succeeded)", succeeded, len(step.NextSteps))
	}

	if mergeID == "" {
		return "", nil
	}

	mergeStep, ok := r.workflow.StepByID(mergeID)
	if !ok {
		return "", fmt.Errorf("merge step %s not found in workflow %s", mergeID, r.workflow.ID)
	}

	e.appendLog(ctx, r, mergeStep.ID, 1, models.OutcomeSuccess, "", "")

	return firstSuccessor(mergeStep), nil
}

// walkToMerge walks a parallel branch, stopping without executing when it
// reaches a merge step. It returns the merge step's ID, or "" if the branch
// dead-ends first.
func (e *Executor) walkToMerge(ctx context.Context, r *run, stepID string) (string, error) {
	current := stepID

	for current != "" {
		step, ok := r.workflow.StepByID(current)
		if !ok {
			return "", fmt.Errorf("step %s not found in workflow %s", current, r.workflow.ID)
		}

		if step.Type == models.StepTypeMerge {
			return step.ID, nil
		}

		if err := e.checkCancelled(ctx, r); err != nil {
			return "", err
		}

		next, err := e.executeStep(ctx, r, step)
		if err != nil {
			return "", err
		}

		r.steps++
		current = next
	}

	return "", nil
}

func (e *Executor) checkCancelled(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("execution interrupted: %w", err)
	}

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, r.execution.TenantID, r.execution.ID)
	if err != nil {
		return fmt.Errorf("failed to check execution status: %w", err)
	}

	if execution.Status.Terminal() {
		return errCancelled
	}

	return nil
}

// backoff waits retryBase * 2^(attempt-2), capped, or until the context is
// cancelled.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	delay := e.retryBase << (attempt - 2)
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("execution interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (e *Executor) appendLog(ctx context.Context, r *run, stepID string, attempt int, outcome models.StepOutcome, branch, errMsg string) {
	entry := &models.ExecutionLogEntry{
		TenantID:    r.execution.TenantID,
		ExecutionID: r.execution.ID,
		StepID:      stepID,
		Attempt:     attempt,
		Outcome:     outcome,
		Branch:      branch,
		Error:       errMsg,
	}

	if err := e.persistence.ExecutionRepository().AppendLog(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "Failed to append execution log",
			"execution_id", r.execution.ID,
			"step_id", stepID,
			"error", err,
		)
	}
}

func (e *Executor) setCurrentStep(ctx context.Context, r *run, stepID string) {
	err := e.persistence.ExecutionRepository().SetCurrentStep(ctx, r.execution.TenantID, r.execution.ID, stepID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to record current step",
			"execution_id", r.execution.ID,
			"step_id", stepID,
			"error", err,
		)
	}
}

func (e *Executor) saveContext(ctx context.Context, logger *slog.Logger, r *run) {
	err := e.persistence.ExecutionRepository().SaveContext(ctx, r.execution.TenantID, r.execution.ID, r.ec.AsMap())
	if err != nil {
		logger.WarnContext(ctx, "Failed to save execution context", "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func firstSuccessor(step *models.WorkflowStep) string {
	if len(step.NextSteps) > 0 {
		return step.NextSteps[0]
	}

	return ""
}

func cloneContext(ec *models.ExecutionContext) *models.ExecutionContext {
	clone := *ec
	clone.TriggerData = cloneMap(ec.TriggerData)
	clone.Variables = cloneMap(ec.Variables)
	clone.StepResults = cloneMap(ec.StepResults)

	return &clone
}

func cloneMap(source map[string]any) map[string]any {
	clone := make(map[string]any, len(source))
	for key, value := range source {
		clone[key] = value
	}

	return clone
}
