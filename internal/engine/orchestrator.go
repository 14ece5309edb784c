package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/metrics"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// ContextKeyConsensusThreshold lets a task carry its own consensus
// target for consensus-building mode.
const ContextKeyConsensusThreshold = "consensus_threshold"

// OrchestratorConfig tunes end-to-end task execution
type OrchestratorConfig struct {
	SessionTimeout           time.Duration
	DebateEarlyStopConsensus float64
}

// Orchestrator runs a task end to end: start, acquire participants,
// execute the strategy, synthesize, complete. Runtime faults never
// leave a task stuck in running; they convert into a fail transition.
type Orchestrator struct {
	lifecycle *Lifecycle
	registry  *Registry
	invoker   Invoker
	pool      *Pool
	synth     *Synthesizer
	cfg       OrchestratorConfig
	log       *logger.Logger

	parallel   Strategy
	sequential Strategy
	debate     Strategy
}

// NewOrchestrator wires the orchestration engine
func NewOrchestrator(lifecycle *Lifecycle, registry *Registry, invoker Invoker, pool *Pool, synth *Synthesizer, cfg OrchestratorConfig) *Orchestrator {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		lifecycle:  lifecycle,
		registry:   registry,
		invoker:    invoker,
		pool:       pool,
		synth:      synth,
		cfg:        cfg,
		log:        logger.Get().With("component", "orchestrator"),
		parallel:   NewParallelStrategy(invoker, pool),
		sequential: NewSequentialStrategy(invoker),
		debate:     NewDebateStrategy(invoker, pool, cfg.DebateEarlyStopConsensus),
	}
}

// Lifecycle exposes the lifecycle manager for callers that create and
// inspect tasks.
func (o *Orchestrator) Lifecycle() *Lifecycle {
	return o.lifecycle
}

// Run executes the task to a terminal state. The returned error is
// non-nil only for caller contract violations (unknown task, illegal
// starting state); execution faults are absorbed into the task's
// failed state.
func (o *Orchestrator) Run(ctx context.Context, taskID uuid.UUID) error {
	t, err := o.lifecycle.Start(ctx, taskID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Errorw("Task execution panicked", "task_id", taskID, "panic", r)
			o.failTask(ctx, t, fmt.Sprintf("panic: %v", r))
		}
	}()

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, o.cfg.SessionTimeout)
	defer cancelTimeout()

	// The run context additionally observes owner cancellation, so
	// strategies stop dispatching at their next step or round boundary.
	runCtx, endRun := o.lifecycle.RunContext(timeoutCtx, taskID)
	defer endRun()

	participants, err := o.resolveParticipants(t)
	if err != nil {
		o.failTask(ctx, t, err.Error())
		return nil
	}

	acquired := o.acquireParticipants(runCtx, participants)
	if len(acquired) == 0 {
		o.failTask(ctx, t, errors.ErrNoAvailableAgent.Error())
		return nil
	}

	start := time.Now()
	opinions, failures, execErr := o.strategyFor(t).Execute(runCtx, acquired, Run{
		Topic:   t.Topic,
		Context: t.Context,
		Rounds:  t.Rounds,
		Progress: func(pct float64, step string) {
			// Strategy progress spans the first 90%; the last 10% is
			// aggregation and completion.
			if uerr := o.lifecycle.UpdateProgress(runCtx, taskID, pct*0.9, step); uerr != nil {
				o.log.Debugw("Progress update rejected", "task_id", taskID, "error", uerr)
			}
		},
	})
	duration := time.Since(start)

	for _, f := range failures {
		metrics.AgentFailures.WithLabelValues(string(f.AgentType)).Inc()
	}

	if execErr != nil {
		o.release(ctx, acquired, opinions, failures, duration, 0)
		if o.discardIfCancelled(ctx, taskID) {
			return nil
		}
		if timeoutCtx.Err() == context.DeadlineExceeded {
			execErr = errors.Wrapf(errors.ErrSessionTimeout, "after %s", o.cfg.SessionTimeout)
		}
		o.failTask(ctx, t, execErr.Error())
		return nil
	}

	if aerr := o.lifecycle.AppendOpinions(ctx, taskID, opinions); aerr != nil {
		o.release(ctx, acquired, opinions, failures, duration, 0)
		if o.discardIfCancelled(ctx, taskID) {
			return nil
		}
		o.failTask(ctx, t, aerr.Error())
		return nil
	}

	result, serr := o.synth.Synthesize(opinions, failures)
	if serr != nil {
		o.release(ctx, acquired, opinions, failures, duration, 0)
		o.failTask(ctx, t, serr.Error())
		return nil
	}

	o.release(ctx, acquired, opinions, failures, duration, result.Confidence)

	if _, cerr := o.lifecycle.Complete(ctx, taskID, result); cerr != nil {
		if o.discardIfCancelled(ctx, taskID) {
			return nil
		}
		o.failTask(ctx, t, cerr.Error())
		return nil
	}

	metrics.TasksCompleted.WithLabelValues(string(t.Mode)).Inc()
	metrics.TaskDuration.WithLabelValues(string(t.Mode)).Observe(duration.Seconds())
	metrics.ConsensusScore.Observe(result.ConsensusScore)
	return nil
}

// RunBatch dispatches a set of tasks concurrently and waits for all of
// them. Sessions ride their own goroutines; only individual agent
// invocations consume pool slots, so batches cannot deadlock the pool.
func (o *Orchestrator) RunBatch(ctx context.Context, taskIDs []uuid.UUID) {
	var wg sync.WaitGroup
	for _, id := range taskIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.Run(ctx, id); err != nil {
				o.log.Errorw("Batch task rejected", "task_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// strategyFor maps the task's mode to an execution strategy. Single
// mode degenerates to a parallel run over the one selected agent.
func (o *Orchestrator) strategyFor(t *task.Task) Strategy {
	switch t.Mode {
	case task.ModeSequential:
		return o.sequential
	case task.ModeDebate:
		return o.debate
	case task.ModeConsensus:
		threshold := o.cfg.DebateEarlyStopConsensus
		if raw, ok := t.Context[ContextKeyConsensusThreshold]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				threshold = v
			}
		}
		return NewConsensusBuildingStrategy(o.invoker, o.pool, threshold)
	default:
		return o.parallel
	}
}

// resolveParticipants maps participant ids to live registry agents.
// Single mode narrows to the best eligible agent.
func (o *Orchestrator) resolveParticipants(t *task.Task) ([]*agent.Agent, error) {
	agents := make([]*agent.Agent, 0, len(t.Participants))
	for _, id := range t.Participants {
		ag, ok := o.registry.Get(id)
		if !ok {
			o.log.Warnw("Participant not in registry", "task_id", t.ID, "agent_id", id)
			continue
		}
		agents = append(agents, ag)
	}
	if len(agents) == 0 {
		return nil, errors.ErrNoAvailableAgent
	}

	if t.Mode == task.ModeSingle {
		best, err := Select(agents, true)
		if err != nil {
			return nil, err
		}
		return []*agent.Agent{best}, nil
	}
	return agents, nil
}

// acquireParticipants reserves a slot on every participant it can.
// Agents that cannot be acquired are simply left out of the run.
func (o *Orchestrator) acquireParticipants(ctx context.Context, agents []*agent.Agent) []*agent.Agent {
	acquired := make([]*agent.Agent, 0, len(agents))
	for _, ag := range agents {
		if err := o.registry.Acquire(ctx, ag.ID); err != nil {
			o.log.Warnw("Could not acquire agent", "agent_id", ag.ID, "error", err)
			continue
		}
		acquired = append(acquired, ag)
	}
	return acquired
}

// release returns every acquired slot exactly once. Agents that
// produced an opinion count as completed, recorded failures count as
// failed, the rest (for example after cancellation) release without
// touching outcome counters.
func (o *Orchestrator) release(ctx context.Context, acquired []*agent.Agent, opinions []task.Opinion, failures []PartialFailure, duration time.Duration, confidence float64) {
	outcomes := make(map[uuid.UUID]ReleaseKind, len(acquired))
	for _, ag := range acquired {
		outcomes[ag.ID] = ReleaseCancelled
	}
	for _, f := range failures {
		outcomes[f.AgentID] = ReleaseFailed
	}
	for _, op := range opinions {
		outcomes[op.AgentID] = ReleaseCompleted
	}

	for _, ag := range acquired {
		o.registry.Release(ctx, ag.ID, ReleaseOutcome{
			Kind:       outcomes[ag.ID],
			Duration:   duration,
			Confidence: confidence,
		})
	}
}

// discardIfCancelled drops a run's output when the task reached
// cancelled state mid-flight. The opinions stay unrecorded and the
// cancellation counter absorbs the run.
func (o *Orchestrator) discardIfCancelled(ctx context.Context, taskID uuid.UUID) bool {
	cur, err := o.lifecycle.Get(ctx, taskID)
	if err != nil || cur.Status != task.StatusCancelled {
		return false
	}
	o.log.Infow("Discarding result of cancelled task", "task_id", taskID)
	metrics.TasksCancelled.Inc()
	return true
}

func (o *Orchestrator) failTask(ctx context.Context, t *task.Task, reason string) {
	if _, err := o.lifecycle.Fail(ctx, t.ID, reason); err != nil {
		o.log.Errorw("Could not mark task failed", "task_id", t.ID, "reason", reason, "error", err)
		return
	}
	metrics.TasksFailed.WithLabelValues(string(t.Mode)).Inc()
}
