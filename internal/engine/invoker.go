package engine

import (
	"context"
	"time"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// ProduceRequest is the input handed to an analysis producer
type ProduceRequest struct {
	Agent   *agent.Agent
	Topic   string
	Context map[string]string
	Prior   []task.Opinion
	Round   int
}

// Producer is the opaque analysis capability behind one agent type.
// How it forms an opinion (heuristics, scraped data, templates) is not
// the engine's concern.
type Producer interface {
	Produce(ctx context.Context, req ProduceRequest) (*task.Opinion, error)
}

// ProducerLookup resolves the producer for an agent type
type ProducerLookup interface {
	Producer(t agent.Type) (Producer, bool)
}

// ProducerInvoker runs producer calls with per-call timeout and
// per-agent rate limiting, and stamps opinion metadata the producer
// should not have to care about.
type ProducerInvoker struct {
	lookup  ProducerLookup
	limiter *CallLimiter
	timeout time.Duration
	log     *logger.Logger
}

// NewProducerInvoker wires the default invoker
func NewProducerInvoker(lookup ProducerLookup, limiter *CallLimiter, timeout time.Duration) *ProducerInvoker {
	return &ProducerInvoker{
		lookup:  lookup,
		limiter: limiter,
		timeout: timeout,
		log:     logger.Get().With("component", "producer_invoker"),
	}
}

// Invoke implements Invoker
func (i *ProducerInvoker) Invoke(ctx context.Context, ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
	producer, ok := i.lookup.Producer(ag.Type)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no producer for agent type %s", ag.Type)
	}

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx, ag.ID); err != nil {
			return nil, errors.Wrap(errors.ErrTimeout, err.Error())
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if i.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	type produced struct {
		op  *task.Opinion
		err error
	}
	ch := make(chan produced, 1)

	go func() {
		op, err := producer.Produce(callCtx, ProduceRequest{
			Agent:   ag,
			Topic:   run.Topic,
			Context: run.Context,
			Prior:   prior,
			Round:   round,
		})
		ch <- produced{op: op, err: err}
	}()

	// A producer that cannot be preempted mid-call is allowed to
	// finish, but its late result is discarded.
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return i.finalize(res.op, ag, round), nil
	case <-callCtx.Done():
		i.log.Warnw("Producer call timed out", "agent_id", ag.ID, "type", ag.Type, "round", round)
		return nil, errors.Wrapf(errors.ErrTimeout, "agent %s call", ag.ID)
	}
}

func (i *ProducerInvoker) finalize(op *task.Opinion, ag *agent.Agent, round int) *task.Opinion {
	op.AgentID = ag.ID
	op.AgentType = ag.Type
	op.Round = round
	if op.Confidence < 0 {
		op.Confidence = 0
	}
	if op.Confidence > 1 {
		op.Confidence = 1
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	return op
}
