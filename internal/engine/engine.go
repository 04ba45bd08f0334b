// Package engine drives exactly one run from INGESTED to a terminal state.
// The loop is strictly sequential: ask the state machine for the next stage,
// invoke the agent under a bounded timeout, record the attempt, consult the
// policy chain, apply the transition, persist the artifact. Side effects are
// confined to artifact persistence, event publication, and logging; nothing
// shared across runs is mutated.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/agent"
	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/policy"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
	"github.com/fyrsmithlabs/patchsmith/internal/telemetry"
)

// Publisher emits trace events to observers. The on-disk trace.log is the
// durable record; publication is best-effort.
type Publisher interface {
	Publish(ev artifact.TraceEvent) error
}

// Retriever supplies repository context to the intelligence and planning
// stages. Optional; a nil retriever means no retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, issue run.Issue) (string, error)
}

// Engine owns one run's lifecycle. Construct a fresh Engine per run; only
// read-only collaborators (policy chain, budget, store root) are shared.
type Engine struct {
	roster   *agent.Roster
	policies *policy.Chain
	store    *artifact.Store
	budget   run.Budget

	bus       Publisher
	retriever Retriever
	log       *logging.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithPublisher attaches a trace event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

// WithRetriever attaches a repository-context retriever.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches pipeline instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine over the six-agent roster, the policy chain, the
// artifact store, and the budget ceilings.
func New(roster *agent.Roster, policies *policy.Chain, store *artifact.Store, budget run.Budget, opts ...Option) *Engine {
	e := &Engine{
		roster:   roster,
		policies: policies,
		store:    store,
		budget:   budget,
		log:      logging.Nop(),
		tracer:   otel.Tracer("patchsmith/engine"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the issue to a terminal state and returns its run context. The
// returned error covers only infrastructure failures (the run directory
// could not be created); stage failures are consumed by the policy layer and
// expressed in the terminal state, never propagated.
func (e *Engine) Run(ctx context.Context, issue run.Issue) (*run.Context, error) {
	issue.Body = policy.SanitizeIssue(issue.Body)
	rc := run.NewContext(issue)

	rs, err := e.store.CreateRun(rc.ID)
	if err != nil {
		return nil, fmt.Errorf("create run store: %w", err)
	}

	ctx = logging.WithRun(ctx, rc.ID)
	log := e.log.Named("engine").With(zap.String("issue", issue.Coordinate()))
	log.Info(ctx, "run started", zap.String("state", string(rc.State)))

	artifacts := make(map[pipeline.Stage]string)
	retrieval := e.retrieve(ctx, issue, log)

	for !rc.State.Terminal() {
		// The state machine runs no stage from VALIDATED; the run
		// finalizes to COMPLETE.
		if rc.State == pipeline.StateValidated {
			next, err := pipeline.Next(rc.State, pipeline.OutcomeSuccess, pipeline.ActionContinue)
			if err != nil {
				e.abort(ctx, rc, rs, "finalize transition: "+err.Error())
				break
			}
			rc.State = next
			continue
		}

		if ctx.Err() != nil {
			e.abort(ctx, rc, rs, "run cancelled: "+ctx.Err().Error())
			break
		}

		stage, ok := pipeline.StageFor(rc.State)
		if !ok {
			e.abort(ctx, rc, rs, fmt.Sprintf("no stage runnable from state %s", rc.State))
			break
		}
		e.runStage(ctx, rc, rs, stage, artifacts, retrieval, log)
	}

	e.finalize(ctx, rc, rs, log)
	return rc, nil
}

// runStage performs one attempt of one stage: invoke, record, decide, apply.
func (e *Engine) runStage(ctx context.Context, rc *run.Context, rs *artifact.RunStore, stage pipeline.Stage, artifacts map[pipeline.Stage]string, retrieval string, log *logging.Logger) {
	stageCtx := logging.WithStage(ctx, string(stage))
	attempt := rc.Retries(stage) + 1

	stageCtx, span := e.tracer.Start(stageCtx, "stage."+string(stage),
		trace.WithAttributes(
			attribute.String("run_id", rc.ID),
			attribute.Int("attempt", attempt),
		))
	defer span.End()

	in := agent.Input{
		Issue:     rc.Issue,
		Artifacts: artifacts,
		Retrieval: retrieval,
		MaxTokens: e.budget.MaxStageTokens,
	}

	e.publish(rs, artifact.TraceEvent{
		Time: time.Now().UTC(), RunID: rc.ID,
		Event: artifact.EventStageStart, Stage: string(stage), Attempt: attempt,
	})

	started := time.Now()
	out, cost, execErr := e.invoke(stageCtx, stage, in)
	duration := time.Since(started)

	// A parent-context cancellation is not a stage failure to litigate with
	// the policy chain; the run aborts with the reason recorded. FirstError
	// is claimed before the record lands so the attempt's raw context error
	// cannot shadow the cancellation reason.
	if ctx.Err() != nil && execErr != nil {
		reason := "run cancelled: " + ctx.Err().Error()
		if rc.FirstError == "" {
			rc.FirstError = reason
		}
		_ = rc.Append(record(stage, attempt, in, "", cost, duration, started, execErr))
		e.abort(ctx, rc, rs, reason)
		return
	}

	outcome := pipeline.OutcomeSuccess
	outputRef := agent.ArtifactName(stage)
	if execErr != nil {
		outcome = pipeline.OutcomeFailure
		outputRef = ""
	}

	rec := record(stage, attempt, in, outputRef, cost, duration, started, execErr)
	rec.Outcome = outcome
	if err := rc.Append(rec); err != nil {
		e.abort(ctx, rc, rs, "record stage attempt: "+err.Error())
		return
	}

	e.publish(rs, artifact.TraceEvent{
		Time: time.Now().UTC(), RunID: rc.ID,
		Event: artifact.EventStageEnd, Stage: string(stage), Attempt: attempt,
		Outcome: string(outcome),
		Tokens:  cost.Tokens(), USD: cost.USD, DurMS: duration.Milliseconds(),
	})
	e.metrics.RecordStage(stageCtx, string(stage), string(outcome), duration, cost.Tokens(), cost.USD)

	decision := e.policies.Decide(rc, policy.Attempt{
		Stage:   stage,
		Attempt: attempt,
		Outcome: outcome,
		Output:  out.Artifact,
		Err:     execErr,
	})
	e.publish(rs, artifact.TraceEvent{
		Time: time.Now().UTC(), RunID: rc.ID,
		Event: artifact.EventDecision, Stage: string(stage), Attempt: attempt,
		Action: string(decision.Action), Reason: decision.Reason,
		DelayMS: decision.Delay.Milliseconds(),
	})
	e.metrics.RecordDecision(stageCtx, string(decision.Action), decision.Source)
	log.Info(stageCtx, "stage attempt finished",
		zap.Int("attempt", attempt),
		zap.String("outcome", string(outcome)),
		zap.String("decision", decision.String()),
	)

	// Persist the artifact before advancing. Escalated outputs are kept
	// too: the offending artifact is the evidence.
	if outcome == pipeline.OutcomeSuccess && out.Artifact != "" {
		if err := rs.Write(agent.ArtifactName(stage), []byte(out.Artifact)); err != nil {
			e.abort(ctx, rc, rs, "persist artifact: "+err.Error())
			return
		}
	}

	next, err := pipeline.Next(rc.State, outcome, decision.Action)
	if err != nil {
		e.abort(ctx, rc, rs, "apply transition: "+err.Error())
		return
	}

	switch decision.Action {
	case pipeline.ActionRetry:
		rc.State = next // RETRYING
		rc.CountRetry(stage)
		if err := e.sleep(ctx, decision.Delay); err != nil {
			e.abort(ctx, rc, rs, "run cancelled during backoff: "+err.Error())
			return
		}
		origin, _ := pipeline.OriginState(stage)
		rc.State = origin
	case pipeline.ActionAbort, pipeline.ActionEscalate:
		if rc.FirstError == "" {
			rc.FirstError = decision.Reason
		}
		rc.State = next
	default:
		if outcome == pipeline.OutcomeSuccess {
			artifacts[stage] = out.Artifact
		}
		rc.State = next
	}
}

// invoke runs the agent in its own goroutine under the per-stage timeout,
// converting panics and timeouts into failure outcomes. It never blocks past
// the timeout.
func (e *Engine) invoke(ctx context.Context, stage pipeline.Stage, in agent.Input) (agent.Output, run.Cost, error) {
	a, err := e.roster.For(stage)
	if err != nil {
		return agent.Output{}, run.Cost{}, run.FatalConfig(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.budget.StageTimeout)
	defer cancel()

	type result struct {
		out  agent.Output
		cost run.Cost
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: run.AgentFailure(fmt.Errorf("stage %s panicked: %v", stage, r))}
			}
		}()
		out, cost, err := a.Execute(callCtx, in)
		ch <- result{out: out, cost: cost, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.cost, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return agent.Output{}, run.Cost{}, ctx.Err()
		}
		return agent.Output{}, run.Cost{}, run.Transientf("stage %s timed out after %s", stage, e.budget.StageTimeout)
	}
}

// abort forces the run into ABORTED with a recorded reason, from any live
// state including mid-retry.
func (e *Engine) abort(ctx context.Context, rc *run.Context, rs *artifact.RunStore, reason string) {
	if rc.State.Terminal() {
		return
	}
	if rc.FirstError == "" {
		rc.FirstError = reason
	}
	e.publish(rs, artifact.TraceEvent{
		Time: time.Now().UTC(), RunID: rc.ID,
		Event: artifact.EventDecision, Action: string(pipeline.ActionAbort), Reason: reason,
	})
	next, err := pipeline.Next(rc.State, pipeline.OutcomeFailure, pipeline.ActionAbort)
	if err != nil {
		next = pipeline.StateAborted
	}
	rc.State = next
	e.log.Named("engine").Warn(ctx, "run aborted", zap.String("reason", reason))
}

// finalize renders the report, serializes the run context, and announces the
// terminal state. A failed run still produces report.md.
func (e *Engine) finalize(ctx context.Context, rc *run.Context, rs *artifact.RunStore, log *logging.Logger) {
	if err := rs.Write(artifact.ReportFile, artifact.RenderReport(rc)); err != nil {
		log.Error(ctx, "write report", zap.Error(err))
	}
	if err := rs.WriteContext(rc); err != nil {
		log.Error(ctx, "write run context", zap.Error(err))
	}
	e.publish(rs, artifact.TraceEvent{
		Time: time.Now().UTC(), RunID: rc.ID,
		Event: artifact.EventTerminal, State: string(rc.State),
		Tokens: rc.Cost.Tokens(), USD: rc.Cost.USD,
		DurMS: rc.Elapsed().Milliseconds(),
	})
	e.metrics.RecordTerminal(ctx, string(rc.State))
	log.Info(ctx, "run finished",
		zap.String("state", string(rc.State)),
		zap.Int("records", len(rc.Records)),
		zap.Int("tokens", rc.Cost.Tokens()),
		zap.Float64("usd", rc.Cost.USD),
	)
}

// publish appends to the durable trace.log and mirrors to the bus.
func (e *Engine) publish(rs *artifact.RunStore, ev artifact.TraceEvent) {
	_ = rs.AppendTrace(ev)
	if e.bus != nil {
		_ = e.bus.Publish(ev)
	}
}

// retrieve gathers repository context once per run. Retrieval failures are
// logged and treated as an empty result, not a run failure.
func (e *Engine) retrieve(ctx context.Context, issue run.Issue, log *logging.Logger) string {
	if e.retriever == nil {
		return ""
	}
	out, err := e.retriever.Retrieve(ctx, issue)
	if err != nil {
		log.Warn(ctx, "repository retrieval failed", zap.Error(err))
		return ""
	}
	return out
}

func record(stage pipeline.Stage, attempt int, in agent.Input, outputRef string, cost run.Cost, duration time.Duration, started time.Time, execErr error) run.StageRecord {
	rec := run.StageRecord{
		Stage:     stage,
		Attempt:   attempt,
		InputRef:  inputRef(in),
		OutputRef: outputRef,
		Outcome:   pipeline.OutcomeFailure,
		Cost:      cost,
		Duration:  duration,
		StartedAt: started,
	}
	if execErr != nil {
		rec.ErrClass = string(run.ClassOf(execErr))
		rec.ErrMsg = execErr.Error()
	}
	return rec
}

// inputRef names the artifacts a stage consumed, for the audit trail.
func inputRef(in agent.Input) string {
	refs := []string{"issue"}
	for _, stage := range pipeline.AllStages() {
		if _, ok := in.Artifacts[stage]; ok {
			refs = append(refs, agent.ArtifactName(stage))
		}
	}
	return strings.Join(refs, ",")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
