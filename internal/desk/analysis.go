package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/logger"
	"fxdesk/internal/store/runlog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type analysisJob struct {
	signalID string
	seq      uint64
	pair     string
	date     time.Time
	mode     engine.Mode
	waiter   chan Outcome
}

// runAnalysis 在 actor 之外执行引擎调用与聚合，结果交回 actor 按序号取舍。
func (d *Desk) runAnalysis(ctx context.Context, job analysisJob) {
	defer d.jobs.Done()
	start := time.Now()

	req := engine.NewRequest(job.pair, job.date, job.mode)
	res, err := d.engine.Analyze(ctx, req)
	var dec *decision.ConsensusDecision
	if err == nil {
		var out decision.ConsensusDecision
		out, err = d.aggregate(ctx, job, res)
		if err == nil {
			dec = &out
		}
	}
	dur := time.Since(start)
	canceled := err != nil && (ctx.Err() != nil || engine.IsCanceled(err))

	payload := AnalysisCompletedPayload{
		SignalID:   job.signalID,
		Seq:        job.seq,
		Decision:   dec,
		Canceled:   canceled,
		Transport:  res.Transport,
		DurationMs: dur.Milliseconds(),
		FinishedAt: d.now(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	applyErr := d.dispatch(context.Background(), EvtAnalysisCompleted, job.signalID, payload)

	outcome := Outcome{SignalID: job.signalID, Seq: job.seq}
	var status string
	switch {
	case errors.Is(applyErr, ErrSuperseded):
		status = runlog.OutcomeSuperseded
		outcome.Err = applyErr
	case canceled || errors.Is(applyErr, ErrAnalysisCanceled):
		status = runlog.OutcomeCanceled
		outcome.Err = fmt.Errorf("signal %s seq %d: %w", job.signalID, job.seq, ErrAnalysisCanceled)
	case err != nil:
		status = runlog.OutcomeFailed
		outcome.Err = err
	case applyErr != nil:
		status = runlog.OutcomeFailed
		outcome.Err = applyErr
	default:
		status = runlog.OutcomeApplied
	}
	snap := d.Snapshot()
	outcome.Signal, _ = snap.Signal(job.signalID)
	if pos, ok := snap.PositionBySignal(job.signalID); ok {
		outcome.Position = &pos
	}

	if d.recorder != nil {
		d.recorder.ObserveAnalysis(status, dur)
	}
	d.recordRun(job, req, res, dec, status, err, dur)

	if job.waiter != nil {
		job.waiter <- outcome
		close(job.waiter)
	}
}

func (d *Desk) aggregate(ctx context.Context, job analysisJob, res engine.Result) (decision.ConsensusDecision, error) {
	ctx, span := d.tracer.Start(ctx, "decision.aggregate", trace.WithAttributes(
		attribute.String("fx.pair", job.pair),
		attribute.Int("fx.agents", len(res.Agents)),
		attribute.String("aggregator", d.aggregator.Name()),
	))
	defer span.End()
	out, err := d.aggregator.Aggregate(ctx, decision.Input{Pair: job.pair, Date: job.date, Analyses: res.Agents})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return decision.ConsensusDecision{}, err
	}
	span.SetAttributes(attribute.String("fx.action", string(out.FinalAction)))
	return out, nil
}

func (d *Desk) recordRun(job analysisJob, req engine.Request, res engine.Result, dec *decision.ConsensusDecision, status string, err error, dur time.Duration) {
	if d.runs == nil {
		return
	}
	run := runlog.Run{
		SignalID:       job.signalID,
		Seq:            job.seq,
		Pair:           req.Pair,
		Date:           req.Date,
		Mode:           string(req.Mode),
		Transport:      res.Transport,
		Outcome:        status,
		DurationMs:     dur.Milliseconds(),
		Raw:            res.Raw,
		EngineDecision: res.EngineDecision,
		CreatedAt:      d.now(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	if dec != nil {
		if raw, mErr := json.Marshal(dec); mErr == nil {
			run.Decision = raw
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.runs.Append(ctx, run); err != nil {
		logger.Warnf("Desk: run log append failed for %s#%d: %v", job.signalID, job.seq, err)
	}
}
