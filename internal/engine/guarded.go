package engine

import (
	"context"
	"errors"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/logger"
	"fxdesk/internal/pkg/circuit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recorder 记录引擎调用耗时与结果，由 metrics 包实现。
type Recorder interface {
	ObserveEngineCall(transport, outcome string, d time.Duration)
}

type GuardOptions struct {
	Name     string
	Timeout  time.Duration
	Breaker  *circuit.Breaker
	Recorder Recorder
}

// Guarded 为任意 Engine 加上超时、熔断、链路追踪与指标。
type Guarded struct {
	inner    Engine
	name     string
	timeout  time.Duration
	breaker  *circuit.Breaker
	recorder Recorder
	tracer   trace.Tracer
}

func NewGuarded(inner Engine, opts GuardOptions) *Guarded {
	if opts.Name == "" {
		opts.Name = "engine"
	}
	return &Guarded{
		inner:    inner,
		name:     opts.Name,
		timeout:  opts.Timeout,
		breaker:  opts.Breaker,
		recorder: opts.Recorder,
		tracer:   otel.Tracer("fxdesk/engine"),
	}
}

func (g *Guarded) Analyze(ctx context.Context, req Request) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "engine.analyze", trace.WithAttributes(
		attribute.String("fx.pair", req.Pair),
		attribute.String("fx.date", req.Date),
		attribute.String("fx.mode", string(req.Mode)),
		attribute.String("engine.name", g.name),
	))
	defer span.End()

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	var res Result
	call := func() error {
		r, err := g.inner.Analyze(callCtx, req)
		res = r
		return err
	}
	var err error
	if g.breaker != nil {
		err = g.breaker.Do(call, func(err error) bool {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return true
			}
			return countsAgainstBreaker(err)
		})
	} else {
		err = call()
	}
	err = g.classify(ctx, callCtx, err)
	dur := time.Since(start)

	outcome := outcomeOf(err)
	if g.recorder != nil {
		g.recorder.ObserveEngineCall(g.name, outcome, dur)
	}
	span.SetAttributes(attribute.String("engine.outcome", outcome), attribute.Int("engine.agents", len(res.Agents)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome != "canceled" {
			logger.Warnf("engine %s pair=%s mode=%s failed after %s: %v", g.name, req.Pair, req.Mode, dur.Round(time.Millisecond), err)
		}
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "")
	logger.Debugf("engine %s pair=%s mode=%s ok agents=%d dur=%s", g.name, req.Pair, req.Mode, len(res.Agents), dur.Round(time.Millisecond))
	return res, nil
}

// classify 把熔断与超时统一成 UnavailableError；调用方主动取消保持 canceled。
func (g *Guarded) classify(parent, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuit.ErrOpen) {
		return unavailable(ReasonCircuitOpen, err, "engine %s", g.name)
	}
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return unavailable(ReasonTransport, context.DeadlineExceeded, "engine timed out after %s", g.timeout)
	}
	return err
}

func countsAgainstBreaker(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}
	return IsUnavailable(err)
}

func outcomeOf(err error) string {
	var ue *UnavailableError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ue):
		if ue.Reason == ReasonCanceled {
			return "canceled"
		}
		return string(ue.Reason)
	case decision.IsAggregationError(err):
		return "malformed_agent"
	default:
		return "error"
	}
}
