package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"
)

// AnalysisOptions 分析请求参数；零值使用 desk 默认模式与当天日期。
type AnalysisOptions struct {
	Mode engine.Mode
	Date time.Time
}

// Surface 校验提案并加入待处理集合。
func (d *Desk) Surface(ctx context.Context, p signal.Proposal) (signal.TradeSignal, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = d.newID()
	}
	sig, err := signal.New(id, p, d.now())
	if err != nil {
		return signal.TradeSignal{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if err := d.dispatch(ctx, EvtSignalSurfaced, sig.ID, SignalSurfacedPayload{Signal: *sig}); err != nil {
		return signal.TradeSignal{}, err
	}
	out, _ := d.Snapshot().Signal(sig.ID)
	return out, nil
}

// RequestAnalysis 为信号发起一次分析并立即返回；同一信号的在途请求被取代。
func (d *Desk) RequestAnalysis(ctx context.Context, id string, opts AnalysisOptions) (Ticket, error) {
	if opts.Mode == "" {
		opts.Mode = d.engineMode
	}
	date := opts.Date
	if date.IsZero() {
		date = d.now()
	}
	seq := d.seqCounter.Add(1)
	evt, err := d.envelope(EvtAnalysisRequested, id, AnalysisRequestedPayload{
		SignalID: id,
		Seq:      seq,
		Mode:     opts.Mode,
		Date:     date.Format(engine.DateLayout),
	})
	if err != nil {
		return Ticket{}, err
	}
	waiter := make(chan Outcome, 1)
	evt.waiter = waiter
	if err := d.SendSync(ctx, evt); err != nil {
		return Ticket{}, err
	}
	return Ticket{SignalID: id, Seq: seq, Done: waiter}, nil
}

// AnalyzeAndWait 发起分析并等待结果；ctx 结束时取消该请求。
func (d *Desk) AnalyzeAndWait(ctx context.Context, id string, opts AnalysisOptions) (Outcome, error) {
	ticket, err := d.RequestAnalysis(ctx, id, opts)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case out := <-ticket.Done:
		return out, out.Err
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.dispatch(cctx, EvtAnalysisCanceled, id, AnalysisCanceledPayload{SignalID: id, Seq: ticket.Seq})
		return Outcome{SignalID: id, Seq: ticket.Seq}, ctx.Err()
	}
}

// CancelAnalysis 取消在途分析；没有在途请求时什么也不做。
func (d *Desk) CancelAnalysis(ctx context.Context, id string) error {
	return d.dispatch(ctx, EvtAnalysisCanceled, id, AnalysisCanceledPayload{SignalID: id})
}

// Approve 人工批准并开仓，返回已处置的信号与新持仓。
func (d *Desk) Approve(ctx context.Context, id string) (signal.TradeSignal, position.Position, error) {
	if err := d.dispatch(ctx, EvtSignalApproved, id, DispositionPayload{SignalID: id, By: signal.ByManual}); err != nil {
		return signal.TradeSignal{}, position.Position{}, err
	}
	snap := d.Snapshot()
	sig, _ := snap.Signal(id)
	pos, _ := snap.PositionBySignal(id)
	return sig, pos, nil
}

func (d *Desk) Reject(ctx context.Context, id, reason string) (signal.TradeSignal, error) {
	if err := d.dispatch(ctx, EvtSignalRejected, id, DispositionPayload{SignalID: id, By: signal.ByManual, Reason: reason}); err != nil {
		return signal.TradeSignal{}, err
	}
	sig, _ := d.Snapshot().Signal(id)
	return sig, nil
}

// SetMode 切换审批模式，只影响之后进入 Analyzed 的信号。
func (d *Desk) SetMode(ctx context.Context, m mode.Mode) error {
	if _, err := mode.Parse(string(m)); err != nil {
		return err
	}
	return d.dispatch(ctx, EvtModeChanged, "", ModeChangedPayload{Mode: m})
}

func (d *Desk) ClosePosition(ctx context.Context, id string, req position.CloseRequest) (position.Position, error) {
	at := req.At
	if at.IsZero() {
		at = d.now()
	}
	payload := PositionClosedPayload{PositionID: id, Price: req.Price, PnL: req.PnL, Reason: req.Reason, At: at}
	if err := d.dispatch(ctx, EvtPositionClosed, "", payload); err != nil {
		return position.Position{}, err
	}
	pos, _ := d.Snapshot().Position(id)
	return pos, nil
}

// Signals 待处理信号，最新在前。
func (d *Desk) Signals() []signal.TradeSignal {
	return append([]signal.TradeSignal(nil), d.Snapshot().Signals...)
}

func (d *Desk) Signal(id string) (signal.TradeSignal, error) {
	sig, ok := d.Snapshot().Signal(id)
	if !ok {
		return signal.TradeSignal{}, fmt.Errorf("signal %s: %w", id, ErrSignalNotFound)
	}
	return sig, nil
}

// Decision 返回信号当前的共识决策，agent 非空时只保留该代理的分析。
// 信号存在但尚未分析时 ok 为 false。
func (d *Desk) Decision(id string, agent decision.AgentKind) (decision.ConsensusDecision, bool, error) {
	sig, err := d.Signal(id)
	if err != nil {
		return decision.ConsensusDecision{}, false, err
	}
	if sig.Decision == nil {
		return decision.ConsensusDecision{}, false, nil
	}
	return sig.Decision.FilterAgents(agent), true, nil
}

func (d *Desk) Positions(status position.Status) []position.Position {
	return d.Snapshot().Positions(status)
}

// IsNotFound 信号或持仓不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSignalNotFound) || errors.Is(err, position.ErrNotFound)
}
