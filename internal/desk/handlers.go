package desk

import (
	"errors"
	"fmt"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/logger"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"
)

// pendingSignal 查找待处理信号；已处置的信号返回 InvalidTransition。
func (d *Desk) pendingSignal(id, event string) (*signal.TradeSignal, error) {
	if sig, ok := d.state.Pending[id]; ok {
		return sig, nil
	}
	if sig, ok := d.state.Recent[id]; ok {
		return nil, &signal.InvalidTransitionError{SignalID: id, From: sig.State, Event: event}
	}
	return nil, fmt.Errorf("%s %s: %w", event, id, ErrSignalNotFound)
}

func (d *Desk) handleSurfaced(p SignalSurfacedPayload) error {
	id := p.Signal.ID
	if _, ok := d.state.Pending[id]; ok {
		return fmt.Errorf("surface %s: %w", id, ErrDuplicateSignal)
	}
	if _, ok := d.state.Recent[id]; ok {
		return fmt.Errorf("surface %s: %w", id, ErrDuplicateSignal)
	}
	sig := p.Signal.Clone()
	d.state.Pending[id] = &sig
	d.persistSignal(sig)
	cp := sig.Clone()
	d.publish(Notice{Type: NoticeSignalSurfaced, SignalID: id, Pair: sig.Pair, Signal: &cp,
		Message: fmt.Sprintf("%s %s surfaced (%s)", sig.Pair, sig.Direction, sig.Source)})
	logger.Infof("Desk: signal %s %s %s surfaced from %s", id, sig.Pair, sig.Direction, sig.Source)
	return nil
}

func (d *Desk) handleAnalysisRequested(p AnalysisRequestedPayload, waiter chan Outcome) error {
	sig, err := d.pendingSignal(p.SignalID, "analyze")
	if err != nil {
		return err
	}
	date, err := time.Parse(engine.DateLayout, p.Date)
	if err != nil {
		return fmt.Errorf("analyze %s: invalid date %q", p.SignalID, p.Date)
	}
	ctx, ok := d.seq.Begin(d.rootCtx, p.SignalID, p.Seq)
	if !ok {
		return fmt.Errorf("analyze %s seq %d: %w", p.SignalID, p.Seq, ErrSuperseded)
	}
	job := analysisJob{
		signalID: p.SignalID,
		seq:      p.Seq,
		pair:     sig.Pair,
		date:     date,
		mode:     p.Mode,
		waiter:   waiter,
	}
	d.jobs.Add(1)
	go d.runAnalysis(ctx, job)

	d.publish(Notice{Type: NoticeAnalysisRequested, SignalID: p.SignalID, Pair: sig.Pair, Seq: p.Seq,
		Message: fmt.Sprintf("%s analysis #%d requested (%s, %s)", sig.Pair, p.Seq, p.Mode, p.Date)})
	return nil
}

func (d *Desk) handleAnalysisCompleted(p AnalysisCompletedPayload) error {
	if !d.seq.IsLatest(p.SignalID, p.Seq) {
		if d.seq.Latest(p.SignalID) > p.Seq {
			return fmt.Errorf("signal %s seq %d: %w", p.SignalID, p.Seq, ErrSuperseded)
		}
		return fmt.Errorf("signal %s seq %d: %w", p.SignalID, p.Seq, ErrAnalysisCanceled)
	}
	d.seq.Finish(p.SignalID, p.Seq)

	sig, ok := d.state.Pending[p.SignalID]
	if !ok {
		return fmt.Errorf("complete %s: %w", p.SignalID, ErrSignalNotFound)
	}
	if p.Canceled {
		d.publish(Notice{Type: NoticeAnalysisCanceled, SignalID: p.SignalID, Pair: sig.Pair, Seq: p.Seq})
		return fmt.Errorf("signal %s seq %d: %w", p.SignalID, p.Seq, ErrAnalysisCanceled)
	}
	if p.Error != "" || p.Decision == nil {
		msg := p.Error
		if msg == "" {
			msg = "analysis produced no decision"
		}
		sig.MarkFailed(errors.New(msg))
		d.persistSignal(*sig)
		d.publish(Notice{Type: NoticeAnalysisFailed, SignalID: p.SignalID, Pair: sig.Pair, Seq: p.Seq, Message: msg})
		logger.Warnf("Desk: analysis #%d for %s failed: %s", p.Seq, p.SignalID, msg)
		return nil
	}

	working := sig.Clone()
	at := p.FinishedAt
	if at.IsZero() {
		at = d.now()
	}
	if err := working.Attach(*p.Decision, p.Seq, at); err != nil {
		return err
	}
	d.state.Pending[p.SignalID] = &working
	d.persistSignal(working)
	cp := working.Clone()
	d.publish(Notice{Type: NoticeSignalAnalyzed, SignalID: p.SignalID, Pair: working.Pair, Seq: p.Seq, Signal: &cp,
		Message: p.Decision.Reasoning})

	return d.autoResolve(p.SignalID, *p.Decision)
}

// autoResolve 在同一事件内完成自动处置，处理下一个事件前结果已落定。
func (d *Desk) autoResolve(id string, dec decision.ConsensusDecision) error {
	switch mode.Evaluate(d.state.Mode, dec) {
	case mode.Approve:
		if err := d.approve(id, signal.ByAuto); err != nil {
			logger.Errorf("Desk: auto-approve %s failed: %v", id, err)
			return err
		}
	case mode.Reject:
		return d.reject(id, signal.ByAuto, mode.RejectReason(dec))
	}
	return nil
}

func (d *Desk) approve(id string, by signal.Resolver) error {
	sig, err := d.pendingSignal(id, "approve")
	if err != nil {
		return err
	}
	working := sig.Clone()
	if err := working.Approve(by, d.now()); err != nil {
		return err
	}
	pos, err := d.positions.Open(d.rootCtx, working)
	if err != nil {
		return fmt.Errorf("approve %s: %w", id, err)
	}
	d.seq.Forget(id)
	d.state.retire(working, d.recentLimit)
	d.persistSignal(working)
	if d.recorder != nil {
		d.recorder.ObserveDisposition(by, signal.StateApproved)
	}
	cp := working.Clone()
	d.publish(Notice{Type: NoticeSignalApproved, SignalID: id, Pair: working.Pair, Signal: &cp,
		Message: fmt.Sprintf("%s approved (%s)", working.Pair, by)})
	d.publish(Notice{Type: NoticePositionOpened, SignalID: id, PositionID: pos.ID, Pair: pos.Pair, Position: &pos,
		Message: fmt.Sprintf("%s %s @ %.5f size %.2f", pos.Pair, pos.Direction, pos.EntryPrice, pos.Size)})
	logger.Infof("Desk: signal %s approved by %s, position %s opened", id, by, pos.ID)
	return nil
}

func (d *Desk) reject(id string, by signal.Resolver, reason string) error {
	sig, err := d.pendingSignal(id, "reject")
	if err != nil {
		return err
	}
	working := sig.Clone()
	if err := working.Reject(by, reason, d.now()); err != nil {
		return err
	}
	d.seq.Forget(id)
	d.state.retire(working, d.recentLimit)
	d.persistSignal(working)
	if d.recorder != nil {
		d.recorder.ObserveDisposition(by, signal.StateRejected)
	}
	cp := working.Clone()
	d.publish(Notice{Type: NoticeSignalRejected, SignalID: id, Pair: working.Pair, Signal: &cp, Message: working.RejectReason})
	logger.Infof("Desk: signal %s rejected by %s: %s", id, by, working.RejectReason)
	return nil
}

func (d *Desk) handleAnalysisCanceled(p AnalysisCanceledPayload) error {
	sig, err := d.pendingSignal(p.SignalID, "cancel")
	if err != nil {
		return err
	}
	seq := p.Seq
	if seq == 0 {
		seq = d.seq.Latest(p.SignalID)
	}
	if d.seq.CancelSeq(p.SignalID, p.Seq) {
		d.publish(Notice{Type: NoticeAnalysisCanceled, SignalID: p.SignalID, Pair: sig.Pair, Seq: seq})
		logger.Infof("Desk: analysis #%d for %s canceled", seq, p.SignalID)
	}
	return nil
}

func (d *Desk) handleModeChanged(p ModeChangedPayload) error {
	m, err := mode.Parse(string(p.Mode))
	if err != nil {
		return err
	}
	prev := d.state.Mode
	d.state.Mode = m
	if d.signals != nil {
		if err := d.signals.SaveSetting(d.rootCtx, settingMode, string(m)); err != nil {
			logger.Errorf("Desk: persist mode failed: %v", err)
		}
	}
	if prev != m {
		d.publish(Notice{Type: NoticeModeChanged, Mode: m, Message: fmt.Sprintf("mode %s -> %s", prev, m)})
		logger.Infof("Desk: approval mode %s -> %s", prev, m)
	}
	return nil
}

func (d *Desk) handlePositionClosed(p PositionClosedPayload) error {
	pos, err := d.positions.Close(d.rootCtx, p.PositionID, position.CloseRequest{
		Price:  p.Price,
		PnL:    p.PnL,
		Reason: p.Reason,
		At:     p.At,
	})
	if err != nil {
		return err
	}
	d.publish(Notice{Type: NoticePositionClosed, SignalID: pos.SignalID, PositionID: pos.ID, Pair: pos.Pair, Position: &pos,
		Message: fmt.Sprintf("%s closed pnl %.2f (%s)", pos.Pair, pos.PnL, pos.CloseReason)})
	logger.Infof("Desk: position %s closed, pnl=%.4f", pos.ID, pos.PnL)
	return nil
}
