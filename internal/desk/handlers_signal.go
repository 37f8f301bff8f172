package desk

import "encoding/json"

type SignalSurfacedHandler struct{}

func (h *SignalSurfacedHandler) Type() EventType { return EvtSignalSurfaced }

func (h *SignalSurfacedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p SignalSurfacedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().handleSurfaced(p)
}

type AnalysisRequestedHandler struct{}

func (h *AnalysisRequestedHandler) Type() EventType { return EvtAnalysisRequested }

func (h *AnalysisRequestedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p AnalysisRequestedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().handleAnalysisRequested(p, evt.waiter)
}

type AnalysisCompletedHandler struct{}

func (h *AnalysisCompletedHandler) Type() EventType { return EvtAnalysisCompleted }

func (h *AnalysisCompletedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p AnalysisCompletedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().handleAnalysisCompleted(p)
}

type AnalysisCanceledHandler struct{}

func (h *AnalysisCanceledHandler) Type() EventType { return EvtAnalysisCanceled }

func (h *AnalysisCanceledHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p AnalysisCanceledPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().handleAnalysisCanceled(p)
}

type SignalApprovedHandler struct{}

func (h *SignalApprovedHandler) Type() EventType { return EvtSignalApproved }

func (h *SignalApprovedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p DispositionPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().approve(p.SignalID, p.By)
}

type SignalRejectedHandler struct{}

func (h *SignalRejectedHandler) Type() EventType { return EvtSignalRejected }

func (h *SignalRejectedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p DispositionPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().reject(p.SignalID, p.By, p.Reason)
}

type ModeChangedHandler struct{}

func (h *ModeChangedHandler) Type() EventType { return EvtModeChanged }

func (h *ModeChangedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p ModeChangedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().handleModeChanged(p)
}
