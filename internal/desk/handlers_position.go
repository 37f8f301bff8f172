package desk

import "encoding/json"

type PositionClosedHandler struct{}

func (h *PositionClosedHandler) Type() EventType { return EvtPositionClosed }

func (h *PositionClosedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var p PositionClosedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return err
	}
	return ctx.Desk().handlePositionClosed(p)
}
