package desk

import "fxdesk/internal/logger"

// HandlerRegistry manages event handlers and dispatches events to them.
type HandlerRegistry struct {
	handlers map[EventType]EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[EventType]EventHandler),
	}
}

// Register adds a handler; an existing handler for the same type is replaced.
func (r *HandlerRegistry) Register(h EventHandler) {
	if h == nil {
		return
	}
	r.handlers[h.Type()] = h
}

func (r *HandlerRegistry) Get(t EventType) (EventHandler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// RegisterDefaultHandlers registers all built-in event handlers.
func (r *HandlerRegistry) RegisterDefaultHandlers() {
	r.Register(&SignalSurfacedHandler{})
	r.Register(&AnalysisRequestedHandler{})
	r.Register(&AnalysisCompletedHandler{})
	r.Register(&AnalysisCanceledHandler{})
	r.Register(&SignalApprovedHandler{})
	r.Register(&SignalRejectedHandler{})
	r.Register(&ModeChangedHandler{})
	r.Register(&PositionClosedHandler{})
	logger.Debugf("Desk: Registered %d event handlers", len(r.handlers))
}
