package desk

// EventHandler 处理单一事件类型。
type EventHandler interface {
	Type() EventType
	Handle(ctx *HandlerContext, evt EventEnvelope) error
}

// HandlerContext 为 handler 提供 Desk 内部访问。
type HandlerContext struct {
	desk *Desk
}

func NewHandlerContext(d *Desk) *HandlerContext {
	return &HandlerContext{desk: d}
}

func (c *HandlerContext) Desk() *Desk {
	return c.desk
}
