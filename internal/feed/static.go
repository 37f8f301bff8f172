package feed

import (
	"context"

	"fxdesk/internal/signal"
)

// StaticSource 启动时注入配置里的种子信号。
type StaticSource struct {
	proposals []signal.Proposal
}

func NewStaticSource(proposals []signal.Proposal) *StaticSource {
	return &StaticSource{proposals: append([]signal.Proposal(nil), proposals...)}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Run(ctx context.Context, out chan<- signal.Proposal) error {
	for _, p := range s.proposals {
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
