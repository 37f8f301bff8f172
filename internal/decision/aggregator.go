package decision

import (
	"context"
	"time"
)

// Input 一次分析运行的聚合输入。
type Input struct {
	Pair     string
	Date     time.Time
	Analyses []AgentAnalysis
}

// Aggregator 聚合接口：纯函数，结果由调用方绑定到交易信号。
type Aggregator interface {
	Aggregate(ctx context.Context, in Input) (ConsensusDecision, error)
	Name() string
}
