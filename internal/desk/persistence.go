package desk

import (
	"context"
	"time"

	"fxdesk/internal/signal"
	"fxdesk/internal/store/runlog"
)

// EventStore 追加写入 desk 事件，供审计。
type EventStore interface {
	Append(evt EventEnvelope) error
	Close() error
}

// SignalStore 保存信号（含已处置的信号）与全局设置。
type SignalStore interface {
	SaveSignal(ctx context.Context, sig signal.TradeSignal) error
	ListActiveSignals(ctx context.Context) ([]signal.TradeSignal, error)
	SaveSetting(ctx context.Context, key, value string) error
	LoadSetting(ctx context.Context, key string) (string, bool, error)
}

// RunLog 记录每次引擎调用。
type RunLog interface {
	Append(ctx context.Context, run runlog.Run) (int64, error)
}

// Recorder 由 metrics 包实现。
type Recorder interface {
	ObserveAnalysis(outcome string, d time.Duration)
	ObserveDisposition(by signal.Resolver, state signal.State)
	SetGauges(pending, open int)
}

const settingMode = "desk.mode"
