package livehttp

import (
	"context"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/risk"
	"fxdesk/internal/signal"
	"fxdesk/internal/store/runlog"
)

// DeskService 由 desk.Desk 实现。
type DeskService interface {
	Surface(ctx context.Context, p signal.Proposal) (signal.TradeSignal, error)
	RequestAnalysis(ctx context.Context, id string, opts desk.AnalysisOptions) (desk.Ticket, error)
	AnalyzeAndWait(ctx context.Context, id string, opts desk.AnalysisOptions) (desk.Outcome, error)
	CancelAnalysis(ctx context.Context, id string) error
	Approve(ctx context.Context, id string) (signal.TradeSignal, position.Position, error)
	Reject(ctx context.Context, id, reason string) (signal.TradeSignal, error)
	SetMode(ctx context.Context, m mode.Mode) error
	Mode() mode.Mode
	ClosePosition(ctx context.Context, id string, req position.CloseRequest) (position.Position, error)
	Signals() []signal.TradeSignal
	Signal(id string) (signal.TradeSignal, error)
	Decision(id string, agent decision.AgentKind) (decision.ConsensusDecision, bool, error)
	Positions(status position.Status) []position.Position
	Risk() risk.Snapshot
	Subscribe(buffer int) (<-chan desk.Notice, func())
}

// EventReader 按信号读取事件日志。
type EventReader interface {
	Load(ctx context.Context, signalID string, limit int) ([]desk.EventEnvelope, error)
}

// RunReader 分析运行记录查询。
type RunReader interface {
	List(ctx context.Context, q runlog.Query) ([]runlog.Run, error)
}

type SurfaceRequest struct {
	signal.Proposal
	Analyze bool   `json:"analyze"`
	Mode    string `json:"mode" validate:"omitempty,oneof=quick deep"`
	Date    string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type AnalyzeRequest struct {
	Mode       string `json:"mode" validate:"omitempty,oneof=quick deep"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Wait       bool   `json:"wait"`
	TimeoutSec int    `json:"timeout_sec" default:"120" validate:"gte=1,lte=900"`
}

type RejectRequest struct {
	Reason string `json:"reason" default:"manual reject" validate:"max=500"`
}

type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=manual auto automatic"`
}

type ClosePositionRequest struct {
	Price  float64    `json:"price" validate:"gte=0"`
	PnL    *float64   `json:"pnl"`
	Reason string     `json:"reason" default:"manual" validate:"max=200"`
	At     *time.Time `json:"at"`
}

// AnalysisAccepted 异步分析受理响应。
type AnalysisAccepted struct {
	SignalID string `json:"signal_id"`
	Seq      uint64 `json:"seq"`
}

type ApproveResponse struct {
	Signal   signal.TradeSignal `json:"signal"`
	Position position.Position  `json:"position"`
}

type EventView struct {
	ID        string         `json:"id"`
	Type      desk.EventType `json:"type"`
	SignalID  string         `json:"signal_id,omitempty"`
	Payload   any            `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

type ModeView struct {
	Mode mode.Mode `json:"mode"`
}
