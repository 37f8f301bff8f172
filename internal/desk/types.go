package desk

import (
	"encoding/json"
	"sort"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"
)

// EventType 定义 desk 事件类型
type EventType string

const (
	// EvtSignalSurfaced 新信号进入待处理集合
	EvtSignalSurfaced EventType = "SIGNAL_SURFACED"
	// EvtAnalysisRequested 发起分析；同一信号的旧请求被取代
	EvtAnalysisRequested EventType = "ANALYSIS_REQUESTED"
	// EvtAnalysisCompleted 分析结束（成功、失败或被取消）
	EvtAnalysisCompleted EventType = "ANALYSIS_COMPLETED"
	// EvtAnalysisCanceled 用户离开信号，取消在途分析
	EvtAnalysisCanceled EventType = "ANALYSIS_CANCELED"
	EvtSignalApproved   EventType = "SIGNAL_APPROVED"
	EvtSignalRejected   EventType = "SIGNAL_REJECTED"
	EvtModeChanged      EventType = "MODE_CHANGED"
	// EvtPositionClosed 外部行情触发的平仓
	EvtPositionClosed EventType = "POSITION_CLOSED"
)

type SignalSurfacedPayload struct {
	Signal signal.TradeSignal `json:"signal"`
}

type AnalysisRequestedPayload struct {
	SignalID string      `json:"signal_id"`
	Seq      uint64      `json:"seq"`
	Mode     engine.Mode `json:"mode"`
	Date     string      `json:"date"`
}

// AnalysisCompletedPayload 分析协程回传给 actor 的结果；Error 非空时 Decision 为空。
type AnalysisCompletedPayload struct {
	SignalID   string                      `json:"signal_id"`
	Seq        uint64                      `json:"seq"`
	Decision   *decision.ConsensusDecision `json:"decision,omitempty"`
	Error      string                      `json:"error,omitempty"`
	Canceled   bool                        `json:"canceled,omitempty"`
	Transport  string                      `json:"transport,omitempty"`
	DurationMs int64                       `json:"duration_ms"`
	FinishedAt time.Time                   `json:"finished_at"`
}

// AnalysisCanceledPayload Seq 为 0 时取消该信号的任意在途请求，否则只取消该序号。
type AnalysisCanceledPayload struct {
	SignalID string `json:"signal_id"`
	Seq      uint64 `json:"seq,omitempty"`
}

// DispositionPayload 批准与拒绝共用。
type DispositionPayload struct {
	SignalID string          `json:"signal_id"`
	By       signal.Resolver `json:"by"`
	Reason   string          `json:"reason,omitempty"`
}

type ModeChangedPayload struct {
	Mode mode.Mode `json:"mode"`
}

type PositionClosedPayload struct {
	PositionID string    `json:"position_id"`
	Price      float64   `json:"close_price"`
	PnL        *float64  `json:"pnl,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// EventEnvelope 是 Actor 接收的标准消息信封
type EventEnvelope struct {
	ID        string
	Type      EventType
	Payload   json.RawMessage
	SignalID  string
	CreatedAt time.Time

	// ReplyCh 用于同步等待处理结果 (可选)
	ReplyCh chan error `json:"-"`
	// waiter 仅分析请求使用，接收最终结果
	waiter chan Outcome
}

// Outcome 一次分析请求的最终结果。
type Outcome struct {
	SignalID string
	Seq      uint64
	Signal   signal.TradeSignal
	Position *position.Position
	Err      error
}

// Ticket 已受理的分析请求。
type Ticket struct {
	SignalID string
	Seq      uint64
	Done     <-chan Outcome
}

// State 维护 desk 的内存状态 (无锁，仅 actor goroutine 访问)
type State struct {
	Mode    mode.Mode
	Pending map[string]*signal.TradeSignal
	// Recent 最近处置的信号，用于给重复处置返回 InvalidTransition
	Recent      map[string]signal.TradeSignal
	recentOrder []string
}

func NewState(m mode.Mode) *State {
	return &State{
		Mode:    m,
		Pending: make(map[string]*signal.TradeSignal),
		Recent:  make(map[string]signal.TradeSignal),
	}
}

func (s *State) retire(sig signal.TradeSignal, limit int) {
	delete(s.Pending, sig.ID)
	if _, ok := s.Recent[sig.ID]; !ok {
		s.recentOrder = append(s.recentOrder, sig.ID)
	}
	s.Recent[sig.ID] = sig
	for limit > 0 && len(s.recentOrder) > limit {
		delete(s.Recent, s.recentOrder[0])
		s.recentOrder = s.recentOrder[1:]
	}
}

// Snapshot desk 的只读视图，每个事件处理后整体替换。
type Snapshot struct {
	Mode      mode.Mode
	Signals   []signal.TradeSignal
	Open      []position.Position
	Closed    []position.Position
	Recent    map[string]signal.TradeSignal
	UpdatedAt time.Time
}

func emptySnapshot(m mode.Mode) *Snapshot {
	return &Snapshot{Mode: m, Recent: map[string]signal.TradeSignal{}}
}

// Signal 按 ID 查找待处理信号，已处置的信号从 Recent 中查找。
func (s *Snapshot) Signal(id string) (signal.TradeSignal, bool) {
	for _, sig := range s.Signals {
		if sig.ID == id {
			return sig, true
		}
	}
	sig, ok := s.Recent[id]
	return sig, ok
}

func (s *Snapshot) Position(id string) (position.Position, bool) {
	for _, list := range [][]position.Position{s.Open, s.Closed} {
		for _, p := range list {
			if p.ID == id {
				return p, true
			}
		}
	}
	return position.Position{}, false
}

func (s *Snapshot) PositionBySignal(signalID string) (position.Position, bool) {
	for _, list := range [][]position.Position{s.Open, s.Closed} {
		for _, p := range list {
			if p.SignalID == signalID {
				return p, true
			}
		}
	}
	return position.Position{}, false
}

// Positions 按状态过滤；空状态时开仓在前，平仓按平仓时间倒序。
func (s *Snapshot) Positions(status position.Status) []position.Position {
	switch status {
	case position.StatusOpen:
		return append([]position.Position(nil), s.Open...)
	case position.StatusClosed:
		return append([]position.Position(nil), s.Closed...)
	default:
		out := make([]position.Position, 0, len(s.Open)+len(s.Closed))
		out = append(out, s.Open...)
		return append(out, s.Closed...)
	}
}

func sortSignals(list []signal.TradeSignal) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
