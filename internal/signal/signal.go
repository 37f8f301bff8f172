// Package signal 定义候选交易信号及其状态机：
// Pending -> Analyzed -> Approved | Rejected。
package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"fxdesk/internal/decision"

	"github.com/shopspring/decimal"
)

type State string

const (
	StatePending  State = "pending"
	StateAnalyzed State = "analyzed"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// Terminal 终态信号会从待处理集合中移除。
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return DirectionBuy, nil
	case "sell", "short":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("invalid direction %q", raw)
	}
}

// Source 信号来源。
type Source string

const (
	SourceFeed  Source = "feed"
	SourceQuery Source = "query"
)

// Resolver 处置方式。
type Resolver string

const (
	ByManual Resolver = "manual"
	ByAuto   Resolver = "auto"
	// ByRecovery 重启时发现已开仓但信号未落盘为已批准，补记处置。
	ByRecovery Resolver = "recovery"
)

// Proposal 生成信号所需的输入（来自行情流或用户查询）。
type Proposal struct {
	ID             string    `json:"id,omitempty"`
	Pair           string    `json:"pair" validate:"required,min=6,max=12"`
	Direction      string    `json:"direction" validate:"required,oneof=buy sell long short"`
	EntryPrice     float64   `json:"entry_price" validate:"gte=0"`
	StopLoss       float64   `json:"stop_loss" validate:"gte=0"`
	TakeProfit     float64   `json:"take_profit" validate:"gte=0"`
	RiskReward     float64   `json:"risk_reward" validate:"gte=0"`
	Confidence     float64   `json:"confidence" validate:"gte=0,lte=100"`
	WinProbability float64   `json:"win_probability" validate:"gte=0,lte=100"`
	Exposure       float64   `json:"exposure" validate:"gte=0"`
	Source         Source    `json:"source,omitempty"`
	Note           string    `json:"note,omitempty"`
	At             time.Time `json:"at,omitempty"`
}

// TradeSignal 待处置的候选交易，至多绑定一个共识决策（最近一次分析）。
type TradeSignal struct {
	ID             string                      `json:"id"`
	Pair           string                      `json:"pair"`
	Direction      Direction                   `json:"direction"`
	EntryPrice     float64                     `json:"entry_price"`
	StopLoss       float64                     `json:"stop_loss"`
	TakeProfit     float64                     `json:"take_profit"`
	RiskReward     float64                     `json:"risk_reward"`
	Confidence     float64                     `json:"confidence"`
	WinProbability float64                     `json:"win_probability"`
	Exposure       float64                     `json:"exposure"`
	Source         Source                      `json:"source"`
	Note           string                      `json:"note,omitempty"`
	State          State                       `json:"state"`
	Decision       *decision.ConsensusDecision `json:"decision,omitempty"`
	AnalysisSeq    uint64                      `json:"analysis_seq,omitempty"`
	LastError      string                      `json:"last_error,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	AnalyzedAt     time.Time                   `json:"analyzed_at,omitempty"`
	DisposedAt     time.Time                   `json:"disposed_at,omitempty"`
	DisposedBy     Resolver                    `json:"disposed_by,omitempty"`
	RejectReason   string                      `json:"reject_reason,omitempty"`
}

// New 校验提案并生成 Pending 信号。
func New(id string, p Proposal, now time.Time) (*TradeSignal, error) {
	pair := NormalizePair(p.Pair)
	if pair == "" {
		return nil, fmt.Errorf("signal pair is required")
	}
	dir, err := ParseDirection(p.Direction)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("signal id is required")
	}
	for name, v := range map[string]float64{"entry_price": p.EntryPrice, "stop_loss": p.StopLoss, "take_profit": p.TakeProfit} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s must be a finite non-negative price", name)
		}
	}
	src := p.Source
	if src == "" {
		src = SourceQuery
	}
	created := p.At
	if created.IsZero() {
		created = now
	}
	rr := p.RiskReward
	if rr <= 0 {
		rr = RiskReward(p.EntryPrice, p.StopLoss, p.TakeProfit)
	}
	return &TradeSignal{
		ID:             id,
		Pair:           pair,
		Direction:      dir,
		EntryPrice:     p.EntryPrice,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		RiskReward:     rr,
		Confidence:     UnitInterval(p.Confidence),
		WinProbability: UnitInterval(p.WinProbability),
		Exposure:       p.Exposure,
		Source:         src,
		Note:           strings.TrimSpace(p.Note),
		State:          StatePending,
		CreatedAt:      created,
	}, nil
}

// Attach 绑定最新一次分析结果并进入 Analyzed；重复分析直接替换旧决策。
func (s *TradeSignal) Attach(d decision.ConsensusDecision, seq uint64, at time.Time) error {
	if s.State != StatePending && s.State != StateAnalyzed {
		return invalid(s, "analyze")
	}
	cp := d
	s.Decision = &cp
	s.AnalysisSeq = seq
	s.AnalyzedAt = at
	s.LastError = ""
	s.State = StateAnalyzed
	return nil
}

// MarkFailed 记录分析失败；状态与已有决策都保持不变。
func (s *TradeSignal) MarkFailed(err error) {
	if err == nil {
		return
	}
	s.LastError = err.Error()
}

// Approve 仅允许从 Analyzed 进入；一次性转换。
func (s *TradeSignal) Approve(by Resolver, at time.Time) error {
	if s.State != StateAnalyzed || s.Decision == nil {
		return invalid(s, "approve")
	}
	s.State = StateApproved
	s.DisposedAt = at
	s.DisposedBy = by
	return nil
}

func (s *TradeSignal) Reject(by Resolver, reason string, at time.Time) error {
	if s.State != StateAnalyzed || s.Decision == nil {
		return invalid(s, "reject")
	}
	s.State = StateRejected
	s.DisposedAt = at
	s.DisposedBy = by
	s.RejectReason = strings.TrimSpace(reason)
	return nil
}

// Clone 深拷贝，快照与外部读取使用。
func (s *TradeSignal) Clone() TradeSignal {
	cp := *s
	if s.Decision != nil {
		d := *s.Decision
		if s.Decision.Prices != nil {
			p := *s.Decision.Prices
			d.Prices = &p
		}
		d.Agents = make(map[decision.AgentKind]decision.AgentAnalysis, len(s.Decision.Agents))
		for k, v := range s.Decision.Agents {
			d.Agents[k] = v
		}
		d.Votes = make(map[decision.Signal]int, len(s.Decision.Votes))
		for k, v := range s.Decision.Votes {
			d.Votes[k] = v
		}
		cp.Decision = &d
	}
	return cp
}

// NormalizePair EUR/USD、eur_usd 统一为 EURUSD。
func NormalizePair(raw string) string {
	r := strings.NewReplacer("/", "", "_", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(raw)))
}

// RiskReward |tp-entry| / |entry-sl|，任一价位缺失时为 0。
func RiskReward(entry, stop, take float64) float64 {
	if entry <= 0 || stop <= 0 || take <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	risk := e.Sub(decimal.NewFromFloat(stop)).Abs()
	if risk.IsZero() {
		return 0
	}
	reward := decimal.NewFromFloat(take).Sub(e).Abs()
	return reward.Div(risk).Round(2).InexactFloat64()
}

// UnitInterval 把 0-100 的百分比折算到 [0,1] 并截断。
func UnitInterval(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v > 1 && v <= 100:
		return v / 100
	case v > 100:
		return 1
	default:
		return v
	}
}
