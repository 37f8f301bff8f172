package decision

import (
	"strings"
	"time"
)

// 中文说明：
// 本文件定义子代理分析与共识决策的数据结构，供引擎解析、聚合器与信号状态机共用。

// AgentKind 交易风格原型（剥头皮/日内/波段/趋势持仓）。
type AgentKind string

const (
	KindScalper        AgentKind = "scalper"
	KindDayTrader      AgentKind = "day_trader"
	KindSwingTrader    AgentKind = "swing_trader"
	KindPositionTrader AgentKind = "position_trader"
)

// DefaultKinds 默认的代理顺序，同时用于平局时的确定性排序。
var DefaultKinds = []AgentKind{KindScalper, KindDayTrader, KindSwingTrader, KindPositionTrader}

// Signal 单个代理给出的方向。
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// ParseSignal 兼容大小写以及 long/short/wait 等别名。
func ParseSignal(raw string) (Signal, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return SignalBuy, true
	case "SELL", "SHORT":
		return SignalSell, true
	case "HOLD", "WAIT", "NEUTRAL":
		return SignalHold, true
	default:
		return "", false
	}
}

// Action 共识动作。NO-TRADE 是保守结果，永远不会触发开仓。
type Action string

const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionNoTrade Action = "NO-TRADE"
)

func (a Action) Tradable() bool {
	return a == ActionBuy || a == ActionSell
}

// Direction 返回 buy/sell，NO-TRADE 返回空串。
func (a Action) Direction() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return ""
	}
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

func ParseRiskLevel(raw string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return RiskLow, true
	case "medium", "moderate", "mid":
		return RiskMedium, true
	case "high":
		return RiskHigh, true
	default:
		return "", false
	}
}

// AgentAnalysis 单个代理在一次分析中的观点，生成后不可变。
type AgentAnalysis struct {
	Kind       AgentKind `json:"agent_kind"`
	AgentID    string    `json:"agent_id,omitempty"`
	Signal     Signal    `json:"signal"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Confidence float64   `json:"confidence_score"`
	Rationale  string    `json:"rationale"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// PriceLevels 建议价位；无代理支持最终动作时整体为空。
type PriceLevels struct {
	Entry      float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// ConsensusDecision 一次分析的聚合结果，重新分析时整体替换而不是修改。
type ConsensusDecision struct {
	FinalAction Action                      `json:"final_action"`
	Pair        string                      `json:"currency_pair"`
	Date        time.Time                   `json:"date"`
	Confidence  float64                     `json:"confidence_score"`
	Prices      *PriceLevels                `json:"suggested,omitempty"`
	LeadAgent   AgentKind                   `json:"lead_agent,omitempty"`
	Reasoning   string                      `json:"reasoning"`
	Votes       map[Signal]int              `json:"votes"`
	Agents      map[AgentKind]AgentAnalysis `json:"per_agent_analyses"`
	Aggregator  string                      `json:"aggregator"`
	DecidedAt   time.Time                   `json:"decided_at"`
}

// Agent 返回指定代理的分析。
func (d ConsensusDecision) Agent(kind AgentKind) (AgentAnalysis, bool) {
	a, ok := d.Agents[kind]
	return a, ok
}

// FilterAgents 仅保留指定 kind 的分析，kind 为空时原样返回。
func (d ConsensusDecision) FilterAgents(kind AgentKind) ConsensusDecision {
	if kind == "" {
		return d
	}
	out := d
	out.Agents = map[AgentKind]AgentAnalysis{}
	if a, ok := d.Agents[kind]; ok {
		out.Agents[kind] = a
	}
	return out
}
