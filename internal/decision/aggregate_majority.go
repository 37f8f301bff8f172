package decision

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MajorityAggregator 等权多数决：
// - 票数最多且唯一的信号胜出，并列一律 NO-TRADE
// - HOLD 胜出同样映射为 NO-TRADE
// - 置信度为全部代理的等权平均
// - 建议价位取自同意最终动作且置信度最高的代理，置信度相同时按代理顺序
type MajorityAggregator struct {
	// Kinds 返回本轮期望出现的代理集合，为 nil 时不校验缺失。
	Kinds func() []AgentKind
	Clock func() time.Time
}

func (a MajorityAggregator) Name() string { return "majority" }

func (a MajorityAggregator) Aggregate(ctx context.Context, in Input) (ConsensusDecision, error) {
	if err := ctx.Err(); err != nil {
		return ConsensusDecision{}, err
	}
	if len(in.Analyses) == 0 {
		return ConsensusDecision{}, newAggregationError(ReasonEmpty, "", "no agent analyses")
	}
	var expected []AgentKind
	if a.Kinds != nil {
		expected = a.Kinds()
	}
	order := kindOrder(expected)
	byKind, err := indexAnalyses(in.Analyses, expected)
	if err != nil {
		return ConsensusDecision{}, err
	}
	ordered := sortAnalyses(byKind, order)

	votes := map[Signal]int{}
	confSum := decimal.Zero
	for _, an := range ordered {
		votes[an.Signal]++
		confSum = confSum.Add(decimal.NewFromFloat(an.Confidence))
	}
	action := resolveAction(votes)
	confidence := clampUnit(confSum.Div(decimal.NewFromInt(int64(len(ordered)))).InexactFloat64())

	now := time.Now
	if a.Clock != nil {
		now = a.Clock
	}
	out := ConsensusDecision{
		FinalAction: action,
		Pair:        strings.ToUpper(strings.TrimSpace(in.Pair)),
		Date:        in.Date,
		Confidence:  confidence,
		Votes:       votes,
		Agents:      byKind,
		Aggregator:  a.Name(),
		DecidedAt:   now(),
	}
	if lead, ok := pickLead(ordered, action); ok {
		out.LeadAgent = lead.Kind
		out.Prices = &PriceLevels{Entry: lead.EntryPrice, StopLoss: lead.StopLoss, TakeProfit: lead.TakeProfit}
	} else {
		// 没有代理支持最终动作时价位保持未定义，动作必然是 NO-TRADE。
		out.FinalAction = ActionNoTrade
	}
	out.Reasoning = buildReasoning(out, ordered)
	return out, nil
}

func indexAnalyses(analyses []AgentAnalysis, expected []AgentKind) (map[AgentKind]AgentAnalysis, error) {
	allowed := make(map[AgentKind]bool, len(expected))
	for _, k := range expected {
		allowed[k] = true
	}
	byKind := make(map[AgentKind]AgentAnalysis, len(analyses))
	for _, an := range analyses {
		kind := AgentKind(strings.TrimSpace(string(an.Kind)))
		if kind == "" {
			return nil, newAggregationError(ReasonMalformed, "", "analysis without agent kind")
		}
		if _, dup := byKind[kind]; dup {
			return nil, newAggregationError(ReasonDuplicateAgent, kind, "agent reported more than once")
		}
		if len(allowed) > 0 && !allowed[kind] {
			return nil, newAggregationError(ReasonUnknownAgent, kind, "agent is not part of the roster")
		}
		if err := checkAnalysis(kind, an); err != nil {
			return nil, err
		}
		an.Kind = kind
		byKind[kind] = an
	}
	for _, k := range expected {
		if _, ok := byKind[k]; !ok {
			return nil, newAggregationError(ReasonMissingAgent, k, "no analysis for configured agent")
		}
	}
	return byKind, nil
}

func checkAnalysis(kind AgentKind, an AgentAnalysis) error {
	switch an.Signal {
	case SignalBuy, SignalSell, SignalHold:
	default:
		return newAggregationError(ReasonMalformed, kind, "invalid signal %q", an.Signal)
	}
	if math.IsNaN(an.Confidence) || an.Confidence < 0 || an.Confidence > 1 {
		return newAggregationError(ReasonMalformed, kind, "confidence %v outside [0,1]", an.Confidence)
	}
	return nil
}

func kindOrder(expected []AgentKind) map[AgentKind]int {
	base := expected
	if len(base) == 0 {
		base = DefaultKinds
	}
	idx := make(map[AgentKind]int, len(base))
	for i, k := range base {
		if _, ok := idx[k]; !ok {
			idx[k] = i
		}
	}
	return idx
}

func sortAnalyses(byKind map[AgentKind]AgentAnalysis, order map[AgentKind]int) []AgentAnalysis {
	out := make([]AgentAnalysis, 0, len(byKind))
	for _, an := range byKind {
		out = append(out, an)
	}
	rank := func(k AgentKind) int {
		if i, ok := order[k]; ok {
			return i
		}
		return len(order)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Kind), rank(out[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func resolveAction(votes map[Signal]int) Action {
	best := Signal("")
	bestCount := 0
	tie := false
	for _, sig := range []Signal{SignalBuy, SignalSell, SignalHold} {
		n := votes[sig]
		switch {
		case n > bestCount:
			best, bestCount, tie = sig, n, false
		case n == bestCount && n > 0:
			tie = true
		}
	}
	if tie || bestCount == 0 {
		return ActionNoTrade
	}
	switch best {
	case SignalBuy:
		return ActionBuy
	case SignalSell:
		return ActionSell
	default:
		return ActionNoTrade
	}
}

// pickLead 在同意最终动作的代理中选置信度最高者；ordered 已按代理顺序排好。
func pickLead(ordered []AgentAnalysis, action Action) (AgentAnalysis, bool) {
	want := Signal("")
	switch action {
	case ActionBuy:
		want = SignalBuy
	case ActionSell:
		want = SignalSell
	default:
		return AgentAnalysis{}, false
	}
	var lead AgentAnalysis
	found := false
	for _, an := range ordered {
		if an.Signal != want {
			continue
		}
		if !found || an.Confidence > lead.Confidence {
			lead, found = an, true
		}
	}
	return lead, found
}

func buildReasoning(d ConsensusDecision, ordered []AgentAnalysis) string {
	total := len(ordered)
	var agree, dissent []string
	for _, an := range ordered {
		if d.FinalAction.Tradable() && string(an.Signal) == string(d.FinalAction) {
			agree = append(agree, string(an.Kind))
			continue
		}
		dissent = append(dissent, fmt.Sprintf("%s=%s", an.Kind, an.Signal))
	}
	var b strings.Builder
	if d.FinalAction.Tradable() {
		fmt.Fprintf(&b, "%s backed by %d/%d agents (%s)", d.FinalAction, len(agree), total, strings.Join(agree, ", "))
	} else {
		fmt.Fprintf(&b, "NO-TRADE: no decisive majority (BUY=%d SELL=%d HOLD=%d)",
			d.Votes[SignalBuy], d.Votes[SignalSell], d.Votes[SignalHold])
	}
	if d.FinalAction.Tradable() && len(dissent) > 0 {
		fmt.Fprintf(&b, "; dissent: %s", strings.Join(dissent, ", "))
	}
	fmt.Fprintf(&b, "; mean confidence %.2f", d.Confidence)
	if d.LeadAgent != "" {
		if lead, ok := d.Agents[d.LeadAgent]; ok && strings.TrimSpace(lead.Rationale) != "" {
			fmt.Fprintf(&b, ". %s: %s", d.LeadAgent, strings.TrimSpace(lead.Rationale))
		}
	}
	return b.String()
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
