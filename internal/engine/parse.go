package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"fxdesk/internal/decision"
	"fxdesk/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

// ParseResponse 解析引擎输出的 JSON 信封：
// - 信封本身异常（非 JSON、缺少 success/data/agents）或 success=false 返回 UnavailableError
// - 单个代理的分析不符合 schema 返回 AggregationError(malformed)
// 重复的代理 key 原样保留，由聚合器判定。
func ParseResponse(raw []byte, schemas SchemaValidator) (Result, error) {
	text, ok := extractEnvelope(string(raw))
	if !ok {
		return Result{}, unavailable(ReasonMalformed, nil, "engine output is not a JSON object")
	}
	env := gjson.Parse(text)
	success := env.Get("success")
	if success.Type != gjson.True && success.Type != gjson.False {
		return Result{}, unavailable(ReasonMalformed, nil, "envelope missing boolean success")
	}
	if !success.Bool() {
		msg := strings.TrimSpace(env.Get("error").String())
		if msg == "" {
			msg = "engine reported failure without message"
		}
		return Result{}, unavailable(ReasonEngineError, nil, "%s", msg)
	}
	data := env.Get("data")
	if !data.IsObject() {
		return Result{}, unavailable(ReasonMalformed, nil, "envelope data must be an object")
	}
	agents := data.Get("agents")
	if !agents.IsObject() {
		return Result{}, unavailable(ReasonMalformed, nil, "data.agents must be an object")
	}

	out := Result{Raw: text}
	if dec := data.Get("decision"); dec.Exists() {
		out.EngineDecision = json.RawMessage(dec.Raw)
	}
	var parseErr error
	agents.ForEach(func(key, value gjson.Result) bool {
		kind := decision.AgentKind(strings.ToLower(strings.TrimSpace(key.String())))
		an, err := parseAgent(kind, value, schemas)
		if err != nil {
			parseErr = err
			return false
		}
		out.Agents = append(out.Agents, an)
		return true
	})
	if parseErr != nil {
		return Result{}, parseErr
	}
	return out, nil
}

// extractEnvelope 引擎可能在 JSON 前输出日志行，此时取最后一个合法的 JSON 对象。
func extractEnvelope(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}
	if gjson.Valid(text) && gjson.Parse(text).IsObject() {
		return text, true
	}
	return jsonutil.LastObject(text)
}

func parseAgent(kind decision.AgentKind, entry gjson.Result, schemas SchemaValidator) (decision.AgentAnalysis, error) {
	if kind == "" {
		return decision.AgentAnalysis{}, decision.Malformed("", "agent entry with empty kind")
	}
	if !entry.IsObject() {
		return decision.AgentAnalysis{}, decision.Malformed(kind, "agent entry must be an object")
	}
	body := entry.Get("analysis")
	if !body.IsObject() {
		return decision.AgentAnalysis{}, decision.Malformed(kind, "analysis must be an object")
	}
	if schemas != nil && schemas.Has(kind) {
		if err := schemas.Validate(kind, body.Value()); err != nil {
			return decision.AgentAnalysis{}, decision.Malformed(kind, "%v", err)
		}
	}
	sig, ok := decision.ParseSignal(body.Get("signal").String())
	if !ok {
		return decision.AgentAnalysis{}, decision.Malformed(kind, "invalid signal %q", body.Get("signal").String())
	}
	conf, ok := number(firstOf(body, "confidence_score", "confidence"))
	if !ok {
		return decision.AgentAnalysis{}, decision.Malformed(kind, "missing confidence_score")
	}
	conf, ok = normalizeConfidence(conf)
	if !ok {
		return decision.AgentAnalysis{}, decision.Malformed(kind, "confidence_score out of range")
	}
	risk, _ := decision.ParseRiskLevel(firstOf(body, "sub_agent_risk_level", "risk_level").String())
	entryPrice, _ := number(body.Get("entry_price"))
	stopLoss, _ := number(body.Get("stop_loss"))
	takeProfit, _ := number(body.Get("take_profit"))
	return decision.AgentAnalysis{
		Kind:       kind,
		AgentID:    strings.TrimSpace(entry.Get("id").String()),
		Signal:     sig,
		EntryPrice: entryPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Confidence: conf,
		Rationale:  strings.TrimSpace(body.Get("rationale").String()),
		RiskLevel:  risk,
	}, nil
}

func firstOf(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func number(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(v.Str), "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// normalizeConfidence 接受 [0,1] 或百分比 (1,100]。
func normalizeConfidence(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v) || v < 0 || v > 100:
		return 0, false
	case v > 1:
		return v / 100, true
	default:
		return v, true
	}
}
