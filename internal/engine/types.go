package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fxdesk/internal/decision"
)

// Mode 分析深度，对应引擎的 quick/deep 两套模型配置。
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quick":
		return ModeQuick, nil
	case "deep":
		return ModeDeep, nil
	default:
		return "", fmt.Errorf("unknown analysis mode %q", raw)
	}
}

// DateLayout 请求中 date 字段使用的 ISO-8601 日期格式。
const DateLayout = "2006-01-02"

// Request 一次引擎调用的请求体。
type Request struct {
	Pair string `json:"pair"`
	Date string `json:"date"`
	Mode Mode   `json:"mode"`
}

func NewRequest(pair string, date time.Time, mode Mode) Request {
	if mode == "" {
		mode = ModeQuick
	}
	return Request{
		Pair: strings.ToUpper(strings.TrimSpace(pair)),
		Date: date.Format(DateLayout),
		Mode: mode,
	}
}

// ParsedDate 解析请求日期，失败时返回零值。
func (r Request) ParsedDate() time.Time {
	t, err := time.Parse(DateLayout, r.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Result 引擎成功返回后解析出的各代理分析。
type Result struct {
	Agents []decision.AgentAnalysis
	// EngineDecision 引擎自带的决策字段，仅作审计，不参与聚合。
	EngineDecision json.RawMessage
	Raw            string
	Transport      string
}

// Engine 外部分析引擎：单次同步请求，调用方负责取消。
type Engine interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// SchemaValidator 由代理名单实现，按代理类型校验分析报文。
type SchemaValidator interface {
	Has(kind decision.AgentKind) bool
	Validate(kind decision.AgentKind, payload any) error
}
