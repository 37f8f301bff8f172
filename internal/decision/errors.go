package decision

import (
	"errors"
	"fmt"
)

// AggregationReason 聚合失败原因。
type AggregationReason string

const (
	ReasonEmpty          AggregationReason = "empty"
	ReasonMissingAgent   AggregationReason = "missing_agent"
	ReasonDuplicateAgent AggregationReason = "duplicate_agent"
	ReasonUnknownAgent   AggregationReason = "unknown_agent"
	ReasonMalformed      AggregationReason = "malformed"
)

// AggregationError 本轮分析不可用，不会产出任何部分决策。
type AggregationError struct {
	Reason AggregationReason
	Agent  AgentKind
	Detail string
}

func (e *AggregationError) Error() string {
	msg := "aggregation failed: " + string(e.Reason)
	if e.Agent != "" {
		msg += fmt.Sprintf(" (agent=%s)", e.Agent)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func newAggregationError(reason AggregationReason, kind AgentKind, format string, args ...any) *AggregationError {
	return &AggregationError{Reason: reason, Agent: kind, Detail: fmt.Sprintf(format, args...)}
}

// Malformed 供边界解析层构造 malformed 错误。
func Malformed(kind AgentKind, format string, args ...any) error {
	return newAggregationError(ReasonMalformed, kind, format, args...)
}

func IsAggregationError(err error) bool {
	var target *AggregationError
	return errors.As(err, &target)
}
