package engine

import (
	"errors"
	"fmt"
)

type UnavailableReason string

const (
	ReasonTransport   UnavailableReason = "transport"
	ReasonExitStatus  UnavailableReason = "exit_status"
	ReasonMalformed   UnavailableReason = "malformed"
	ReasonEngineError UnavailableReason = "engine_error"
	ReasonCircuitOpen UnavailableReason = "circuit_open"
	ReasonCanceled    UnavailableReason = "canceled"
)

// UnavailableError 分析不可用：引擎不可达、输出异常或非零退出。不会被当作 NO-TRADE。
type UnavailableError struct {
	Reason   UnavailableReason
	ExitCode int
	Detail   string
	Cause    error
}

func (e *UnavailableError) Error() string {
	msg := "analysis unavailable: " + string(e.Reason)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit=%d)", e.ExitCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

func unavailable(reason UnavailableReason, cause error, format string, args ...any) *UnavailableError {
	return &UnavailableError{Reason: reason, Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// IsCanceled 请求被新请求取代或被调用方取消。
func IsCanceled(err error) bool {
	var target *UnavailableError
	if errors.As(err, &target) && target.Reason == ReasonCanceled {
		return true
	}
	return false
}
