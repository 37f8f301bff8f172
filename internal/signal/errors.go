package signal

import (
	"errors"
	"fmt"
)

// InvalidTransitionError 状态机契约被违反，信号状态保持不变。
type InvalidTransitionError struct {
	SignalID string
	From     State
	Event    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s signal %s in state %s", e.Event, e.SignalID, e.From)
}

func invalid(s *TradeSignal, event string) error {
	return &InvalidTransitionError{SignalID: s.ID, From: s.State, Event: event}
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
