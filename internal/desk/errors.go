package desk

import "errors"

var (
	ErrStopped          = errors.New("desk is stopped")
	ErrSignalNotFound   = errors.New("signal not found")
	ErrDuplicateSignal  = errors.New("signal already exists")
	ErrInvalidProposal  = errors.New("invalid signal proposal")
	ErrSuperseded       = errors.New("analysis superseded by a newer request")
	ErrAnalysisCanceled = errors.New("analysis canceled")
)
