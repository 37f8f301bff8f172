package position

import (
	"errors"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/signal"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("position not found")
	ErrAlreadyClosed = errors.New("position already closed")
	ErrAlreadyOpened = errors.New("signal already produced a position")
	ErrNotApproved   = errors.New("signal is not approved")
	ErrMissingClose  = errors.New("close requires a price or a pnl")
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusOpen, StatusClosed:
		return Status(raw), true
	case "":
		return "", true
	default:
		return "", false
	}
}

// Position 已批准交易的持久记录；只会从 open 变为 closed。
type Position struct {
	ID          string           `json:"id"`
	SignalID    string           `json:"signal_id"`
	Pair        string           `json:"pair"`
	Direction   signal.Direction `json:"direction"`
	EntryPrice  float64          `json:"entry_price"`
	StopLoss    float64          `json:"stop_loss"`
	TakeProfit  float64          `json:"take_profit"`
	Size        float64          `json:"size"`
	OpenTime    time.Time        `json:"open_time"`
	CloseTime   *time.Time       `json:"close_time,omitempty"`
	ClosePrice  float64          `json:"close_price,omitempty"`
	PnL         float64          `json:"pnl"`
	Status      Status           `json:"status"`
	CloseReason string           `json:"close_reason,omitempty"`
	Action      decision.Action  `json:"consensus_action,omitempty"`
	Confidence  float64          `json:"confidence"`
}

func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// CloseRequest 外部行情触发的平仓事件。PnL 非空时直接采用，否则按平仓价计算。
type CloseRequest struct {
	Price  float64
	PnL    *float64
	Reason string
	At     time.Time
}

// ComputePnL (close-entry) * size，空头取反。
func ComputePnL(dir signal.Direction, entry, closePrice, size float64) float64 {
	diff := decimal.NewFromFloat(closePrice).Sub(decimal.NewFromFloat(entry))
	if dir == signal.DirectionSell {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(size)).Round(6).InexactFloat64()
}
