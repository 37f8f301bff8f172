package risk

import (
	"sort"
	"time"

	"fxdesk/internal/position"
	"fxdesk/internal/signal"

	"github.com/shopspring/decimal"
)

// DefaultExposureUnit 每个持仓计入的敞口比例（5%）。
const DefaultExposureUnit = 0.05

// PairExposure 按货币对拆分的敞口，取自当前持仓而非固定比例。
type PairExposure struct {
	Pair      string  `json:"pair"`
	OpenCount int     `json:"open_count"`
	Exposure  float64 `json:"exposure"`
	Share     float64 `json:"share"`
	NetSize   float64 `json:"net_size"`
}

// Snapshot 风险指标快照。空集合与全部未平仓时胜率为 0。
type Snapshot struct {
	WinRate      float64        `json:"win_rate"`
	TotalPnL     float64        `json:"total_pnl"`
	Exposure     float64        `json:"exposure"`
	TotalTrades  int            `json:"total_trades"`
	OpenCount    int            `json:"open_count"`
	ClosedCount  int            `json:"closed_count"`
	Wins         int            `json:"wins"`
	Losses       int            `json:"losses"`
	ByPair       []PairExposure `json:"by_pair"`
	ExposureUnit float64        `json:"exposure_unit"`
	ComputedAt   time.Time      `json:"computed_at"`
}

type Calculator struct {
	Unit  float64
	Clock func() time.Time
}

func NewCalculator(unit float64) Calculator {
	if unit <= 0 {
		unit = DefaultExposureUnit
	}
	return Calculator{Unit: unit, Clock: time.Now}
}

// Compute 纯函数，不会报错。
func (c Calculator) Compute(positions []position.Position) Snapshot {
	unit := c.Unit
	if unit <= 0 {
		unit = DefaultExposureUnit
	}
	unitDec := decimal.NewFromFloat(unit)
	snap := Snapshot{TotalTrades: len(positions), ExposureUnit: unit, ByPair: []PairExposure{}}
	if c.Clock != nil {
		snap.ComputedAt = c.Clock()
	}

	pnl := decimal.Zero
	type pairAgg struct {
		count int
		net   decimal.Decimal
	}
	pairs := map[string]*pairAgg{}
	for _, p := range positions {
		switch p.Status {
		case position.StatusClosed:
			snap.ClosedCount++
			pnl = pnl.Add(decimal.NewFromFloat(p.PnL))
			if p.PnL > 0 {
				snap.Wins++
			} else {
				snap.Losses++
			}
		case position.StatusOpen:
			snap.OpenCount++
			agg, ok := pairs[p.Pair]
			if !ok {
				agg = &pairAgg{}
				pairs[p.Pair] = agg
			}
			agg.count++
			size := decimal.NewFromFloat(p.Size)
			if p.Direction == signal.DirectionSell {
				size = size.Neg()
			}
			agg.net = agg.net.Add(size)
		}
	}
	if snap.ClosedCount > 0 {
		snap.WinRate = decimal.NewFromInt(int64(snap.Wins)).
			Div(decimal.NewFromInt(int64(snap.ClosedCount))).
			Round(4).InexactFloat64()
	}
	snap.TotalPnL = pnl.Round(6).InexactFloat64()
	snap.Exposure = unitDec.Mul(decimal.NewFromInt(int64(snap.OpenCount))).InexactFloat64()

	for pair, agg := range pairs {
		snap.ByPair = append(snap.ByPair, PairExposure{
			Pair:      pair,
			OpenCount: agg.count,
			Exposure:  unitDec.Mul(decimal.NewFromInt(int64(agg.count))).InexactFloat64(),
			Share: decimal.NewFromInt(int64(agg.count)).
				Div(decimal.NewFromInt(int64(snap.OpenCount))).
				Round(4).InexactFloat64(),
			NetSize: agg.net.InexactFloat64(),
		})
	}
	sort.Slice(snap.ByPair, func(i, j int) bool {
		if snap.ByPair[i].OpenCount != snap.ByPair[j].OpenCount {
			return snap.ByPair[i].OpenCount > snap.ByPair[j].OpenCount
		}
		return snap.ByPair[i].Pair < snap.ByPair[j].Pair
	})
	return snap
}

// Compute 使用给定敞口单位计算快照，unit<=0 时取默认 5%。
func Compute(positions []position.Position, unit float64) Snapshot {
	return NewCalculator(unit).Compute(positions)
}
