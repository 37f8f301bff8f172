package position

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fxdesk/internal/signal"

	"github.com/google/uuid"
)

// Store 持仓持久化。
type Store interface {
	SavePosition(ctx context.Context, p Position) error
	ListPositions(ctx context.Context) ([]Position, error)
}

// DefaultSize 批准后开仓的默认手数。
const DefaultSize = 0.1

// Manager 持仓集合的唯一写入者，由 desk actor 独占调用，因此内部不加锁。
type Manager struct {
	store     Store
	size      float64
	newID     func() string
	positions []*Position
	byID      map[string]*Position
	bySignal  map[string]string
}

func NewManager(store Store, size float64) *Manager {
	if size <= 0 {
		size = DefaultSize
	}
	return &Manager{
		store:    store,
		size:     size,
		newID:    func() string { return "pos-" + uuid.NewString() },
		byID:     make(map[string]*Position),
		bySignal: make(map[string]string),
	}
}

// Load 从存储恢复持仓，按开仓时间倒序。
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	list, err := m.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].OpenTime.After(list[j].OpenTime) })
	m.positions = m.positions[:0]
	m.byID = make(map[string]*Position, len(list))
	m.bySignal = make(map[string]string, len(list))
	for i := range list {
		p := list[i]
		m.positions = append(m.positions, &p)
		m.byID[p.ID] = &p
		if p.SignalID != "" {
			m.bySignal[p.SignalID] = p.ID
		}
	}
	return nil
}

// Open 把已批准的信号转为持仓。价位与方向优先取共识决策，缺失时取信号自身。
func (m *Manager) Open(ctx context.Context, sig signal.TradeSignal) (Position, error) {
	if sig.State != signal.StateApproved {
		return Position{}, fmt.Errorf("open %s: %w", sig.ID, ErrNotApproved)
	}
	if _, ok := m.bySignal[sig.ID]; ok {
		return Position{}, fmt.Errorf("open %s: %w", sig.ID, ErrAlreadyOpened)
	}
	p := Position{
		ID:         m.newID(),
		SignalID:   sig.ID,
		Pair:       sig.Pair,
		Direction:  sig.Direction,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Size:       m.size,
		OpenTime:   sig.DisposedAt,
		Status:     StatusOpen,
		Confidence: sig.Confidence,
	}
	if d := sig.Decision; d != nil {
		p.Action = d.FinalAction
		p.Confidence = d.Confidence
		if dir := d.FinalAction.Direction(); dir != "" {
			p.Direction = signal.Direction(dir)
		}
		if d.Prices != nil {
			p.EntryPrice = d.Prices.Entry
			p.StopLoss = d.Prices.StopLoss
			p.TakeProfit = d.Prices.TakeProfit
		}
		if strings.TrimSpace(d.Pair) != "" {
			p.Pair = d.Pair
		}
	}
	if p.OpenTime.IsZero() {
		p.OpenTime = time.Now()
	}
	if m.store != nil {
		if err := m.store.SavePosition(ctx, p); err != nil {
			return Position{}, fmt.Errorf("persist position: %w", err)
		}
	}
	stored := p
	m.positions = append([]*Position{&stored}, m.positions...)
	m.byID[p.ID] = &stored
	m.bySignal[sig.ID] = p.ID
	return p, nil
}

// Close 由外部事件驱动；已平仓的持仓不会重新打开。
func (m *Manager) Close(ctx context.Context, id string, req CloseRequest) (Position, error) {
	cur, ok := m.byID[id]
	if !ok {
		return Position{}, fmt.Errorf("close %s: %w", id, ErrNotFound)
	}
	if cur.Status == StatusClosed {
		return Position{}, fmt.Errorf("close %s: %w", id, ErrAlreadyClosed)
	}
	if req.PnL == nil && req.Price <= 0 {
		return Position{}, fmt.Errorf("close %s: %w", id, ErrMissingClose)
	}
	next := *cur
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	next.Status = StatusClosed
	next.CloseTime = &at
	next.ClosePrice = req.Price
	next.CloseReason = strings.TrimSpace(req.Reason)
	if req.PnL != nil {
		next.PnL = *req.PnL
	} else {
		next.PnL = ComputePnL(next.Direction, next.EntryPrice, req.Price, next.Size)
	}
	if m.store != nil {
		if err := m.store.SavePosition(ctx, next); err != nil {
			return Position{}, fmt.Errorf("persist position: %w", err)
		}
	}
	*cur = next
	return next, nil
}

func (m *Manager) Get(id string) (Position, bool) {
	p, ok := m.byID[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// List 按状态过滤，空状态返回全部；开仓按最近优先，平仓按平仓时间倒序。
func (m *Manager) List(status Status) []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
	}
	if status == StatusClosed {
		sort.SliceStable(out, func(i, j int) bool {
			return closeTime(out[i]).After(closeTime(out[j]))
		})
	}
	return out
}

// BySignal 返回该信号开出的持仓。
func (m *Manager) BySignal(signalID string) (Position, bool) {
	id, ok := m.bySignal[signalID]
	if !ok {
		return Position{}, false
	}
	return m.Get(id)
}

func (m *Manager) Len() int { return len(m.positions) }

func closeTime(p Position) time.Time {
	if p.CloseTime == nil {
		return time.Time{}
	}
	return *p.CloseTime
}
