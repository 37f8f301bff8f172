package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/engine"
	"fxdesk/internal/logger"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/risk"
	"fxdesk/internal/signal"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Deps desk 依赖的协作者；Engine、Aggregator、Positions 必填。
type Deps struct {
	Engine     engine.Engine
	Aggregator decision.Aggregator
	Positions  *position.Manager
	Signals    SignalStore
	Events     EventStore
	Runs       RunLog
	Recorder   Recorder
}

type Options struct {
	Mode         mode.Mode
	EngineMode   engine.Mode
	ExposureUnit float64
	QueueSize    int
	RecentLimit  int
	Clock        func() time.Time
	NewID        func() string
}

// Desk 是交易台的事件驱动 actor，独占待处理信号集合、持仓集合与审批模式。
//
// 所有状态变更都在 runLoop 中串行执行；唯一会阻塞的引擎调用在独立 goroutine 中完成，
// 结果以 EvtAnalysisCompleted 事件回到 actor，按序号决定是否采用。
type Desk struct {
	engine     engine.Engine
	aggregator decision.Aggregator
	positions  *position.Manager
	signals    SignalStore
	events     EventStore
	runs       RunLog
	recorder   Recorder
	risk       risk.Calculator
	hub        *Hub
	tracer     trace.Tracer

	engineMode  engine.Mode
	recentLimit int
	now         func() time.Time
	newID       func() string

	eventRegistry *HandlerRegistry
	seq           *Sequencer
	seqCounter    atomic.Uint64

	msgCh    chan EventEnvelope
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	jobs     sync.WaitGroup
	rootCtx  context.Context
	cancel   context.CancelFunc

	state         *State
	stateSnapshot atomic.Value
}

func New(deps Deps, opts Options) (*Desk, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("desk: engine is required")
	}
	if deps.Aggregator == nil {
		return nil, fmt.Errorf("desk: aggregator is required")
	}
	if deps.Positions == nil {
		return nil, fmt.Errorf("desk: position manager is required")
	}
	if opts.Mode == "" {
		opts.Mode = mode.Manual
	}
	if opts.EngineMode == "" {
		opts.EngineMode = engine.ModeQuick
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 200
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	reg := NewHandlerRegistry()
	reg.RegisterDefaultHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	calc := risk.NewCalculator(opts.ExposureUnit)
	calc.Clock = opts.Clock
	d := &Desk{
		engine:        deps.Engine,
		aggregator:    deps.Aggregator,
		positions:     deps.Positions,
		signals:       deps.Signals,
		events:        deps.Events,
		runs:          deps.Runs,
		recorder:      deps.Recorder,
		risk:          calc,
		hub:           NewHub(),
		tracer:        otel.Tracer("fxdesk/desk"),
		engineMode:    opts.EngineMode,
		recentLimit:   opts.RecentLimit,
		now:           opts.Clock,
		newID:         opts.NewID,
		eventRegistry: reg,
		seq:           NewSequencer(),
		msgCh:         make(chan EventEnvelope, opts.QueueSize),
		stopCh:        make(chan struct{}),
		rootCtx:       ctx,
		cancel:        cancel,
		state:         NewState(opts.Mode),
	}
	d.refreshSnapshot()
	return d, nil
}

// Recover 从存储恢复持仓、未处置信号与上次保存的审批模式，须在 Start 之前调用。
func (d *Desk) Recover(ctx context.Context) error {
	if err := d.positions.Load(ctx); err != nil {
		return err
	}
	if d.signals != nil {
		active, err := d.signals.ListActiveSignals(ctx)
		if err != nil {
			return fmt.Errorf("load signals: %w", err)
		}
		for i := range active {
			sig := active[i]
			if sig.State.Terminal() {
				continue
			}
			if pos, ok := d.positions.BySignal(sig.ID); ok {
				d.retireOpened(sig, pos)
				continue
			}
			d.state.Pending[sig.ID] = &sig
		}
		if raw, ok, err := d.signals.LoadSetting(ctx, settingMode); err != nil {
			logger.Warnf("Desk: load mode setting failed: %v", err)
		} else if ok {
			if m, err := mode.Parse(raw); err == nil {
				d.state.Mode = m
			}
		}
	}
	d.refreshSnapshot()
	logger.Infof("Desk: recovered %d pending signals, %d positions, mode=%s",
		len(d.state.Pending), d.positions.Len(), d.state.Mode)
	return nil
}

// retireOpened 持仓已落盘而信号仍停留在待处置状态时，按已批准处理。
func (d *Desk) retireOpened(sig signal.TradeSignal, pos position.Position) {
	working := sig.Clone()
	if err := working.Approve(signal.ByRecovery, pos.OpenTime); err != nil {
		logger.Warnf("Desk: signal %s has position %s but cannot be approved: %v", sig.ID, pos.ID, err)
		working.State = signal.StateApproved
		working.DisposedAt = pos.OpenTime
		working.DisposedBy = signal.ByRecovery
	}
	d.state.retire(working, d.recentLimit)
	d.persistSignal(working)
	logger.Infof("Desk: signal %s already opened position %s, marked approved", sig.ID, pos.ID)
}

func (d *Desk) Start() {
	d.wg.Add(1)
	go d.runLoop()
}

// Stop 取消在途分析并等待 actor 与分析协程退出。
func (d *Desk) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		close(d.stopCh)
		d.wg.Wait()
		d.jobs.Wait()
		d.hub.Close()
		if d.events != nil {
			if err := d.events.Close(); err != nil {
				logger.Warnf("Desk: event store close failed: %v", err)
			}
		}
	})
}

func (d *Desk) Send(evt EventEnvelope) error {
	select {
	case <-d.stopCh:
		return ErrStopped
	default:
	}
	select {
	case d.msgCh <- evt:
		return nil
	case <-d.stopCh:
		return ErrStopped
	}
}

func (d *Desk) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := d.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return ErrStopped
	}
}

func (d *Desk) Snapshot() *Snapshot {
	val := d.stateSnapshot.Load()
	if val == nil {
		return emptySnapshot(mode.Manual)
	}
	return val.(*Snapshot)
}

// Subscribe 订阅 desk 通知。
func (d *Desk) Subscribe(buffer int) (<-chan Notice, func()) {
	return d.hub.Subscribe(buffer)
}

// Risk 基于当前持仓快照计算风险指标。
func (d *Desk) Risk() risk.Snapshot {
	return d.risk.Compute(d.Snapshot().Positions(""))
}

func (d *Desk) Mode() mode.Mode {
	return d.Snapshot().Mode
}

func (d *Desk) refreshSnapshot() {
	snap := &Snapshot{
		Mode:      d.state.Mode,
		Signals:   make([]signal.TradeSignal, 0, len(d.state.Pending)),
		Open:      d.positions.List(position.StatusOpen),
		Closed:    d.positions.List(position.StatusClosed),
		Recent:    make(map[string]signal.TradeSignal, len(d.state.Recent)),
		UpdatedAt: d.now(),
	}
	for _, sig := range d.state.Pending {
		snap.Signals = append(snap.Signals, sig.Clone())
	}
	sortSignals(snap.Signals)
	for id, sig := range d.state.Recent {
		snap.Recent[id] = sig
	}
	d.stateSnapshot.Store(snap)
	if d.recorder != nil {
		d.recorder.SetGauges(len(snap.Signals), len(snap.Open))
	}
}

func (d *Desk) runLoop() {
	defer d.wg.Done()
	logger.Infof("Desk actor started")

	for {
		select {
		case evt := <-d.msgCh:
			d.handleEvent(evt)
		case <-d.stopCh:
			d.seq.CancelAll()
			logger.Infof("Desk actor stopping")
			return
		}
	}
}

// handleEvent 串行处理单个事件：先持久化，再分发；捕获 handler panic 并回复同步调用方。
func (d *Desk) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Desk panic handling event %s: %v\n%s", evt.Type, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
		d.refreshSnapshot()

		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}

		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("Slow event %s took %v", evt.Type, dur)
		}
	}()

	if d.events != nil {
		if perr := d.events.Append(evt); perr != nil {
			logger.Errorf("Failed to persist event %s: %v", evt.Type, perr)
		}
	}

	handler, ok := d.eventRegistry.Get(evt.Type)
	if !ok {
		logger.Warnf("No handler registered for event type: %s", evt.Type)
		err = fmt.Errorf("unknown event type %s", evt.Type)
		return
	}

	err = handler.Handle(NewHandlerContext(d), evt)
	if err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrAnalysisCanceled) {
		logger.Warnf("Desk failed to handle %s: %v", evt.Type, err)
	}
}

func (d *Desk) envelope(t EventType, signalID string, payload any) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return EventEnvelope{
		ID:        d.newID(),
		Type:      t,
		Payload:   raw,
		SignalID:  signalID,
		CreatedAt: d.now(),
	}, nil
}

func (d *Desk) dispatch(ctx context.Context, t EventType, signalID string, payload any) error {
	evt, err := d.envelope(t, signalID, payload)
	if err != nil {
		return err
	}
	return d.SendSync(ctx, evt)
}

func (d *Desk) publish(n Notice) {
	if n.ID == "" {
		n.ID = d.newID()
	}
	if n.At.IsZero() {
		n.At = d.now()
	}
	d.hub.Publish(n)
}

func (d *Desk) persistSignal(sig signal.TradeSignal) {
	if d.signals == nil {
		return
	}
	if err := d.signals.SaveSignal(d.rootCtx, sig); err != nil {
		logger.Errorf("Desk: persist signal %s failed: %v", sig.ID, err)
	}
}
