package desk

import (
	"sync"
	"time"

	"fxdesk/internal/logger"
	"fxdesk/internal/mode"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"
)

type NoticeType string

const (
	NoticeSignalSurfaced    NoticeType = "signal.surfaced"
	NoticeAnalysisRequested NoticeType = "analysis.requested"
	NoticeSignalAnalyzed    NoticeType = "signal.analyzed"
	NoticeAnalysisFailed    NoticeType = "analysis.failed"
	NoticeAnalysisCanceled  NoticeType = "analysis.canceled"
	NoticeSignalApproved    NoticeType = "signal.approved"
	NoticeSignalRejected    NoticeType = "signal.rejected"
	NoticePositionOpened    NoticeType = "position.opened"
	NoticePositionClosed    NoticeType = "position.closed"
	NoticeModeChanged       NoticeType = "mode.changed"
)

var AllNoticeTypes = []NoticeType{
	NoticeSignalSurfaced, NoticeAnalysisRequested, NoticeSignalAnalyzed,
	NoticeAnalysisFailed, NoticeAnalysisCanceled, NoticeSignalApproved,
	NoticeSignalRejected, NoticePositionOpened, NoticePositionClosed,
	NoticeModeChanged,
}

// Notice desk 对外广播的领域事件，websocket、消息总线与 Telegram 共用。
type Notice struct {
	ID         string              `json:"id"`
	Type       NoticeType          `json:"type"`
	SignalID   string              `json:"signal_id,omitempty"`
	PositionID string              `json:"position_id,omitempty"`
	Pair       string              `json:"pair,omitempty"`
	Seq        uint64              `json:"seq,omitempty"`
	Mode       mode.Mode           `json:"mode,omitempty"`
	Message    string              `json:"message,omitempty"`
	Signal     *signal.TradeSignal `json:"signal,omitempty"`
	Position   *position.Position  `json:"position,omitempty"`
	At         time.Time           `json:"at"`
}

// Hub 把通知扇出给订阅者；订阅者处理过慢时丢弃通知而不阻塞 actor。
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Notice
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Notice)}
}

// Subscribe 返回通知通道与取消函数。
func (h *Hub) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notice, buffer)
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(n Notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			logger.Warnf("Desk: subscriber %d lagging, dropped %s", id, n.Type)
		}
	}
}

// Close 关闭全部订阅。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
