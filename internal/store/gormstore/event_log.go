package gormstore

import (
	"context"
	"fmt"
	"time"

	"fxdesk/internal/desk"

	"gorm.io/datatypes"
)

// EventLog 把 desk 事件写入 event_log 表。
type EventLog struct {
	store *GormStore
}

func NewEventLog(store *GormStore) *EventLog {
	return &EventLog{store: store}
}

func (l *EventLog) Append(evt desk.EventEnvelope) error {
	if l == nil || l.store == nil || l.store.db == nil {
		return fmt.Errorf("event log: database is nil")
	}
	created := evt.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	m := eventLogModel{
		EventID:       evt.ID,
		Type:          string(evt.Type),
		SignalID:      evt.SignalID,
		Payload:       datatypes.JSON(evt.Payload),
		CreatedAtUnix: created.UnixMilli(),
	}
	return l.store.db.WithContext(context.Background()).Create(&m).Error
}

// Load 按时间顺序读取某信号的事件；signalID 为空时读取全部。
func (l *EventLog) Load(ctx context.Context, signalID string, limit int) ([]desk.EventEnvelope, error) {
	if l == nil || l.store == nil || l.store.db == nil {
		return nil, fmt.Errorf("event log: database is nil")
	}
	if limit <= 0 {
		limit = 1000
	}
	query := l.store.db.WithContext(ctx).Order("created_at ASC, id ASC").Limit(limit)
	if signalID != "" {
		query = query.Where("signal_id = ?", signalID)
	}
	var models []eventLogModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]desk.EventEnvelope, 0, len(models))
	for _, m := range models {
		out = append(out, desk.EventEnvelope{
			ID:        m.EventID,
			Type:      desk.EventType(m.Type),
			Payload:   []byte(m.Payload),
			SignalID:  m.SignalID,
			CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		})
	}
	return out, nil
}

// Close is a no-op as the DB is managed by GormStore.
func (l *EventLog) Close() error {
	return nil
}
