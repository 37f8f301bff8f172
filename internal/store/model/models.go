package model

import "gorm.io/datatypes"

// SignalModel 交易信号；处置后保留终态记录用于审计。
type SignalModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Pair           string         `gorm:"column:pair;index"`
	Direction      string         `gorm:"column:direction"`
	EntryPrice     float64        `gorm:"column:entry_price"`
	StopLoss       float64        `gorm:"column:stop_loss"`
	TakeProfit     float64        `gorm:"column:take_profit"`
	RiskReward     float64        `gorm:"column:risk_reward"`
	Confidence     float64        `gorm:"column:confidence"`
	WinProbability float64        `gorm:"column:win_probability"`
	Exposure       float64        `gorm:"column:exposure"`
	Source         string         `gorm:"column:source"`
	Note           string         `gorm:"column:note"`
	State          string         `gorm:"column:state;index"`
	DecisionJSON   datatypes.JSON `gorm:"column:decision_json;type:TEXT"`
	AnalysisSeq    int64          `gorm:"column:analysis_seq"`
	LastError      string         `gorm:"column:last_error"`
	DisposedBy     string         `gorm:"column:disposed_by"`
	RejectReason   string         `gorm:"column:reject_reason"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	AnalyzedAtUnix int64          `gorm:"column:analyzed_at"`
	DisposedAtUnix int64          `gorm:"column:disposed_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (SignalModel) TableName() string { return "trade_signals" }

type PositionModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	SignalID      string  `gorm:"column:signal_id;uniqueIndex"`
	Pair          string  `gorm:"column:pair;index"`
	Direction     string  `gorm:"column:direction"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	StopLoss      float64 `gorm:"column:stop_loss"`
	TakeProfit    float64 `gorm:"column:take_profit"`
	Size          float64 `gorm:"column:size"`
	OpenTimeUnix  int64   `gorm:"column:open_time;index"`
	CloseTimeUnix int64   `gorm:"column:close_time"`
	ClosePrice    float64 `gorm:"column:close_price"`
	PnL           float64 `gorm:"column:pnl"`
	Status        string  `gorm:"column:status;index"`
	CloseReason   string  `gorm:"column:close_reason"`
	Action        string  `gorm:"column:consensus_action"`
	Confidence    float64 `gorm:"column:confidence"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// EventLogModel desk 事件流水。
type EventLogModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	EventID       string         `gorm:"column:event_uuid;index"`
	Type          string         `gorm:"column:type"`
	SignalID      string         `gorm:"column:signal_id;index"`
	Payload       datatypes.JSON `gorm:"column:payload"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (EventLogModel) TableName() string { return "event_log" }

type SettingModel struct {
	Key           string `gorm:"column:setting_key;primaryKey"`
	Value         string `gorm:"column:value"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (SettingModel) TableName() string { return "settings" }
