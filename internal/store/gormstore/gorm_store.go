package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fxdesk/internal/decision"
	"fxdesk/internal/desk"
	"fxdesk/internal/position"
	"fxdesk/internal/signal"
	storemodel "fxdesk/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type signalModel = storemodel.SignalModel
type positionModel = storemodel.PositionModel
type eventLogModel = storemodel.EventLogModel
type settingModel = storemodel.SettingModel

// GormStore implements signal, position and settings storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var (
	_ position.Store   = (*GormStore)(nil)
	_ desk.SignalStore = (*GormStore)(nil)
	_ desk.EventStore  = (*EventLog)(nil)
)

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&signalModel{},
		&positionModel{},
		&eventLogModel{},
		&settingModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// --------------------------- Signals ------------------------------------

func (s *GormStore) SaveSignal(ctx context.Context, sig signal.TradeSignal) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m, err := newSignalModel(sig, time.Now())
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

// ListActiveSignals 返回 pending/analyzed 信号，按创建时间倒序。
func (s *GormStore) ListActiveSignals(ctx context.Context) ([]signal.TradeSignal, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []signalModel
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{string(signal.StatePending), string(signal.StateAnalyzed)}).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]signal.TradeSignal, 0, len(models))
	for _, m := range models {
		sig, err := signalModelToDomain(m)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", m.ID, err)
		}
		out = append(out, sig)
	}
	return out, nil
}

func (s *GormStore) GetSignal(ctx context.Context, id string) (signal.TradeSignal, bool, error) {
	if s == nil || s.db == nil {
		return signal.TradeSignal{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m signalModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return signal.TradeSignal{}, false, nil
	}
	if err != nil {
		return signal.TradeSignal{}, false, err
	}
	sig, err := signalModelToDomain(m)
	return sig, err == nil, err
}

// --------------------------- Positions ------------------------------------

func (s *GormStore) SavePosition(ctx context.Context, p position.Position) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := newPositionModel(p, time.Now())
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *GormStore) ListPositions(ctx context.Context) ([]position.Position, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).Order("open_time DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]position.Position, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToDomain(m))
	}
	return out, nil
}

// --------------------------- Settings ------------------------------------

func (s *GormStore) SaveSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := settingModel{Key: key, Value: value, UpdatedAtUnix: time.Now().UnixMilli()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&m).Error
}

func (s *GormStore) LoadSetting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("gorm store 未初始化")
	}
	var m settingModel
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Value, true, nil
}

// --------------------------- Model Conversion ------------------------------

func newSignalModel(sig signal.TradeSignal, now time.Time) (signalModel, error) {
	m := signalModel{
		ID:             sig.ID,
		Pair:           sig.Pair,
		Direction:      string(sig.Direction),
		EntryPrice:     sig.EntryPrice,
		StopLoss:       sig.StopLoss,
		TakeProfit:     sig.TakeProfit,
		RiskReward:     sig.RiskReward,
		Confidence:     sig.Confidence,
		WinProbability: sig.WinProbability,
		Exposure:       sig.Exposure,
		Source:         string(sig.Source),
		Note:           sig.Note,
		State:          string(sig.State),
		AnalysisSeq:    int64(sig.AnalysisSeq),
		LastError:      sig.LastError,
		DisposedBy:     string(sig.DisposedBy),
		RejectReason:   sig.RejectReason,
		CreatedAtUnix:  timeToMillis(sig.CreatedAt),
		AnalyzedAtUnix: timeToMillis(sig.AnalyzedAt),
		DisposedAtUnix: timeToMillis(sig.DisposedAt),
		UpdatedAtUnix:  now.UnixMilli(),
	}
	if sig.Decision != nil {
		raw, err := json.Marshal(sig.Decision)
		if err != nil {
			return signalModel{}, fmt.Errorf("marshal decision: %w", err)
		}
		m.DecisionJSON = datatypes.JSON(raw)
	}
	return m, nil
}

func signalModelToDomain(m signalModel) (signal.TradeSignal, error) {
	sig := signal.TradeSignal{
		ID:             m.ID,
		Pair:           m.Pair,
		Direction:      signal.Direction(m.Direction),
		EntryPrice:     m.EntryPrice,
		StopLoss:       m.StopLoss,
		TakeProfit:     m.TakeProfit,
		RiskReward:     m.RiskReward,
		Confidence:     m.Confidence,
		WinProbability: m.WinProbability,
		Exposure:       m.Exposure,
		Source:         signal.Source(m.Source),
		Note:           m.Note,
		State:          signal.State(m.State),
		AnalysisSeq:    uint64(m.AnalysisSeq),
		LastError:      m.LastError,
		DisposedBy:     signal.Resolver(m.DisposedBy),
		RejectReason:   m.RejectReason,
		CreatedAt:      millisToTime(m.CreatedAtUnix),
		AnalyzedAt:     millisToTime(m.AnalyzedAtUnix),
		DisposedAt:     millisToTime(m.DisposedAtUnix),
	}
	if len(m.DecisionJSON) > 0 && string(m.DecisionJSON) != "null" {
		var d decision.ConsensusDecision
		if err := json.Unmarshal(m.DecisionJSON, &d); err != nil {
			return signal.TradeSignal{}, fmt.Errorf("decode decision: %w", err)
		}
		sig.Decision = &d
	}
	return sig, nil
}

func newPositionModel(p position.Position, now time.Time) positionModel {
	m := positionModel{
		ID:            p.ID,
		SignalID:      p.SignalID,
		Pair:          p.Pair,
		Direction:     string(p.Direction),
		EntryPrice:    p.EntryPrice,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Size:          p.Size,
		OpenTimeUnix:  timeToMillis(p.OpenTime),
		ClosePrice:    p.ClosePrice,
		PnL:           p.PnL,
		Status:        string(p.Status),
		CloseReason:   p.CloseReason,
		Action:        string(p.Action),
		Confidence:    p.Confidence,
		UpdatedAtUnix: now.UnixMilli(),
	}
	if p.CloseTime != nil {
		m.CloseTimeUnix = timeToMillis(*p.CloseTime)
	}
	return m
}

func positionModelToDomain(m positionModel) position.Position {
	p := position.Position{
		ID:          m.ID,
		SignalID:    m.SignalID,
		Pair:        m.Pair,
		Direction:   signal.Direction(m.Direction),
		EntryPrice:  m.EntryPrice,
		StopLoss:    m.StopLoss,
		TakeProfit:  m.TakeProfit,
		Size:        m.Size,
		OpenTime:    millisToTime(m.OpenTimeUnix),
		ClosePrice:  m.ClosePrice,
		PnL:         m.PnL,
		Status:      position.Status(m.Status),
		CloseReason: m.CloseReason,
		Action:      decision.Action(m.Action),
		Confidence:  m.Confidence,
	}
	if m.CloseTimeUnix > 0 {
		ts := millisToTime(m.CloseTimeUnix)
		p.CloseTime = &ts
	}
	return p
}

// --------------------------- Helper Functions ------------------------------

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
