package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome 一次分析运行的结局。
const (
	OutcomeApplied    = "applied"
	OutcomeFailed     = "failed"
	OutcomeCanceled   = "canceled"
	OutcomeSuperseded = "superseded"
)

// Run 记录单次引擎调用：请求、原始响应、聚合结果或错误，便于事后排查。
type Run struct {
	ID             int64           `json:"id"`
	SignalID       string          `json:"signal_id"`
	Seq            uint64          `json:"seq"`
	Pair           string          `json:"pair"`
	Date           string          `json:"date"`
	Mode           string          `json:"mode"`
	Transport      string          `json:"transport,omitempty"`
	Outcome        string          `json:"outcome"`
	DurationMs     int64           `json:"duration_ms"`
	Raw            string          `json:"raw,omitempty"`
	Error          string          `json:"error,omitempty"`
	Decision       json.RawMessage `json:"decision,omitempty"`
	EngineDecision json.RawMessage `json:"engine_decision,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Query 运行记录筛选条件。
type Query struct {
	SignalID string
	Pair     string
	Limit    int
	Offset   int
}

// Store 分析运行日志，独立于 gorm 主库。
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB 复用外部连接（例如 gorm 打开的同一个 SQLite 文件）。
func (s *Store) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("run log store 未初始化")
	}
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("run log store 未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("run log store 已关闭")
	}
	return s.db, nil
}

// Append 写入一条运行记录并返回自增 ID。
func (s *Store) Append(ctx context.Context, run Run) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := db.ExecContext(ctx, `INSERT INTO analysis_runs
		(signal_id, seq, pair, date, mode, transport, outcome, duration_ms, raw, error, decision_json, engine_decision_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.SignalID, int64(run.Seq), run.Pair, run.Date, run.Mode, run.Transport, run.Outcome,
		run.DurationMs, run.Raw, run.Error, nullableJSON(run.Decision), nullableJSON(run.EngineDecision),
		created.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert analysis run: %w", err)
	}
	return res.LastInsertId()
}

// List 按创建时间倒序返回运行记录。
func (s *Store) List(ctx context.Context, q Query) ([]Run, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var (
		where []string
		args  []any
	)
	if id := strings.TrimSpace(q.SignalID); id != "" {
		where = append(where, "signal_id = ?")
		args = append(args, id)
	}
	if pair := strings.ToUpper(strings.TrimSpace(q.Pair)); pair != "" {
		where = append(where, "pair = ?")
		args = append(args, pair)
	}
	query := `SELECT id, signal_id, seq, pair, date, mode, transport, outcome, duration_ms, raw, error,
		decision_json, engine_decision_json, created_at FROM analysis_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(q.Offset, 0))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analysis runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                        Run
			seq                      int64
			transport, raw, errText  sql.NullString
			decisionJSON, engineJSON sql.NullString
			created                  int64
		)
		if err := rows.Scan(&r.ID, &r.SignalID, &seq, &r.Pair, &r.Date, &r.Mode, &transport, &r.Outcome,
			&r.DurationMs, &raw, &errText, &decisionJSON, &engineJSON, &created); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.Transport = transport.String
		r.Raw = raw.String
		r.Error = errText.String
		if decisionJSON.Valid && decisionJSON.String != "" {
			r.Decision = json.RawMessage(decisionJSON.String)
		}
		if engineJSON.Valid && engineJSON.String != "" {
			r.EngineDecision = json.RawMessage(engineJSON.String)
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
