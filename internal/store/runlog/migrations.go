package runlog

import (
	"database/sql"
	"fmt"
	"strings"
)

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			pair TEXT NOT NULL,
			date TEXT,
			mode TEXT,
			transport TEXT,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			raw TEXT,
			error TEXT,
			decision_json TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_signal ON analysis_runs(signal_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_pair ON analysis_runs(pair, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureColumns(db)
}

// ensureColumns 为旧库补齐新增列（幂等）。
func ensureColumns(db *sql.DB) error {
	cols := []struct {
		column string
		typ    string
	}{
		{"engine_decision_json", "TEXT"},
	}
	existing, err := tableColumns(db, "analysis_runs")
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c.column] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE analysis_runs ADD COLUMN %s %s", c.column, c.typ)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c.column, err)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}
