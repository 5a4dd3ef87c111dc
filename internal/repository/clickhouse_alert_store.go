package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
)

// ClickHouseAlertStore journals alerts and options signals.
type ClickHouseAlertStore struct {
	db    *sql.DB
	table string
}

func NewClickHouseAlertStore(db *sql.DB, table string) repository.AlertStore {
	return &ClickHouseAlertStore{db: db, table: table}
}

// schema returns the idempotent DDL for the alert journal.
func (s *ClickHouseAlertStore) schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts        DateTime64(3, 'UTC'),
	id        String,
	type      LowCardinality(String),
	symbol    LowCardinality(String),
	priority  LowCardinality(String),
	message   String,
	payload   String
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts, id)`, s.table)}
}

func (s *ClickHouseAlertStore) Init(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("alert store schema: %w", err)
		}
	}
	return nil
}

// StoreBatch inserts alerts in multi-row chunks. The id column makes a
// replayed batch collapse on merge.
func (s *ClickHouseAlertStore) StoreBatch(ctx context.Context, alerts []models.Alert) error {
	const chunkSize = 500
	for start := 0; start < len(alerts); start += chunkSize {
		end := start + chunkSize
		if end > len(alerts) {
			end = len(alerts)
		}
		q, args, err := buildAlertInsert(s.table, alerts[start:end])
		if err != nil {
			return err
		}
		if q == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert alerts: %w", err)
		}
	}
	return nil
}

func buildAlertInsert(table string, alerts []models.Alert) (string, []interface{}, error) {
	values := make([]string, 0, len(alerts))
	args := make([]interface{}, 0, len(alerts)*7)
	for _, a := range alerts {
		if a.ID == "" || a.Symbol == "" {
			continue
		}
		payload := "{}"
		if len(a.Payload) > 0 {
			b, err := json.Marshal(a.Payload)
			if err != nil {
				return "", nil, fmt.Errorf("encode payload for %s: %w", a.ID, err)
			}
			payload = string(b)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, a.Timestamp.UTC(), a.ID, string(a.Type), a.Symbol, string(a.Priority), a.Message, payload)
	}
	if len(values) == 0 {
		return "", nil, nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, id, type, symbol, priority, message, payload) VALUES %s",
		table, strings.Join(values, ","))
	return q, args, nil
}

// Recent returns the newest alerts for symbol, newest first. An empty
// symbol returns alerts for every symbol.
func (s *ClickHouseAlertStore) Recent(ctx context.Context, symbol string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf("SELECT ts, id, type, symbol, priority, message, payload FROM %s", s.table)
	args := []interface{}{}
	if symbol != "" {
		q += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			a        models.Alert
			ts       time.Time
			typ, pri string
			payload  string
		)
		if err := rows.Scan(&ts, &a.ID, &typ, &a.Symbol, &pri, &a.Message, &payload); err != nil {
			return nil, err
		}
		a.Timestamp = ts
		a.Type = models.AlertType(typ)
		a.Priority = models.Priority(pri)
		if payload != "" && payload != "{}" {
			_ = json.Unmarshal([]byte(payload), &a.Payload)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ClickHouseAlertStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseAlertStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}
