package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// An in-memory database lives per connection, so pin it to one.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ai_models (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model_name TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			capabilities TEXT,
			parameters TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			module_specific TEXT,
			avg_latency_ms REAL,
			cost_per_token REAL,
			success_rate REAL,
			updated_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_models_active ON ai_models(is_active, priority)`,
		`CREATE TABLE IF NOT EXISTS module_preferences (
			module TEXT NOT NULL,
			model_id TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (module, model_id)
		)`,
		`CREATE TABLE IF NOT EXISTS model_performance_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			model_id TEXT NOT NULL,
			latency_ms REAL,
			cost_per_token REAL,
			success_rate REAL,
			success INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_perf_events_model ON model_performance_events(model_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS ai_request_logs (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			provider_id TEXT NOT NULL DEFAULT '',
			provider_name TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			request_bytes INTEGER NOT NULL DEFAULT 0,
			response_bytes INTEGER NOT NULL DEFAULT 0,
			rate_limit TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_request_logs_timestamp ON ai_request_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Models

const modelColumns = `id, provider, model_name, model_id, capabilities, parameters, priority,
	is_active, module_specific, avg_latency_ms, cost_per_token, success_rate, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(sc rowScanner) (ModelRecord, error) {
	var (
		m                      ModelRecord
		caps, params, modules  sql.NullString
		latency, cost, success sql.NullFloat64
		updated                string
	)
	if err := sc.Scan(&m.ID, &m.Provider, &m.ModelName, &m.ModelID, &caps, &params, &m.Priority,
		&m.IsActive, &modules, &latency, &cost, &success, &updated); err != nil {
		return ModelRecord{}, err
	}
	if caps.Valid && caps.String != "" {
		m.Capabilities = json.RawMessage(caps.String)
	}
	if params.Valid && params.String != "" {
		m.Parameters = json.RawMessage(params.String)
	}
	if modules.Valid {
		m.ModuleSpecific = decodeModuleSpecific(m.ID, modules.String)
	}
	m.AvgLatencyMs = nullFloat(latency)
	m.CostPerToken = nullFloat(cost)
	m.SuccessRate = nullFloat(success)
	m.UpdatedAt = parseTime(updated)
	return m, nil
}

func (s *SQLiteStore) queryModels(ctx context.Context, query string, args ...any) ([]ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var models []ModelRecord
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *SQLiteStore) ListActiveModels(ctx context.Context) ([]ModelRecord, error) {
	return s.queryModels(ctx,
		`SELECT `+modelColumns+` FROM ai_models WHERE is_active = 1 ORDER BY priority DESC, id`)
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]ModelRecord, error) {
	return s.queryModels(ctx, `SELECT `+modelColumns+` FROM ai_models ORDER BY priority DESC, id`)
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*ModelRecord, error) {
	m, err := scanModel(s.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM ai_models WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) UpsertModel(ctx context.Context, m ModelRecord) error {
	modules, err := encodeModules(m.ModuleSpecific)
	if err != nil {
		return err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_models (`+modelColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   provider=excluded.provider,
		   model_name=excluded.model_name,
		   model_id=excluded.model_id,
		   capabilities=excluded.capabilities,
		   parameters=excluded.parameters,
		   priority=excluded.priority,
		   is_active=excluded.is_active,
		   module_specific=excluded.module_specific,
		   avg_latency_ms=excluded.avg_latency_ms,
		   cost_per_token=excluded.cost_per_token,
		   success_rate=excluded.success_rate,
		   updated_at=excluded.updated_at`,
		m.ID, m.Provider, m.ModelName, m.ModelID, rawOrNull(m.Capabilities), rawOrNull(m.Parameters),
		m.Priority, m.IsActive, modules, m.AvgLatencyMs, m.CostPerToken, m.SuccessRate,
		formatTime(m.UpdatedAt))
	return err
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_models WHERE id = ?`, id)
	return err
}

// UpdateModelMetrics writes only the non-nil metric columns.
func (s *SQLiteStore) UpdateModelMetrics(ctx context.Context, id string, u MetricsUpdate) error {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(u.UpdatedAt)}
	if u.AvgLatencyMs != nil {
		sets = append(sets, "avg_latency_ms = ?")
		args = append(args, *u.AvgLatencyMs)
	}
	if u.SuccessRate != nil {
		sets = append(sets, "success_rate = ?")
		args = append(args, *u.SuccessRate)
	}
	if u.CostPerToken != nil {
		sets = append(sets, "cost_per_token = ?")
		args = append(args, *u.CostPerToken)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_models SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("model %q not found", id)
	}
	return nil
}

// Module preferences

func (s *SQLiteStore) ModulePreferences(ctx context.Context, module string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, score FROM module_preferences WHERE module = ?`, module)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	prefs := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		prefs[id] = score
	}
	return prefs, rows.Err()
}

func (s *SQLiteStore) SetModulePreference(ctx context.Context, p ModulePreference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO module_preferences (module, model_id, score) VALUES (?, ?, ?)
		 ON CONFLICT(module, model_id) DO UPDATE SET score=excluded.score`,
		p.Module, p.ModelID, p.Score)
	return err
}

func (s *SQLiteStore) DeleteModulePreference(ctx context.Context, module, modelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM module_preferences WHERE module = ? AND model_id = ?`, module, modelID)
	return err
}

// Performance analytics

func (s *SQLiteStore) LogPerformance(ctx context.Context, e PerformanceEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_performance_events (timestamp, model_id, latency_ms, cost_per_token, success_rate, success)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(e.Timestamp), e.ModelID, e.LatencyMs, e.CostPerToken, e.SuccessRate, e.Success)
	return err
}

func (s *SQLiteStore) ListPerformanceEvents(ctx context.Context, modelID string, limit int) ([]PerformanceEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, model_id, latency_ms, cost_per_token, success_rate, success
		 FROM model_performance_events WHERE model_id = ? ORDER BY id DESC LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []PerformanceEvent
	for rows.Next() {
		var (
			e                      PerformanceEvent
			ts                     string
			latency, cost, success sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &ts, &e.ModelID, &latency, &cost, &success, &e.Success); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.LatencyMs = nullFloat(latency)
		e.CostPerToken = nullFloat(cost)
		e.SuccessRate = nullFloat(success)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Provider request log

func (s *SQLiteStore) LogAIRequest(ctx context.Context, e AIRequestLog) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_request_logs (id, timestamp, provider_id, provider_name, endpoint, model, duration_ms,
		   input_tokens, output_tokens, total_tokens, cost_usd, success, error_message, status_code,
		   request_bytes, response_bytes, rate_limit, user_id, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.ProviderID, e.ProviderName, e.Endpoint, e.Model, e.DurationMs,
		e.InputTokens, e.OutputTokens, e.TotalTokens, e.CostUSD, e.Success, e.ErrorMessage, e.StatusCode,
		e.RequestBytes, e.ResponseBytes, e.RateLimit, e.UserID, e.SessionID)
	return err
}

func (s *SQLiteStore) ListAIRequestLogs(ctx context.Context, limit int, offset int) ([]AIRequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, provider_id, provider_name, endpoint, model, duration_ms,
		   input_tokens, output_tokens, total_tokens, cost_usd, success, error_message, status_code,
		   request_bytes, response_bytes, rate_limit, user_id, session_id
		 FROM ai_request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AIRequestLog
	for rows.Next() {
		var l AIRequestLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.ProviderID, &l.ProviderName, &l.Endpoint, &l.Model, &l.DurationMs,
			&l.InputTokens, &l.OutputTokens, &l.TotalTokens, &l.CostUSD, &l.Success, &l.ErrorMessage, &l.StatusCode,
			&l.RequestBytes, &l.ResponseBytes, &l.RateLimit, &l.UserID, &l.SessionID); err != nil {
			return nil, err
		}
		l.Timestamp = parseTime(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func encodeModules(modules []string) (any, error) {
	if len(modules) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(modules)
	if err != nil {
		return nil, fmt.Errorf("encode module_specific: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
