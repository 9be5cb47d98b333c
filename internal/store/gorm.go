package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on top of gorm. In production it talks to the
// managed Postgres instance that owns the ai_models schema.
type GormStore struct {
	db *gorm.DB
}

// NewPostgres opens a Postgres-backed store.
func NewPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGorm wraps an already opened gorm handle (any dialect).
func NewGorm(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

type aiModelRow struct {
	ID             string `gorm:"primaryKey"`
	Provider       string `gorm:"not null"`
	ModelName      string
	ModelID        string
	Capabilities   *string
	Parameters     *string
	Priority       int  `gorm:"not null;default:0;index:idx_ai_models_active,priority:2"`
	IsActive       bool `gorm:"not null;index:idx_ai_models_active,priority:1"`
	ModuleSpecific *string
	AvgLatencyMs   *float64
	CostPerToken   *float64
	SuccessRate    *float64
	UpdatedAt      time.Time
}

func (aiModelRow) TableName() string { return "ai_models" }

type modulePreferenceRow struct {
	Module  string `gorm:"primaryKey"`
	ModelID string `gorm:"primaryKey"`
	Score   float64
}

func (modulePreferenceRow) TableName() string { return "module_preferences" }

type performanceEventRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"index:idx_perf_events_model,priority:2"`
	ModelID      string    `gorm:"not null;index:idx_perf_events_model,priority:1"`
	LatencyMs    *float64
	CostPerToken *float64
	SuccessRate  *float64
	Success      bool
}

func (performanceEventRow) TableName() string { return "model_performance_events" }

type aiRequestLogRow struct {
	ID            string    `gorm:"primaryKey"`
	Timestamp     time.Time `gorm:"index"`
	ProviderID    string
	ProviderName  string
	Endpoint      string
	Model         string
	DurationMs    int64
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	CostUSD       float64 `gorm:"column:cost_usd"`
	Success       bool
	ErrorMessage  string
	StatusCode    int
	RequestBytes  int
	ResponseBytes int
	RateLimit     string
	UserID        string
	SessionID     string
}

func (aiRequestLogRow) TableName() string { return "ai_request_logs" }

func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&aiModelRow{}, &modulePreferenceRow{}, &performanceEventRow{}, &aiRequestLogRow{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Models

func (s *GormStore) ListActiveModels(ctx context.Context) ([]ModelRecord, error) {
	var rows []aiModelRow
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).
		Order("priority DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return modelsFromRows(rows), nil
}

func (s *GormStore) ListModels(ctx context.Context) ([]ModelRecord, error) {
	var rows []aiModelRow
	if err := s.db.WithContext(ctx).Order("priority DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return modelsFromRows(rows), nil
}

func (s *GormStore) GetModel(ctx context.Context, id string) (*ModelRecord, error) {
	var row aiModelRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := row.record()
	return &m, nil
}

func (s *GormStore) UpsertModel(ctx context.Context, m ModelRecord) error {
	row, err := rowFromModel(m)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) DeleteModel(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&aiModelRow{}).Error
}

func (s *GormStore) UpdateModelMetrics(ctx context.Context, id string, u MetricsUpdate) error {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	updates := map[string]any{"updated_at": u.UpdatedAt}
	if u.AvgLatencyMs != nil {
		updates["avg_latency_ms"] = *u.AvgLatencyMs
	}
	if u.SuccessRate != nil {
		updates["success_rate"] = *u.SuccessRate
	}
	if u.CostPerToken != nil {
		updates["cost_per_token"] = *u.CostPerToken
	}
	res := s.db.WithContext(ctx).Model(&aiModelRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("model %q not found", id)
	}
	return nil
}

// Module preferences

func (s *GormStore) ModulePreferences(ctx context.Context, module string) (map[string]float64, error) {
	var rows []modulePreferenceRow
	if err := s.db.WithContext(ctx).Where("module = ?", module).Find(&rows).Error; err != nil {
		return nil, err
	}
	prefs := make(map[string]float64, len(rows))
	for _, r := range rows {
		prefs[r.ModelID] = r.Score
	}
	return prefs, nil
}

func (s *GormStore) SetModulePreference(ctx context.Context, p ModulePreference) error {
	row := modulePreferenceRow{Module: p.Module, ModelID: p.ModelID, Score: p.Score}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "module"}, {Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score"}),
	}).Create(&row).Error
}

func (s *GormStore) DeleteModulePreference(ctx context.Context, module, modelID string) error {
	return s.db.WithContext(ctx).
		Where("module = ? AND model_id = ?", module, modelID).
		Delete(&modulePreferenceRow{}).Error
}

// Performance analytics

func (s *GormStore) LogPerformance(ctx context.Context, e PerformanceEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	row := performanceEventRow{
		Timestamp:    e.Timestamp,
		ModelID:      e.ModelID,
		LatencyMs:    e.LatencyMs,
		CostPerToken: e.CostPerToken,
		SuccessRate:  e.SuccessRate,
		Success:      e.Success,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) ListPerformanceEvents(ctx context.Context, modelID string, limit int) ([]PerformanceEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []performanceEventRow
	if err := s.db.WithContext(ctx).Where("model_id = ?", modelID).
		Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]PerformanceEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, PerformanceEvent{
			ID:           r.ID,
			Timestamp:    r.Timestamp,
			ModelID:      r.ModelID,
			LatencyMs:    r.LatencyMs,
			CostPerToken: r.CostPerToken,
			SuccessRate:  r.SuccessRate,
			Success:      r.Success,
		})
	}
	return events, nil
}

// Provider request log

func (s *GormStore) LogAIRequest(ctx context.Context, e AIRequestLog) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	row := aiRequestLogRow(e)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) ListAIRequestLogs(ctx context.Context, limit int, offset int) ([]AIRequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []aiRequestLogRow
	if err := s.db.WithContext(ctx).Order("timestamp DESC").
		Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]AIRequestLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, AIRequestLog(r))
	}
	return logs, nil
}

func modelsFromRows(rows []aiModelRow) []ModelRecord {
	models := make([]ModelRecord, 0, len(rows))
	for _, r := range rows {
		models = append(models, r.record())
	}
	return models
}

func (r aiModelRow) record() ModelRecord {
	m := ModelRecord{
		ID:           r.ID,
		Provider:     r.Provider,
		ModelName:    r.ModelName,
		ModelID:      r.ModelID,
		Priority:     r.Priority,
		IsActive:     r.IsActive,
		AvgLatencyMs: r.AvgLatencyMs,
		CostPerToken: r.CostPerToken,
		SuccessRate:  r.SuccessRate,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Capabilities != nil && *r.Capabilities != "" {
		m.Capabilities = json.RawMessage(*r.Capabilities)
	}
	if r.Parameters != nil && *r.Parameters != "" {
		m.Parameters = json.RawMessage(*r.Parameters)
	}
	if r.ModuleSpecific != nil {
		m.ModuleSpecific = decodeModuleSpecific(r.ID, *r.ModuleSpecific)
	}
	return m
}

func rowFromModel(m ModelRecord) (aiModelRow, error) {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	row := aiModelRow{
		ID:           m.ID,
		Provider:     m.Provider,
		ModelName:    m.ModelName,
		ModelID:      m.ModelID,
		Priority:     m.Priority,
		IsActive:     m.IsActive,
		AvgLatencyMs: m.AvgLatencyMs,
		CostPerToken: m.CostPerToken,
		SuccessRate:  m.SuccessRate,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.Capabilities) > 0 {
		s := string(m.Capabilities)
		row.Capabilities = &s
	}
	if len(m.Parameters) > 0 {
		s := string(m.Parameters)
		row.Parameters = &s
	}
	if len(m.ModuleSpecific) > 0 {
		b, err := json.Marshal(m.ModuleSpecific)
		if err != nil {
			return aiModelRow{}, fmt.Errorf("encode module_specific: %w", err)
		}
		s := string(b)
		row.ModuleSpecific = &s
	}
	return row, nil
}
