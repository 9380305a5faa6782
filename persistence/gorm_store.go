package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// interactionRow is the GORM model backing DatabaseStore. Response and
// metadata are stored as JSON text so the schema works identically across
// sqlite, mysql and postgres.
type interactionRow struct {
	ID              string    `gorm:"primaryKey;size:64"`
	SessionID       string    `gorm:"index;size:128"`
	Type            string    `gorm:"size:32"`
	Status          string    `gorm:"index;size:32"`
	Prompt          string    `gorm:"type:text"`
	Response        string    `gorm:"type:text"`
	RetryCount      int       `gorm:""`
	CreatedAt       time.Time `gorm:""`
	ResolvedAt      time.Time `gorm:"index"`
	ResponseLatency int64     `gorm:""` // milliseconds
	Metadata        string    `gorm:"type:text"`
}

func (interactionRow) TableName() string {
	return "hl_interactions"
}

// DatabaseStore is a SQL implementation of Store built on GORM. Supports
// sqlite (pure Go driver), mysql and postgres.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore opens the database, runs auto-migration and returns the
// store.
func NewDatabaseStore(cfg DatabaseStoreConfig) (*DatabaseStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(&interactionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DatabaseStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveInteraction persists one terminal interaction record.
func (s *DatabaseStore) SaveInteraction(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// GetInteractionHistory returns the most recent records for a session.
func (s *DatabaseStore) GetInteractionHistory(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("resolved_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []interactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return fromRows(rows)
}

// ExportInteractionData returns records matching the filter, newest first.
func (s *DatabaseStore) ExportInteractionData(ctx context.Context, filter Filter) ([]*Record, error) {
	q := s.db.WithContext(ctx).Order("resolved_at DESC")
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if !filter.Since.IsZero() {
		q = q.Where("resolved_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("resolved_at <= ?", filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []interactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return fromRows(rows)
}

// Cleanup removes records resolved earlier than olderThan ago.
func (s *DatabaseStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("resolved_at < ?", cutoff).
		Delete(&interactionRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Stats returns statistics about the stored records.
func (s *DatabaseStore) Stats(ctx context.Context) (*StoreStats, error) {
	type statusCount struct {
		Status string
		Count  int
	}
	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&interactionRow{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	stats := &StoreStats{ByStatus: make(map[string]int)}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
	}
	return stats, nil
}

func toRow(rec *Record) (*interactionRow, error) {
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	metadata := "{}"
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(raw)
	}
	return &interactionRow{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		Type:            rec.Type,
		Status:          rec.Status,
		Prompt:          rec.Prompt,
		Response:        string(response),
		RetryCount:      rec.RetryCount,
		CreatedAt:       rec.CreatedAt,
		ResolvedAt:      rec.ResolvedAt,
		ResponseLatency: rec.ResponseLatency.Milliseconds(),
		Metadata:        metadata,
	}, nil
}

func fromRows(rows []interactionRow) ([]*Record, error) {
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec := &Record{
			ID:              row.ID,
			SessionID:       row.SessionID,
			Type:            row.Type,
			Status:          row.Status,
			Prompt:          row.Prompt,
			RetryCount:      row.RetryCount,
			CreatedAt:       row.CreatedAt,
			ResolvedAt:      row.ResolvedAt,
			ResponseLatency: time.Duration(row.ResponseLatency) * time.Millisecond,
		}
		if row.Response != "" {
			var response any
			if err := json.Unmarshal([]byte(row.Response), &response); err == nil {
				rec.Response = response
			}
		}
		if row.Metadata != "" && row.Metadata != "{}" {
			var metadata map[string]any
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err == nil {
				rec.Metadata = metadata
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
