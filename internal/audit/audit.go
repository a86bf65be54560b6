// Package audit keeps a SQLite record of session lifecycle events:
// connects, disconnects, shells, commands, file operations and forwards.
package audit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// Record is the persisted form of an audit entry.
type Record struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	SessionID  string    `gorm:"index;size:64" json:"session_id"`
	HostID     string    `gorm:"size:64" json:"host_id"`
	Host       string    `gorm:"index;size:255" json:"host"`
	Username   string    `gorm:"size:255" json:"username"`
	EventType  string    `gorm:"index;size:64" json:"event_type"`
	Details    string    `json:"details"`
	DurationMs int64     `json:"duration_ms"`
}

func (Record) TableName() string {
	return "ssh_audit_logs"
}

// Auditor records and queries audit logs.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	log           logrus.FieldLogger
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperr.New(apperr.FileError, "failed to open audit database", err)
	}
	return db, nil
}

// NewAuditor migrates the schema and returns an Auditor writing to db.
// If retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int, log logrus.FieldLogger) (*Auditor, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, apperr.New(apperr.ConfigError, "failed to migrate audit schema", err)
	}
	return &Auditor{
		db:            db,
		log:           log,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}, nil
}

// Log records an audit event to the database and the logger.
func (a *Auditor) Log(entry models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	record := Record{
		CreatedAt:  a.nowFn(),
		SessionID:  entry.SessionID,
		HostID:     entry.HostID,
		Host:       entry.Host,
		Username:   entry.Username,
		EventType:  entry.EventType,
		Details:    entry.Details,
		DurationMs: entry.DurationMs,
	}
	if err := a.db.Create(&record).Error; err != nil {
		a.log.WithError(err).Warn("failed to write audit log")
		return err
	}

	a.log.WithFields(logrus.Fields{
		"event":   entry.EventType,
		"session": entry.SessionID,
		"host":    entry.Host,
		"user":    entry.Username,
	}).Info(entry.Details)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	SessionID string
	Host      string
	EventType string
	Since     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []Record `json:"entries"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Query retrieves audit log entries matching the given options, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&Record{})
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.Host != "" {
		tx = tx.Where("host = ?", opts.Host)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []Record
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan removes entries older than days (or the retention period when days <= 0).
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		a.log.WithError(result.Error).Warn("audit purge failed")
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		a.log.Infof("purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.mu.Lock()
	a.nowFn = fn
	a.mu.Unlock()
}

// Close closes the underlying database.
func (a *Auditor) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
