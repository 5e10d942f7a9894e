// Package diagnostics persists the audit trail an operator uses to confirm a
// transcoder deployment is healthy: one record per AMBE device
// initialization handshake outcome and a rolling latency sample per
// delivered frame.
//
// Grounded on internal/database/db.go and models.go: the same pure-Go
// modernc.org/sqlite driver under gorm.io/gorm, the same Config{Path}/NewDB
// shape, and the same AutoMigrate-on-open convention, retargeted from a DMR
// user lookup table to two append-only diagnostic tables.
package diagnostics

import (
	"database/sql"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config holds the diagnostics store's configuration.
type Config struct {
	Path      string // path to the SQLite database file
	Retention uint32 // days a record is kept before Prune removes it
}

// DeviceInit records one AMBE device's initialization outcome.
type DeviceInit struct {
	ID         string    `gorm:"primarykey" json:"id"`
	Device     string    `gorm:"index;size:32" json:"device"`
	ProdID     string    `gorm:"size:64" json:"prod_id"`
	VerString  string    `gorm:"size:64" json:"ver_string"`
	AckMatched bool      `json:"ack_matched"`
	Detail     string    `gorm:"size:256" json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

func (DeviceInit) TableName() string { return "device_inits" }

// LatencySample records one delivered frame's end-to-end latency.
type LatencySample struct {
	ID        string    `gorm:"primarykey" json:"id"`
	Module    string    `gorm:"index;size:1" json:"module"`
	Nanos     int64     `json:"nanos"`
	CreatedAt time.Time `json:"created_at"`
}

func (LatencySample) TableName() string { return "latency_samples" }

// Store wraps the GORM database instance backing the diagnostics tables. It
// implements internal/router.LatencyRecorder.
type Store struct {
	db     *gorm.DB
	logger *log.Logger
}

// Open creates or opens the diagnostics database and auto-migrates its
// schema.
func Open(config Config, logr *log.Logger) (*Store, error) {
	var gormLog logger.Interface
	if logr != nil {
		gormLog = logger.New(logr, logger.Config{
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		})
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&DeviceInit{}, &LatencySample{}); err != nil {
		return nil, err
	}

	if logr != nil {
		logr.Printf("[diagnostics] store opened: %s", config.Path)
	}

	return &Store{db: db, logger: logr}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordDeviceInit persists the outcome of an AMBE device's initialization
// handshake. A mismatched ack is recorded, not discarded: the operator
// needs the full history to tell a flaky cable from a bad firmware flash.
func (s *Store) RecordDeviceInit(device, prodID, verString string, ackMatched bool, detail string) {
	rec := DeviceInit{
		ID:         uuid.NewString(),
		Device:     device,
		ProdID:     prodID,
		VerString:  verString,
		AckMatched: ackMatched,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	if err := s.db.Create(&rec).Error; err != nil && s.logger != nil {
		s.logger.Printf("[diagnostics] recording device init for %s: %v", device, err)
	}
}

// RecordLatency implements internal/router.LatencyRecorder.
func (s *Store) RecordLatency(module byte, latency time.Duration) {
	rec := LatencySample{
		ID:        uuid.NewString(),
		Module:    string(module),
		Nanos:     latency.Nanoseconds(),
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&rec).Error; err != nil && s.logger != nil {
		s.logger.Printf("[diagnostics] recording latency for module %c: %v", module, err)
	}
}

// Prune deletes samples and device-init records older than the configured
// retention window.
func (s *Store) Prune(retentionDays uint32) error {
	if retentionDays == 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -int(retentionDays))
	if err := s.db.Where("created_at < ?", cutoff).Delete(&LatencySample{}).Error; err != nil {
		return err
	}
	return s.db.Where("created_at < ?", cutoff).Delete(&DeviceInit{}).Error
}

// LatencyStats summarizes the stored latency samples for an operator-facing
// status line.
type LatencyStats struct {
	Count   int64
	Average time.Duration
	Max     time.Duration
}

// String renders stats the way an operator reads them, humanizing the
// sample count.
func (s LatencyStats) String() string {
	return humanize.Comma(s.Count) + " samples, avg " + s.Average.String() + ", max " + s.Max.String()
}

// Stats computes LatencyStats over every stored sample.
func (s *Store) Stats() (LatencyStats, error) {
	var stats LatencyStats
	if err := s.db.Model(&LatencySample{}).Count(&stats.Count).Error; err != nil {
		return stats, err
	}
	if stats.Count == 0 {
		return stats, nil
	}
	// SQLite's avg() always yields a floating-point value.
	var avgNanos float64
	var maxNanos int64
	row := s.db.Model(&LatencySample{}).Select("avg(nanos)").Row()
	if err := row.Scan(&avgNanos); err != nil {
		return stats, err
	}
	row = s.db.Model(&LatencySample{}).Select("max(nanos)").Row()
	if err := row.Scan(&maxNanos); err != nil {
		return stats, err
	}
	stats.Average = time.Duration(avgNanos)
	stats.Max = time.Duration(maxNanos)
	return stats, nil
}
