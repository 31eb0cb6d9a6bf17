// Package store persists audit snapshots to a relational database and
// exposes the range queries the growth estimator runs over them.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourorg/points-pulse/internal/model"
)

// Store is the append-only audit log. Rows are never updated or deleted.
type Store struct {
	db *gorm.DB
}

// snapshotRow is the persisted form of a model.AuditSnapshot.
type snapshotRow struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time       `gorm:"index:idx_snapshot_lookup,priority:3"`
	Strategy  string          `gorm:"index:idx_snapshot_lookup,priority:1"`
	ProgramID string          `gorm:"index:idx_snapshot_lookup,priority:2"`
	Actual    decimal.Decimal `gorm:"type:decimal(30,10)"`
	Expected  decimal.Decimal `gorm:"type:decimal(30,10)"`
	Owner     string
	RefPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	Sources   []sourceRow     `gorm:"foreignKey:SnapshotID"`
	CreatedAt time.Time
}

func (snapshotRow) TableName() string { return "audit_snapshots" }

// sourceRow attributes part of a snapshot's actual value to one source URL.
type sourceRow struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	SnapshotID uint `gorm:"index"`
	URL        string
	Points     decimal.Decimal `gorm:"type:decimal(30,10)"`
}

func (sourceRow) TableName() string { return "snapshot_sources" }

// New opens the database behind the DSN and migrates the audit tables.
// Postgres connection strings are detected by prefix; anything else is
// treated as a sqlite path for local runs and tests.
func New(dsn string) (*Store, error) {
	var db *gorm.DB

	open := func() error {
		var err error
		gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		} else {
			db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		}
		return err
	}

	// hosted databases routinely take a few seconds to accept connections
	// after a deploy, so retry the open with exponential backoff
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.RetryNotify(open, policy, func(err error, next time.Duration) {
		logrus.Warnf("Database connection failed, retrying in %s: %v", next, err)
	}); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&snapshotRow{}, &sourceRow{}); err != nil {
		return nil, err
	}

	logrus.Info("Audit store connected")
	return &Store{db: db}, nil
}

// AppendRun writes all snapshots of one computation run in a single
// transaction: either every row commits or the run fails as a whole.
func (s *Store) AppendRun(ctx context.Context, snapshots []model.AuditSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, snap := range snapshots {
			row := toRow(snap)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestSnapshot returns the most recent snapshot for a (strategy, program)
// pair, or nil when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, strategy, programID string) (*model.AuditSnapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).
		Preload("Sources").
		Where("strategy = ? AND program_id = ?", strategy, programID).
		Order("timestamp DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := fromRow(row)
	return &snap, nil
}

// LatestRunTime returns the timestamp of the most recent snapshot across all
// strategies. It is the freshness proxy for the re-run guard: under partial
// failure it can over-count how fresh individual programs are.
func (s *Store) LatestRunTime(ctx context.Context) (*time.Time, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.Timestamp, nil
}

// SnapshotsSince returns snapshots for a (strategy, program) pair at or
// after the given time, ascending.
func (s *Store) SnapshotsSince(ctx context.Context, strategy, programID string, since time.Time) ([]model.AuditSnapshot, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Where("strategy = ? AND program_id = ? AND timestamp >= ?", strategy, programID, since).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// History returns the full snapshot log for a (strategy, program) pair,
// ascending, with per-source attribution.
func (s *Store) History(ctx context.Context, strategy, programID string) ([]model.AuditSnapshot, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Preload("Sources").
		Where("strategy = ? AND program_id = ?", strategy, programID).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func toRow(snap model.AuditSnapshot) snapshotRow {
	row := snapshotRow{
		Timestamp: snap.Timestamp,
		Strategy:  snap.Strategy,
		ProgramID: snap.ProgramID,
		Actual:    decimal.NewFromFloat(snap.Actual),
		Expected:  decimal.NewFromFloat(snap.Expected),
		Owner:     snap.Owner,
		RefPrice:  decimal.NewFromFloat(snap.RefPrice),
	}
	for _, src := range snap.Sources {
		row.Sources = append(row.Sources, sourceRow{
			URL:    src.URL,
			Points: decimal.NewFromFloat(src.Points),
		})
	}
	return row
}

func fromRow(row snapshotRow) model.AuditSnapshot {
	snap := model.AuditSnapshot{
		ID:        row.ID,
		Timestamp: row.Timestamp,
		Strategy:  row.Strategy,
		ProgramID: row.ProgramID,
		Actual:    row.Actual.InexactFloat64(),
		Expected:  row.Expected.InexactFloat64(),
		Owner:     row.Owner,
		RefPrice:  row.RefPrice.InexactFloat64(),
	}
	for _, src := range row.Sources {
		snap.Sources = append(snap.Sources, model.SourceContribution{
			URL:    src.URL,
			Points: src.Points.InexactFloat64(),
		})
	}
	return snap
}

func fromRows(rows []snapshotRow) []model.AuditSnapshot {
	out := make([]model.AuditSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out
}
