// Package database is the MySQL report store and user points ledger.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"report-intake-service/config"
	"report-intake-service/models"
)

// ErrValidation marks a save rejected by record validation, as opposed
// to a database failure.
var ErrValidation = errors.New("report failed validation")

// Database wraps the MySQL connection.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the MySQL connection and verifies it with an
// exponential backoff ping, matching the behavior of the sibling
// services sharing this database.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	waitInterval := 1 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break
		} else if waitInterval > 30*time.Second {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Warnf("Database not reachable, retrying in %v", waitInterval)
		time.Sleep(waitInterval)
		waitInterval *= 2
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// GetDB returns the underlying connection.
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Close closes the connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// EnsureSchema creates the reports and users tables if they do not
// exist.
func (d *Database) EnsureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			title VARCHAR(200) NOT NULL,
			details TEXT,
			address VARCHAR(500),
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			geo_cell BIGINT UNSIGNED NOT NULL,
			photo_ts TIMESTAMP NOT NULL,
			report_type VARCHAR(32) NOT NULL DEFAULT 'standard',
			image_url VARCHAR(1024) NOT NULL,
			image_public_id VARCHAR(255) NOT NULL,
			ai_is_waste BOOLEAN NULL,
			ai_confidence DOUBLE NULL,
			ai_verification VARCHAR(32) NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_user (user_id),
			INDEX idx_geo_cell (geo_cell)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			reports_count INT NOT NULL DEFAULT 0,
			points INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, q := range queries {
		if _, err := d.db.Exec(q); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	log.Info("reports and users tables verified/created")
	return nil
}

// SaveReport validates and inserts a report, returning its sequence
// id. Validation failures are wrapped in ErrValidation so the caller
// can report them as client errors.
func (d *Database) SaveReport(ctx context.Context, r *models.Report) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var aiIsWaste sql.NullBool
	var aiConfidence sql.NullFloat64
	var aiVerification sql.NullString
	if r.AIVerification != nil {
		aiIsWaste = sql.NullBool{Bool: r.AIVerification.IsWaste, Valid: true}
		aiConfidence = sql.NullFloat64{Float64: r.AIVerification.Confidence, Valid: true}
		aiVerification = sql.NullString{String: r.AIVerification.Verification, Valid: true}
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO reports
		  (user_id, title, details, address, latitude, longitude, geo_cell,
		   photo_ts, report_type, image_url, image_public_id,
		   ai_is_waste, ai_confidence, ai_verification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Title, r.Details, r.Address, r.Latitude, r.Longitude, r.GeoCell,
		r.PhotoTimestamp, r.ReportType, r.ImageURL, r.ImagePublicID,
		aiIsWaste, aiConfidence, aiVerification)
	if err != nil {
		log.Errorf("Failed to insert report for user %s: %v", r.UserID, err)
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get report seq: %w", err)
	}
	return seq, nil
}

// AwardPoints increments the user's report count and point balance,
// creating the ledger row on first report.
func (d *Database) AwardPoints(ctx context.Context, userID string, points int) error {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, reports_count, points)
		VALUES (?, 1, ?)
		ON DUPLICATE KEY UPDATE
		  reports_count = reports_count + 1,
		  points = points + VALUES(points)`,
		userID, points)
	if err != nil {
		log.Errorf("Failed to award %d points to user %s: %v", points, userID, err)
		return fmt.Errorf("failed to award points: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		log.Warnf("Points update for user %s affected no rows", userID)
	}
	return nil
}
