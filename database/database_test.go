package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"report-intake-service/models"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func validReport() *models.Report {
	return &models.Report{
		UserID:         "user-1",
		Title:          "Overflowing bin",
		Details:        "Trash next to the bus stop",
		Address:        "Main St 1",
		Latitude:       42.44,
		Longitude:      19.26,
		GeoCell:        0x4f5e1a2b00000000,
		PhotoTimestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ReportType:     models.ReportTypeStandard,
		ImageURL:       "https://res.example.com/reports/abc123.jpg",
		ImagePublicID:  "reports/abc123",
		AIVerification: &models.AIVerification{
			IsWaste:      true,
			Confidence:   0.9,
			Verification: models.VerificationHigh,
		},
	}
}

func TestSaveReport(t *testing.T) {
	it(func() {
		d := NewWithDB(db)

		mock.ExpectExec("INSERT INTO reports").
			WithArgs(
				"user-1", "Overflowing bin", "Trash next to the bus stop", "Main St 1",
				42.44, 19.26, uint64(0x4f5e1a2b00000000),
				time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), models.ReportTypeStandard,
				"https://res.example.com/reports/abc123.jpg", "reports/abc123",
				sql.NullBool{Bool: true, Valid: true},
				sql.NullFloat64{Float64: 0.9, Valid: true},
				sql.NullString{String: models.VerificationHigh, Valid: true},
			).
			WillReturnResult(sqlmock.NewResult(42, 1))

		seq, err := d.SaveReport(context.Background(), validReport())
		if err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
		if seq != 42 {
			t.Errorf("seq = %d, want 42", seq)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestSaveReportSkippedClassification(t *testing.T) {
	it(func() {
		d := NewWithDB(db)

		r := validReport()
		r.AIVerification = nil

		mock.ExpectExec("INSERT INTO reports").
			WithArgs(
				"user-1", "Overflowing bin", "Trash next to the bus stop", "Main St 1",
				42.44, 19.26, uint64(0x4f5e1a2b00000000),
				time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), models.ReportTypeStandard,
				"https://res.example.com/reports/abc123.jpg", "reports/abc123",
				sql.NullBool{}, sql.NullFloat64{}, sql.NullString{},
			).
			WillReturnResult(sqlmock.NewResult(43, 1))

		if _, err := d.SaveReport(context.Background(), r); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestSaveReportValidationFailure(t *testing.T) {
	it(func() {
		d := NewWithDB(db)

		testCases := []struct {
			name   string
			mutate func(r *models.Report)
		}{
			{"empty title", func(r *models.Report) { r.Title = "" }},
			{"latitude out of range", func(r *models.Report) { r.Latitude = 91 }},
			{"longitude out of range", func(r *models.Report) { r.Longitude = -181 }},
			{"unknown report type", func(r *models.Report) { r.ReportType = "mystery" }},
			{"missing image url", func(r *models.Report) { r.ImageURL = "" }},
		}

		for _, tc := range testCases {
			r := validReport()
			tc.mutate(r)

			_, err := d.SaveReport(context.Background(), r)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("%s: got %v, want ErrValidation", tc.name, err)
			}
		}

		// No insert may have been attempted.
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unexpected database calls: %v", err)
		}
	})
}

func TestSaveReportInsertFailure(t *testing.T) {
	it(func() {
		d := NewWithDB(db)

		mock.ExpectExec("INSERT INTO reports").
			WillReturnError(errors.New("connection reset"))

		_, err := d.SaveReport(context.Background(), validReport())
		if err == nil {
			t.Fatal("expected an error")
		}
		if errors.Is(err, ErrValidation) {
			t.Error("database failure reported as a validation failure")
		}
	})
}

func TestAwardPoints(t *testing.T) {
	it(func() {
		d := NewWithDB(db)

		mock.ExpectExec("INSERT INTO users").
			WithArgs("user-1", 20).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := d.AwardPoints(context.Background(), "user-1", 20); err != nil {
			t.Fatalf("AwardPoints failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestAwardPointsFailure(t *testing.T) {
	it(func() {
		d := NewWithDB(db)

		mock.ExpectExec("INSERT INTO users").
			WillReturnError(errors.New("deadlock"))

		if err := d.AwardPoints(context.Background(), "user-1", 10); err == nil {
			t.Fatal("expected an error")
		}
	})
}
