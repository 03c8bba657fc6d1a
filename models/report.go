package models

import (
	"fmt"
	"strings"
	"time"
)

// Report types accepted by the service. Unknown types fall back to
// ReportTypeStandard when awarding points but are rejected on save.
const (
	ReportTypeStandard  = "standard"
	ReportTypeHazardous = "hazardous"
	ReportTypeLarge     = "large"
)

// AIVerification is the subset of the classification verdict stored
// with a report. Nil when classification was skipped (forceSubmit).
type AIVerification struct {
	IsWaste      bool    `json:"isWaste"`
	Confidence   float64 `json:"confidence"`
	Verification string  `json:"verification"`
}

// Report represents a persisted waste report.
type Report struct {
	Seq            int64           `json:"seq"`
	UserID         string          `json:"userId"`
	Title          string          `json:"title"`
	Details        string          `json:"details"`
	Address        string          `json:"address"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	GeoCell        uint64          `json:"geoCell"`
	PhotoTimestamp time.Time       `json:"photoTimestamp"`
	ReportType     string          `json:"reportType"`
	ImageURL       string          `json:"imageUrl"`
	ImagePublicID  string          `json:"imagePublicId"`
	AIVerification *AIVerification `json:"aiVerification"`
	CreatedAt      time.Time       `json:"createdAt"`
}

const (
	maxTitleLen   = 200
	maxDetailsLen = 4000
	maxAddressLen = 500
)

// Validate checks the record against the reports schema constraints.
// Called by the store before insert so schema violations surface as a
// distinct failure from generic database errors.
func (r *Report) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user id is empty")
	}
	if r.Title == "" {
		return fmt.Errorf("title is empty")
	}
	if len(r.Title) > maxTitleLen {
		return fmt.Errorf("title exceeds %d characters", maxTitleLen)
	}
	if len(r.Details) > maxDetailsLen {
		return fmt.Errorf("details exceed %d characters", maxDetailsLen)
	}
	if len(r.Address) > maxAddressLen {
		return fmt.Errorf("address exceeds %d characters", maxAddressLen)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", r.Longitude)
	}
	switch r.ReportType {
	case ReportTypeStandard, ReportTypeHazardous, ReportTypeLarge:
	default:
		return fmt.Errorf("unknown report type %q", r.ReportType)
	}
	if r.ImageURL == "" {
		return fmt.Errorf("image url is empty")
	}
	return nil
}

// Trim normalizes free-text fields before validation.
func (r *Report) Trim() {
	r.Title = strings.TrimSpace(r.Title)
	r.Details = strings.TrimSpace(r.Details)
	r.Address = strings.TrimSpace(r.Address)
}
