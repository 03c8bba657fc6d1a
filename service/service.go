// Package service runs the end-to-end report submission workflow.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/golang/geo/s2"

	"report-intake-service/cloudinary"
	"report-intake-service/database"
	"report-intake-service/metrics"
	"report-intake-service/models"
)

// maxImageBytes is the decoded image size limit.
const maxImageBytes = 5 * 1024 * 1024

// minAcceptedConfidence is the floor below which a waste verdict is
// still rejected.
const minAcceptedConfidence = 0.7

// geoCellLevel is the S2 cell level stored with each report for map
// aggregation.
const geoCellLevel = 16

// Points awarded per report type.
var pointsByType = map[string]int{
	models.ReportTypeStandard:  10,
	models.ReportTypeHazardous: 20,
	models.ReportTypeLarge:     15,
}

const defaultPoints = 10

var imagePayloadPattern = regexp.MustCompile(`^(data:image/[a-zA-Z+.-]+;base64,)?[A-Za-z0-9+/]+={0,2}$`)
var dataURIPrefix = regexp.MustCompile(`^data:image/[a-zA-Z+.-]+;base64,`)

// Classifier produces a verdict for an image.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*models.ClassificationVerdict, error)
}

// AssetHost stores report photos externally.
type AssetHost interface {
	Upload(ctx context.Context, image []byte) (*cloudinary.UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

// ReportStore persists reports and the user points ledger.
type ReportStore interface {
	SaveReport(ctx context.Context, r *models.Report) (int64, error)
	AwardPoints(ctx context.Context, userID string, points int) error
}

// Publisher announces accepted reports downstream.
type Publisher interface {
	Publish(message interface{}) error
}

// SubmitRequest is the submission payload.
type SubmitRequest struct {
	Title          string     `json:"title"`
	Image          string     `json:"image"`
	Details        string     `json:"details"`
	Address        string     `json:"address"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	PhotoTimestamp *time.Time `json:"photoTimestamp"`
	ReportType     string     `json:"reportType"`
	ForceSubmit    bool       `json:"forceSubmit"`
}

// SubmitResult is returned for an accepted report.
type SubmitResult struct {
	Report         *models.Report                `json:"report"`
	PointsEarned   int                           `json:"pointsEarned"`
	Classification *models.ClassificationVerdict `json:"classification"`
}

// Service orchestrates validate, classify, host, persist and award.
type Service struct {
	classifier Classifier
	assets     AssetHost
	store      ReportStore
	publisher  Publisher
	now        func() time.Time
}

// NewService creates the submission service. publisher may be nil;
// accepted reports are then not announced.
func NewService(classifier Classifier, assets AssetHost, store ReportStore, publisher Publisher) *Service {
	return &Service{
		classifier: classifier,
		assets:     assets,
		store:      store,
		publisher:  publisher,
		now:        time.Now,
	}
}

// Submit runs the submission workflow. Failures are returned as
// *Rejection; each failure is terminal for this submission and carries
// a stable code. A ledger failure after the report is persisted is
// logged and does not unwind the report.
func (s *Service) Submit(ctx context.Context, userID string, req *SubmitRequest) (*SubmitResult, error) {
	result, err := s.submit(ctx, userID, req)

	outcome := "accepted"
	var rej *Rejection
	if errors.As(err, &rej) {
		outcome = rej.Code
	} else if err != nil {
		outcome = CodeInternalServerError
	}
	metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()

	return result, err
}

func (s *Service) submit(ctx context.Context, userID string, req *SubmitRequest) (*SubmitResult, error) {
	// Validating. Purely local, no external calls.
	image, rej := s.validate(req)
	if rej != nil {
		return nil, rej
	}

	// Classifying, unless the caller forces the submission through.
	var verdict *models.ClassificationVerdict
	if !req.ForceSubmit {
		v, err := s.classifier.Classify(ctx, image)
		if err != nil {
			log.Printf("Classification failed for user %s: %v", userID, err)
			return nil, rejectWithCause(http.StatusServiceUnavailable, CodeServiceUnavailable,
				"waste verification service is unavailable", err)
		}
		if !v.IsWaste {
			return nil, reject(http.StatusBadRequest, CodeNotWaste,
				"the image does not appear to show waste")
		}
		if v.Confidence < minAcceptedConfidence {
			return nil, reject(http.StatusBadRequest, CodeLowConfidence,
				"waste could not be verified with sufficient confidence")
		}
		verdict = v
	}

	// Hosting.
	upload, err := s.assets.Upload(ctx, image)
	if err != nil {
		log.Printf("Image upload failed for user %s: %v", userID, err)
		if errors.Is(err, cloudinary.ErrUploadTimeout) {
			return nil, rejectWithCause(http.StatusGatewayTimeout, CodeCloudinaryTimeout,
				"image upload timed out", err)
		}
		return nil, rejectWithCause(http.StatusInternalServerError, CodeCloudinaryError,
			"image upload failed", err)
	}

	// Persisting.
	report := s.buildReport(userID, req, upload, verdict)
	seq, err := s.store.SaveReport(ctx, report)
	if err != nil {
		log.Printf("Failed to persist report for user %s: %v", userID, err)
		s.destroyAsset(upload.PublicID)
		if errors.Is(err, database.ErrValidation) {
			return nil, rejectWithCause(http.StatusBadRequest, CodeValidationError,
				"report failed validation", err)
		}
		return nil, rejectWithCause(http.StatusInternalServerError, CodeInternalServerError,
			"failed to save the report", err)
	}
	report.Seq = seq

	// Awarding points. A failure here is logged but never unwinds the
	// persisted report.
	points := pointsForType(report.ReportType)
	if err := s.store.AwardPoints(ctx, userID, points); err != nil {
		log.Printf("Failed to award %d points to user %s for report %d: %v", points, userID, seq, err)
		points = 0
	}

	s.publishAccepted(report, points, verdict)

	return &SubmitResult{
		Report:         report,
		PointsEarned:   points,
		Classification: verdict,
	}, nil
}

// validate enforces the local payload rules and returns the decoded
// image bytes.
func (s *Service) validate(req *SubmitRequest) ([]byte, *Rejection) {
	var missing []string
	if req.Title == "" {
		missing = append(missing, "title")
	}
	if req.Image == "" {
		missing = append(missing, "image")
	}
	if req.Details == "" {
		missing = append(missing, "details")
	}
	if req.Address == "" {
		missing = append(missing, "address")
	}
	if req.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if req.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if len(missing) > 0 {
		return nil, rejectMissing(missing)
	}

	image, rej := DecodeImage(req.Image)
	if rej != nil {
		return nil, rej
	}
	return image, nil
}

// DecodeImage validates and decodes a base64 image payload, with or
// without a data-URI prefix, enforcing the decoded size limit.
func DecodeImage(payload string) ([]byte, *Rejection) {
	if !imagePayloadPattern.MatchString(payload) {
		return nil, reject(http.StatusBadRequest, CodeInvalidImageFormat,
			"image must be base64 encoded, optionally with a data URI prefix")
	}
	body := payload
	if loc := dataURIPrefix.FindStringIndex(payload); loc != nil {
		body = payload[loc[1]:]
	}
	image, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, reject(http.StatusBadRequest, CodeInvalidImageFormat,
			"image is not valid base64")
	}
	if len(image) > maxImageBytes {
		return nil, reject(http.StatusRequestEntityTooLarge, CodeImageTooLarge,
			"image exceeds the 5 MB limit")
	}
	return image, nil
}

func (s *Service) buildReport(userID string, req *SubmitRequest, upload *cloudinary.UploadResult, verdict *models.ClassificationVerdict) *models.Report {
	photoTS := s.now()
	if req.PhotoTimestamp != nil {
		photoTS = *req.PhotoTimestamp
	}
	reportType := req.ReportType
	if reportType == "" {
		reportType = models.ReportTypeStandard
	}

	lat, lng := *req.Latitude, *req.Longitude
	cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(geoCellLevel)

	report := &models.Report{
		UserID:         userID,
		Title:          req.Title,
		Details:        req.Details,
		Address:        req.Address,
		Latitude:       lat,
		Longitude:      lng,
		GeoCell:        uint64(cell),
		PhotoTimestamp: photoTS,
		ReportType:     reportType,
		ImageURL:       upload.SecureURL,
		ImagePublicID:  upload.PublicID,
		AIVerification: verdict.AIVerification(),
	}
	report.Trim()
	return report
}

// destroyAsset best-effort deletes an uploaded asset after a later
// step failed, so the host does not accumulate orphans.
func (s *Service) destroyAsset(publicID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.assets.Destroy(ctx, publicID); err != nil {
		log.Printf("Failed to delete orphaned asset %s: %v", publicID, err)
	}
}

func (s *Service) publishAccepted(report *models.Report, points int, verdict *models.ClassificationVerdict) {
	if s.publisher == nil {
		return
	}
	msg := SubmitResult{Report: report, PointsEarned: points, Classification: verdict}
	if err := s.publisher.Publish(msg); err != nil {
		log.Printf("Failed to publish accepted report %d: %v", report.Seq, err)
	}
}

func pointsForType(reportType string) int {
	if p, ok := pointsByType[reportType]; ok {
		return p
	}
	return defaultPoints
}
