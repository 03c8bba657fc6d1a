package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"report-intake-service/cloudinary"
	"report-intake-service/database"
	"report-intake-service/detector"
	"report-intake-service/models"
)

type fakeClassifier struct {
	verdict *models.ClassificationVerdict
	err     error
	calls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, image []byte) (*models.ClassificationVerdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

type fakeAssets struct {
	uploadErr error
	uploads   int
	destroyed []string
}

func (f *fakeAssets) Upload(ctx context.Context, image []byte) (*cloudinary.UploadResult, error) {
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &cloudinary.UploadResult{
		PublicID:  "reports/abc123",
		SecureURL: "https://res.example.com/reports/abc123.jpg",
	}, nil
}

func (f *fakeAssets) Destroy(ctx context.Context, publicID string) error {
	f.destroyed = append(f.destroyed, publicID)
	return nil
}

type fakeStore struct {
	saveErr  error
	awardErr error
	saved    *models.Report
	awarded  int
	awardee  string
}

func (f *fakeStore) SaveReport(ctx context.Context, r *models.Report) (int64, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = r
	return 42, nil
}

func (f *fakeStore) AwardPoints(ctx context.Context, userID string, points int) error {
	if f.awardErr != nil {
		return f.awardErr
	}
	f.awardee = userID
	f.awarded = points
	return nil
}

type fakePublisher struct {
	published []interface{}
}

func (f *fakePublisher) Publish(message interface{}) error {
	f.published = append(f.published, message)
	return nil
}

func wasteVerdict(confidence float64) *models.ClassificationVerdict {
	verification := models.VerificationUnverified
	if confidence >= 0.85 {
		verification = models.VerificationHigh
	} else if confidence >= 0.65 {
		verification = models.VerificationMedium
	}
	return &models.ClassificationVerdict{
		IsWaste:      confidence >= 0.25,
		Confidence:   confidence,
		Verification: verification,
		ModelVersion: "waste-v1",
	}
}

func validRequest() *SubmitRequest {
	lat, lng := 42.44, 19.26
	return &SubmitRequest{
		Title:     "Overflowing bin",
		Image:     base64.StdEncoding.EncodeToString([]byte("jpeg bytes")),
		Details:   "Trash next to the bus stop",
		Address:   "Main St 1",
		Latitude:  &lat,
		Longitude: &lng,
	}
}

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected *Rejection, got %v", err)
	}
	return rej
}

func TestSubmitAccepted(t *testing.T) {
	classifier := &fakeClassifier{verdict: wasteVerdict(0.9)}
	assets := &fakeAssets{}
	store := &fakeStore{}
	publisher := &fakePublisher{}
	svc := NewService(classifier, assets, store, publisher)

	result, err := svc.Submit(context.Background(), "user-1", validRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.Report.Seq != 42 {
		t.Errorf("report seq = %d, want 42", result.Report.Seq)
	}
	if result.PointsEarned != 10 {
		t.Errorf("points = %d, want 10 for a standard report", result.PointsEarned)
	}
	if result.Classification == nil || result.Classification.Confidence != 0.9 {
		t.Errorf("classification not carried through: %+v", result.Classification)
	}
	if store.saved.AIVerification == nil || store.saved.AIVerification.Verification != models.VerificationHigh {
		t.Errorf("aiVerification not persisted: %+v", store.saved.AIVerification)
	}
	if store.saved.ReportType != models.ReportTypeStandard {
		t.Errorf("report type = %q, want default standard", store.saved.ReportType)
	}
	if store.saved.GeoCell == 0 {
		t.Error("geo cell not derived from coordinates")
	}
	if store.saved.ImageURL == "" || store.saved.ImagePublicID == "" {
		t.Error("hosted asset reference not persisted")
	}
	if len(publisher.published) != 1 {
		t.Errorf("published %d messages, want 1", len(publisher.published))
	}
}

func TestSubmitMissingFields(t *testing.T) {
	svc := NewService(&fakeClassifier{}, &fakeAssets{}, &fakeStore{}, nil)

	req := validRequest()
	req.Title = ""
	req.Latitude = nil

	_, err := svc.Submit(context.Background(), "user-1", req)
	rej := rejection(t, err)
	if rej.Code != CodeMissingFields || rej.Status != http.StatusBadRequest {
		t.Errorf("got %s/%d, want MISSING_FIELDS/400", rej.Code, rej.Status)
	}
	if len(rej.MissingFields) != 2 {
		t.Errorf("missing fields = %v, want title and latitude", rej.MissingFields)
	}
}

func TestSubmitInvalidImageFormat(t *testing.T) {
	classifier := &fakeClassifier{}
	svc := NewService(classifier, &fakeAssets{}, &fakeStore{}, nil)

	req := validRequest()
	req.Image = "not!!valid//base64??"

	_, err := svc.Submit(context.Background(), "user-1", req)
	rej := rejection(t, err)
	if rej.Code != CodeInvalidImageFormat || rej.Status != http.StatusBadRequest {
		t.Errorf("got %s/%d, want INVALID_IMAGE_FORMAT/400", rej.Code, rej.Status)
	}
	if classifier.calls != 0 {
		t.Error("classifier called for an invalid payload")
	}
}

func TestSubmitImageTooLarge(t *testing.T) {
	classifier := &fakeClassifier{verdict: wasteVerdict(0.9)}
	assets := &fakeAssets{}
	svc := NewService(classifier, assets, &fakeStore{}, nil)

	req := validRequest()
	req.Image = base64.StdEncoding.EncodeToString(make([]byte, maxImageBytes+1))

	_, err := svc.Submit(context.Background(), "user-1", req)
	rej := rejection(t, err)
	if rej.Code != CodeImageTooLarge || rej.Status != http.StatusRequestEntityTooLarge {
		t.Errorf("got %s/%d, want IMAGE_TOO_LARGE/413", rej.Code, rej.Status)
	}
	if classifier.calls != 0 || assets.uploads != 0 {
		t.Error("oversized image reached an external collaborator")
	}
}

func TestSubmitAcceptsDataURIPrefix(t *testing.T) {
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, &fakeAssets{}, &fakeStore{}, nil)

	req := validRequest()
	req.Image = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png bytes"))

	if _, err := svc.Submit(context.Background(), "user-1", req); err != nil {
		t.Fatalf("Submit rejected a data URI payload: %v", err)
	}
}

func TestSubmitClassifierUnavailable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"timeout", detector.ErrServiceTimeout},
		{"unreachable", detector.ErrServiceUnreachable},
		{"api error", &detector.APIError{Status: 500, Body: "boom"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assets := &fakeAssets{}
			svc := NewService(&fakeClassifier{err: tc.err}, assets, &fakeStore{}, nil)

			_, err := svc.Submit(context.Background(), "user-1", validRequest())
			rej := rejection(t, err)
			if rej.Code != CodeServiceUnavailable || rej.Status != http.StatusServiceUnavailable {
				t.Errorf("got %s/%d, want SERVICE_UNAVAILABLE/503", rej.Code, rej.Status)
			}
			if rej.Cause == nil {
				t.Error("rejection does not retain the underlying error")
			}
			if assets.uploads != 0 {
				t.Error("asset uploaded after a classification failure")
			}
		})
	}
}

func TestSubmitNotWaste(t *testing.T) {
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0)}, &fakeAssets{}, &fakeStore{}, nil)

	_, err := svc.Submit(context.Background(), "user-1", validRequest())
	rej := rejection(t, err)
	if rej.Code != CodeNotWaste || rej.Status != http.StatusBadRequest {
		t.Errorf("got %s/%d, want NOT_WASTE/400", rej.Code, rej.Status)
	}
}

func TestSubmitLowConfidence(t *testing.T) {
	// Waste at 0.5 confidence: above the waste threshold, below the
	// acceptance floor.
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.5)}, &fakeAssets{}, &fakeStore{}, nil)

	_, err := svc.Submit(context.Background(), "user-1", validRequest())
	rej := rejection(t, err)
	if rej.Code != CodeLowConfidence || rej.Status != http.StatusBadRequest {
		t.Errorf("got %s/%d, want LOW_CONFIDENCE/400", rej.Code, rej.Status)
	}
}

func TestSubmitForceSkipsClassification(t *testing.T) {
	classifier := &fakeClassifier{err: detector.ErrServiceUnreachable}
	store := &fakeStore{}
	svc := NewService(classifier, &fakeAssets{}, store, nil)

	req := validRequest()
	req.ForceSubmit = true

	result, err := svc.Submit(context.Background(), "user-1", req)
	if err != nil {
		t.Fatalf("forced submission failed: %v", err)
	}
	if classifier.calls != 0 {
		t.Error("classifier called despite forceSubmit")
	}
	if result.Classification != nil {
		t.Errorf("classification = %+v, want nil when skipped", result.Classification)
	}
	if store.saved.AIVerification != nil {
		t.Errorf("aiVerification = %+v, want nil when skipped", store.saved.AIVerification)
	}
}

func TestSubmitUploadTimeout(t *testing.T) {
	assets := &fakeAssets{uploadErr: fmt.Errorf("%w: context deadline exceeded", cloudinary.ErrUploadTimeout)}
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, assets, &fakeStore{}, nil)

	_, err := svc.Submit(context.Background(), "user-1", validRequest())
	rej := rejection(t, err)
	if rej.Code != CodeCloudinaryTimeout || rej.Status != http.StatusGatewayTimeout {
		t.Errorf("got %s/%d, want CLOUDINARY_TIMEOUT/504", rej.Code, rej.Status)
	}
}

func TestSubmitUploadError(t *testing.T) {
	assets := &fakeAssets{uploadErr: errors.New("bad credentials")}
	store := &fakeStore{}
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, assets, store, nil)

	_, err := svc.Submit(context.Background(), "user-1", validRequest())
	rej := rejection(t, err)
	if rej.Code != CodeCloudinaryError || rej.Status != http.StatusInternalServerError {
		t.Errorf("got %s/%d, want CLOUDINARY_ERROR/500", rej.Code, rej.Status)
	}
	if store.saved != nil {
		t.Error("report persisted despite upload failure")
	}
}

func TestSubmitPersistenceValidationError(t *testing.T) {
	store := &fakeStore{saveErr: fmt.Errorf("%w: title too long", database.ErrValidation)}
	assets := &fakeAssets{}
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, assets, store, nil)

	_, err := svc.Submit(context.Background(), "user-1", validRequest())
	rej := rejection(t, err)
	if rej.Code != CodeValidationError || rej.Status != http.StatusBadRequest {
		t.Errorf("got %s/%d, want VALIDATION_ERROR/400", rej.Code, rej.Status)
	}
	if store.awarded != 0 {
		t.Error("points awarded despite persistence failure")
	}
	if len(assets.destroyed) != 1 {
		t.Errorf("orphaned asset not cleaned up, destroyed = %v", assets.destroyed)
	}
}

func TestSubmitPersistenceGenericError(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection reset")}
	assets := &fakeAssets{}
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, assets, store, nil)

	_, err := svc.Submit(context.Background(), "user-1", validRequest())
	rej := rejection(t, err)
	if rej.Code != CodeInternalServerError || rej.Status != http.StatusInternalServerError {
		t.Errorf("got %s/%d, want INTERNAL_SERVER_ERROR/500", rej.Code, rej.Status)
	}
	if len(assets.destroyed) != 1 {
		t.Error("orphaned asset not cleaned up")
	}
}

func TestSubmitLedgerFailureDoesNotUnwindReport(t *testing.T) {
	store := &fakeStore{awardErr: errors.New("ledger down")}
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, &fakeAssets{}, store, nil)

	result, err := svc.Submit(context.Background(), "user-1", validRequest())
	if err != nil {
		t.Fatalf("Submit failed on a ledger error: %v", err)
	}
	if result.Report == nil || result.Report.Seq != 42 {
		t.Error("report not returned after ledger failure")
	}
	if result.PointsEarned != 0 {
		t.Errorf("points = %d, want 0 when the ledger update fails", result.PointsEarned)
	}
}

func TestSubmitPointsByReportType(t *testing.T) {
	testCases := []struct {
		reportType string
		want       int
	}{
		{models.ReportTypeStandard, 10},
		{models.ReportTypeHazardous, 20},
		{models.ReportTypeLarge, 15},
		{"", 10},
	}

	for _, tc := range testCases {
		t.Run(tc.reportType, func(t *testing.T) {
			store := &fakeStore{}
			svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, &fakeAssets{}, store, nil)

			req := validRequest()
			req.ReportType = tc.reportType

			result, err := svc.Submit(context.Background(), "user-1", req)
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			if result.PointsEarned != tc.want {
				t.Errorf("points = %d, want %d", result.PointsEarned, tc.want)
			}
			if store.awardee != "user-1" {
				t.Errorf("points awarded to %q", store.awardee)
			}
		})
	}
}

func TestSubmitPhotoTimestampDefaultsToNow(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(&fakeClassifier{verdict: wasteVerdict(0.9)}, &fakeAssets{}, store, nil)
	fixed := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, err := svc.Submit(context.Background(), "user-1", validRequest()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !store.saved.PhotoTimestamp.Equal(fixed) {
		t.Errorf("photo timestamp = %v, want %v", store.saved.PhotoTimestamp, fixed)
	}

	explicit := time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)
	req := validRequest()
	req.PhotoTimestamp = &explicit
	if _, err := svc.Submit(context.Background(), "user-1", req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !store.saved.PhotoTimestamp.Equal(explicit) {
		t.Errorf("photo timestamp = %v, want %v", store.saved.PhotoTimestamp, explicit)
	}
}
