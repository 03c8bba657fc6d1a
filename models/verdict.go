package models

// Verification levels derived from the detector confidence.
const (
	VerificationUnverified = "unverified"
	VerificationMedium     = "medium_confidence"
	VerificationHigh       = "high_confidence"
)

// Labels derived from IsWaste.
const (
	LabelWaste    = "waste"
	LabelNonWaste = "non-waste"
)

// ClassificationVerdict is the structured result of running an image
// through the waste detector.
type ClassificationVerdict struct {
	IsWaste          bool    `json:"isWaste"`
	Label            string  `json:"label"`
	Confidence       float64 `json:"confidence"`
	Verification     string  `json:"verification"`
	IsHighConfidence bool    `json:"isHighConfidence"`
	IsVerifiedWaste  bool    `json:"isVerifiedWaste"`
	NeedsImprovement bool    `json:"needsImprovement"`
	ModelVersion     string  `json:"modelVersion"`
	CacheHit         bool    `json:"cacheHit"`
}

// AIVerification extracts the subset of the verdict persisted with a
// report.
func (v *ClassificationVerdict) AIVerification() *AIVerification {
	if v == nil {
		return nil
	}
	return &AIVerification{
		IsWaste:      v.IsWaste,
		Confidence:   v.Confidence,
		Verification: v.Verification,
	}
}
