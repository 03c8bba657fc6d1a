package detector

import (
	"encoding/json"

	"report-intake-service/models"
)

// wasteClass is the detector output class treated as waste.
const wasteClass = 0

// Verdict thresholds. A detection counts as waste at the inference
// confidence threshold; verification tiers sit above it.
const (
	wasteThreshold            = confidenceThreshold
	mediumConfidenceThreshold = 0.65
	minAcceptedConfidence     = 0.7
	highConfidenceThreshold   = 0.85
)

type detection struct {
	Class      int     `json:"class"`
	Confidence float64 `json:"confidence"`
}

// apiResponse covers the two response shapes the detection API is
// known to produce.
type apiResponse struct {
	Images []struct {
		Results []detection `json:"results"`
	} `json:"images"`
	Predictions []struct {
		Detections []detection `json:"detections"`
	} `json:"predictions"`
}

// parseDetections extracts the detection list from either known
// response shape. An unrecognized shape yields an empty list rather
// than a failure.
func parseDetections(body []byte) []detection {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	if len(resp.Images) > 0 && resp.Images[0].Results != nil {
		return resp.Images[0].Results
	}
	if len(resp.Predictions) > 0 && resp.Predictions[0].Detections != nil {
		return resp.Predictions[0].Detections
	}
	return nil
}

// maxWasteConfidence returns the highest confidence among waste-class
// detections, 0 if there are none. Detections of other classes never
// contribute, however confident.
func maxWasteConfidence(detections []detection) float64 {
	max := 0.0
	for _, d := range detections {
		if d.Class != wasteClass {
			continue
		}
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}

// deriveVerdict maps a waste-class confidence to the full verdict.
// IsVerifiedWaste is computed from IsWaste, not from the confidence
// alone: confidence only ever reflects waste-class detections, but the
// conjunction keeps the invariant explicit.
func deriveVerdict(confidence float64, modelVersion string) models.ClassificationVerdict {
	isWaste := confidence >= wasteThreshold
	isHigh := confidence >= highConfidenceThreshold

	verification := models.VerificationUnverified
	if isWaste {
		switch {
		case isHigh:
			verification = models.VerificationHigh
		case confidence >= mediumConfidenceThreshold:
			verification = models.VerificationMedium
		}
	}

	label := models.LabelNonWaste
	if isWaste {
		label = models.LabelWaste
	}

	return models.ClassificationVerdict{
		IsWaste:          isWaste,
		Label:            label,
		Confidence:       confidence,
		Verification:     verification,
		IsHighConfidence: isHigh,
		IsVerifiedWaste:  isWaste && isHigh,
		NeedsImprovement: isWaste && confidence > minAcceptedConfidence && confidence < highConfidenceThreshold,
		ModelVersion:     modelVersion,
		CacheHit:         false,
	}
}
