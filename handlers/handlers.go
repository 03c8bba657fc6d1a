// Package handlers exposes the HTTP API.
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"report-intake-service/detector"
	"report-intake-service/models"
	"report-intake-service/service"
)

// Submitter runs the report submission workflow.
type Submitter interface {
	Submit(ctx context.Context, userID string, req *service.SubmitRequest) (*service.SubmitResult, error)
}

// Classifier produces a verdict without side effects, for the
// diagnostic endpoint.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*models.ClassificationVerdict, error)
}

// Handlers represents the HTTP handlers.
type Handlers struct {
	submitter  Submitter
	classifier Classifier
}

// NewHandlers creates new HTTP handlers.
func NewHandlers(submitter Submitter, classifier Classifier) *Handlers {
	return &Handlers{submitter: submitter, classifier: classifier}
}

// HealthCheck handles health check requests.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "report-intake-service",
	})
}

// SubmitReport handles POST /api/report.
func (h *Handlers) SubmitReport(c *gin.Context) {
	userID := c.GetString("user_id")

	var req service.SubmitRequest
	if err := c.BindJSON(&req); err != nil {
		log.Printf("Failed to parse /api/report payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "could not read JSON input",
			"code":    service.CodeMissingFields,
		})
		return
	}

	result, err := h.submitter.Submit(c.Request.Context(), userID, &req)
	if err != nil {
		h.writeRejection(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":        "report submitted",
		"report":         result.Report,
		"pointsEarned":   result.PointsEarned,
		"classification": result.Classification,
	})
}

// ClassifyImage handles POST /api/report/classify. It runs the
// classifier only, with no persistence side effects, for operational
// testing.
func (h *Handlers) ClassifyImage(c *gin.Context) {
	var req struct {
		Image string `json:"image"`
	}
	if err := c.BindJSON(&req); err != nil || req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "image payload is required",
			"code":    service.CodeMissingFields,
		})
		return
	}

	image, rej := service.DecodeImage(req.Image)
	if rej != nil {
		c.JSON(rej.Status, gin.H{"message": rej.Message, "code": rej.Code})
		return
	}

	verdict, err := h.classifier.Classify(c.Request.Context(), image)
	if err != nil {
		log.Printf("Diagnostic classification failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"message": "waste verification service is unavailable",
			"code":    service.CodeServiceUnavailable,
			"error":   classificationErrorKind(err),
		})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

func (h *Handlers) writeRejection(c *gin.Context, err error) {
	var rej *service.Rejection
	if !errors.As(err, &rej) {
		log.Printf("Unexpected submission error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "internal server error",
			"code":    service.CodeInternalServerError,
		})
		return
	}

	body := gin.H{
		"message": rej.Message,
		"code":    rej.Code,
	}
	if len(rej.MissingFields) > 0 {
		body["missingFields"] = rej.MissingFields
	}
	if rej.Cause != nil {
		// Diagnostics only; clients branch on the code.
		body["error"] = rej.Cause.Error()
	}
	c.JSON(rej.Status, body)
}

func classificationErrorKind(err error) string {
	switch {
	case errors.Is(err, detector.ErrServiceTimeout):
		return "timeout"
	case errors.Is(err, detector.ErrServiceUnreachable):
		return "unreachable"
	default:
		return err.Error()
	}
}
