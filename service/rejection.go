package service

import "net/http"

// Stable rejection codes clients branch on.
const (
	CodeMissingFields       = "MISSING_FIELDS"
	CodeInvalidImageFormat  = "INVALID_IMAGE_FORMAT"
	CodeImageTooLarge       = "IMAGE_TOO_LARGE"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeNotWaste            = "NOT_WASTE"
	CodeLowConfidence       = "LOW_CONFIDENCE"
	CodeCloudinaryTimeout   = "CLOUDINARY_TIMEOUT"
	CodeCloudinaryError     = "CLOUDINARY_ERROR"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// Rejection is a terminal submission failure with a stable
// machine-readable code. Every rejection ends the current submission;
// nothing is retried automatically.
type Rejection struct {
	Status        int
	Code          string
	Message       string
	MissingFields []string
	Cause         error
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error {
	return r.Cause
}

func reject(status int, code, message string) *Rejection {
	return &Rejection{Status: status, Code: code, Message: message}
}

func rejectWithCause(status int, code, message string, cause error) *Rejection {
	return &Rejection{Status: status, Code: code, Message: message, Cause: cause}
}

func rejectMissing(fields []string) *Rejection {
	return &Rejection{
		Status:        http.StatusBadRequest,
		Code:          CodeMissingFields,
		Message:       "required fields are missing",
		MissingFields: fields,
	}
}
