// Package detector wraps the remote waste object-detection API.
package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"report-intake-service/cache"
	"report-intake-service/fingerprint"
	"report-intake-service/metrics"
	"report-intake-service/models"
)

// Fixed inference parameters sent with every detection request.
const (
	inferenceImageSize  = 640
	confidenceThreshold = 0.25
	iouThreshold        = 0.45
)

// DefaultTimeout bounds a single detection request.
const DefaultTimeout = 30 * time.Second

// Sentinel errors the orchestrator branches on. Anything else from
// Classify is an *APIError.
var (
	ErrServiceTimeout     = errors.New("detector: request timed out")
	ErrServiceUnreachable = errors.New("detector: service unreachable")
)

// APIError is a detection request failure that is neither a timeout
// nor a connectivity problem.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("detector: %s", e.Body)
	}
	return fmt.Sprintf("detector: API error (status %d): %s", e.Status, e.Body)
}

var dataURIPrefix = regexp.MustCompile(`^data:image/[a-zA-Z+.-]+;base64,`)

// Client issues detection requests and caches verdicts by image
// fingerprint. Concurrent requests for the same fingerprint are
// coalesced into one upstream call.
type Client struct {
	endpoint     string
	apiKey       string
	modelURL     string
	modelVersion string
	timeout      time.Duration
	cacheTTL     time.Duration
	httpClient   *http.Client
	cache        *cache.VerdictCache
	group        singleflight.Group
}

// NewClient creates a detection client. The verdict cache is owned by
// the caller so tests can inject one with a fake clock.
func NewClient(endpoint, apiKey, modelURL, modelVersion string, timeout, cacheTTL time.Duration, verdicts *cache.VerdictCache) *Client {
	return &Client{
		endpoint:     endpoint,
		apiKey:       apiKey,
		modelURL:     modelURL,
		modelVersion: modelVersion,
		timeout:      timeout,
		cacheTTL:     cacheTTL,
		httpClient:   &http.Client{},
		cache:        verdicts,
	}
}

// Classify runs image through the waste detector and derives a
// verdict. Byte-identical images re-submitted within the cache TTL are
// served from the cache without an upstream call.
func (c *Client) Classify(ctx context.Context, image []byte) (*models.ClassificationVerdict, error) {
	raw, err := normalizePayload(image)
	if err != nil {
		return nil, &APIError{Body: fmt.Sprintf("invalid image payload: %v", err)}
	}

	fp := fingerprint.Sum(raw)
	if v, ok := c.cache.Get(fp); ok {
		metrics.CacheHitsTotal.Inc()
		return &v, nil
	}

	result, err, _ := c.group.Do(fp, func() (interface{}, error) {
		v, err := c.detect(ctx, raw)
		if err != nil {
			return nil, err
		}
		c.cache.Put(fp, *v, c.cacheTTL)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.ClassificationVerdict), nil
}

// normalizePayload strips an embedded data-URI prefix, decoding the
// remainder, so callers may pass either raw JPEG bytes or the textual
// payload they received.
func normalizePayload(image []byte) ([]byte, error) {
	if loc := dataURIPrefix.FindIndex(image); loc != nil {
		decoded, err := base64.StdEncoding.DecodeString(string(image[loc[1]:]))
		if err != nil {
			return nil, fmt.Errorf("failed to decode data URI body: %w", err)
		}
		return decoded, nil
	}
	return image, nil
}

func (c *Client) detect(ctx context.Context, image []byte) (*models.ClassificationVerdict, error) {
	if c.apiKey == "" {
		return nil, &APIError{Body: "detection API key is not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	verdict, err := c.doDetect(ctx, image)
	outcome := "ok"
	if err != nil {
		switch {
		case errors.Is(err, ErrServiceTimeout):
			outcome = "timeout"
		case errors.Is(err, ErrServiceUnreachable):
			outcome = "unreachable"
		default:
			outcome = "error"
		}
	}
	metrics.DetectorRequestsTotal.WithLabelValues(outcome).Inc()
	metrics.DetectorDurationSeconds.Observe(time.Since(start).Seconds())
	return verdict, err
}

func (c *Client) doDetect(ctx context.Context, image []byte) (*models.ClassificationVerdict, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, &APIError{Body: fmt.Sprintf("failed to build request: %v", err)}
	}
	if _, err := part.Write(image); err != nil {
		return nil, &APIError{Body: fmt.Sprintf("failed to build request: %v", err)}
	}
	fields := map[string]string{
		"model": c.modelURL,
		"imgsz": strconv.Itoa(inferenceImageSize),
		"conf":  strconv.FormatFloat(confidenceThreshold, 'f', -1, 64),
		"iou":   strconv.FormatFloat(iouThreshold, 'f', -1, 64),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, &APIError{Body: fmt.Sprintf("failed to build request: %v", err)}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, &APIError{Body: fmt.Sprintf("failed to build request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, &APIError{Body: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Body: fmt.Sprintf("failed to read response body: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	detections := parseDetections(body)
	confidence := maxWasteConfidence(detections)
	v := deriveVerdict(confidence, c.modelVersion)
	log.Printf("Detector returned %d detections, waste confidence %.3f", len(detections), confidence)
	return &v, nil
}

// mapTransportError sorts transport failures into the three kinds the
// orchestrator is allowed to branch on.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &APIError{Body: urlErr.Err.Error()}
	}
	return &APIError{Body: err.Error()}
}
