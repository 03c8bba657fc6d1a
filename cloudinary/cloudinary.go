// Package cloudinary is a minimal client for the Cloudinary upload
// API, covering signed uploads and deletes.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"report-intake-service/metrics"
)

// DefaultTimeout bounds a single upload.
const DefaultTimeout = 15 * time.Second

// transformation applied to every uploaded report photo: capped
// dimensions, automatic quality.
const transformation = "c_limit,w_1280,h_1280,q_auto"

// ErrUploadTimeout is returned when an upload exceeds its bound.
var ErrUploadTimeout = errors.New("cloudinary: upload timed out")

// UploadResult is the subset of the upload response the service uses.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
}

// Client uploads report photos to Cloudinary.
type Client struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	folder     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Cloudinary client.
func NewClient(cloudName, apiKey, apiSecret, folder string, timeout time.Duration) *Client {
	return &Client{
		cloudName:  cloudName,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		folder:     folder,
		baseURL:    "https://api.cloudinary.com/v1_1",
		timeout:    timeout,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// Upload stores image under a fresh public ID with the fixed report
// transformation. The wait is bounded; on expiry the in-flight request
// is cancelled and ErrUploadTimeout returned.
func (c *Client) Upload(ctx context.Context, image []byte) (*UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	publicID := uuid.NewString()
	params := map[string]string{
		"folder":         c.folder,
		"public_id":      publicID,
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
		"transformation": transformation,
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.apiKey

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "report.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	for name, value := range params {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to build upload request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/image/upload", c.baseURL, c.cloudName)
	start := time.Now()
	body, err := c.post(ctx, endpoint, &buf, writer.FormDataContentType())
	metrics.UploadDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	return &result, nil
}

// Destroy removes a previously uploaded asset. Used as the
// compensating action when persistence fails after an upload.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.apiKey

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range params {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to build destroy request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build destroy request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/image/destroy", c.baseURL, c.cloudName)
	if _, err := c.post(ctx, endpoint, &buf, writer.FormDataContentType()); err != nil {
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrUploadTimeout, err)
		}
		return nil, fmt.Errorf("cloudinary request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudinary API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// sign computes the Cloudinary request signature: SHA-1 over the
// sorted key=value pairs joined with '&', followed by the API secret.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(c.apiSecret)

	digest := sha1.Sum(sb.Bytes())
	return hex.EncodeToString(digest[:])
}
