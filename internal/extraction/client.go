// Package extraction talks to the document-extraction service that reads
// receipts and invoices and returns candidate transactions for review.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

const extractPath = "/extract"

// AllowedContentTypes lists the document types the service accepts
var AllowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"application/pdf": true,
}

// Receipt is one transaction candidate read from a document. Every field may
// be missing; the reviewer completes it before confirmation.
type Receipt struct {
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    string              `json:"currency,omitempty"`
	Date        string              `json:"date,omitempty"`
	Vendor      string              `json:"vendor,omitempty"`
	Category    string              `json:"category,omitempty"`
	Type        string              `json:"type,omitempty"`
	Description string              `json:"description,omitempty"`
	Reference   string              `json:"reference,omitempty"`
}

// Result is the extraction of one document
type Result struct {
	FileName string    `json:"file_name"`
	OCRText  string    `json:"ocr_text,omitempty"`
	Items    []Receipt `json:"items"`
}

// Extractor reads transaction candidates from a document
type Extractor interface {
	Extract(ctx context.Context, fileName, contentType string, document io.Reader) (*Result, error)
}

// Config configures the HTTP client of the extraction service
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
}

// DefaultConfig returns the client defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:8090",
		Timeout:      60 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("extraction base url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive, got %s", c.Timeout)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("extraction retry_max cannot be negative, got %d", c.RetryMax)
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		return fmt.Errorf("extraction retry_wait_max (%s) is below retry_wait_min (%s)", c.RetryWaitMax, c.RetryWaitMin)
	}
	return nil
}

// Client is the HTTP Extractor. Server errors and transport failures are
// retried with backoff; a 429 is returned at once as RateLimited.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	logger  logger.Logger
}

// NewClient creates an extraction client
func NewClient(config Config, log logger.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extraction", config.BaseURL, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("extraction")

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = config.Timeout
	rc.RetryMax = config.RetryMax
	rc.RetryWaitMin = config.RetryWaitMin
	rc.RetryWaitMax = config.RetryWaitMax
	rc.Logger = leveledLogger{log}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  log,
	}, nil
}

// Extract uploads document as multipart form field "file"
func (c *Client) Extract(ctx context.Context, fileName, contentType string, document io.Reader) (*Result, error) {
	if !AllowedContentTypes[contentType] {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "content_type", contentType, nil).
			WithSuggestion("Upload a JPEG, PNG, WEBP, GIF or PDF document")
	}

	body, formType, err := multipartBody(fileName, contentType, document)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "build extraction request", err)
	}

	endpoint := c.baseURL + extractPath
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "build extraction request", err)
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Cancelled("extraction", ctxErr)
		}
		return nil, errors.ServiceUnavailable(endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ServiceUnavailable(endpoint, err)
	}

	log := c.logger.WithFields(logger.Fields{
		"file_name":   fileName,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Warn("Extraction service rate limited the request")
		return nil, errors.RateLimited(endpoint, resp.Header.Get("Retry-After"))
	case resp.StatusCode >= http.StatusInternalServerError:
		log.Warn("Extraction service unavailable")
		return nil, errors.ServiceUnavailable(endpoint, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(payload)))
	case resp.StatusCode >= http.StatusBadRequest:
		log.Warn("Extraction service rejected the document")
		return nil, errors.ValidationError(errors.CodeInvalidValue, "document", fileName,
			fmt.Errorf("status %d: %s", resp.StatusCode, snippet(payload)))
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, errors.ServiceUnavailable(endpoint, fmt.Errorf("invalid response body: %w", err))
	}
	if result.FileName == "" {
		result.FileName = fileName
	}

	log.WithField("items", len(result.Items)).Info("Document extracted")
	return &result, nil
}

// checkRetry retries transport failures and server errors. Rate limiting is
// surfaced to the caller instead of being waited out.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func multipartBody(fileName, contentType string, document io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName)}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, document); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// leveledLogger adapts logger.Logger to retryablehttp.LeveledLogger
type leveledLogger struct {
	log logger.Logger
}

func (l leveledLogger) fields(keysAndValues []interface{}) logger.Logger {
	fields := logger.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.log.WithFields(fields)
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}
