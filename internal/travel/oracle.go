package travel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/retry"
)

const (
	// OracleRequestTimeout is the default deadline for oracle requests.
	OracleRequestTimeout = 5 * time.Second
)

// OracleConfig contains configuration for the travel oracle client.
type OracleConfig struct {
	URL            string // oracle endpoint URL
	APIKey         string // bearer token for authentication
	TimeoutSeconds int    // HTTP timeout in seconds
}

// Oracle is an HTTP client for the external travel-time service.
type Oracle struct {
	client *http.Client
	config OracleConfig
	logger *logger.Logger
}

// oracleRequest is the request body sent to the oracle.
type oracleRequest struct {
	From oracleGeo `json:"from"`
	To   oracleGeo `json:"to"`
}

type oracleGeo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// oracleResponse is the oracle's answer.
type oracleResponse struct {
	Minutes int             `json:"minutes"`
	Error   *oracleAPIError `json:"error,omitempty"`
}

type oracleAPIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// oracleHTTPError represents a non-2xx response from the oracle.
type oracleHTTPError struct {
	StatusCode int
	Body       string
}

func (e *oracleHTTPError) Error() string {
	return fmt.Sprintf("HTTP error: status=%d, body=%s", e.StatusCode, e.Body)
}

// NewOracle creates an oracle client.
func NewOracle(cfg OracleConfig, log *logger.Logger) *Oracle {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = OracleRequestTimeout
	}

	return &Oracle{
		client: &http.Client{
			Timeout: timeout,
		},
		config: cfg,
		logger: log,
	}
}

// Minutes asks the oracle for the travel time from one coordinate to the
// other. Transient failures (network, 5xx, 429) are retried with backoff.
func (o *Oracle) Minutes(ctx context.Context, from, to model.Geo) (int, error) {
	reqBody, err := json.Marshal(oracleRequest{
		From: oracleGeo{Lat: from.Lat, Lon: from.Lon},
		To:   oracleGeo{Lat: to.Lat, Lon: to.Lon},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	return retry.Do(ctx, retry.Config{MaxAttempts: 2, Retryable: transientOracleError}, func() (int, error) {
		return o.roundTrip(ctx, reqBody)
	})
}

// transientOracleError reports whether another attempt could succeed.
func transientOracleError(err error) bool {
	var httpErr *oracleHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return retry.DefaultRetryable(err)
}

func (o *Oracle) roundTrip(ctx context.Context, reqBody []byte) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.URL, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.config.APIKey))
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		o.logger.ErrorCtx(ctx, "Failed to execute request to travel oracle", err)
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		o.logger.ErrorCtx(ctx, "Failed to read oracle response body", err)
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		o.logger.ErrorCtx(ctx, "Travel oracle returned error status", nil,
			logger.Field{Key: "status_code", Value: httpResp.StatusCode},
			logger.Field{Key: "response_body", Value: string(respBody)})
		return 0, &oracleHTTPError{
			StatusCode: httpResp.StatusCode,
			Body:       string(respBody),
		}
	}

	var resp oracleResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		o.logger.ErrorCtx(ctx, "Failed to unmarshal oracle response", err,
			logger.Field{Key: "response_body", Value: string(respBody)})
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("oracle error (code: %s): %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Minutes < 0 {
		return 0, fmt.Errorf("oracle returned negative minutes: %d", resp.Minutes)
	}
	return resp.Minutes, nil
}
