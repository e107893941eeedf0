// Package executor adapts a remote translation service to the queue's
// executor contract.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
)

// Config holds the translation service endpoint.
type Config struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPExecutor calls a JSON translation endpoint.
type HTTPExecutor struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPExecutor creates a new HTTP translation executor.
func NewHTTPExecutor(cfg Config) *HTTPExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutor{
		endpoint: cfg.URL,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default().With("component", "executor"),
	}
}

type translateRequest struct {
	ShopID       string            `json:"shop_id"`
	ResourceID   string            `json:"resource_id"`
	ResourceType string            `json:"resource_type"`
	Language     string            `json:"target_language"`
	Fields       map[string]string `json:"fields"`
	Options      map[string]string `json:"options,omitempty"`
}

type translateResponse struct {
	Fields        map[string]string `json:"fields"`
	SkippedFields []string          `json:"skipped_fields"`
	QualityScore  float64           `json:"quality_score"`
	Error         string            `json:"error"`
}

// Translate sends one request. Failures leave here as *failure.Error so
// downstream code never inspects transport details.
func (e *HTTPExecutor) Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResult, error) {
	payload, err := json.Marshal(translateRequest{
		ShopID:       req.ShopID,
		ResourceID:   req.ResourceID,
		ResourceType: string(req.ResourceType),
		Language:     req.Language,
		Fields:       req.Fields,
		Options:      req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, failure.Wrap(failure.KindTimeout, err, "translation request timed out")
		}
		return nil, failure.Wrap(failure.KindNetwork, err, "translation request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Wrap(failure.KindNetwork, err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(string(body), 256))
		e.logger.Debug("translation request rejected",
			"resource", req.ResourceID, "language", req.Language, "status", resp.StatusCode)
		if kind, ok := kindForStatus(resp.StatusCode); ok {
			return nil, failure.New(kind, msg)
		}
		return nil, errors.New(msg)
	}

	var out translateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, failure.Wrap(failure.KindMalformedMarkup, err, "parse response")
	}
	if out.Error != "" {
		return nil, errors.New(out.Error)
	}

	return &domain.TranslateResult{
		Fields:        out.Fields,
		SkippedFields: out.SkippedFields,
		QualityScore:  out.QualityScore,
	}, nil
}

func kindForStatus(status int) (failure.Kind, bool) {
	switch status {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return failure.KindTimeout, true
	case http.StatusTooManyRequests:
		return failure.KindRateLimit, true
	case http.StatusNotFound:
		return failure.KindNotFound, true
	case http.StatusRequestEntityTooLarge:
		return failure.KindContentTooLong, true
	case http.StatusUnprocessableEntity:
		return failure.KindQualityValidation, true
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return failure.KindNetwork, true
	}
	return failure.KindUnknown, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
